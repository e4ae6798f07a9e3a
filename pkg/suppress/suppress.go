// Package suppress defines the noise-suppression stage of the audio pipeline.
//
// A Suppressor takes a captured PCM frame and returns a cleaned frame of the
// exact same length. Suppression is best-effort by contract: whatever goes
// wrong internally, the stage hands the unmodified input back together with a
// recoverable error, so a broken noise profile can never stall transcription.
package suppress

import (
	"errors"
	"fmt"

	"github.com/earshotlabs/earshot/pkg/types"
)

// ErrInvalidLevel is returned when a reduction level outside [0, 1] is set.
var ErrInvalidLevel = errors.New("suppress: reduction level outside [0, 1]")

// ErrProfileMismatch is returned when a noise profile's window size does not
// match the suppressor's analysis window.
var ErrProfileMismatch = errors.New("suppress: profile window size mismatch")

// NoiseProfile is a spectral magnitude estimate of the ambient noise floor,
// one value per frequency bin of the analysis window it was computed with.
// It is mutated only by the adaptive estimation step and read by the
// subtraction step; both run on the single goroutine that owns the
// suppressor.
type NoiseProfile struct {
	// Magnitudes holds the estimated noise magnitude per frequency bin.
	// Length is WindowSize/2 + 1 (real FFT bins).
	Magnitudes []float64

	// WindowSize is the FFT analysis window the estimate was computed with.
	WindowSize int
}

// Clone returns a deep copy of the profile.
func (p NoiseProfile) Clone() NoiseProfile {
	out := p
	out.Magnitudes = make([]float64, len(p.Magnitudes))
	copy(out.Magnitudes, p.Magnitudes)
	return out
}

// Suppressor transforms PCM frames using a replaceable noise-reduction
// algorithm. Implementations are owned by a single goroutine and perform no
// internal locking.
type Suppressor interface {
	// Process returns a cleaned copy of frame with len(out.Samples) ==
	// len(frame.Samples), always. On internal failure it returns the
	// unmodified input frame and a non-nil recoverable error; callers log
	// the error and carry on with the returned frame.
	Process(frame types.AudioFrame) (types.AudioFrame, error)

	// SetProfile replaces the stored noise profile. The profile's window
	// size must match the suppressor's analysis window.
	SetProfile(profile NoiseProfile) error

	// SetReductionLevel sets how much of the noise profile is subtracted
	// per bin; level must lie in [0, 1]. Zero disables subtraction
	// entirely and Process becomes an exact identity.
	SetReductionLevel(level float64) error

	// SetAdaptive enables or disables adaptive profile estimation from
	// frames judged to be non-speech.
	SetAdaptive(enabled bool)

	// Profile returns a copy of the current noise profile.
	Profile() NoiseProfile
}

// Error wraps a recoverable suppression failure. The pipeline logs it and
// keeps going with the pass-through frame.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("suppress: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
