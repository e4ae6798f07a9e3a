// Package spectral implements noise suppression by spectral subtraction.
//
// Frames are cut into fixed non-overlapping analysis windows, transformed
// with a real FFT, and each frequency bin is attenuated by the stored noise
// profile scaled with the reduction level. Phase is preserved; only
// magnitudes change. The inverse transform is requantized with saturation
// back to 16-bit PCM.
package spectral

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/earshotlabs/earshot/pkg/audio"
	"github.com/earshotlabs/earshot/pkg/suppress"
	"github.com/earshotlabs/earshot/pkg/types"
)

const (
	// DefaultWindowSize is the analysis window in samples.
	DefaultWindowSize = 512

	// DefaultSilenceRMS is the RMS amplitude below which a frame is
	// treated as non-speech and used for adaptive noise estimation.
	DefaultSilenceRMS = 300

	// adaptationRate is the exponential moving average factor applied to
	// each spectral bin when blending a silent window into the profile.
	adaptationRate = 0.05
)

// Config controls a spectral subtraction suppressor.
type Config struct {
	// WindowSize is the FFT analysis window in samples. Defaults to
	// DefaultWindowSize.
	WindowSize int

	// ReductionLevel is the initial subtraction strength in [0, 1].
	ReductionLevel float64

	// Adaptive enables continuous noise estimation from silent frames.
	Adaptive bool

	// SilenceRMS is the non-speech RMS threshold for adaptation.
	// Defaults to DefaultSilenceRMS.
	SilenceRMS float64
}

// Suppressor applies spectral subtraction to PCM frames. It is owned by a
// single goroutine and reuses its FFT scratch buffers across calls.
type Suppressor struct {
	window     int
	level      float64
	adaptive   bool
	silenceRMS float64

	profile suppress.NoiseProfile
	seeded  bool

	fft   *fourier.FFT
	seq   []float64
	coeff []complex128
	chans []float64
}

var _ suppress.Suppressor = (*Suppressor)(nil)

// New returns a suppressor configured per cfg. The noise profile starts
// empty; until one is set or adaptively estimated, frames pass through
// unchanged.
func New(cfg Config) (*Suppressor, error) {
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}
	if window < 64 {
		return nil, fmt.Errorf("spectral: window size %d too small (minimum 64)", window)
	}
	silence := cfg.SilenceRMS
	if silence <= 0 {
		silence = DefaultSilenceRMS
	}
	s := &Suppressor{
		window:     window,
		adaptive:   cfg.Adaptive,
		silenceRMS: silence,
		profile: suppress.NoiseProfile{
			Magnitudes: make([]float64, window/2+1),
			WindowSize: window,
		},
		fft:   fourier.NewFFT(window),
		seq:   make([]float64, window),
		coeff: make([]complex128, window/2+1),
	}
	if err := s.SetReductionLevel(cfg.ReductionLevel); err != nil {
		return nil, err
	}
	return s, nil
}

// WindowSize reports the analysis window in samples.
func (s *Suppressor) WindowSize() int { return s.window }

// SetReductionLevel sets the subtraction strength; level must be in [0, 1].
func (s *Suppressor) SetReductionLevel(level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("%w: %v", suppress.ErrInvalidLevel, level)
	}
	s.level = level
	return nil
}

// SetAdaptive toggles adaptive noise estimation.
func (s *Suppressor) SetAdaptive(enabled bool) { s.adaptive = enabled }

// SetProfile replaces the noise profile. The profile must have been computed
// with the same window size as this suppressor.
func (s *Suppressor) SetProfile(profile suppress.NoiseProfile) error {
	if profile.WindowSize != s.window || len(profile.Magnitudes) != s.window/2+1 {
		return fmt.Errorf("%w: got window %d with %d bins, want window %d with %d bins",
			suppress.ErrProfileMismatch, profile.WindowSize, len(profile.Magnitudes), s.window, s.window/2+1)
	}
	s.profile = profile.Clone()
	s.seeded = true
	return nil
}

// Profile returns a copy of the current noise profile.
func (s *Suppressor) Profile() suppress.NoiseProfile { return s.profile.Clone() }

// Process returns a cleaned copy of frame. The output always has exactly as
// many samples as the input. With a zero reduction level, or before any
// profile exists, the copy is bit-identical to the input. On internal failure
// the original frame is returned along with a recoverable error.
func (s *Suppressor) Process(frame types.AudioFrame) (types.AudioFrame, error) {
	if s.adaptive && audio.RMS(frame.Samples) < s.silenceRMS {
		s.estimate(frame)
	}
	out := frame.Clone()
	if s.level == 0 || !s.seeded || len(frame.Samples) == 0 {
		return out, nil
	}
	if err := s.subtract(out.Samples, out.Channels); err != nil {
		return frame, &suppress.Error{Op: "subtract", Err: err}
	}
	return out, nil
}

// estimate blends the spectra of all complete windows in frame into the
// noise profile. The first silent observation seeds the profile outright;
// later ones are blended with adaptationRate.
func (s *Suppressor) estimate(frame types.AudioFrame) {
	channels := frame.Channels
	if channels < 1 {
		channels = 1
	}
	for ch := 0; ch < channels; ch++ {
		seq := s.channelSamples(frame.Samples, ch, channels)
		for off := 0; off+s.window <= len(seq); off += s.window {
			copy(s.seq, seq[off:off+s.window])
			s.fft.Coefficients(s.coeff, s.seq)
			for i, c := range s.coeff {
				mag := cmplx.Abs(c)
				if s.seeded {
					s.profile.Magnitudes[i] = (1-adaptationRate)*s.profile.Magnitudes[i] + adaptationRate*mag
				} else {
					s.profile.Magnitudes[i] = mag
				}
			}
			s.seeded = true
		}
	}
}

// subtract rewrites samples in place, one channel at a time. Trailing
// partial windows are zero-padded for analysis and truncated back to their
// original length afterwards.
func (s *Suppressor) subtract(samples []int16, channels int) error {
	if len(s.profile.Magnitudes) != s.window/2+1 {
		return fmt.Errorf("%w: profile has %d bins, want %d",
			suppress.ErrProfileMismatch, len(s.profile.Magnitudes), s.window/2+1)
	}
	if channels < 1 {
		channels = 1
	}
	for ch := 0; ch < channels; ch++ {
		seq := s.channelSamples(samples, ch, channels)
		for off := 0; off < len(seq); off += s.window {
			n := len(seq) - off
			if n > s.window {
				n = s.window
			}
			copy(s.seq, seq[off:off+n])
			for i := n; i < s.window; i++ {
				s.seq[i] = 0
			}
			s.applyWindow()
			copy(seq[off:off+n], s.seq[:n])
		}
		// Scatter the cleaned channel back into the interleaved frame.
		for k, v := range seq {
			samples[ch+k*channels] = audio.Saturate16(v)
		}
	}
	return nil
}

// applyWindow transforms s.seq, attenuates each bin by the scaled profile
// magnitude while preserving phase, and inverse-transforms back into s.seq.
func (s *Suppressor) applyWindow() {
	s.fft.Coefficients(s.coeff, s.seq)
	for i, c := range s.coeff {
		mag := cmplx.Abs(c)
		if mag == 0 {
			continue
		}
		reduced := mag - s.level*s.profile.Magnitudes[i]
		if reduced < 0 {
			reduced = 0
		}
		scale := complex(reduced/mag, 0)
		s.coeff[i] = c * scale
	}
	s.fft.Sequence(s.seq, s.coeff)
	// gonum's round trip scales by the window length.
	inv := 1 / float64(s.window)
	for i := range s.seq {
		s.seq[i] *= inv
	}
}

// channelSamples deinterleaves one channel into the reusable scratch buffer.
func (s *Suppressor) channelSamples(samples []int16, ch, channels int) []float64 {
	n := (len(samples) - ch + channels - 1) / channels
	if n < 0 {
		n = 0
	}
	if cap(s.chans) < n {
		s.chans = make([]float64, n)
	}
	seq := s.chans[:n]
	for k := 0; k < n; k++ {
		seq[k] = float64(samples[ch+k*channels])
	}
	return seq
}
