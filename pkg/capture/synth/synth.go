// Package synth implements [capture.Source] as a deterministic software
// signal generator. It honours the full Source contract — exact sample-count
// math, saturating gain, close/reopen semantics on rate changes — without
// touching hardware, which makes it the source of choice for tests, bench
// rigs, and demo runs on machines without a microphone.
package synth

import (
	"fmt"
	"math"
	"time"

	"github.com/earshotlabs/earshot/pkg/audio"
	"github.com/earshotlabs/earshot/pkg/capture"
	"github.com/earshotlabs/earshot/pkg/types"
)

const (
	defaultToneHz    = 440.0
	defaultAmplitude = 8000.0
)

// Option configures a synthetic source.
type Option func(*Source)

// WithTone sets the generated sine wave's frequency in Hz and peak amplitude
// in raw sample units. An amplitude of 0 produces pure silence.
func WithTone(freqHz, amplitude float64) Option {
	return func(s *Source) {
		s.toneHz = freqHz
		s.amplitude = amplitude
	}
}

// WithSleep replaces the pacing function used to emulate the real-time
// blocking behaviour of a hardware read. Tests pass a no-op to run at full
// speed; the default is [time.Sleep].
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Source) {
		s.sleep = sleep
	}
}

// Source is a synthetic capture device generating a continuous sine tone.
// Like every [capture.Source] it is owned by a single goroutine and performs
// no internal locking.
type Source struct {
	rate     int
	channels int
	gain     float64
	open     bool

	toneHz    float64
	amplitude float64
	phase     float64
	elapsed   time.Duration
	sleep     func(time.Duration)
}

var _ capture.Source = (*Source)(nil)

// Open creates a synthetic source with the given configuration. It fails only
// on an invalid rate or channel count, mirroring a hardware open rejecting an
// unsupported format.
func Open(cfg capture.Config, opts ...Option) (*Source, error) {
	s := &Source{
		rate:      cfg.SampleRate,
		channels:  cfg.Channels,
		gain:      cfg.Gain,
		toneHz:    defaultToneHz,
		amplitude: defaultAmplitude,
		sleep:     time.Sleep,
	}
	if s.gain == 0 {
		s.gain = 1.0
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.open = true
	return s, nil
}

func (s *Source) validate() error {
	if s.rate <= 0 {
		return fmt.Errorf("synth: %w: invalid sample rate %d", capture.ErrDeviceFailure, s.rate)
	}
	if s.channels < 1 || s.channels > 2 {
		return fmt.Errorf("synth: %w: invalid channel count %d", capture.ErrDeviceFailure, s.channels)
	}
	return nil
}

// CaptureFrame generates exactly FrameCount(rate, d) frames of sine tone with
// gain applied, then sleeps for d to emulate a blocking hardware read.
func (s *Source) CaptureFrame(d time.Duration) (types.AudioFrame, error) {
	if !s.open {
		return types.AudioFrame{}, capture.ErrNotOpen
	}
	n := capture.FrameCount(s.rate, d)
	samples := make([]int16, n*s.channels)

	step := 2 * math.Pi * s.toneHz / float64(s.rate)
	for i := 0; i < n; i++ {
		v := s.amplitude * math.Sin(s.phase)
		s.phase += step
		for c := 0; c < s.channels; c++ {
			samples[i*s.channels+c] = audio.Saturate16(v * s.gain)
		}
	}
	// Keep the phase bounded so long runs do not lose precision.
	s.phase = math.Mod(s.phase, 2*math.Pi)

	s.sleep(d)

	frame := types.AudioFrame{
		Samples:    samples,
		SampleRate: s.rate,
		Channels:   s.channels,
		Timestamp:  s.elapsed,
	}
	s.elapsed += d
	return frame, nil
}

// SetGain replaces the amplification factor for subsequent frames.
func (s *Source) SetGain(gain float64) {
	s.gain = gain
}

// SetSampleRate closes the generator and reopens it at the new rate. An
// invalid rate leaves the source closed, exactly like a hardware reopen
// failure.
func (s *Source) SetSampleRate(rate int) error {
	s.open = false
	s.rate = rate
	return s.Reopen()
}

// Reopen re-validates the current configuration and resumes generation.
func (s *Source) Reopen() error {
	if err := s.validate(); err != nil {
		return err
	}
	s.open = true
	return nil
}

// SampleRate reports the generator's rate. A synthetic device always
// negotiates exactly what was requested.
func (s *Source) SampleRate() int { return s.rate }

// Channels reports the channel count.
func (s *Source) Channels() int { return s.channels }

// Close stops generation. Safe to call more than once.
func (s *Source) Close() error {
	s.open = false
	return nil
}
