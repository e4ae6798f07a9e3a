// Package types defines the shared types used across all Earshot packages.
//
// These types form the lingua franca between the capture device, the noise
// suppressor, the transcription engine, and the pipeline coordinator. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single fixed-duration frame of audio flowing through
// the pipeline. Frames are the atomic unit of audio transport — captured from
// the microphone, cleaned by the suppressor, and consumed by the engine.
//
// A frame is immutable once produced: ownership passes from stage to stage and
// no stage retains or aliases the sample slice after handing the frame on.
// Stages that need to modify audio return a new frame.
type AudioFrame struct {
	// Samples holds interleaved signed 16-bit PCM samples.
	// Invariant: len(Samples) == frame count × Channels.
	Samples []int16

	// SampleRate in Hz, as negotiated with the device (e.g. 16000, 44100).
	SampleRate int

	// Channels: 1 for mono (the usual wearable configuration), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to device open.
	Timestamp time.Duration
}

// Duration returns the playback duration implied by the sample count and rate.
// Returns 0 for a frame with an invalid rate or channel count.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(f.Samples) / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a deep copy of the frame. Use it when a stage must hold audio
// beyond the hand-off boundary.
func (f AudioFrame) Clone() AudioFrame {
	out := f
	out.Samples = make([]int16, len(f.Samples))
	copy(out.Samples, f.Samples)
	return out
}
