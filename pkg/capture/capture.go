// Package capture defines the Source interface for microphone capture devices.
//
// A Source wraps a hardware (or synthetic) audio input and yields
// fixed-duration PCM frames at the negotiated sample rate. The device is
// opened at construction; sample-rate changes and recovery close and reopen
// it. CaptureFrame deliberately blocks for the real-time duration of the
// requested frame — this is the natural pacing mechanism for the capture
// loop, so no separate timer is needed on the producer side.
//
// A Source is owned by exactly one worker goroutine and is not safe for
// concurrent use. Shutdown is cooperative: a blocked CaptureFrame is never
// preempted, so callers must cap frame duration (the pipeline config limits
// it to 2 s) to bound shutdown latency.
package capture

import (
	"errors"
	"time"

	"github.com/earshotlabs/earshot/pkg/types"
)

// Sentinel errors distinguishing the two hardware failure classes.
var (
	// ErrNotOpen is returned by CaptureFrame when the device is closed —
	// either never opened, or left closed by a failed sample-rate change.
	// The source stays unusable until a successful Reopen.
	ErrNotOpen = errors.New("capture: device not open")

	// ErrDeviceFailure indicates a device-level fault that survived the
	// source's own in-place recovery attempt. The coordinator decides whether
	// to retry reopening or stop the capture loop.
	ErrDeviceFailure = errors.New("capture: device failure")
)

// Config holds the parameters for opening a capture source.
type Config struct {
	// SampleRate is the requested rate in Hz. The device may negotiate a
	// different rate; always read the effective value from [Source.SampleRate].
	SampleRate int

	// Channels is the requested channel count (1 = mono, 2 = stereo).
	Channels int

	// Gain is the initial amplification factor applied to every sample with
	// saturating 16-bit clamping. Zero means 1.0 (unity).
	Gain float64
}

// Source is an open audio capture device.
type Source interface {
	// CaptureFrame blocks until exactly SampleRate() × d / 1s frames have
	// been read and returns them with gain applied. After a recoverable
	// device error it may return a shorter (partial) frame together with a
	// nil error; a closed device returns [ErrNotOpen] and a fault that
	// survived recovery returns [ErrDeviceFailure].
	CaptureFrame(d time.Duration) (types.AudioFrame, error)

	// SetGain replaces the amplification factor for subsequent frames.
	SetGain(gain float64)

	// SetSampleRate closes the device and reopens it at the new rate. On
	// reopen failure the source is left closed: every subsequent
	// CaptureFrame fails with [ErrNotOpen] until a successful Reopen or
	// SetSampleRate. The effective rate afterwards is whatever the device
	// negotiated — read it back via SampleRate.
	SetSampleRate(rate int) error

	// Reopen re-initialises the device with its current configuration. It is
	// the coordinator's recovery path after [ErrDeviceFailure] or a failed
	// rate change.
	Reopen() error

	// SampleRate reports the rate the device actually negotiated, which may
	// differ from the requested one. All downstream duration math must use
	// this value.
	SampleRate() int

	// Channels reports the negotiated channel count.
	Channels() int

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

// FrameCount returns the number of per-channel frames a source must deliver
// for a capture of duration d at the given rate: rate × d / 1s, truncated.
// The math is exact for every whole-millisecond duration used in practice
// (1000 ms at 16000 Hz is exactly 16000 frames).
func FrameCount(rate int, d time.Duration) int {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(rate) * int64(d) / int64(time.Second))
}
