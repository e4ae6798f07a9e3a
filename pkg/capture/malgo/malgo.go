// Package malgo implements [capture.Source] on top of the miniaudio library
// via the malgo bindings. Miniaudio pushes PCM through a data callback; this
// package bridges that push model into the blocking frame-assembly contract
// the capture loop expects.
package malgo

import (
	"fmt"
	"log/slog"
	"time"

	malgolib "github.com/gen2brain/malgo"

	"github.com/earshotlabs/earshot/pkg/audio"
	"github.com/earshotlabs/earshot/pkg/capture"
	"github.com/earshotlabs/earshot/pkg/types"
)

// chunkBuffer is the number of callback chunks held between CaptureFrame
// calls before the callback starts dropping. At the default period size this
// is several hundred milliseconds of slack.
const chunkBuffer = 32

// readTimeout bounds how long a single frame assembly waits for the callback
// before treating the device as stalled.
const readTimeout = 3 * time.Second

// Device is a microphone capture source backed by miniaudio.
// It is owned by a single goroutine and performs no internal locking.
type Device struct {
	requestedRate int
	rate          int
	channels      int
	gain          float64

	mctx   *malgolib.AllocatedContext
	dev    *malgolib.Device
	chunks chan []int16

	open    bool
	pending []int16
	elapsed time.Duration
}

var _ capture.Source = (*Device)(nil)

// Open initialises the default capture device at the requested format.
// Construction failure means the hardware is unusable and is fatal to the
// caller; later per-read faults are handled through the recovery path.
func Open(cfg capture.Config) (*Device, error) {
	d := &Device{
		requestedRate: cfg.SampleRate,
		channels:      cfg.Channels,
		gain:          cfg.Gain,
	}
	if d.gain == 0 {
		d.gain = 1.0
	}
	if d.requestedRate <= 0 {
		return nil, fmt.Errorf("malgo: invalid sample rate %d", d.requestedRate)
	}
	if d.channels < 1 || d.channels > 2 {
		return nil, fmt.Errorf("malgo: invalid channel count %d", d.channels)
	}
	if err := d.initDevice(); err != nil {
		return nil, err
	}
	return d, nil
}

// initDevice brings up a fresh miniaudio context and capture device and
// starts the data callback.
func (d *Device) initDevice() error {
	mctx, err := malgolib.InitContext(nil, malgolib.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}

	deviceConfig := malgolib.DefaultDeviceConfig(malgolib.Capture)
	deviceConfig.Capture.Format = malgolib.FormatS16
	deviceConfig.Capture.Channels = uint32(d.channels)
	deviceConfig.SampleRate = uint32(d.requestedRate)

	chunks := make(chan []int16, chunkBuffer)
	callbacks := malgolib.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			// Copy out of the miniaudio-owned buffer before handing off.
			samples := audio.BytesToSamples(pInputSamples)
			select {
			case chunks <- samples:
			default:
				// Consumer is behind; drop rather than block the audio thread.
			}
		},
	}

	dev, err := malgolib.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo: start device: %w", err)
	}

	d.mctx = mctx
	d.dev = dev
	d.chunks = chunks
	// Miniaudio resamples to the requested rate, so the negotiated rate is
	// the requested one. Report it rather than assuming at call sites.
	d.rate = d.requestedRate
	d.pending = nil
	d.open = true
	return nil
}

func (d *Device) closeDevice() {
	if d.dev != nil {
		_ = d.dev.Stop()
		d.dev.Uninit()
		d.dev = nil
	}
	if d.mctx != nil {
		d.mctx.Uninit()
		d.mctx.Free()
		d.mctx = nil
	}
	d.open = false
}

// CaptureFrame blocks until rate × d / 1s frames have been assembled from the
// callback stream. A stalled device triggers one in-place recovery attempt;
// if that fails the partial frame is returned with [capture.ErrDeviceFailure].
func (d *Device) CaptureFrame(dur time.Duration) (types.AudioFrame, error) {
	if !d.open {
		return types.AudioFrame{}, capture.ErrNotOpen
	}

	need := capture.FrameCount(d.rate, dur) * d.channels
	out := make([]int16, 0, need)

	// Consume any samples left over from the previous frame boundary first.
	if len(d.pending) > 0 {
		take := min(len(d.pending), need)
		out = append(out, d.pending[:take]...)
		d.pending = d.pending[take:]
	}

	timer := time.NewTimer(dur + readTimeout)
	defer timer.Stop()

	for len(out) < need {
		select {
		case chunk, ok := <-d.chunks:
			if !ok {
				return d.recoverPartial(out, dur)
			}
			take := min(len(chunk), need-len(out))
			out = append(out, chunk[:take]...)
			if take < len(chunk) {
				d.pending = chunk[take:]
			}
		case <-timer.C:
			slog.Warn("capture read stalled, attempting device recovery",
				"collected", len(out), "needed", need)
			return d.recoverPartial(out, dur)
		}
	}

	if d.gain != 1.0 {
		out = audio.ApplyGain(out, d.gain)
	}

	frame := types.AudioFrame{
		Samples:    out,
		SampleRate: d.rate,
		Channels:   d.channels,
		Timestamp:  d.elapsed,
	}
	d.elapsed += dur
	return frame, nil
}

// recoverPartial reinitialises the device once after a read fault. On success
// the samples gathered so far are returned as a degraded partial frame; on
// failure the device stays closed and the error escalates to the coordinator.
func (d *Device) recoverPartial(collected []int16, dur time.Duration) (types.AudioFrame, error) {
	frame := types.AudioFrame{
		Samples:    collected,
		SampleRate: d.rate,
		Channels:   d.channels,
		Timestamp:  d.elapsed,
	}
	d.elapsed += dur

	d.closeDevice()
	if err := d.initDevice(); err != nil {
		slog.Error("capture device recovery failed", "err", err)
		return frame, fmt.Errorf("%w: %v", capture.ErrDeviceFailure, err)
	}
	slog.Info("capture device recovered after read fault")
	return frame, nil
}

// SetGain replaces the amplification factor for subsequent frames.
func (d *Device) SetGain(gain float64) {
	d.gain = gain
}

// SetSampleRate closes the device and reopens it at the new rate. On reopen
// failure the device stays closed and subsequent captures return
// [capture.ErrNotOpen].
func (d *Device) SetSampleRate(rate int) error {
	d.closeDevice()
	d.requestedRate = rate
	if rate <= 0 {
		return fmt.Errorf("malgo: invalid sample rate %d", rate)
	}
	return d.initDevice()
}

// Reopen re-initialises the device with its current configuration.
func (d *Device) Reopen() error {
	d.closeDevice()
	return d.initDevice()
}

// SampleRate reports the negotiated capture rate.
func (d *Device) SampleRate() int { return d.rate }

// Channels reports the negotiated channel count.
func (d *Device) Channels() int { return d.channels }

// Close stops the device and releases the miniaudio context. Safe to call
// more than once.
func (d *Device) Close() error {
	d.closeDevice()
	return nil
}
