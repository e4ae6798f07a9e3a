// Package gpio drives the vibration motor through a GPIO pin.
package gpio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/earshotlabs/earshot/pkg/device"
)

// DefaultPin is the motor pin used when none is configured.
const DefaultPin = "GPIO18"

// maxPulse caps a single vibration so a bad duration can never leave the
// motor running.
const maxPulse = 2 * time.Second

// Haptic switches a motor pin high for the duration of a pulse. Triggering
// returns immediately; a timer drops the pin low afterwards. Safe for
// concurrent use.
type Haptic struct {
	pin gpio.PinIO

	mu  sync.Mutex
	off *time.Timer
}

var _ device.Haptic = (*Haptic)(nil)

// Open initializes the host drivers and claims the motor pin, driving it low.
// An empty pinName selects DefaultPin.
func Open(pinName string) (*Haptic, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: initialize host drivers: %w", err)
	}
	if pinName == "" {
		pinName = DefaultPin
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio: no pin named %q", pinName)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio: drive %s low: %w", pinName, err)
	}
	return &Haptic{pin: pin}, nil
}

// TriggerVibration starts a pulse of duration d, capped at two seconds. A
// pulse arriving while one is running extends the running pulse.
func (h *Haptic) TriggerVibration(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if d > maxPulse {
		d = maxPulse
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio: start pulse: %w", err)
	}
	if h.off != nil {
		h.off.Stop()
	}
	h.off = time.AfterFunc(d, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Best effort: a failed stop is retried by the next pulse's
		// timer, and Close drops the pin unconditionally.
		_ = h.pin.Out(gpio.Low)
	})
	return nil
}

// Close cancels any running pulse and leaves the pin low.
func (h *Haptic) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.off != nil {
		h.off.Stop()
		h.off = nil
	}
	if err := h.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: release pin: %w", err)
	}
	return nil
}
