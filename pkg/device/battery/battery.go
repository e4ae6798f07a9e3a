// Package battery reads the charge level from the kernel's power_supply
// sysfs interface and decides low-power transitions with hysteresis.
package battery

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/earshotlabs/earshot/pkg/device"
)

// DefaultSupply is the power_supply name used when none is configured.
const DefaultSupply = "BAT0"

// sysfsRoot is overridable in tests.
var sysfsRoot = "/sys/class/power_supply"

// Hysteresis separates the enter and exit thresholds of the low-power
// decision so a battery hovering near one boundary cannot flap the mode on
// every reading.
type Hysteresis struct {
	// Enter: low-power mode engages when the level drops below this.
	Enter float64

	// Exit: low-power mode disengages when the level rises above this.
	Exit float64
}

// DefaultHysteresis enters low power below 20% and leaves it above 30%.
var DefaultHysteresis = Hysteresis{Enter: 0.20, Exit: 0.30}

// Next returns the low-power decision for a new level given the current
// mode. Levels between the two thresholds keep the current mode.
func (h Hysteresis) Next(level float64, lowPower bool) bool {
	switch {
	case !lowPower && level < h.Enter:
		return true
	case lowPower && level > h.Exit:
		return false
	default:
		return lowPower
	}
}

// Sysfs reads battery capacity from /sys/class/power_supply/<supply>/capacity.
type Sysfs struct {
	capacityPath string
	lowPower     atomic.Bool
}

var _ device.Power = (*Sysfs)(nil)

// OpenSysfs validates that the named supply exposes a capacity file and
// returns a reader for it. An empty supply selects DefaultSupply.
func OpenSysfs(supply string) (*Sysfs, error) {
	if supply == "" {
		supply = DefaultSupply
	}
	path := filepath.Join(sysfsRoot, supply, "capacity")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("battery: supply %q: %w", supply, err)
	}
	return &Sysfs{capacityPath: path}, nil
}

// BatteryLevel returns the current charge as a fraction in [0, 1].
func (b *Sysfs) BatteryLevel() (float64, error) {
	raw, err := os.ReadFile(b.capacityPath)
	if err != nil {
		return 0, fmt.Errorf("battery: read capacity: %w", err)
	}
	percent, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("battery: parse capacity %q: %w", strings.TrimSpace(string(raw)), err)
	}
	level := float64(percent) / 100
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return level, nil
}

// UpdatePowerMode records the coordinator's low-power decision. The kernel
// governs CPU frequency on its own; the wearable's consumers (display
// refresh, sync cadence) read the decision through the coordinator instead.
func (b *Sysfs) UpdatePowerMode(lowPower bool) {
	if b.lowPower.Swap(lowPower) != lowPower {
		slog.Info("battery power mode updated", "low_power", lowPower)
	}
}

// LowPower reports the last recorded power-mode decision.
func (b *Sysfs) LowPower() bool { return b.lowPower.Load() }
