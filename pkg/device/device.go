// Package device defines the hardware-facing seams of the wearable: display,
// haptic motor, durable storage, and the two off-device links (companion app
// and backup uplink), plus the battery/power interface.
//
// The pipeline coordinator only ever sees these interfaces. Concrete drivers
// live in the subpackages (oled, gpio, battery, link) and in internal/store;
// tests and the demo binary substitute in-memory fakes.
package device

import (
	"context"
	"time"
)

// Display renders the current transcript. Implementations buffer drawing
// commands: Clear and ShowText mutate the buffer and Update pushes it to the
// panel in a single transfer. All three are called from the display loop
// only.
type Display interface {
	// Clear empties the drawing buffer.
	Clear()

	// ShowText lays out text into the buffer, wrapping and truncating to
	// the panel's line capacity.
	ShowText(text string)

	// Update transfers the buffer to the panel.
	Update() error
}

// Haptic drives the vibration motor. TriggerVibration returns as soon as the
// pulse has started; the motor switches off asynchronously after d.
type Haptic interface {
	TriggerVibration(d time.Duration) error
}

// Storage persists transcriptions across power cycles and tracks which of
// them still await backup over the uplink.
type Storage interface {
	// SaveTranscription appends one transcription with its capture time.
	SaveTranscription(ctx context.Context, capturedAt time.Time, text string) error

	// UnsyncedTranscriptions returns the texts not yet backed up, oldest
	// first.
	UnsyncedTranscriptions(ctx context.Context) ([]string, error)

	// MarkTranscriptionsSynced flags everything currently unsynced as
	// backed up.
	MarkTranscriptionsSynced(ctx context.Context) error
}

// Companion is the short-range live link to the paired phone app.
type Companion interface {
	// IsConnected reports whether the link is currently usable.
	IsConnected() bool

	// SyncTranscriptions pushes the recent transcript to the companion.
	SyncTranscriptions(texts []string) error
}

// Uplink is the wide-area backup channel. It may be administratively
// disabled independent of its connection state.
type Uplink interface {
	IsEnabled() bool
	IsConnected() bool

	// BackupTranscriptions delivers texts to the backup service.
	BackupTranscriptions(texts []string) error
}

// Power reads the battery and is informed of power-mode decisions.
type Power interface {
	// BatteryLevel returns the charge fraction in [0, 1].
	BatteryLevel() (float64, error)

	// UpdatePowerMode is called whenever the coordinator's low-power
	// decision changes.
	UpdatePowerMode(lowPower bool)
}

// NopDisplay is a Display that draws nowhere. Used when the panel is
// disabled in configuration.
type NopDisplay struct{}

func (NopDisplay) Clear()          {}
func (NopDisplay) ShowText(string) {}
func (NopDisplay) Update() error   { return nil }

// NopHaptic is a Haptic without a motor.
type NopHaptic struct{}

func (NopHaptic) TriggerVibration(time.Duration) error { return nil }

var (
	_ Display = NopDisplay{}
	_ Haptic  = NopHaptic{}
)
