package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists the recognised transcription engine names.
// Used by [Validate] to warn about unrecognised names, which fall back to
// the default engine at runtime rather than failing.
var ValidEngineNames = []string{"whisper", "vosk", "deepspeech"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: malgo, synth", cfg.Audio.Device))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must not be negative, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; only mono and stereo capture are supported", cfg.Audio.Channels))
	}
	if cfg.Audio.Gain < 0 {
		errs = append(errs, fmt.Errorf("audio.gain %.2f must not be negative", cfg.Audio.Gain))
	} else if cfg.Audio.Gain > 8 {
		slog.Warn("audio.gain is unusually high; expect clipping", "gain", cfg.Audio.Gain)
	}
	if cfg.Audio.FrameMs < 0 || cfg.Audio.FrameMs > 2000 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range (0, 2000]", cfg.Audio.FrameMs))
	}

	// Suppressor
	if cfg.Suppressor.ReductionLevel < 0 || cfg.Suppressor.ReductionLevel > 1 {
		errs = append(errs, fmt.Errorf("suppressor.reduction_level %.2f is out of range [0, 1]", cfg.Suppressor.ReductionLevel))
	}
	if cfg.Suppressor.WindowSize != 0 && cfg.Suppressor.WindowSize < 64 {
		errs = append(errs, fmt.Errorf("suppressor.window_size %d is too small; minimum is 64 samples", cfg.Suppressor.WindowSize))
	}
	if cfg.Suppressor.SilenceRMS < 0 {
		errs = append(errs, fmt.Errorf("suppressor.silence_rms %.1f must not be negative", cfg.Suppressor.SilenceRMS))
	}

	// Engine — unknown names only warn because the runtime falls back to
	// the default engine, but the resolved engine must be startable.
	validateEngineName(cfg.Engine.Name)
	switch strings.ToLower(strings.TrimSpace(cfg.Engine.Name)) {
	case "deepspeech":
		if cfg.Engine.Command == "" {
			errs = append(errs, errors.New("engine.command is required when engine.name is deepspeech"))
		}
	case "vosk":
		if cfg.Engine.ModelPath == "" {
			errs = append(errs, errors.New("engine.model_path is required when engine.name is vosk"))
		}
	default: // whisper, and unknown names that fall back to it
		if cfg.Engine.ModelPath == "" {
			errs = append(errs, errors.New("engine.model_path is required when engine.name is whisper"))
		}
	}
	if cfg.Engine.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("engine.sample_rate must not be negative, got %d", cfg.Engine.SampleRate))
	}

	// Keywords
	if cfg.Keywords.PhoneticThreshold < 0 || cfg.Keywords.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("keywords.phonetic_threshold %.2f is out of range [0, 1]", cfg.Keywords.PhoneticThreshold))
	}

	// Display
	if cfg.Display.Width < 0 || cfg.Display.Height < 0 {
		errs = append(errs, fmt.Errorf("display dimensions %dx%d must not be negative", cfg.Display.Width, cfg.Display.Height))
	}

	// Haptic
	if cfg.Haptic.PulseMs < 0 {
		errs = append(errs, fmt.Errorf("haptic.pulse_ms must not be negative, got %d", cfg.Haptic.PulseMs))
	} else if cfg.Haptic.PulseMs > 2000 {
		slog.Warn("haptic.pulse_ms exceeds the 2 s pulse cap and will be truncated", "pulse_ms", cfg.Haptic.PulseMs)
	}

	// Storage
	if cfg.Storage.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("storage.retention_days must not be negative, got %d", cfg.Storage.RetentionDays))
	}

	// Sync
	if u := cfg.Sync.CompanionURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, fmt.Errorf("sync.companion_url %q must use the ws or wss scheme", u))
	}
	if cfg.Sync.UplinkEnabled && cfg.Sync.NATSURL == "" {
		slog.Warn("sync.uplink_enabled is set but sync.nats_url is empty; cloud backup will be unavailable")
	}

	// Loops
	for _, iv := range []struct {
		name string
		ms   int
	}{
		{"loops.capture_pause_ms", cfg.Loops.CapturePauseMs},
		{"loops.display_ms", cfg.Loops.DisplayMs},
		{"loops.persist_ms", cfg.Loops.PersistMs},
		{"loops.power_ms", cfg.Loops.PowerMs},
		{"loops.connect_ms", cfg.Loops.ConnectMs},
		{"loops.connect_low_power_ms", cfg.Loops.ConnectLowPowerMs},
	} {
		if iv.ms < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", iv.name, iv.ms))
		}
	}

	// Power
	if cfg.Power.LowEnter < 0 || cfg.Power.LowEnter > 1 {
		errs = append(errs, fmt.Errorf("power.low_enter %.2f is out of range [0, 1]", cfg.Power.LowEnter))
	}
	if cfg.Power.LowExit < 0 || cfg.Power.LowExit > 1 {
		errs = append(errs, fmt.Errorf("power.low_exit %.2f is out of range [0, 1]", cfg.Power.LowExit))
	}
	if cfg.Power.LowEnter != 0 && cfg.Power.LowExit != 0 && cfg.Power.LowEnter >= cfg.Power.LowExit {
		errs = append(errs, fmt.Errorf("power.low_enter %.2f must be below power.low_exit %.2f", cfg.Power.LowEnter, cfg.Power.LowExit))
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is non-empty and not found in
// [ValidEngineNames].
func validateEngineName(name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidEngineNames, strings.ToLower(strings.TrimSpace(name))) {
		return
	}
	slog.Warn("unknown engine name — the default engine will be used",
		"name", name,
		"known", ValidEngineNames,
	)
}
