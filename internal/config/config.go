// Package config provides the configuration schema, loader, and file watcher
// for the earshot wearable pipeline.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the earshot daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog equivalent. Unrecognised levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// AudioDevice selects the microphone backend.
type AudioDevice string

const (
	// DeviceMalgo captures from the system microphone via miniaudio.
	DeviceMalgo AudioDevice = "malgo"

	// DeviceSynth generates synthetic audio, for development without hardware.
	DeviceSynth AudioDevice = "synth"
)

// IsValid reports whether d is a recognised audio device.
func (d AudioDevice) IsValid() bool {
	return d == DeviceMalgo || d == DeviceSynth
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address for the metrics and health endpoints
	// (e.g., ":8090"). When empty, no HTTP server is started.
	ListenAddr string `yaml:"listen_addr"`

	Audio      AudioConfig      `yaml:"audio"`
	Suppressor SuppressorConfig `yaml:"suppressor"`
	Engine     EngineConfig     `yaml:"engine"`
	Keywords   KeywordsConfig   `yaml:"keywords"`
	Display    DisplayConfig    `yaml:"display"`
	Haptic     HapticConfig     `yaml:"haptic"`
	Storage    StorageConfig    `yaml:"storage"`
	Sync       SyncConfig       `yaml:"sync"`
	Loops      LoopsConfig      `yaml:"loops"`
	Power      PowerConfig      `yaml:"power"`
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	// Device selects the capture backend.
	Device AudioDevice `yaml:"device"`

	// SampleRate is the requested capture rate in Hz. The device may
	// negotiate a different effective rate.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count (1 = mono, 2 = stereo).
	Channels int `yaml:"channels"`

	// Gain is the amplification factor applied to every captured sample,
	// with saturating 16-bit clamping. 0 means default (1.0).
	Gain float64 `yaml:"gain"`

	// FrameMs is the duration of each captured frame in milliseconds.
	FrameMs int `yaml:"frame_ms"`
}

// FrameDuration returns the capture frame length.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// SuppressorConfig holds spectral noise suppression settings.
type SuppressorConfig struct {
	// Enabled toggles suppression. Nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// ReductionLevel is the fraction of the learned noise magnitude
	// subtracted from each frame, in [0, 1]. 0 means default (0.5).
	ReductionLevel float64 `yaml:"reduction_level"`

	// Adaptive re-estimates the noise profile from silent frames.
	// Nil means enabled.
	Adaptive *bool `yaml:"adaptive"`

	// WindowSize is the FFT window length in samples.
	WindowSize int `yaml:"window_size"`

	// SilenceRMS is the RMS level below which a frame counts as silence
	// for adaptive profile estimation.
	SilenceRMS float64 `yaml:"silence_rms"`
}

// IsEnabled reports whether suppression is active. Nil means enabled.
func (s SuppressorConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsAdaptive reports whether adaptive profile estimation is active.
// Nil means enabled.
func (s SuppressorConfig) IsAdaptive() bool {
	return s.Adaptive == nil || *s.Adaptive
}

// EngineConfig holds speech-to-text engine settings.
type EngineConfig struct {
	// Name selects the engine implementation (e.g., "whisper", "vosk").
	// Unrecognised names fall back to the default engine at runtime.
	Name string `yaml:"name"`

	// Language is the language hint passed to the engine (e.g., "en").
	Language string `yaml:"language"`

	// ModelPath is the path to the engine's model file or directory.
	ModelPath string `yaml:"model_path"`

	// Command is the external transcriber invocation used by the
	// deepspeech engine (e.g., "deepspeech-cli --beam-width 500").
	Command string `yaml:"command"`

	// SampleRate is the rate in Hz the engine expects. Captured audio at a
	// different rate is resampled before transcription.
	SampleRate int `yaml:"sample_rate"`
}

// KeywordsConfig holds alert keyword matching settings.
type KeywordsConfig struct {
	// Words lists the alert vocabulary. Empty means the built-in
	// vocabulary (emergency, help, alert).
	Words []string `yaml:"words"`

	// Phonetic additionally matches near-misses of the vocabulary by
	// sound ("emergancy", "halp").
	Phonetic bool `yaml:"phonetic"`

	// PhoneticThreshold is the minimum string similarity in [0, 1] for a
	// phonetic match. 0 means default (0.70).
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// DisplayConfig holds OLED display settings.
type DisplayConfig struct {
	// Enabled toggles the display. Nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// Bus is the I²C bus name (e.g., "/dev/i2c-1"). Empty selects the
	// first available bus.
	Bus string `yaml:"bus"`

	// Width and Height are the panel dimensions in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Rotated flips the panel 180° for upside-down mounting.
	Rotated bool `yaml:"rotated"`
}

// IsEnabled reports whether the display is active. Nil means enabled.
func (d DisplayConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// HapticConfig holds vibration motor settings.
type HapticConfig struct {
	// Enabled toggles haptic alerts. Nil means enabled.
	Enabled *bool `yaml:"enabled"`

	// Pin is the GPIO pin name driving the motor (e.g., "GPIO18").
	Pin string `yaml:"pin"`

	// PulseMs is the vibration pulse length in milliseconds.
	PulseMs int `yaml:"pulse_ms"`
}

// IsEnabled reports whether haptic alerts are active. Nil means enabled.
func (h HapticConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Pulse returns the vibration pulse length.
func (h HapticConfig) Pulse() time.Duration {
	return time.Duration(h.PulseMs) * time.Millisecond
}

// StorageConfig holds local transcription persistence settings.
type StorageConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// RetentionDays prunes synced transcriptions older than this many
	// days. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// SyncConfig holds companion-app and cloud backup settings.
type SyncConfig struct {
	// CompanionURL is the WebSocket endpoint of the paired companion app
	// (e.g., "ws://192.168.4.20:9000/sync"). Empty disables companion sync.
	CompanionURL string `yaml:"companion_url"`

	// Token is the bearer token sent when dialling the companion app.
	Token string `yaml:"token"`

	// NATSURL is the NATS server address for cloud backup
	// (e.g., "nats://backup.example.com:4222").
	NATSURL string `yaml:"nats_url"`

	// BackupSubject is the NATS subject transcription batches are
	// published to.
	BackupSubject string `yaml:"backup_subject"`

	// UplinkEnabled toggles cloud backup over NATS.
	UplinkEnabled bool `yaml:"uplink_enabled"`
}

// LoopsConfig holds the worker loop intervals, all in milliseconds.
type LoopsConfig struct {
	// CapturePauseMs is the pause between capture iterations.
	CapturePauseMs int `yaml:"capture_pause_ms"`

	// DisplayMs is the display refresh interval.
	DisplayMs int `yaml:"display_ms"`

	// PersistMs is the transcription persistence interval.
	PersistMs int `yaml:"persist_ms"`

	// PowerMs is the battery polling interval.
	PowerMs int `yaml:"power_ms"`

	// ConnectMs is the connectivity sync interval.
	ConnectMs int `yaml:"connect_ms"`

	// ConnectLowPowerMs replaces ConnectMs while in low-power mode.
	ConnectLowPowerMs int `yaml:"connect_low_power_ms"`
}

// CapturePause returns the pause between capture iterations.
func (l LoopsConfig) CapturePause() time.Duration {
	return time.Duration(l.CapturePauseMs) * time.Millisecond
}

// DisplayInterval returns the display refresh interval.
func (l LoopsConfig) DisplayInterval() time.Duration {
	return time.Duration(l.DisplayMs) * time.Millisecond
}

// PersistInterval returns the transcription persistence interval.
func (l LoopsConfig) PersistInterval() time.Duration {
	return time.Duration(l.PersistMs) * time.Millisecond
}

// PowerInterval returns the battery polling interval.
func (l LoopsConfig) PowerInterval() time.Duration {
	return time.Duration(l.PowerMs) * time.Millisecond
}

// ConnectInterval returns the connectivity sync interval for the given
// power mode.
func (l LoopsConfig) ConnectInterval(lowPower bool) time.Duration {
	if lowPower {
		return time.Duration(l.ConnectLowPowerMs) * time.Millisecond
	}
	return time.Duration(l.ConnectMs) * time.Millisecond
}

// PowerConfig holds battery monitoring settings.
type PowerConfig struct {
	// Supply is the sysfs power supply name (e.g., "BAT0").
	Supply string `yaml:"supply"`

	// LowEnter enters low-power mode when the battery level drops below
	// this fraction. 0 means default (0.20).
	LowEnter float64 `yaml:"low_enter"`

	// LowExit leaves low-power mode when the level rises above this
	// fraction. Must be above LowEnter so the mode cannot flap between
	// polls. 0 means default (0.30).
	LowExit float64 `yaml:"low_exit"`
}

// Default returns a configuration with every field set to its default,
// pointing the transcription engine at the conventional model location.
// Used when running without a config file.
func Default() *Config {
	cfg := &Config{
		Engine: EngineConfig{ModelPath: "models/ggml-base.en.bin"},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in defaults for fields left unset. It runs after
// decoding and before validation so cross-field checks see final values.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DeviceMalgo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.Gain == 0 {
		cfg.Audio.Gain = 1.0
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = 10
	}
	if cfg.Suppressor.Enabled == nil {
		cfg.Suppressor.Enabled = boolPtr(true)
	}
	if cfg.Suppressor.ReductionLevel == 0 {
		cfg.Suppressor.ReductionLevel = 0.5
	}
	if cfg.Suppressor.Adaptive == nil {
		cfg.Suppressor.Adaptive = boolPtr(true)
	}
	if cfg.Suppressor.WindowSize == 0 {
		cfg.Suppressor.WindowSize = 512
	}
	if cfg.Suppressor.SilenceRMS == 0 {
		cfg.Suppressor.SilenceRMS = 300
	}
	if cfg.Engine.Name == "" {
		cfg.Engine.Name = "whisper"
	}
	if cfg.Engine.Language == "" {
		cfg.Engine.Language = "en"
	}
	if cfg.Engine.SampleRate == 0 {
		cfg.Engine.SampleRate = 16000
	}
	if cfg.Keywords.PhoneticThreshold == 0 {
		cfg.Keywords.PhoneticThreshold = 0.70
	}
	if cfg.Display.Enabled == nil {
		cfg.Display.Enabled = boolPtr(true)
	}
	if cfg.Display.Width == 0 {
		cfg.Display.Width = 128
	}
	if cfg.Display.Height == 0 {
		cfg.Display.Height = 64
	}
	if cfg.Haptic.Enabled == nil {
		cfg.Haptic.Enabled = boolPtr(true)
	}
	if cfg.Haptic.Pin == "" {
		cfg.Haptic.Pin = "GPIO18"
	}
	if cfg.Haptic.PulseMs == 0 {
		cfg.Haptic.PulseMs = 400
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "earshot.db"
	}
	if cfg.Sync.BackupSubject == "" {
		cfg.Sync.BackupSubject = "earshot.transcripts.backup"
	}
	if cfg.Loops.CapturePauseMs == 0 {
		cfg.Loops.CapturePauseMs = 10
	}
	if cfg.Loops.DisplayMs == 0 {
		cfg.Loops.DisplayMs = 100
	}
	if cfg.Loops.PersistMs == 0 {
		cfg.Loops.PersistMs = 5000
	}
	if cfg.Loops.PowerMs == 0 {
		cfg.Loops.PowerMs = 60000
	}
	if cfg.Loops.ConnectMs == 0 {
		cfg.Loops.ConnectMs = 60000
	}
	if cfg.Loops.ConnectLowPowerMs == 0 {
		cfg.Loops.ConnectLowPowerMs = 300000
	}
	if cfg.Power.Supply == "" {
		cfg.Power.Supply = "BAT0"
	}
	if cfg.Power.LowEnter == 0 {
		cfg.Power.LowEnter = 0.20
	}
	if cfg.Power.LowExit == 0 {
		cfg.Power.LowExit = 0.30
	}
}

func boolPtr(b bool) *bool { return &b }
