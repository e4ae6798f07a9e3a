package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without restarting the pipeline are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GainChanged tracks the capture amplification factor.
	GainChanged bool
	NewGain     float64

	// SuppressorChanged is set when the enabled flag, reduction level, or
	// adaptive mode changed. The capture loop re-reads all three from the
	// new config.
	SuppressorChanged bool

	// KeywordsChanged is set when the vocabulary or phonetic matching
	// settings changed.
	KeywordsChanged bool
	NewKeywords     []string

	// LanguageChanged tracks the engine language hint.
	LanguageChanged bool
	NewLanguage     string
}

// Any reports whether the diff contains at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.GainChanged || d.SuppressorChanged ||
		d.KeywordsChanged || d.LanguageChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; everything
// else (device selection, loop intervals, storage paths) needs a new process.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	if old.Audio.Gain != new.Audio.Gain {
		d.GainChanged = true
		d.NewGain = new.Audio.Gain
	}

	if old.Suppressor.IsEnabled() != new.Suppressor.IsEnabled() ||
		old.Suppressor.ReductionLevel != new.Suppressor.ReductionLevel ||
		old.Suppressor.IsAdaptive() != new.Suppressor.IsAdaptive() {
		d.SuppressorChanged = true
	}

	if !slices.Equal(old.Keywords.Words, new.Keywords.Words) ||
		old.Keywords.Phonetic != new.Keywords.Phonetic ||
		old.Keywords.PhoneticThreshold != new.Keywords.PhoneticThreshold {
		d.KeywordsChanged = true
		d.NewKeywords = new.Keywords.Words
	}

	if old.Engine.Language != new.Engine.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Engine.Language
	}

	return d
}
