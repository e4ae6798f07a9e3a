// Package stt turns PCM audio frames into text through one of several
// interchangeable speech-to-text backends: whisper.cpp CGO bindings, Vosk, or
// an external DeepSpeech-style recognizer process.
//
// The Engine owns exactly one backend at a time. Construction is cheap and
// never touches models on disk; Init acquires the backend and is the step
// that can fail. The capture loop owns the engine — no method performs
// internal locking.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/earshotlabs/earshot/pkg/audio"
	"github.com/earshotlabs/earshot/pkg/types"
)

// ErrNotInitialized is returned by Transcribe when no backend is live, either
// because Init was never called or because a Switch failed to acquire the new
// backend.
var ErrNotInitialized = errors.New("stt: engine not initialized")

// Variant identifies a transcription backend.
type Variant string

const (
	Whisper    Variant = "whisper"
	Vosk       Variant = "vosk"
	DeepSpeech Variant = "deepspeech"
)

// DefaultVariant is used when an unknown engine name is requested.
const DefaultVariant = Whisper

const (
	defaultModelRate = 16000
	defaultLanguage  = "en"
)

// IsValid reports whether v names a known backend.
func (v Variant) IsValid() bool {
	switch v {
	case Whisper, Vosk, DeepSpeech:
		return true
	}
	return false
}

// ParseVariant maps a case-insensitive engine name to a Variant. Unknown
// names yield DefaultVariant and ok == false so the caller can surface the
// fallback.
func ParseVariant(name string) (Variant, bool) {
	v := Variant(strings.ToLower(strings.TrimSpace(name)))
	if v.IsValid() {
		return v, true
	}
	return DefaultVariant, false
}

// Config selects and parameterizes a backend.
type Config struct {
	// Engine is the requested backend name, matched case-insensitively.
	// Unknown names fall back to DefaultVariant.
	Engine string

	// Language is the BCP-47 language code for transcription. Defaults to
	// "en". Vosk models are monolingual; the code is ignored there.
	Language string

	// ModelPath points at the model file (whisper) or model directory
	// (vosk). Required for those backends.
	ModelPath string

	// Command is the external recognizer command line for the deepspeech
	// backend, parsed shell-style.
	Command string

	// SampleRate is the PCM rate the model expects. Frames arriving at a
	// different device rate are resampled before inference. Defaults to
	// 16000.
	SampleRate int
}

// backend is the lifecycle-owning half of a Variant. Implementations receive
// mono PCM already resampled to the model rate.
type backend interface {
	transcribe(ctx context.Context, samples []int16, rate int) (string, error)
	setLanguage(code string)
	close() error
}

// Engine converts audio frames to text using a single live backend.
type Engine struct {
	variant   Variant
	language  string
	modelRate int
	cfg       Config

	backend backend

	// newBackend acquires a backend for a variant; replaced in tests.
	newBackend func(Variant, Config) (backend, error)
}

// New builds an engine for cfg without acquiring any backend resources.
// An unknown cfg.Engine name falls back to DefaultVariant and is logged.
func New(cfg Config) *Engine {
	variant, ok := ParseVariant(cfg.Engine)
	if !ok && cfg.Engine != "" {
		slog.Warn("unknown transcription engine, falling back to default",
			"requested", cfg.Engine, "default", DefaultVariant)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultModelRate
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	return &Engine{
		variant:    variant,
		language:   cfg.Language,
		modelRate:  cfg.SampleRate,
		cfg:        cfg,
		newBackend: openBackend,
	}
}

// openBackend acquires the real backend for a variant.
func openBackend(v Variant, cfg Config) (backend, error) {
	switch v {
	case Whisper:
		return openWhisper(cfg)
	case Vosk:
		return openVosk(cfg)
	case DeepSpeech:
		return openDeepSpeech(cfg)
	default:
		return nil, fmt.Errorf("stt: unknown variant %q", v)
	}
}

// Init acquires the backend for the configured variant: loading the model
// file, creating the recognizer, or validating the external command. Calling
// Init on an initialized engine is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	if e.backend != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := e.newBackend(e.variant, e.cfg)
	if err != nil {
		return fmt.Errorf("stt: initialize %s backend: %w", e.variant, err)
	}
	b.setLanguage(e.language)
	e.backend = b
	return nil
}

// Initialized reports whether a backend is live.
func (e *Engine) Initialized() bool { return e.backend != nil }

// Variant returns the backend currently selected.
func (e *Engine) Variant() Variant { return e.variant }

// Transcribe runs one inference over the frame and returns the recognized
// text. Stereo frames are downmixed and frames at a foreign sample rate are
// resampled to the model rate first. Audio that contains no recognizable
// speech yields ("", nil); errors mean the backend itself failed.
func (e *Engine) Transcribe(ctx context.Context, frame types.AudioFrame) (string, error) {
	if e.backend == nil {
		return "", ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	samples := frame.Samples
	if frame.Channels == 2 {
		samples = audio.StereoToMono(samples)
	}
	if frame.SampleRate > 0 && frame.SampleRate != e.modelRate {
		samples = audio.ResampleMono(samples, frame.SampleRate, e.modelRate)
	}
	if len(samples) == 0 {
		return "", nil
	}
	return e.backend.transcribe(ctx, samples, e.modelRate)
}

// SetLanguage changes the transcription language for subsequent inferences.
// Safe to call before Init; the language is applied when the backend comes
// up.
func (e *Engine) SetLanguage(code string) {
	if code == "" {
		return
	}
	e.language = code
	if e.backend != nil {
		e.backend.setLanguage(code)
	}
}

// Switch tears down the current backend and brings up the one named by name.
// The old backend is always released first; if acquiring the new one fails,
// the engine is left uninitialized and Transcribe returns ErrNotInitialized
// until a later Init succeeds.
func (e *Engine) Switch(ctx context.Context, name string) error {
	variant, ok := ParseVariant(name)
	if !ok {
		slog.Warn("unknown transcription engine requested on switch, falling back to default",
			"requested", name, "default", DefaultVariant)
	}
	if e.backend != nil {
		if err := e.backend.close(); err != nil {
			slog.Warn("closing previous transcription backend", "variant", e.variant, "error", err)
		}
		e.backend = nil
	}
	e.variant = variant
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := e.newBackend(variant, e.cfg)
	if err != nil {
		return fmt.Errorf("stt: switch to %s: %w", variant, err)
	}
	b.setLanguage(e.language)
	e.backend = b
	return nil
}

// Close releases the live backend, if any. Safe to call repeatedly.
func (e *Engine) Close() error {
	if e.backend == nil {
		return nil
	}
	err := e.backend.close()
	e.backend = nil
	return err
}
