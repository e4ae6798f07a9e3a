// This file contains the whisper backend, built on the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/earshotlabs/earshot/pkg/audio"
)

// whisperBackend holds a loaded whisper.cpp model. Contexts are created per
// inference: a context is not reusable across calls, but the model is.
type whisperBackend struct {
	model    whisperlib.Model
	language string
}

func openWhisper(cfg Config) (backend, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper model path must not be empty")
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %q: %w", cfg.ModelPath, err)
	}
	return &whisperBackend{model: model, language: cfg.Language}, nil
}

func (b *whisperBackend) transcribe(ctx context.Context, samples []int16, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wctx, err := b.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(b.language); err != nil {
		slog.Warn("whisper: failed to set language, using model default",
			"language", b.language, "error", err)
	}
	if err := wctx.Process(audio.Float32Samples(samples), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (b *whisperBackend) setLanguage(code string) { b.language = code }

func (b *whisperBackend) close() error {
	if b.model == nil {
		return nil
	}
	err := b.model.Close()
	b.model = nil
	return err
}
