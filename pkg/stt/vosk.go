// This file contains the Vosk backend, built on the Vosk CGO bindings. The
// libvosk shared library must be available at link time.

package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/earshotlabs/earshot/pkg/audio"
)

// voskBackend holds a loaded Vosk model and one recognizer bound to the
// model sample rate. FinalResult flushes and resets the recognizer, so each
// transcribe call is an independent utterance.
type voskBackend struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
}

// voskResult is the JSON shape Vosk returns from FinalResult.
type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Conf  float64 `json:"conf"`
		End   float64 `json:"end"`
		Start float64 `json:"start"`
		Word  string  `json:"word"`
	} `json:"result,omitempty"`
}

func openVosk(cfg Config) (backend, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("vosk model path must not be empty")
	}
	vosk.SetLogLevel(-1)
	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %q: %w", cfg.ModelPath, err)
	}
	rec, err := vosk.NewRecognizer(model, float64(cfg.SampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	rec.SetWords(1)
	return &voskBackend{model: model, rec: rec}, nil
}

func (b *voskBackend) transcribe(ctx context.Context, samples []int16, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.rec.AcceptWaveform(audio.SamplesToBytes(samples))
	var result voskResult
	if err := json.Unmarshal([]byte(b.rec.FinalResult()), &result); err != nil {
		return "", fmt.Errorf("vosk: parse result: %w", err)
	}
	return result.Text, nil
}

// setLanguage is a no-op: a Vosk model recognizes the single language it was
// trained for.
func (b *voskBackend) setLanguage(code string) {
	slog.Debug("vosk model language is fixed at load time", "requested", code)
}

func (b *voskBackend) close() error {
	if b.rec != nil {
		b.rec.Free()
		b.rec = nil
	}
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	return nil
}
