// This file contains the deepspeech backend, which shells out to an external
// recognizer process per utterance instead of linking inference natively.
// Any recognizer speaking the same tiny contract works: it receives a WAV
// file path plus optional model and language flags and prints a JSON object
// {"text": ..., "confidence": ...} on stdout.

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
)

// deepSpeechBackend runs one external recognizer invocation per utterance.
// The audio travels through a temp WAV file that is removed after the call.
type deepSpeechBackend struct {
	cmd       []string
	modelPath string
	language  string
}

type deepSpeechResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func openDeepSpeech(cfg Config) (backend, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("recognizer command must not be empty")
	}
	return &deepSpeechBackend{
		cmd:       args,
		modelPath: cfg.ModelPath,
		language:  cfg.Language,
	}, nil
}

func (b *deepSpeechBackend) transcribe(ctx context.Context, samples []int16, rate int) (string, error) {
	file, err := os.CreateTemp("", "earshot_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("deepspeech: temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWAV(file, samples, rate); err != nil {
		return "", fmt.Errorf("deepspeech: %w", err)
	}

	args := append([]string{}, b.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if b.modelPath != "" {
		args = append(args, "--model", b.modelPath)
	}
	if b.language != "" {
		args = append(args, "--language", b.language)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("deepspeech: recognizer failed: %w: %s", err, stderr.String())
	}

	var result deepSpeechResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return "", fmt.Errorf("deepspeech: decode recognizer output: %w", err)
	}
	return result.Text, nil
}

func (b *deepSpeechBackend) setLanguage(code string) { b.language = code }

func (b *deepSpeechBackend) close() error { return nil }

// writeWAV encodes mono 16-bit PCM as a WAV file for the recognizer process.
func writeWAV(file *os.File, samples []int16, rate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:   data,
	}
	enc := wav.NewEncoder(file, rate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
