package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/earshotlabs/earshot/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: verbose
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidDevice(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  device: cassette
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid device, got nil")
	}
	if !strings.Contains(err.Error(), "audio.device") {
		t.Errorf("error should mention audio.device, got: %v", err)
	}
}

func TestValidate_ChannelsOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  channels: 6
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for 6-channel capture, got nil")
	}
	if !strings.Contains(err.Error(), "audio.channels") {
		t.Errorf("error should mention audio.channels, got: %v", err)
	}
}

func TestValidate_FrameTooLong(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  frame_ms: 5000
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a 5 s frame, got nil")
	}
	if !strings.Contains(err.Error(), "frame_ms") {
		t.Errorf("error should mention frame_ms, got: %v", err)
	}
}

func TestValidate_ReductionLevelOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
suppressor:
  reduction_level: 1.5
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for reduction_level > 1, got nil")
	}
	if !strings.Contains(err.Error(), "reduction_level") {
		t.Errorf("error should mention reduction_level, got: %v", err)
	}
}

func TestValidate_WindowTooSmall(t *testing.T) {
	t.Parallel()
	yaml := `
suppressor:
  window_size: 32
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a 32-sample window, got nil")
	}
	if !strings.Contains(err.Error(), "window_size") {
		t.Errorf("error should mention window_size, got: %v", err)
	}
}

func TestValidate_WhisperRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for whisper without model_path, got nil")
	}
	if !strings.Contains(err.Error(), "engine.model_path") {
		t.Errorf("error should mention engine.model_path, got: %v", err)
	}
}

func TestValidate_VoskRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  name: vosk
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for vosk without model_path, got nil")
	}
	if !strings.Contains(err.Error(), "vosk") {
		t.Errorf("error should mention vosk, got: %v", err)
	}
}

func TestValidate_DeepSpeechRequiresCommand(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  name: deepspeech
  model_path: /models/output_graph.tflite
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for deepspeech without command, got nil")
	}
	if !strings.Contains(err.Error(), "engine.command") {
		t.Errorf("error should mention engine.command, got: %v", err)
	}
}

func TestValidate_PhoneticThresholdOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
keywords:
  phonetic_threshold: 1.2
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for phonetic_threshold > 1, got nil")
	}
	if !strings.Contains(err.Error(), "phonetic_threshold") {
		t.Errorf("error should mention phonetic_threshold, got: %v", err)
	}
}

func TestValidate_CompanionURLScheme(t *testing.T) {
	t.Parallel()
	yaml := `
sync:
  companion_url: https://companion.example.com/sync
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket companion URL, got nil")
	}
	if !strings.Contains(err.Error(), "companion_url") {
		t.Errorf("error should mention companion_url, got: %v", err)
	}
}

func TestValidate_NegativeInterval(t *testing.T) {
	t.Parallel()
	yaml := `
loops:
  persist_ms: -1
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a negative interval, got nil")
	}
	if !strings.Contains(err.Error(), "persist_ms") {
		t.Errorf("error should mention persist_ms, got: %v", err)
	}
}

func TestValidate_HysteresisOrdering(t *testing.T) {
	t.Parallel()
	yaml := `
power:
  low_enter: 0.5
  low_exit: 0.3
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for low_enter above low_exit, got nil")
	}
	if !strings.Contains(err.Error(), "low_enter") {
		t.Errorf("error should mention low_enter, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: verbose
audio:
  device: cassette
engine:
  model_path: /models/ggml-base.en.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "audio.device") {
		t.Errorf("error should mention audio.device, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/earshot.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestValidEngineNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidEngineNames) == 0 {
		t.Fatal("ValidEngineNames should not be empty")
	}
	if !slices.Contains(config.ValidEngineNames, "whisper") {
		t.Error(`ValidEngineNames should contain "whisper"`)
	}
}
