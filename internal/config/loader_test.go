package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/intervox/intervox/internal/config"
)

const validYAML = `
server:
  metrics_addr: ":9091"
  log_level: info
backend:
  base_url: https://api.example.com
  bot_base_url: https://bot.example.com
  stream_path: /websocket/conversation
audio:
  input:
    adapter: device
    sample_rate: 16000
    block_size: 4096
  output:
    adapter: device
    sample_rate: 24000
vad:
  energy_threshold: 0.04
  band_threshold: 40
  silence: 1.5s
capture:
  chunk_interval: 2s
  overlap: 100ms
  target_rate: 16000
playback:
  gap: 50ms
session:
  interview_name: Backend Engineer
  connect_delay: 2s
  budget: 25m
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("backend.base_url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.StreamPath != "/websocket/conversation" {
		t.Errorf("backend.stream_path = %q", cfg.Backend.StreamPath)
	}
	if cfg.Audio.Input.Adapter != config.InputDevice {
		t.Errorf("audio.input.adapter = %q", cfg.Audio.Input.Adapter)
	}
	if cfg.VAD.Silence.Std() != 1500*time.Millisecond {
		t.Errorf("vad.silence = %s", cfg.VAD.Silence)
	}
	if cfg.Capture.Overlap.Std() != 100*time.Millisecond {
		t.Errorf("capture.overlap = %s", cfg.Capture.Overlap)
	}
	if cfg.Session.Budget.Std() != 25*time.Minute {
		t.Errorf("session.budget = %s", cfg.Session.Budget)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
backend:
  base_url: https://api.example.com
  websocket_url: wss://api.example.com
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_MissingBaseURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: info
`))
	if err == nil {
		t.Fatal("expected error for missing backend.base_url, got nil")
	}
	if !strings.Contains(err.Error(), "backend.base_url") {
		t.Errorf("error should mention backend.base_url, got: %v", err)
	}
}

func TestValidate_BadScheme(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
backend:
  base_url: ftp://api.example.com
`))
	if err == nil {
		t.Fatal("expected error for ftp scheme, got nil")
	}
	if !strings.Contains(err.Error(), "http") {
		t.Errorf("error should mention http, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: verbose
backend:
  base_url: https://api.example.com
`))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "server.log_level") {
		t.Errorf("error should mention server.log_level, got: %v", err)
	}
}

func TestValidate_FileAdapterRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
backend:
  base_url: https://api.example.com
audio:
  input:
    adapter: file
`))
	if err == nil {
		t.Fatal("expected error for file adapter without path, got nil")
	}
	if !strings.Contains(err.Error(), "audio.input.file.path") {
		t.Errorf("error should mention audio.input.file.path, got: %v", err)
	}
}

func TestValidate_EnergyThresholdRange(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
backend:
  base_url: https://api.example.com
vad:
  energy_threshold: 1.5
`))
	if err == nil {
		t.Fatal("expected error for out-of-range energy threshold, got nil")
	}
	if !strings.Contains(err.Error(), "vad.energy_threshold") {
		t.Errorf("error should mention vad.energy_threshold, got: %v", err)
	}
}

func TestValidate_OverlapShorterThanInterval(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
backend:
  base_url: https://api.example.com
capture:
  chunk_interval: 100ms
  overlap: 2s
`))
	if err == nil {
		t.Fatal("expected error for overlap >= chunk interval, got nil")
	}
	if !strings.Contains(err.Error(), "capture.overlap") {
		t.Errorf("error should mention capture.overlap, got: %v", err)
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
backend:
  stream_path: websocket
vad:
  band_threshold: 500
`))
	if err == nil {
		t.Fatal("expected joined errors, got nil")
	}
	for _, want := range []string{"server.log_level", "backend.base_url", "backend.stream_path", "vad.band_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_BadInputAdapter(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
backend:
  base_url: https://api.example.com
audio:
  input:
    adapter: microphone
`))
	if err == nil {
		t.Fatal("expected error for unknown input adapter, got nil")
	}
	if !strings.Contains(err.Error(), "audio.input.adapter") {
		t.Errorf("error should mention audio.input.adapter, got: %v", err)
	}
}
