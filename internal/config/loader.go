package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if err := validateURL(cfg.Backend.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	if cfg.Backend.BotBaseURL != "" {
		if err := validateURL(cfg.Backend.BotBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("backend.bot_base_url: %w", err))
		}
	} else if cfg.Backend.BaseURL != "" {
		slog.Warn("backend.bot_base_url is empty; session lifecycle calls will go to backend.base_url")
	}
	if cfg.Backend.StreamPath != "" && !strings.HasPrefix(cfg.Backend.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("backend.stream_path %q must start with /", cfg.Backend.StreamPath))
	}

	// Audio input
	in := cfg.Audio.Input
	if in.Adapter != "" && !in.Adapter.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input.adapter %q is invalid; valid values: device, file", in.Adapter))
	}
	if in.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input.sample_rate %d must not be negative", in.SampleRate))
	}
	if in.SampleRate > 0 && in.SampleRate < 8000 {
		slog.Warn("audio.input.sample_rate is unusually low for speech", "sample_rate", in.SampleRate)
	}
	if in.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.input.block_size %d must not be negative", in.BlockSize))
	}
	if in.Adapter == InputFile {
		if in.File.Path == "" {
			errs = append(errs, errors.New("audio.input.file.path is required when adapter is file"))
		}
		if in.File.Format != "" && !in.File.Format.IsValid() {
			errs = append(errs, fmt.Errorf("audio.input.file.format %q is invalid; valid values: f32le, s16le", in.File.Format))
		}
	}

	// Audio output
	out := cfg.Audio.Output
	if out.Adapter != "" && !out.Adapter.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output.adapter %q is invalid; valid values: device, discard", out.Adapter))
	}
	if out.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output.sample_rate %d must not be negative", out.SampleRate))
	}

	// VAD
	if cfg.VAD.EnergyThreshold < 0 || cfg.VAD.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.3f is out of range [0, 1)", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.BandThreshold < 0 || cfg.VAD.BandThreshold > 255 {
		errs = append(errs, fmt.Errorf("vad.band_threshold %.1f is out of range [0, 255]", cfg.VAD.BandThreshold))
	}
	if cfg.VAD.Silence < 0 {
		errs = append(errs, fmt.Errorf("vad.silence %s must not be negative", cfg.VAD.Silence))
	}

	// Capture
	if cfg.Capture.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_interval %s must not be negative", cfg.Capture.ChunkInterval))
	}
	if cfg.Capture.Overlap < 0 {
		errs = append(errs, fmt.Errorf("capture.overlap %s must not be negative", cfg.Capture.Overlap))
	}
	if cfg.Capture.Overlap > 0 && cfg.Capture.ChunkInterval > 0 && cfg.Capture.Overlap >= cfg.Capture.ChunkInterval {
		errs = append(errs, fmt.Errorf("capture.overlap %s must be shorter than capture.chunk_interval %s", cfg.Capture.Overlap, cfg.Capture.ChunkInterval))
	}
	if cfg.Capture.TargetRate < 0 {
		errs = append(errs, fmt.Errorf("capture.target_rate %d must not be negative", cfg.Capture.TargetRate))
	}

	// Playback
	if cfg.Playback.Gap < 0 {
		errs = append(errs, fmt.Errorf("playback.gap %s must not be negative", cfg.Playback.Gap))
	}

	// Session
	if cfg.Session.InterviewName == "" {
		slog.Warn("session.interview_name is empty; the backend will label the session itself")
	}
	if cfg.Session.ConnectDelay < 0 {
		errs = append(errs, fmt.Errorf("session.connect_delay %s must not be negative", cfg.Session.ConnectDelay))
	}
	if cfg.Session.Budget < 0 {
		errs = append(errs, fmt.Errorf("session.budget %s must not be negative", cfg.Session.Budget))
	}

	return errors.Join(errs...)
}

// validateURL checks that s parses as an absolute http or https URL.
func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%q is not a valid URL: %w", s, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", s)
	}
	if u.Host == "" {
		return fmt.Errorf("%q is missing a host", s)
	}
	return nil
}
