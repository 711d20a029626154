// Package config provides the configuration schema and loader for the
// Intervox voice interview client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written in the usual
// Go notation ("1.5s", "100ms", "25m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"1.5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String formats like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity for the client.
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

// InputAdapter selects where microphone audio comes from.
type InputAdapter string

const (
	// InputDevice captures from the default system microphone.
	InputDevice InputAdapter = "device"

	// InputFile replays a raw PCM file in real time, for soak runs and
	// demos without a microphone.
	InputFile InputAdapter = "file"
)

// IsValid reports whether a is a recognised input adapter.
func (a InputAdapter) IsValid() bool {
	return a == InputDevice || a == InputFile
}

// OutputAdapter selects where interviewer audio goes.
type OutputAdapter string

const (
	// OutputDevice plays through the default system speaker.
	OutputDevice OutputAdapter = "device"

	// OutputDiscard drops audio after pacing, for headless runs.
	OutputDiscard OutputAdapter = "discard"
)

// IsValid reports whether a is a recognised output adapter.
func (a OutputAdapter) IsValid() bool {
	return a == OutputDevice || a == OutputDiscard
}

// FileFormat is the sample encoding of a replay file.
type FileFormat string

const (
	FormatFloat32LE FileFormat = "f32le"
	FormatInt16LE   FileFormat = "s16le"
)

// IsValid reports whether f is a recognised file format.
func (f FileFormat) IsValid() bool {
	return f == FormatFloat32LE || f == FormatInt16LE
}

// Config is the root configuration structure for Intervox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds logging and local observability settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the metrics/health endpoint listens on
	// (e.g., ":9091"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig locates the interview platform.
type BackendConfig struct {
	// BaseURL is the main backend serving user and result reads
	// (e.g., "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	// BotBaseURL is the bot backend owning session lifecycle and the voice
	// stream. Defaults to BaseURL.
	BotBaseURL string `yaml:"bot_base_url"`

	// StreamPath is the WebSocket path of the conversation stream.
	StreamPath string `yaml:"stream_path"`
}

// AudioConfig selects and tunes the audio adapters.
type AudioConfig struct {
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
}

// InputConfig configures the microphone side.
type InputConfig struct {
	// Adapter selects the source implementation.
	Adapter InputAdapter `yaml:"adapter"`

	// SampleRate is the capture rate in Hz requested from the adapter.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the per-callback sample count.
	BlockSize int `yaml:"block_size"`

	// File configures the replay source when Adapter is "file".
	File FileInputConfig `yaml:"file"`
}

// FileInputConfig locates a raw PCM replay file.
type FileInputConfig struct {
	// Path is the raw PCM file to replay.
	Path string `yaml:"path"`

	// Format is the sample encoding. Defaults to f32le.
	Format FileFormat `yaml:"format"`

	// Realtime paces the replay at the sample rate instead of reading as
	// fast as possible.
	Realtime bool `yaml:"realtime"`
}

// OutputConfig configures the speaker side.
type OutputConfig struct {
	// Adapter selects the player implementation.
	Adapter OutputAdapter `yaml:"adapter"`

	// SampleRate is the playback device rate in Hz.
	SampleRate int `yaml:"sample_rate"`
}

// VADConfig tunes the voice activity detector. Zero values select the
// built-in defaults.
type VADConfig struct {
	// EnergyThreshold is the RMS level above which a block may count as
	// voiced, in the range (0, 1).
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// BandThreshold is the mean spectral byte magnitude (0-255) the speech
	// band must exceed for a block to count as voiced.
	BandThreshold float64 `yaml:"band_threshold"`

	// Silence is how long silence must persist after speech before the
	// recording ends.
	Silence Duration `yaml:"silence"`
}

// CaptureConfig tunes the chunk emission schedule.
type CaptureConfig struct {
	// ChunkInterval is the non-final emission cadence.
	ChunkInterval Duration `yaml:"chunk_interval"`

	// Overlap is the trailing audio retained between consecutive chunks.
	Overlap Duration `yaml:"overlap"`

	// TargetRate is the wire sample rate chunks are decimated to.
	TargetRate int `yaml:"target_rate"`
}

// PlaybackConfig tunes the segment queue.
type PlaybackConfig struct {
	// Gap is the pause between consecutive segments.
	Gap Duration `yaml:"gap"`
}

// SessionConfig names the interview and sets its clock.
type SessionConfig struct {
	// InterviewName labels the session on the backend.
	InterviewName string `yaml:"interview_name"`

	// ConnectDelay is the pause before the voice stream connects.
	ConnectDelay Duration `yaml:"connect_delay"`

	// Budget is the interview time budget.
	Budget Duration `yaml:"budget"`
}
