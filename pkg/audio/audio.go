// Package audio defines the core audio types and device abstractions for the
// Intervox voice pipeline: float32 mono sample blocks captured from a
// microphone, PCM16 chunks sent to the interview backend, and synthesised
// segments played back through a speaker.
//
// All pipeline-internal audio is mono float32 in [-1, 1]. Conversion to and
// from 16-bit PCM happens only at the wire and device boundaries (see pcm.go).
package audio

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Source implementations when capture cannot
// start. The capture pipeline surfaces these to the user verbatim.
var (
	// ErrPermissionDenied indicates the microphone exists but access was
	// refused by the OS or user.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable indicates no usable capture device was found or
	// the device could not be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// Chunk is a unit of recorded speech bound for the interview backend:
// 16 kHz mono PCM16 with a monotonic per-recording index. Final marks the
// last chunk of an utterance (emitted on the silence timeout).
type Chunk struct {
	PCM16      []int16
	SampleRate int
	Index      int
	Final      bool
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.PCM16)) * time.Second / time.Duration(c.SampleRate)
}

// Segment is a unit of synthesised interviewer speech received from the
// backend, ready for playback. Text carries the transcript of the utterance
// (the current question), Length the server-reported duration.
type Segment struct {
	Samples    []float32
	SampleRate int
	Text       string
	Length     time.Duration
}

// Duration returns the playback length derived from the sample count, falling
// back to the server-reported Length when the segment carries no samples.
func (s Segment) Duration() time.Duration {
	if s.SampleRate > 0 && len(s.Samples) > 0 {
		return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
	}
	return s.Length
}

// CaptureOptions configures how a Source opens the microphone. The processing
// flags are best-effort: devices that cannot honour them still open.
type CaptureOptions struct {
	// SampleRate is the requested capture rate in Hz. Implementations may
	// deliver a different rate; Stream.SampleRate reports the actual one.
	SampleRate int

	// BlockSize is the number of samples delivered per block.
	BlockSize int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// corresponding device-side processing where the backend supports it.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Source opens microphone streams. Implementations: pkg/audio/device (malgo),
// pkg/audio/pcmfile (file replay), pkg/audio/mock (tests).
type Source interface {
	// Open starts capturing and returns a Stream delivering sample blocks.
	// Returns ErrPermissionDenied or ErrDeviceUnavailable when the device
	// cannot be acquired.
	Open(ctx context.Context, opts CaptureOptions) (Stream, error)
}

// Stream is a live capture stream. Blocks is closed when the stream ends,
// either because Close was called or the device failed.
type Stream interface {
	// Blocks returns the channel of captured mono sample blocks. Each block
	// has CaptureOptions.BlockSize samples except possibly the last.
	Blocks() <-chan []float32

	// SampleRate reports the actual capture rate in Hz.
	SampleRate() int

	// Close stops capture and releases the device. Idempotent.
	Close() error
}

// Player renders a single segment to the output device. Play blocks until the
// segment has been played to completion or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, seg Segment) error
}
