// Package capture owns the microphone side of an interview turn: it opens
// the configured audio source, buffers sample blocks, drives voice activity
// detection, and emits PCM16 chunks to the transport on a fixed cadence.
//
// A Pipeline is restartable: the conversation engine starts it when the
// interviewer stops speaking and it stops itself when the candidate's answer
// trails off into silence.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intervox/intervox/internal/observe"
	"github.com/intervox/intervox/pkg/audio"
	"github.com/intervox/intervox/pkg/vad"
)

// Defaults for the recording schedule.
const (
	DefaultSampleRate    = 16000
	DefaultBlockSize     = 4096
	DefaultWindowSize    = 2048
	DefaultSmoothing     = 0.8
	DefaultChunkInterval = 2 * time.Second
	DefaultOverlap       = 100 * time.Millisecond
)

// Sink receives emitted chunks. Implemented by the transport session; a
// not-connected error causes the chunk to be dropped with a logged error,
// never retried.
type Sink interface {
	SendChunk(chunk audio.Chunk) error
}

// Config configures a Pipeline.
type Config struct {
	// Source provides microphone streams.
	Source audio.Source

	// Sink receives emitted chunks.
	Sink Sink

	// VAD tunes the voice activity detector. The zero value selects the
	// package defaults; Now below is also injected as the VAD clock when
	// VAD.Now is unset.
	VAD vad.Config

	// SampleRate is the capture rate requested from the source.
	SampleRate int

	// BlockSize is the per-block sample count requested from the source.
	BlockSize int

	// TargetRate is the wire sample rate chunks are decimated to.
	// Defaults to 16 kHz.
	TargetRate int

	// WindowSize and Smoothing configure the spectrum analyser.
	WindowSize int
	Smoothing  float64

	// ChunkInterval is the non-final emission cadence: a chunk goes out
	// when this much wall time has passed since the last emission, or when
	// this much audio has accumulated, whichever comes first.
	ChunkInterval time.Duration

	// Overlap is how much trailing audio is retained after a non-final
	// emission so word boundaries are not clipped between chunks.
	Overlap time.Duration

	// OnFinished fires after the final chunk has been emitted and capture
	// has stopped on a silence timeout.
	OnFinished func()

	// Now is the clock for the emission schedule; defaults to time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.TargetRate <= 0 {
		c.TargetRate = DefaultSampleRate
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.Smoothing == 0 {
		c.Smoothing = DefaultSmoothing
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	if c.Overlap <= 0 {
		c.Overlap = DefaultOverlap
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.VAD.Now == nil {
		c.VAD.Now = c.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Pipeline records one answer at a time. Start and Stop may be called from
// any goroutine; block processing happens on a single owner goroutine per
// recording.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	recording bool
	stream    audio.Stream
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "capture"),
	}
}

// Recording reports whether a recording is in progress.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// Start opens the source and begins recording. A no-op when already
// recording. Open failures are returned to the caller; the source maps them
// to audio.ErrPermissionDenied / audio.ErrDeviceUnavailable.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.recording {
		p.mu.Unlock()
		p.logger.Debug("already recording, ignoring start")
		return nil
	}
	p.mu.Unlock()

	analyzer, err := audio.NewAnalyzer(p.cfg.WindowSize, p.cfg.Smoothing)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	detector := vad.New(p.cfg.VAD)

	stream, err := p.cfg.Source.Open(ctx, audio.CaptureOptions{
		SampleRate:       p.cfg.SampleRate,
		BlockSize:        p.cfg.BlockSize,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		return fmt.Errorf("capture: open source: %w", err)
	}

	p.mu.Lock()
	if p.recording {
		// Lost the race with a concurrent Start.
		p.mu.Unlock()
		stream.Close()
		return nil
	}
	p.recording = true
	p.stream = stream
	p.mu.Unlock()

	p.logger.Info("recording started", "rate", stream.SampleRate(), "block_size", p.cfg.BlockSize)
	go p.run(stream, analyzer, detector)
	return nil
}

// Stop ends the recording without a final chunk. Idempotent; callable from
// any goroutine, including error paths and the disconnect handler.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.recording {
		p.mu.Unlock()
		return
	}
	p.recording = false
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	p.logger.Info("recording stopped")
}

// run is the single owner goroutine for one recording. It exits when the
// stream's block channel closes (after Stop) or on silence timeout.
func (p *Pipeline) run(stream audio.Stream, analyzer *audio.Analyzer, detector *vad.Detector) {
	rate := stream.SampleRate()
	if rate <= 0 {
		rate = p.cfg.SampleRate
	}
	overlapSamples := int(int64(p.cfg.Overlap) * int64(rate) / int64(time.Second))
	intervalSamples := int(int64(p.cfg.ChunkInterval) * int64(rate) / int64(time.Second))

	var (
		buf         [][]float32
		accumulated int
		chunkIndex  int
		mags        []float64
	)
	lastEmit := p.cfg.Now()

	emit := func(final bool) {
		samples := flatten(buf, accumulated)
		if len(samples) == 0 {
			return
		}
		out := audio.Decimate(samples, rate, p.cfg.TargetRate)
		chunk := audio.Chunk{
			PCM16:      audio.FloatToPCM16(out),
			SampleRate: p.cfg.TargetRate,
			Index:      chunkIndex,
			Final:      final,
		}
		chunkIndex++

		if err := p.cfg.Sink.SendChunk(chunk); err != nil {
			p.logger.Error("dropping chunk", "index", chunk.Index, "final", final, "err", err)
			p.cfg.Metrics.ChunksDropped.Add(context.Background(), 1)
		} else {
			p.cfg.Metrics.RecordChunk(context.Background(), chunk.Duration().Seconds(), final)
			p.logger.Debug("chunk sent", "index", chunk.Index, "samples", len(out), "final", final)
		}

		if final {
			buf = nil
			accumulated = 0
			return
		}
		buf, accumulated = trimToTail(buf, overlapSamples)
	}

	for block := range stream.Blocks() {
		buf = append(buf, block)
		accumulated += len(block)

		analyzer.Push(block)
		mags = analyzer.ByteMagnitudes(mags)

		for _, ev := range detector.Process(block, mags) {
			p.logger.Debug("vad event", "type", ev.Type.String(), "rms", ev.RMS, "band_mean", ev.BandMean)
			if ev.Type == vad.SilenceTimeout {
				emit(true)
				p.Stop()
				if p.cfg.OnFinished != nil {
					p.cfg.OnFinished()
				}
				return
			}
		}

		now := p.cfg.Now()
		if now.Sub(lastEmit) >= p.cfg.ChunkInterval || accumulated >= intervalSamples {
			emit(false)
			lastEmit = now
		}
	}
}

// flatten concatenates buffered blocks into one slice of the given total.
func flatten(buf [][]float32, total int) []float32 {
	out := make([]float32, 0, total)
	for _, b := range buf {
		out = append(out, b...)
	}
	return out
}

// trimToTail drops leading audio until at most keep samples remain, slicing
// into the oldest retained block if needed. Returns the new buffer and its
// sample count.
func trimToTail(buf [][]float32, keep int) ([][]float32, int) {
	if keep <= 0 {
		return nil, 0
	}
	total := 0
	cut := len(buf)
	for i := len(buf) - 1; i >= 0; i-- {
		total += len(buf[i])
		cut = i
		if total >= keep {
			break
		}
	}
	kept := buf[cut:]
	if total > keep {
		// Trim the head of the oldest kept block to exactly keep samples.
		excess := total - keep
		head := kept[0][excess:]
		out := make([][]float32, 0, len(kept))
		out = append(out, head)
		out = append(out, kept[1:]...)
		return out, keep
	}
	out := make([][]float32, len(kept))
	copy(out, kept)
	return out, total
}
