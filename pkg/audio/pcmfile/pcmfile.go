// Package pcmfile provides a file-replay audio Source for soak runs and
// manual testing without a microphone. It reads raw headerless PCM and
// delivers blocks paced at real time, so VAD timing behaves as it would with
// a live device.
package pcmfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/intervox/intervox/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Format selects the sample encoding of the replay file.
type Format string

const (
	// FormatFloat32LE is raw little-endian IEEE-754 float32 mono.
	FormatFloat32LE Format = "f32le"

	// FormatS16LE is raw little-endian signed 16-bit mono.
	FormatS16LE Format = "s16le"
)

// Source replays a raw PCM file as a capture stream.
type Source struct {
	// Path is the file to replay.
	Path string

	// Format is the sample encoding. Defaults to FormatFloat32LE.
	Format Format

	// Realtime paces block delivery at the capture rate. When false the
	// whole file is delivered as fast as the consumer reads.
	Realtime bool
}

// Open starts replaying the file. The stream ends when the file is exhausted
// or Close is called.
func (s *Source) Open(ctx context.Context, opts audio.CaptureOptions) (audio.Stream, error) {
	if opts.SampleRate <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("pcmfile: invalid capture options: rate %d, block %d", opts.SampleRate, opts.BlockSize)
	}
	format := s.Format
	if format == "" {
		format = FormatFloat32LE
	}
	if format != FormatFloat32LE && format != FormatS16LE {
		return nil, fmt.Errorf("pcmfile: unknown format %q", format)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("pcmfile: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	st := &stream{
		rate:   opts.SampleRate,
		blocks: make(chan []float32),
		done:   make(chan struct{}),
	}
	go st.run(ctx, f, format, opts, s.Realtime)
	return st, nil
}

type stream struct {
	rate   int
	blocks chan []float32

	closeOnce sync.Once
	done      chan struct{}
}

// run reads and delivers blocks until EOF, cancellation, or Close.
func (st *stream) run(ctx context.Context, f *os.File, format Format, opts audio.CaptureOptions, realtime bool) {
	defer close(st.blocks)
	defer f.Close()

	bytesPerSample := 4
	if format == FormatS16LE {
		bytesPerSample = 2
	}
	buf := make([]byte, opts.BlockSize*bytesPerSample)
	blockInterval := time.Duration(opts.BlockSize) * time.Second / time.Duration(opts.SampleRate)

	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(blockInterval)
		defer ticker.Stop()
	}

	for {
		n, err := io.ReadFull(f, buf)
		if n == 0 {
			return
		}

		var block []float32
		if format == FormatS16LE {
			block = audio.PCM16ToFloat(audio.BytesToPCM16(buf[:n]))
		} else {
			block = audio.DecodeFloat32LE(buf[:n])
		}

		select {
		case st.blocks <- block:
		case <-st.done:
			return
		case <-ctx.Done():
			return
		}

		if err != nil { // io.EOF or io.ErrUnexpectedEOF after a short block
			return
		}

		if realtime {
			select {
			case <-ticker.C:
			case <-st.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (st *stream) Blocks() <-chan []float32 { return st.blocks }

func (st *stream) SampleRate() int { return st.rate }

// Close stops replay. Idempotent.
func (st *stream) Close() error {
	st.closeOnce.Do(func() { close(st.done) })
	return nil
}
