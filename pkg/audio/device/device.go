// Package device implements real microphone capture and speaker playback on
// top of malgo (miniaudio) and oto. It is the production audio backend; tests
// use pkg/audio/mock and file replay uses pkg/audio/pcmfile.
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/intervox/intervox/pkg/audio"
)

var _ audio.Source = (*Source)(nil)
var _ audio.Player = (*Player)(nil)

// Source captures mono audio from the default system microphone.
type Source struct {
	// Logger receives device lifecycle messages. Defaults to slog.Default.
	Logger *slog.Logger
}

func (s *Source) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Open initialises the capture device and starts delivering sample blocks.
// The device runs at the requested rate; miniaudio resamples internally when
// the hardware cannot.
func (s *Source) Open(_ context.Context, opts audio.CaptureOptions) (audio.Stream, error) {
	if opts.SampleRate <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("device: invalid capture options: rate %d, block %d", opts.SampleRate, opts.BlockSize)
	}

	// miniaudio exposes no echo-cancellation or gain processing knobs; the
	// flags are accepted for interface compatibility and noted in the log.
	if opts.EchoCancellation || opts.NoiseSuppression || opts.AutoGainControl {
		s.logger().Debug("capture processing flags not supported by this backend, continuing without them")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, mapDeviceErr("init context", err)
	}

	st := &stream{
		rate:   opts.SampleRate,
		blocks: make(chan []float32, 16),
		logger: s.logger(),
		mctx:   mctx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(opts.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			st.onData(pInputSamples, opts.BlockSize)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		return nil, mapDeviceErr("init device", err)
	}
	st.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, mapDeviceErr("start device", err)
	}

	s.logger().Info("microphone capture started", "rate", opts.SampleRate, "block_size", opts.BlockSize)
	return st, nil
}

// mapDeviceErr folds miniaudio failures onto the package sentinel errors so
// callers can distinguish a permission problem from a missing device.
func mapDeviceErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("device: %s: %w: %v", op, audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("device: %s: %w: %v", op, audio.ErrDeviceUnavailable, err)
}

// stream assembles the device's period-sized callbacks into fixed blocks.
type stream struct {
	rate   int
	blocks chan []float32
	logger *slog.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	pending []float32
	closed  bool
	dropped int
}

// onData runs on the miniaudio callback thread. It must not block: full
// blocks that cannot be handed off immediately are dropped and counted.
func (st *stream) onData(pcm []byte, blockSize int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}

	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		st.pending = append(st.pending, float32(s)/32768)
	}

	for len(st.pending) >= blockSize {
		block := make([]float32, blockSize)
		copy(block, st.pending[:blockSize])
		st.pending = st.pending[blockSize:]

		select {
		case st.blocks <- block:
		default:
			st.dropped++
			if st.dropped%100 == 1 {
				st.logger.Warn("capture consumer falling behind, dropping blocks", "dropped", st.dropped)
			}
		}
	}
}

func (st *stream) Blocks() <-chan []float32 { return st.blocks }

func (st *stream) SampleRate() int { return st.rate }

// Close stops the device and releases miniaudio resources. Idempotent.
func (st *stream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()

	if st.device != nil {
		st.device.Stop()
		st.device.Uninit()
	}
	if st.mctx != nil {
		st.mctx.Uninit()
	}
	close(st.blocks)
	st.logger.Info("microphone capture stopped")
	return nil
}

// Player renders segments through the default speaker via a single oto
// context. oto permits one context per process, so create one Player and
// share it.
type Player struct {
	rate   int
	otoCtx *oto.Context
}

// NewPlayer initialises the speaker at the given output rate. Segments at
// other rates are resampled before playback.
func NewPlayer(rate int) (*Player, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("device: init speaker: %w", err)
	}
	<-ready
	return &Player{rate: rate, otoCtx: otoCtx}, nil
}

// Play renders the segment to completion, or until ctx is cancelled.
func (p *Player) Play(ctx context.Context, seg audio.Segment) error {
	if len(seg.Samples) == 0 {
		return nil
	}

	samples := seg.Samples
	if seg.SampleRate > 0 && seg.SampleRate != p.rate {
		samples = audio.ResampleLinear(samples, seg.SampleRate, p.rate)
	}
	data := audio.PCM16ToBytes(audio.FloatToPCM16(samples))

	player := p.otoCtx.NewPlayer(bytes.NewReader(data))
	player.Play()
	defer player.Close()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
