// Package mock provides scripted audio sources and recording players for
// tests. Streams are fed manually so tests control block pacing exactly.
package mock

import (
	"context"
	"sync"

	"github.com/intervox/intervox/pkg/audio"
)

// Compile-time interface assertions.
var _ audio.Source = (*Source)(nil)
var _ audio.Stream = (*Stream)(nil)
var _ audio.Player = (*Player)(nil)

// Source hands out manually fed Streams. The zero value is usable.
type Source struct {
	// Err, when non-nil, is returned by Open instead of a stream.
	Err error

	// Rate overrides the sample rate reported by opened streams. When 0 the
	// requested CaptureOptions.SampleRate is reported back.
	Rate int

	mu      sync.Mutex
	streams []*Stream
}

// Open returns a new Stream, or Err if set.
func (s *Source) Open(_ context.Context, opts audio.CaptureOptions) (audio.Stream, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	rate := s.Rate
	if rate == 0 {
		rate = opts.SampleRate
	}
	st := &Stream{
		rate: rate,
		ch:   make(chan []float32, 64),
	}
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

// OpenCount reports how many streams have been opened.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// LastStream returns the most recently opened Stream, or nil.
func (s *Source) LastStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}

// Stream is a capture stream whose blocks are pushed by the test.
type Stream struct {
	rate int

	mu     sync.Mutex
	ch     chan []float32
	closed bool
}

// Feed delivers one block to the consumer. Reports false when the stream has
// been closed.
func (st *Stream) Feed(block []float32) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return false
	}
	st.ch <- block
	return true
}

// Blocks returns the block channel. Closed by Close.
func (st *Stream) Blocks() <-chan []float32 { return st.ch }

// SampleRate reports the configured rate.
func (st *Stream) SampleRate() int { return st.rate }

// Close ends the stream. Idempotent.
func (st *Stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.closed {
		st.closed = true
		close(st.ch)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (st *Stream) IsClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// Player records every segment it is asked to play.
type Player struct {
	// PlayErr, when non-nil, is consulted per segment; a non-nil return is
	// surfaced as the playback error for that segment.
	PlayErr func(seg audio.Segment) error

	// BeforeReturn, when non-nil, runs while Play is in flight. Tests use it
	// to assert in-progress state or to block playback until released.
	BeforeReturn func(ctx context.Context, seg audio.Segment)

	mu     sync.Mutex
	played []audio.Segment
}

// Play records the segment and returns immediately unless hooks intervene.
func (p *Player) Play(ctx context.Context, seg audio.Segment) error {
	if p.BeforeReturn != nil {
		p.BeforeReturn(ctx, seg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.PlayErr != nil {
		if err := p.PlayErr(seg); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.played = append(p.played, seg)
	p.mu.Unlock()
	return nil
}

// Played returns a copy of the segments played so far, in order.
func (p *Player) Played() []audio.Segment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Segment, len(p.played))
	copy(out, p.played)
	return out
}
