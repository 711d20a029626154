// Package playback queues synthesised interviewer speech and plays it back
// in arrival order.
//
// Segments stream in from the transport faster than they can be played, so
// the queue is unbounded and Enqueue never blocks. A single drain worker
// plays segments one at a time; it is re-armed by the next Enqueue after the
// queue empties. The conversation engine listens for the drained callback to
// hand the turn to the candidate.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/intervox/intervox/internal/observe"
	"github.com/intervox/intervox/pkg/audio"
)

// Defaults for the playback schedule.
const (
	// DefaultGap is the pause between consecutive segments.
	DefaultGap = 50 * time.Millisecond

	// watchdogMargin is subtracted from a segment's duration to build the
	// playback deadline: moving on slightly before the device reports
	// completion keeps turn-taking snappy, and a stuck device cannot stall
	// the session.
	watchdogMargin = 500 * time.Millisecond
)

// Config configures a Queue.
type Config struct {
	// Player renders individual segments.
	Player audio.Player

	// Gap is the pause between segments. Defaults to DefaultGap.
	Gap time.Duration

	// OnDrained fires exactly once each time the queue plays itself empty.
	OnDrained func()

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Queue is the unbounded playback FIFO. Safe for concurrent use.
type Queue struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    []audio.Segment
	draining bool
}

// New creates a Queue. Close releases its worker when the session ends.
func New(cfg Config) *Queue {
	if cfg.Gap <= 0 {
		cfg.Gap = DefaultGap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:     cfg,
		logger:  logger.With("component", "playback"),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Len reports the number of segments waiting (not counting one in flight).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends a segment and arms the drain worker if idle. Never blocks.
func (q *Queue) Enqueue(seg audio.Segment) {
	q.mu.Lock()
	q.items = append(q.items, seg)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	q.metrics.QueueDepth.Add(q.ctx, 1)
	q.metrics.SegmentDuration.Record(q.ctx, seg.Duration().Seconds())

	if start {
		go q.drain()
	}
}

// Close stops the queue: pending segments are discarded and the in-flight
// playback is cancelled. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	if dropped > 0 {
		q.metrics.QueueDepth.Add(context.Background(), -int64(dropped))
	}
	q.cancel()
}

// drain is the single worker. It plays until the queue is empty, fires the
// drained callback once, and exits; the next Enqueue starts a new worker.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			q.logger.Debug("queue drained")
			if q.cfg.OnDrained != nil && q.ctx.Err() == nil {
				q.cfg.OnDrained()
			}
			return
		}
		seg := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.metrics.QueueDepth.Add(q.ctx, -1)
		q.play(seg)

		select {
		case <-time.After(q.cfg.Gap):
		case <-q.ctx.Done():
		}
	}
}

// play renders one segment, bounded by the duration watchdog. Failures are
// logged and the segment is skipped; one bad segment never stalls the queue.
func (q *Queue) play(seg audio.Segment) {
	ctx := q.ctx
	var cancel context.CancelFunc
	if deadline := seg.Duration() - watchdogMargin; deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	err := q.cfg.Player.Play(ctx, seg)
	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded):
		// The watchdog firing counts as completion.
		q.metrics.SegmentsPlayed.Add(q.ctx, 1)
	case q.ctx.Err() != nil:
		// Queue closed mid-playback.
	default:
		q.logger.Error("segment playback failed, skipping", "text", seg.Text, "err", err)
		q.metrics.PlaybackFailures.Add(q.ctx, 1)
	}
}
