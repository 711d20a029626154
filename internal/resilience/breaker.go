// Package resilience provides a three-state circuit breaker
// (closed → open → half-open) used to shield periodic backend probes from a
// dead or struggling platform: once the backend fails repeatedly, callers
// fail fast instead of stacking up slow requests.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] when the breaker is open and the
// cool-down has not yet elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed: normal operation, calls go through.
	Closed State = iota

	// Open: the breaker tripped; calls fail fast with [ErrOpen] until the
	// cool-down elapses.
	Open

	// HalfOpen: probing; a bounded number of calls are allowed through to
	// decide whether to close or re-open.
	HalfOpen
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a [Breaker]. Zero values select the defaults.
type Config struct {
	// Name labels the breaker in log messages.
	Name string

	// Threshold is the consecutive failure count that trips the breaker.
	// Default: 3.
	Threshold int

	// CoolDown is how long the breaker stays open before probing again.
	// Default: 30s.
	CoolDown time.Duration

	// ProbeBudget is how many calls the half-open state admits before the
	// breaker decides. Default: 2.
	ProbeBudget int

	// Now is the clock, injectable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Breaker is the circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	trippedAt   time.Time
	probeCalls  int
	probeFails  int
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn if the breaker allows it. While open it returns [ErrOpen]
// without calling fn; in half-open a bounded number of probes go through.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.trippedAt) < b.cfg.CoolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("circuit breaker probing", "name", b.cfg.Name)

	case HalfOpen:
		if b.probeCalls >= b.cfg.ProbeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.trippedAt = b.cfg.Now()

	if probing {
		// Any probe failure re-opens immediately.
		b.probeFails++
		b.state = Open
		b.failures = b.cfg.Threshold
		slog.Warn("circuit breaker re-opened", "name", b.cfg.Name)
		return
	}

	b.failures++
	if b.failures >= b.cfg.Threshold && b.state == Closed {
		b.state = Open
		slog.Warn("circuit breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.cfg.ProbeBudget {
			b.state = Closed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.cfg.Name)
		}
		return
	}
	b.failures = 0
}

// State reports the current mode. An open breaker whose cool-down has
// elapsed reports half-open; the transition itself happens on the next
// Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cfg.Now().Sub(b.trippedAt) >= b.cfg.CoolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
