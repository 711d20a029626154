// Package session runs the lifecycle of one voice interview: delayed
// connect, time budget, and the end-of-session result flow against the
// backend.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intervox/intervox/internal/observe"
)

// Defaults for the session schedule.
const (
	// DefaultConnectDelay is the pause before the voice stream connects,
	// giving the audio stack time to settle after the session resource is
	// created.
	DefaultConnectDelay = 2 * time.Second

	// DefaultBudget is the interview time budget.
	DefaultBudget = 25 * time.Minute

	// DefaultFinishTimeout bounds the whole end-of-session backend flow.
	DefaultFinishTimeout = 90 * time.Second
)

// Transport is the voice stream the controller connects and disconnects.
// Implemented by transport.Session.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
}

// Lifecycle is the backend's end-of-session surface. Implemented by
// backend.Client.
type Lifecycle interface {
	GenerateResult(ctx context.Context) error
	GenerateReferences(ctx context.Context) error
	EndSession(ctx context.Context) (string, error)
}

// Config configures a Controller.
type Config struct {
	Transport Transport
	Backend   Lifecycle

	// ConnectDelay, Budget and FinishTimeout default to the package
	// constants.
	ConnectDelay  time.Duration
	Budget        time.Duration
	FinishTimeout time.Duration

	// OnComplete receives the result session ID after a clean end flow.
	OnComplete func(sessionID string)

	// OnFallback is told when the end flow fails; the caller decides where
	// to send the user instead of the results page.
	OnFallback func(err error)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

func (c *Config) applyDefaults() {
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = DefaultFinishTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
}

// Controller owns one session's clock. Run blocks for the whole session;
// End may be called from any goroutine to finish early.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	endOnce sync.Once
	endCh   chan struct{}
}

// New creates a Controller.
func New(cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
		endCh:  make(chan struct{}),
	}
}

// End requests an early finish (the user is done before the budget runs
// out). Idempotent; safe before and during Run.
func (c *Controller) End() {
	c.endOnce.Do(func() { close(c.endCh) })
}

// Run connects the voice stream after the connect delay, then blocks until
// the budget expires, End is called, or ctx is cancelled. All three paths
// run the same end flow; only a failed connect skips it.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("session starting", "connect_delay", c.cfg.ConnectDelay, "budget", c.cfg.Budget)

	select {
	case <-time.After(c.cfg.ConnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	case <-c.endCh:
		return nil
	}

	if err := c.cfg.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	defer c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)

	budget := time.NewTimer(c.cfg.Budget)
	defer budget.Stop()

	select {
	case <-budget.C:
		c.logger.Info("time budget expired, ending session")
	case <-c.endCh:
		c.logger.Info("end requested, ending session")
	case <-ctx.Done():
		c.logger.Info("context cancelled, ending session")
	}

	c.finish()
	return nil
}

// finish disconnects the stream and walks the three-step backend flow:
// result generation, reference generation, session close. The steps run on
// a fresh context so a cancelled Run context cannot abort them; failures
// are reported once through OnFallback, never retried here.
func (c *Controller) finish() {
	if err := c.cfg.Transport.Disconnect(); err != nil {
		c.logger.Warn("disconnect error", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FinishTimeout)
	defer cancel()

	if err := c.cfg.Backend.GenerateResult(ctx); err != nil {
		c.fallback(fmt.Errorf("session: generate result: %w", err))
		return
	}
	if err := c.cfg.Backend.GenerateReferences(ctx); err != nil {
		c.fallback(fmt.Errorf("session: generate references: %w", err))
		return
	}
	id, err := c.cfg.Backend.EndSession(ctx)
	if err != nil {
		c.fallback(fmt.Errorf("session: end session: %w", err))
		return
	}

	c.logger.Info("session ended", "result_session_id", id)
	if c.cfg.OnComplete != nil {
		c.cfg.OnComplete(id)
	}
}

func (c *Controller) fallback(err error) {
	c.logger.Error("end-of-session flow failed", "err", err)
	if c.cfg.OnFallback != nil {
		c.cfg.OnFallback(err)
	}
}
