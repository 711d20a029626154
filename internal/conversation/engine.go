// Package conversation holds the interview turn-taking state machine.
//
// The engine is the sole authority over the microphone and the playback
// queue: capture starts only when the interviewer has finished speaking and
// stops when the candidate's answer ends or the connection drops. All other
// components signal the engine through its Handle methods and never touch
// capture or playback state themselves.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/intervox/intervox/internal/observe"
	"github.com/intervox/intervox/pkg/audio"
)

// State is the conversation phase.
type State int

const (
	// Idle: connected (or not yet connected), nothing in flight.
	Idle State = iota

	// AiSpeaking: interviewer audio is queued or playing.
	AiSpeaking

	// ListeningUser: the microphone is live, waiting for the answer.
	ListeningUser

	// Processing: the answer's final chunk is sent; awaiting the next
	// question.
	Processing
)

// String returns the state name for logs and metrics.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AiSpeaking:
		return "ai_speaking"
	case ListeningUser:
		return "listening_user"
	case Processing:
		return "processing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Recorder is the capture side the engine controls. Implemented by
// capture.Pipeline.
type Recorder interface {
	Start(ctx context.Context) error
	Stop()
	Recording() bool
}

// Speaker is the playback side the engine controls. Implemented by
// playback.Queue.
type Speaker interface {
	Enqueue(seg audio.Segment)
}

// Config configures an Engine.
type Config struct {
	// Recorder and Speaker are the controlled endpoints.
	Recorder Recorder
	Speaker  Speaker

	// OnState observes every transition. Optional.
	OnState func(from, to State)

	// OnQuestion receives the transcript of each inbound segment with
	// non-empty text (the current interviewer question). Optional.
	OnQuestion func(text string)

	// OnCaptureError is told when the microphone cannot start; the session
	// keeps running so the user can retry or bail out. Optional.
	OnCaptureError func(err error)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Engine drives the state machine. Handle methods are safe for concurrent
// use; they are called from transport, playback and capture goroutines.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
}

// New creates an Engine in the Idle state.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "conversation"),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State reports the current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close stops the engine's capture authority. Called at session teardown.
func (e *Engine) Close() {
	e.cancel()
	e.cfg.Recorder.Stop()
}

// transition moves to the target state and notifies observers. A no-op when
// already there.
func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	if from == to {
		e.mu.Unlock()
		return
	}
	e.state = to
	e.mu.Unlock()

	e.logger.Info("state change", "from", from.String(), "to", to.String())
	e.metrics.RecordStateTransition(e.ctx, from.String(), to.String())
	if e.cfg.OnState != nil {
		e.cfg.OnState(from, to)
	}
}

// HandleConnected resets to Idle after the transport (re)connects.
func (e *Engine) HandleConnected() {
	e.transition(Idle)
}

// HandleSegment reacts to an inbound interviewer segment: the transcript is
// surfaced, the segment queued, and the machine enters AiSpeaking. A segment
// arriving while the microphone is live ends that recording first; the
// interviewer has taken the turn back.
func (e *Engine) HandleSegment(seg audio.Segment) {
	if seg.Text != "" && e.cfg.OnQuestion != nil {
		e.cfg.OnQuestion(seg.Text)
	}
	if e.cfg.Recorder.Recording() {
		e.cfg.Recorder.Stop()
	}
	e.cfg.Speaker.Enqueue(seg)
	e.transition(AiSpeaking)
}

// HandleDrained reacts to the playback queue emptying: if the interviewer
// was speaking, the turn passes to the candidate and capture starts. This is
// the only place capture is ever started, so recording can never begin while
// the interviewer is speaking or an answer is processing.
func (e *Engine) HandleDrained() {
	e.mu.Lock()
	speaking := e.state == AiSpeaking
	e.mu.Unlock()
	if !speaking {
		return
	}

	e.transition(ListeningUser)
	if err := e.cfg.Recorder.Start(e.ctx); err != nil {
		e.logger.Error("cannot start capture", "err", err)
		if e.cfg.OnCaptureError != nil {
			e.cfg.OnCaptureError(err)
		}
	}
}

// HandleRecordingFinished reacts to the silence timeout: the final chunk is
// out and the answer is now the backend's problem.
func (e *Engine) HandleRecordingFinished() {
	e.transition(Processing)
}

// HandleDisconnected reacts to an unexpected transport drop: capture is
// released immediately and the machine resets to Idle for a reconnect.
func (e *Engine) HandleDisconnected(reason string) {
	e.logger.Warn("connection lost, resetting", "reason", reason)
	e.cfg.Recorder.Stop()
	e.transition(Idle)
}
