// Package transport implements the WebSocket conversation channel to the
// interview backend.
//
// The wire protocol is a JSON event envelope in both directions. Outbound,
// recorded audio travels as input_audio events carrying PCM16 sample arrays;
// inbound, synthesised interviewer speech arrives as output_audio events
// carrying base64-encoded float32 samples plus the utterance transcript.
// Connection lifecycle is surfaced through handler callbacks so the
// conversation engine can react to connects and drops without polling.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/intervox/intervox/internal/observe"
	"github.com/intervox/intervox/pkg/audio"
)

// ErrNotConnected is returned by SendChunk when no connection is established.
// Chunks that hit this error are dropped by the caller, never retried.
var ErrNotConnected = errors.New("transport: not connected")

// Defaults for the dial retry schedule.
const (
	DefaultDialAttempts = 5
	DefaultRetryDelay   = time.Second
)

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handlers receives connection lifecycle and inbound traffic callbacks. All
// callbacks are invoked from the session's goroutines; handlers must not
// block for long. Nil handlers are skipped.
type Handlers struct {
	// OnConnected fires after a successful dial.
	OnConnected func()

	// OnDisconnected fires when an established connection is lost for any
	// reason other than an explicit Disconnect call.
	OnDisconnected func(reason string)

	// OnSegment fires for each inbound output_audio event.
	OnSegment func(seg audio.Segment)

	// OnError fires for inbound error events from the server.
	OnError func(err error)
}

// Config configures a Session.
type Config struct {
	// URL is the full WebSocket endpoint, e.g.
	// "ws://localhost:7576/websocket/conversation".
	URL string

	// Header carries additional headers for the dial request (session
	// cookies for authentication).
	Header http.Header

	// DialAttempts bounds how many dials one Connect call makes before
	// giving up. Defaults to DefaultDialAttempts.
	DialAttempts int

	// RetryDelay is the fixed pause between failed dial attempts.
	// Defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// Handlers receives lifecycle and traffic callbacks.
	Handlers Handlers

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Session is a WebSocket conversation channel. A Session survives its
// connection: after a drop, Connect may be called again.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	// mu guards state and conn, and orders writes so chunks are delivered
	// in emission order.
	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	connCtx    context.Context
	connCancel context.CancelFunc
}

// New creates a Session. No connection is made until Connect.
func New(cfg Config) *Session {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger.With("component", "transport"),
		metrics: metrics,
	}
}

// State reports the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the conversation channel. A no-op when already
// connected or when a Connect is in flight. It dials up to DialAttempts
// times with a fixed RetryDelay between attempts, and returns the last dial
// error when all attempts fail.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.DialAttempts; attempt++ {
		conn, _, err := websocket.Dial(ctx, s.cfg.URL, &websocket.DialOptions{
			HTTPHeader: s.cfg.Header,
		})
		s.metrics.RecordConnectAttempt(ctx, err)
		if err == nil {
			s.attach(conn)
			s.logger.Info("connected", "url", s.cfg.URL, "attempt", attempt)
			if s.cfg.Handlers.OnConnected != nil {
				s.cfg.Handlers.OnConnected()
			}
			return nil
		}

		lastErr = err
		s.logger.Warn("dial failed", "attempt", attempt, "max_attempts", s.cfg.DialAttempts, "err", err)

		if attempt == s.cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			s.setState(Disconnected)
			return fmt.Errorf("transport: connect: %w", ctx.Err())
		case <-time.After(s.cfg.RetryDelay):
		}
	}

	s.setState(Disconnected)
	return fmt.Errorf("transport: connect after %d attempts: %w", s.cfg.DialAttempts, lastErr)
}

// attach installs a freshly dialled connection and starts its receive loop.
func (s *Session) attach(conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.connCtx = connCtx
	s.connCancel = cancel
	s.state = Connected
	s.mu.Unlock()

	go s.receiveLoop(connCtx, conn)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SendChunk delivers one recorded chunk. Returns ErrNotConnected when no
// connection is up; writes are serialised under the session mutex so chunk
// order on the wire matches emission order.
func (s *Session) SendChunk(chunk audio.Chunk) error {
	env, err := marshalInputAudio(chunk)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.Write(s.connCtx, websocket.MessageText, env); err != nil {
		return fmt.Errorf("transport: write chunk %d: %w", chunk.Index, err)
	}
	return nil
}

// Disconnect closes the channel deliberately. Idempotent. OnDisconnected is
// not fired for explicit disconnects; only unexpected drops notify.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.connCancel
	s.conn = nil
	s.connCancel = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	// Close errors on an already-failed connection carry no information.
	_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	s.logger.Info("disconnected")
	return nil
}

// receiveLoop reads and dispatches inbound events until the connection drops.
func (s *Session) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleDrop(conn, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("discarding malformed event", "err", err)
			continue
		}
		s.dispatch(&env)
	}
}

// handleDrop tears down connection state after a read failure, unless the
// connection was already replaced or deliberately closed.
func (s *Session) handleDrop(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Explicit Disconnect (or a newer connection) already owns state.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	cancel := s.connCancel
	s.connCancel = nil
	s.state = Disconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	reason := err.Error()
	if status := websocket.CloseStatus(err); status != -1 {
		reason = fmt.Sprintf("server close (status %d)", status)
	}
	s.logger.Warn("connection lost", "reason", reason)
	if s.cfg.Handlers.OnDisconnected != nil {
		s.cfg.Handlers.OnDisconnected(reason)
	}
}

// dispatch routes one inbound event to its handler.
func (s *Session) dispatch(env *envelope) {
	switch env.Event {
	case "output_audio":
		var p outputAudioPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.logger.Warn("discarding malformed output_audio event", "err", err)
			return
		}
		seg, err := p.segment()
		if err != nil {
			s.logger.Warn("discarding undecodable output_audio event", "err", err)
			return
		}
		if s.cfg.Handlers.OnSegment != nil {
			s.cfg.Handlers.OnSegment(seg)
		}

	case "error":
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Message == "" {
			p.Message = "unknown server error"
		}
		s.logger.Error("server error event", "message", p.Message)
		if s.cfg.Handlers.OnError != nil {
			s.cfg.Handlers.OnError(fmt.Errorf("transport: server error: %s", p.Message))
		}

	default:
		s.logger.Debug("ignoring unknown event", "event", env.Event)
	}
}

// ── Wire format ───────────────────────────────────────────────────────────────

// envelope is the event wrapper used in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// inputAudioPayload is the outbound chunk format.
type inputAudioPayload struct {
	AudioBuffer []int16 `json:"audio_buffer"`
	IsFinal     bool    `json:"isFinal"`
	SampleRate  int     `json:"sample_rate"`
	ChunkIndex  int     `json:"chunk_index"`
}

// outputAudioPayload is the inbound synthesised speech format. AudioArray is
// base64-encoded little-endian float32 samples; Length is the utterance
// duration in seconds.
type outputAudioPayload struct {
	SampleRate int     `json:"sr"`
	AudioArray string  `json:"audio_array"`
	Text       string  `json:"text"`
	Length     float64 `json:"length"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// marshalInputAudio builds the full outbound event for one chunk.
func marshalInputAudio(chunk audio.Chunk) ([]byte, error) {
	data, err := json.Marshal(inputAudioPayload{
		AudioBuffer: chunk.PCM16,
		IsFinal:     chunk.Final,
		SampleRate:  chunk.SampleRate,
		ChunkIndex:  chunk.Index,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal chunk %d: %w", chunk.Index, err)
	}
	env, err := json.Marshal(envelope{Event: "input_audio", Data: data})
	if err != nil {
		return nil, fmt.Errorf("transport: marshal envelope: %w", err)
	}
	return env, nil
}

// segment decodes the payload into a playable audio.Segment.
func (p *outputAudioPayload) segment() (audio.Segment, error) {
	raw, err := base64.StdEncoding.DecodeString(p.AudioArray)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("transport: decode audio_array: %w", err)
	}
	return audio.Segment{
		Samples:    audio.DecodeFloat32LE(raw),
		SampleRate: p.SampleRate,
		Text:       p.Text,
		Length:     time.Duration(p.Length * float64(time.Second)),
	}, nil
}
