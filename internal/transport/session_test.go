package transport_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/intervox/intervox/internal/transport"
	"github.com/intervox/intervox/pkg/audio"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readEvent reads one text frame and decodes the event envelope.
func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("readEvent unmarshal: %v", err)
	}
	return env.Event, env.Data
}

// writeEvent sends one event envelope as a text frame.
func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	payload, _ := json.Marshal(data)
	frame, _ := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(payload)})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Logf("writeEvent: %v (may be expected on close)", err)
	}
}

func TestConnectIsNoOpWhenConnected(t *testing.T) {
	var accepts atomic.Int32
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		accepts.Add(1)
		<-conn.CloseRead(context.Background()).Done()
	})

	s := transport.New(transport.Config{URL: wsURL(srv)})
	defer s.Disconnect()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := accepts.Load(); n != 1 {
		t.Errorf("server accepted %d connections, want 1", n)
	}
	if got := s.State(); got != transport.Connected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestConnectRetriesWithBoundedAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	s := transport.New(transport.Config{
		URL:          wsURL(srv),
		DialAttempts: 3,
		RetryDelay:   time.Millisecond,
	})

	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded against a refusing server")
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("made %d dial attempts, want 3", n)
	}
	if got := s.State(); got != transport.Disconnected {
		t.Errorf("state after failed connect = %v, want disconnected", got)
	}
}

func TestSendDeliversInputAudioEvents(t *testing.T) {
	type inputAudio struct {
		AudioBuffer []int16 `json:"audio_buffer"`
		IsFinal     bool    `json:"isFinal"`
		SampleRate  int     `json:"sample_rate"`
		ChunkIndex  int     `json:"chunk_index"`
	}
	received := make(chan inputAudio, 4)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i := 0; i < 3; i++ {
			event, data := readEvent(t, conn)
			if event != "input_audio" {
				t.Errorf("event = %q, want input_audio", event)
			}
			var p inputAudio
			if err := json.Unmarshal(data, &p); err != nil {
				t.Errorf("payload unmarshal: %v", err)
			}
			received <- p
		}
	})

	s := transport.New(transport.Config{URL: wsURL(srv)})
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < 3; i++ {
		chunk := audio.Chunk{
			PCM16:      []int16{int16(i), 100, -100},
			SampleRate: 16000,
			Index:      i,
			Final:      i == 2,
		}
		if err := s.SendChunk(chunk); err != nil {
			t.Fatalf("Send chunk %d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case p := <-received:
			if p.ChunkIndex != i {
				t.Errorf("chunk %d arrived with index %d; order must be preserved", i, p.ChunkIndex)
			}
			if p.SampleRate != 16000 {
				t.Errorf("chunk %d sample_rate = %d, want 16000", i, p.SampleRate)
			}
			if (i == 2) != p.IsFinal {
				t.Errorf("chunk %d isFinal = %v", i, p.IsFinal)
			}
			if len(p.AudioBuffer) != 3 || p.AudioBuffer[0] != int16(i) {
				t.Errorf("chunk %d audio_buffer = %v", i, p.AudioBuffer)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for chunk %d", i)
		}
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	s := transport.New(transport.Config{URL: "ws://127.0.0.1:0"})
	err := s.SendChunk(audio.Chunk{PCM16: []int16{1}, SampleRate: 16000})
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send on fresh session = %v, want ErrNotConnected", err)
	}
}

func TestOutputAudioDispatchesSegment(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.3}
	segments := make(chan audio.Segment, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeEvent(t, conn, "output_audio", map[string]any{
			"sr":          24000,
			"audio_array": base64.StdEncoding.EncodeToString(audio.EncodeFloat32LE(samples)),
			"text":        "Tell me about your last project.",
			"length":      1.5,
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	s := transport.New(transport.Config{
		URL: wsURL(srv),
		Handlers: transport.Handlers{
			OnSegment: func(seg audio.Segment) { segments <- seg },
		},
	})
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case seg := <-segments:
		if seg.SampleRate != 24000 {
			t.Errorf("segment rate = %d, want 24000", seg.SampleRate)
		}
		if seg.Text != "Tell me about your last project." {
			t.Errorf("segment text = %q", seg.Text)
		}
		if seg.Length != 1500*time.Millisecond {
			t.Errorf("segment length = %v, want 1.5s", seg.Length)
		}
		if len(seg.Samples) != len(samples) {
			t.Fatalf("segment has %d samples, want %d", len(seg.Samples), len(samples))
		}
		for i := range samples {
			if seg.Samples[i] != samples[i] {
				t.Errorf("sample %d = %v, want %v", i, seg.Samples[i], samples[i])
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for segment")
	}
}

func TestServerErrorEventForwarded(t *testing.T) {
	errs := make(chan error, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeEvent(t, conn, "error", map[string]any{"message": "session expired"})
		<-conn.CloseRead(context.Background()).Done()
	})

	s := transport.New(transport.Config{
		URL: wsURL(srv),
		Handlers: transport.Handlers{
			OnError: func(err error) { errs <- err },
		},
	})
	defer s.Disconnect()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "session expired") {
			t.Errorf("error = %v, want to contain server message", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error event")
	}
}

func TestServerCloseFiresOnDisconnected(t *testing.T) {
	disconnected := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Accept then close immediately.
	})

	s := transport.New(transport.Config{
		URL: wsURL(srv),
		Handlers: transport.Handlers{
			OnDisconnected: func(reason string) { disconnected <- reason },
		},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case reason := <-disconnected:
		if reason == "" {
			t.Error("disconnect reason is empty")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for disconnect callback")
	}
	if got := s.State(); got != transport.Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestExplicitDisconnectIsSilent(t *testing.T) {
	disconnected := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	s := transport.New(transport.Config{
		URL: wsURL(srv),
		Handlers: transport.Handlers{
			OnDisconnected: func(reason string) { disconnected <- reason },
		},
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	select {
	case reason := <-disconnected:
		t.Errorf("OnDisconnected fired for explicit disconnect: %q", reason)
	case <-time.After(100 * time.Millisecond):
	}
	if got := s.State(); got != transport.Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var accepts atomic.Int32
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if accepts.Add(1) == 1 {
			return // drop the first connection immediately
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	disconnected := make(chan string, 1)
	s := transport.New(transport.Config{
		URL: wsURL(srv),
		Handlers: transport.Handlers{
			OnDisconnected: func(reason string) { disconnected <- reason },
		},
	})
	defer s.Disconnect()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for drop")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := s.State(); got != transport.Connected {
		t.Errorf("state after reconnect = %v, want connected", got)
	}
}
