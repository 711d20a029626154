// Command intervox is a real-time voice interview client: it connects the
// local microphone and speaker to an AI interviewer and walks one session
// from start to scored result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/intervox/intervox/internal/backend"
	"github.com/intervox/intervox/internal/capture"
	"github.com/intervox/intervox/internal/config"
	"github.com/intervox/intervox/internal/conversation"
	"github.com/intervox/intervox/internal/health"
	"github.com/intervox/intervox/internal/observe"
	"github.com/intervox/intervox/internal/playback"
	"github.com/intervox/intervox/internal/resilience"
	"github.com/intervox/intervox/internal/session"
	"github.com/intervox/intervox/internal/transport"
	"github.com/intervox/intervox/pkg/audio"
	"github.com/intervox/intervox/pkg/audio/device"
	"github.com/intervox/intervox/pkg/audio/pcmfile"
	"github.com/intervox/intervox/pkg/vad"
)

const defaultStreamPath = "/websocket/conversation"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "intervox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "intervox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("intervox starting",
		"config", *configPath,
		"backend", cfg.Backend.BaseURL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "intervox"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend client and session resource ───────────────────────────────────
	client, err := backend.New(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		BotBaseURL: cfg.Backend.BotBaseURL,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		return 1
	}

	if err := client.StartSession(ctx, cfg.Session.InterviewName); err != nil {
		slog.Error("failed to start interview session", "err", err)
		return 1
	}
	slog.Info("interview session created", "interview_name", cfg.Session.InterviewName)

	// ── Audio adapters ────────────────────────────────────────────────────────
	source, err := buildSource(cfg.Audio.Input)
	if err != nil {
		slog.Error("failed to build audio source", "err", err)
		return 1
	}
	player, err := buildPlayer(cfg.Audio.Output)
	if err != nil {
		slog.Error("failed to build audio player", "err", err)
		return 1
	}

	// ── Voice pipeline wiring ─────────────────────────────────────────────────
	streamURL, err := buildStreamURL(cfg.Backend)
	if err != nil {
		slog.Error("invalid stream URL", "err", err)
		return 1
	}

	// The engine owns capture and playback, but both are constructed first;
	// their callbacks close over this variable and only fire once the engine
	// is live.
	var engine *conversation.Engine
	var ctrl *session.Controller

	sess := transport.New(transport.Config{
		URL:    streamURL,
		Logger: logger,
		Handlers: transport.Handlers{
			OnConnected: func() { engine.HandleConnected() },
			OnDisconnected: func(reason string) {
				// A drop the session did not ask for ends the interview.
				engine.HandleDisconnected(reason)
				ctrl.End()
			},
			OnSegment: func(seg audio.Segment) { engine.HandleSegment(seg) },
			OnError: func(err error) {
				slog.Error("interviewer error", "err", err)
			},
		},
	})

	queue := playback.New(playback.Config{
		Player:    player,
		Gap:       cfg.Playback.Gap.Std(),
		OnDrained: func() { engine.HandleDrained() },
		Logger:    logger,
	})
	defer queue.Close()

	pipeline := capture.New(capture.Config{
		Source: source,
		Sink:   sess,
		VAD: vad.Config{
			EnergyThreshold: cfg.VAD.EnergyThreshold,
			BandThreshold:   cfg.VAD.BandThreshold,
			SilenceDuration: cfg.VAD.Silence.Std(),
		},
		SampleRate:    cfg.Audio.Input.SampleRate,
		BlockSize:     cfg.Audio.Input.BlockSize,
		TargetRate:    cfg.Capture.TargetRate,
		ChunkInterval: cfg.Capture.ChunkInterval.Std(),
		Overlap:       cfg.Capture.Overlap.Std(),
		OnFinished:    func() { engine.HandleRecordingFinished() },
		Logger:        logger,
	})

	engine = conversation.New(conversation.Config{
		Recorder: pipeline,
		Speaker:  queue,
		OnState: func(from, to conversation.State) {
			fmt.Printf("── %s → %s\n", from, to)
		},
		OnQuestion: func(text string) {
			fmt.Printf("\nInterviewer: %s\n", text)
		},
		OnCaptureError: func(err error) {
			fmt.Fprintf(os.Stderr, "microphone unavailable: %v\n", err)
		},
		Logger: logger,
	})
	defer engine.Close()

	ctrl = session.New(session.Config{
		Transport:    sess,
		Backend:      client,
		ConnectDelay: cfg.Session.ConnectDelay.Std(),
		Budget:       cfg.Session.Budget.Std(),
		OnComplete: func(id string) {
			fmt.Printf("\nInterview complete. Results: %s/result/%s\n", strings.TrimRight(cfg.Backend.BaseURL, "/"), id)
		},
		OnFallback: func(err error) {
			fmt.Fprintf(os.Stderr, "\ncould not finalise results: %v\n", err)
		},
		Logger: logger,
	})

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		srv := newMetricsServer(cfg.Server.MetricsAddr, client, sess)
		g.Go(func() error {
			slog.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer stop() // session over, release the metrics server too
		return ctrl.Run(gctx)
	})

	slog.Info("session ready — press Ctrl+C to end the interview")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSource constructs the configured microphone source.
func buildSource(cfg config.InputConfig) (audio.Source, error) {
	switch cfg.Adapter {
	case config.InputFile:
		format := pcmfile.Format(cfg.File.Format)
		if cfg.File.Format == "" {
			format = pcmfile.FormatFloat32LE
		}
		return &pcmfile.Source{
			Path:     cfg.File.Path,
			Format:   format,
			Realtime: cfg.File.Realtime,
		}, nil
	case config.InputDevice, "":
		return &device.Source{}, nil
	}
	return nil, fmt.Errorf("unknown input adapter %q", cfg.Adapter)
}

// buildPlayer constructs the configured speaker player.
func buildPlayer(cfg config.OutputConfig) (audio.Player, error) {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 24000
	}
	switch cfg.Adapter {
	case config.OutputDiscard:
		return discardPlayer{}, nil
	case config.OutputDevice, "":
		return device.NewPlayer(rate)
	}
	return nil, fmt.Errorf("unknown output adapter %q", cfg.Adapter)
}

// discardPlayer paces segments in real time without touching a device, for
// headless soak runs.
type discardPlayer struct{}

func (discardPlayer) Play(ctx context.Context, seg audio.Segment) error {
	select {
	case <-time.After(seg.Duration()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildStreamURL derives the WebSocket URL of the conversation stream from
// the backend configuration.
func buildStreamURL(cfg config.BackendConfig) (string, error) {
	base := cfg.BotBaseURL
	if base == "" {
		base = cfg.BaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("backend URL %q must use http or https", base)
	}
	path := cfg.StreamPath
	if path == "" {
		path = defaultStreamPath
	}
	u.Path = path
	return u.String(), nil
}

// newMetricsServer serves Prometheus metrics and the health probes. The
// backend probe sits behind a circuit breaker so a dead platform fails the
// readiness check fast instead of stalling every scrape.
func newMetricsServer(addr string, client *backend.Client, sess *transport.Session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	breaker := resilience.New(resilience.Config{Name: "backend"})
	h := health.New(
		health.BackendReachable(func(ctx context.Context) error {
			return breaker.Execute(func() error {
				_, err := client.CurrentUser(ctx)
				return err
			})
		}),
		health.TransportConnected(func() bool {
			return sess.State() == transport.Connected
		}),
	)
	h.Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Intervox — session summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Interview", cfg.Session.InterviewName)
	printField("Input", orDefault(string(cfg.Audio.Input.Adapter), "device"))
	printField("Output", orDefault(string(cfg.Audio.Output.Adapter), "device"))
	budget := cfg.Session.Budget.Std()
	if budget <= 0 {
		budget = session.DefaultBudget
	}
	printField("Budget", budget.String())
	if cfg.Server.MetricsAddr != "" {
		printField("Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not set)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
