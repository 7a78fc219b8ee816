// Command parley is the voice session daemon: it watches the microphone for
// speech, ships finished utterances to the conversation service, and renders
// the spoken replies, all driven over a small WebSocket control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sonantic-labs/parley/internal/config"
	"github.com/sonantic-labs/parley/internal/health"
	"github.com/sonantic-labs/parley/internal/observe"
	"github.com/sonantic-labs/parley/internal/playback"
	"github.com/sonantic-labs/parley/internal/recorder"
	"github.com/sonantic-labs/parley/internal/server"
	"github.com/sonantic-labs/parley/internal/session"
	"github.com/sonantic-labs/parley/internal/transport"
	"github.com/sonantic-labs/parley/pkg/audio"
	paudio "github.com/sonantic-labs/parley/pkg/audio/portaudio"
	"github.com/sonantic-labs/parley/pkg/vad"
)

// version is stamped at build time via -ldflags.
var version = "dev"

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
			fmt.Fprintf(os.Stderr, "parley: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"service", cfg.Service.BaseURL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Transport ─────────────────────────────────────────────────────────────
	client, err := transport.NewHTTPClient(cfg.Service.BaseURL,
		transport.WithTimeout(cfg.Service.Timeout.Std()),
	)
	if err != nil {
		slog.Error("failed to create service client", "err", err)
		return 1
	}

	// ── Playback ──────────────────────────────────────────────────────────────
	codecs := make([]playback.Codec, 0, len(cfg.Playback.Codecs))
	for _, name := range cfg.Playback.Codecs {
		// Names were validated at config load.
		c, _ := playback.ParseCodec(name)
		codecs = append(codecs, c)
	}
	playCfg := playback.Config{
		Codecs:        codecs,
		ReadyTimeout:  cfg.Playback.ReadyTimeout.Std(),
		MinStartBytes: cfg.Playback.MinStartBytes,
		StallTimeout:  cfg.Playback.StallTimeout.Std(),
		SampleRate:    cfg.Audio.SampleRate,
		FrameSize:     cfg.Audio.FrameSize(),
	}
	newOutput := func() audio.Output {
		return paudio.NewOutput(cfg.Audio.SampleRate, cfg.Audio.FrameSize(), cfg.Audio.OutputDevice)
	}

	// ── Session controller ────────────────────────────────────────────────────
	// srv is assigned below, before the HTTP server starts accepting the
	// commands that make the controller emit events.
	var srv *server.Server

	sessCfg := session.Config{
		VAD: vad.Config{
			ActivationThreshold:   cfg.VAD.ActivationThreshold,
			DeactivationThreshold: cfg.VAD.DeactivationThreshold,
			ActivationFrames:      cfg.VAD.ActivationFrames,
			DeactivationFrames:    cfg.VAD.DeactivationFrames,
		},
		MinUtterance:          cfg.Recorder.MinUtterance.Std(),
		MinPayloadBytes:       cfg.Recorder.MinPayloadBytes,
		MaxUtterance:          cfg.Recorder.MaxUtterance.Std(),
		ActivationWindow:      cfg.Timers.ActivationWindow.Std(),
		InactivityGrace:       cfg.Timers.InactivityGrace.Std(),
		SessionCreateAttempts: cfg.Service.SessionCreateAttempts,
		SessionCreateBackoff:  cfg.Service.SessionCreateBackoff.Std(),
		CooldownWindow:        cfg.Service.CooldownWindow.Std(),
	}
	ctrl, err := session.New(sessCfg, session.Deps{
		Client: client,
		NewInput: func() audio.Input {
			return paudio.NewInput(cfg.Audio.SampleRate, cfg.Audio.FrameSize(), cfg.Audio.InputDevice)
		},
		NewEncoder: func() (recorder.Encoder, error) {
			return recorder.NewOpusEncoder(cfg.Audio.SampleRate, cfg.Audio.FrameSize(), cfg.Recorder.Bitrate)
		},
		NewPlayer: func(cb playback.Callbacks) session.Player {
			return playback.New(client, newOutput, playCfg, metrics, cb)
		},
		Metrics: metrics,
		Listener: func(ev session.Event) {
			srv.Publish(ev)
		},
	})
	if err != nil {
		slog.Error("failed to create session controller", "err", err)
		return 1
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			slog.Warn("session close error", "err", err)
		}
	}()

	// ── Control server ────────────────────────────────────────────────────────
	// Device probes are skipped while the session holds the devices, so a
	// live session never fails readiness.
	inUse := func() bool { return ctrl.Snapshot().Mode == "active" }
	h := health.New(
		health.Transport(client.Ping),
		health.AudioInput(paudio.CheckInput, inUse),
		health.AudioOutput(paudio.CheckOutput, inUse),
	)
	srv = server.New(ctrl, h)

	mux := http.NewServeMux()
	srv.Register(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Middleware(metrics, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	slog.Info("parley ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
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
