package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-pairing",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"connection_limit", cfg.ConnectionLimit.Max,
		"connection_window", cfg.ConnectionLimit.Window,
		"message_limit", cfg.MessageLimit.Max,
		"message_window", cfg.MessageLimit.Window,
		"partner_history_capacity", cfg.PartnerHistoryCapacity,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	var turn *turnrest.Issuer
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewIssuer(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("failed to configure turn rest credentials", "err", err)
			os.Exit(2)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	coord := coordinator.New(coordinator.Config{
		Logger:  logger.With("component", "coordinator"),
		Metrics: m,
		Matchmaking: matchmaking.Config{
			HistoryCapacity: cfg.PartnerHistoryCapacity,
		},
		MaxMessageRunes: cfg.MaxMessageChars,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordCtx, stopCoord := context.WithCancel(context.Background())
	defer stopCoord()
	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		_ = coord.Run(coordCtx)
	}()

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}, httpserver.Deps{
		State:   coord,
		Metrics: m.Handler(),
		TURN:    turn,
	})

	limits := protocol.DefaultLimits()
	limits.MaxInterests = cfg.MaxInterests
	sig := signaling.NewServer(signaling.Config{
		Coordinator:        coord,
		Logger:             logger.With("component", "signaling"),
		Metrics:            m,
		Origins:            origin.Policy{Allowed: cfg.AllowedOrigins},
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		ConnectionLimit:    signaling.Limit(cfg.ConnectionLimit),
		MessageLimit:       signaling.Limit(cfg.MessageLimit),
		Limits:             limits,
		MaxMessageBytes:    cfg.MaxSignalingMessageBytes,
		MaxFramesPerSecond: cfg.MaxSignalingFramesPerSecond,
		IdleTimeout:        cfg.SignalingWSIdleTimeout,
		PingInterval:       cfg.SignalingWSPingInterval,
		SendQueue:          cfg.SignalingSendQueue,
	})
	sig.RegisterRoutes(srv.Mux())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sig.Close()
		stopCoord()
		<-coordDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// signaling server is closed explicitly before the coordinator stops.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	stopCoord()
	<-coordDone

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
