// SPDX-License-Identifier: MIT

// quizd is the quizwire daemon: one process hosting the session engine, the
// REST/websocket ingress and the operational endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quizwire/quizwire/internal/api"
	"github.com/quizwire/quizwire/internal/audit"
	"github.com/quizwire/quizwire/internal/auth"
	"github.com/quizwire/quizwire/internal/clock"
	"github.com/quizwire/quizwire/internal/config"
	xglog "github.com/quizwire/quizwire/internal/log"
	"github.com/quizwire/quizwire/internal/profanity"
	"github.com/quizwire/quizwire/internal/quiz/engine"
	"github.com/quizwire/quizwire/internal/ratelimit"
	"github.com/quizwire/quizwire/internal/store/redisstore"
	"github.com/quizwire/quizwire/internal/store/sqlitestore"
	"github.com/quizwire/quizwire/internal/ws"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("quizd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// safe defaults until the config is loaded
	xglog.Configure(xglog.Config{Level: "info", Service: "quizd"})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "quizd"})

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("data directory unavailable")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("addr", cfg.Listen).
		Str("redis", cfg.Redis.Addr).
		Str("data_dir", cfg.DataDir).
		Msg("starting quizd")

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("quizd exited with error")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("quizd stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	eph, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, xglog.WithComponent("redis"))
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { _ = eph.Close() }()

	durable, err := sqlitestore.New(filepath.Join(cfg.DataDir, "quizwire.db"))
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	defer func() { _ = durable.Close() }()

	// the audit trail is best-effort: a broken badger dir degrades to a
	// no-op sink instead of blocking startup
	var trail *audit.Trail
	if sink, err := audit.NewBadgerSink(filepath.Join(cfg.DataDir, "audit")); err != nil {
		logger.Warn().Err(err).Str("event", "audit.sink_unavailable").Msg("audit trail disabled")
		trail = audit.New(nil)
	} else {
		trail = audit.New(sink)
	}
	defer func() { _ = trail.Close() }()

	filter := profanity.New()
	if cfg.Profanity.WordlistPath != "" {
		f, err := profanity.NewFromFile(cfg.Profanity.WordlistPath)
		if err != nil {
			logger.Warn().Err(err).
				Str("path", cfg.Profanity.WordlistPath).
				Msg("profanity wordlist unreadable, builtin list only")
		} else {
			filter = f
			if err := f.StartWatcher(ctx); err != nil {
				logger.Warn().Err(err).Msg("profanity wordlist watcher failed to start")
			}
			defer f.Stop()
		}
	}

	limiter := ratelimit.New(eph, ratelimit.Config{
		JoinWindow:     time.Minute,
		JoinMax:        cfg.Limits.JoinPerMinute,
		AnswerWindow:   time.Duration(cfg.Limits.AnswerWindowSecs) * time.Second,
		AnswerMax:      1,
		MessagesWindow: time.Second,
		MessagesMax:    cfg.Limits.MessagesPerSec,
	}, xglog.WithComponent("ratelimit"))

	hub := ws.NewHub()
	issuer := auth.NewIssuer(eph, durable, cfg.Engine.SessionTTL())

	eng := engine.New(engine.Config{
		AnswerGrace:         cfg.Engine.AnswerGrace(),
		RecoveryGrace:       cfg.Engine.RecoveryGrace(),
		SessionTTL:          cfg.Engine.SessionTTL(),
		ParticipantTTL:      cfg.Engine.ParticipantTTL(),
		LeaderboardTopN:     cfg.Engine.LeaderboardTopN,
		LeaderboardInterval: cfg.Engine.LeaderboardInterval(),
		MaxMessageBytes:     cfg.Engine.MaxMessageBytes,
		BanCacheTTL:         30 * time.Second,
	}, engine.Deps{
		Ephemeral: eph,
		Durable:   durable,
		Trail:     trail,
		Limiter:   limiter,
		Hub:       hub,
		Filter:    filter,
		Issuer:    issuer,
		Clock:     clock.Real(),
	})

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(api.Options{JoinPerMinute: int(cfg.Limits.JoinPerMinute)}, eng, hub, eph, durable).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.Listen).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Str("event", "shutdown.begin").Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// stop accepting sockets first, then end every live session with a
		// final durable write
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		if err := eng.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("engine shutdown incomplete")
		}
		return nil
	})

	return g.Wait()
}
