package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/studyhall/attendance/internal/calendar"
	"github.com/studyhall/attendance/internal/config"
	"github.com/studyhall/attendance/internal/health"
	"github.com/studyhall/attendance/internal/metrics"
	"github.com/studyhall/attendance/internal/mgmt"
	"github.com/studyhall/attendance/internal/slackbot"
	"github.com/studyhall/attendance/internal/store"
	"github.com/studyhall/attendance/internal/tracker"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve timezone")
	}
	cal := calendar.New(loc)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("timezone", loc.String()).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting attendance tracker")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Persistence
	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	snapStore := store.NewSnapshotStore(st, logger)

	m := metrics.New()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("db", health.PingCheck(st.Ping))

	// The notifier exists before the Slack connection; its API client is
	// attached once the app is up.
	var slackNotifier *slackbot.Notifier
	var notifier tracker.Notifier
	if cfg.SlackEnabled() {
		slackNotifier = slackbot.NewNotifier(logger)
		notifier = slackNotifier
	}

	trk := tracker.New(tracker.Config{
		MinSessionDuration: cfg.MinSessionDuration,
		RetentionWeeks:     cfg.RetentionWeeks,
		PruneWeekday:       time.Weekday(cfg.PruneWeekday),
		PruneHour:          cfg.PruneHour,
		PruneMinute:        cfg.PruneMinute,
	}, cal, snapStore, notifier, m, logger)

	trk.Restore(ctx)

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Slack Socket Mode (optional — only if tokens provided)
	if cfg.SlackEnabled() {
		slackMiddleware := slackbot.NewMiddleware(logger, 10, time.Minute)
		slackHandler := slackbot.NewHandler(trk, cal, slackMiddleware, logger)
		slackApp, slackErr := slackbot.NewApp(cfg.SlackBotToken, cfg.SlackAppToken, logger, slackHandler)
		if slackErr != nil {
			logger.Error().Err(slackErr).Msg("failed to init Slack app (non-fatal)")
		} else {
			slackNotifier.SetAPI(slackApp.API())
			checker.Register("slack", health.PingCheck(slackApp.CheckAuth))

			logger.Info().Msg("Slack Socket Mode enabled")
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := slackApp.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("Slack Socket Mode error")
				}
			}()
		}
	} else {
		logger.Info().Msg("Slack not configured — running in API-only mode")
	}

	// Management API
	rtCfg := &mgmt.RuntimeConfig{
		Environment:        cfg.Environment,
		LogLevel:           cfg.LogLevel,
		Timezone:           loc.String(),
		MinSessionDuration: cfg.MinSessionDuration,
		RetentionWeeks:     cfg.RetentionWeeks,
		MgmtListenAddr:     cfg.MgmtListenAddr,
		AuthMode:           cfg.MgmtAuthMode,
		RateLimitRPS:       cfg.MgmtRateLimitRPS,
		RateLimitBurst:     cfg.MgmtRateLimitBurst,
		SlackEnabled:       cfg.SlackEnabled(),
	}

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins: cfg.MgmtCORSOrigins,
	}, trk, cal, checker, m, rtCfg, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Start(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	// Timer refresh loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				trk.Refresh(ctx, now)
			}
		}
	}()

	// Weekly prune check loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.PruneCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if trk.MaybePrune(ctx, now) {
					logger.Info().Msg("weekly prune executed")
				}
			}
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context to signal all goroutines
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgmtServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	// Final snapshot so open sessions survive the restart
	if err := trk.Flush(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("database close error")
	}

	logger.Info().Msg("attendance tracker stopped")
}
