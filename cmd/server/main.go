package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Collab/internal/adapters/auth"
	router "github.com/dkeye/Collab/internal/adapters/http"
	"github.com/dkeye/Collab/internal/adapters/rtc"
	wssignal "github.com/dkeye/Collab/internal/adapters/signal"
	"github.com/dkeye/Collab/internal/adapters/storage/sqlite"
	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/dkeye/Collab/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()

	var policy app.Policy = app.SimplePolicy{}
	if cfg.WS.Backpressure == config.BackpressureDropFrame {
		policy = app.TolerantPolicy{}
	}

	reg := app.NewRegistry(app.Options{
		Editors:            store,
		Sketches:           store,
		Policy:             policy,
		CheckpointInterval: cfg.Checkpoint.Interval,
		PersistTimeout:     cfg.Checkpoint.Timeout,
	})

	o := &orch.Orchestrator{
		Registry:       reg,
		Verifier:       auth.NewJWTVerifier(cfg.Secret),
		Members:        store,
		Messages:       store,
		PersistTimeout: cfg.Checkpoint.Timeout,
	}
	if cfg.Signal.Strict {
		o.Signals = rtc.NewValidator()
	}

	ctl := wssignal.NewSignalWSController(o, wssignal.NewRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval), wssignal.Options{
		ReadLimit:      cfg.WS.ReadLimit,
		PingPeriod:     cfg.WS.PingPeriod,
		WriteTimeout:   cfg.WS.WriteTimeout,
		SendBuffer:     cfg.WS.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r := router.SetupRouter(ctx, cfg, o, ctl, store)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Collab server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final checkpoint incomplete")
	}
	log.Info().Msg("Server exited gracefully")
}

// setupLogger keeps the console writer in debug mode and switches to JSON
// lines otherwise.
func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
