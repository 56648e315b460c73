package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ludo/internal/archive"
	"ludo/internal/config"
	"ludo/internal/engine"
	"ludo/internal/server"
	"ludo/internal/session"
	"ludo/internal/settlement"
	"ludo/internal/storage"
	"ludo/internal/storage/dynamo"
)

func main() {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the ledger always lives in SQLite; matches may live elsewhere
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer db.Close()

	var store engine.Store = db
	if cfg.Backend == config.BackendDynamoDB {
		store, err = dynamo.NewFromRegion(ctx, cfg.AWSRegion, cfg.DynamoTable)
		if err != nil {
			log.Fatal().Err(err).Str("table", cfg.DynamoTable).Msg("open dynamodb")
		}
	}

	tiers, err := config.LoadTiers(cfg.TiersPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TiersPath).Msg("load tiers")
	}

	// nil interfaces, not typed nils, when no bucket is configured
	var archiver engine.Archiver
	var archived server.Archive
	if cfg.ArchiveBucket != "" {
		a, err := archive.NewFromRegion(ctx, cfg.AWSRegion, cfg.ArchiveBucket)
		if err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.ArchiveBucket).Msg("open archive")
		}
		archiver, archived = a, a
	}

	policy := settlement.Policy{
		WinnerShare: cfg.WinnerShare,
		WinRating:   cfg.WinRating,
		LossRating:  cfg.LossRating,
	}
	settler := settlement.NewSettler(store, db, settlement.Options{Timeout: cfg.StoreTimeout})

	mirrors := session.NewRegistry()
	if n, err := mirrors.Restore(ctx, store); err != nil {
		log.Warn().Err(err).Msg("restore mirrors")
	} else {
		log.Info().Int("matches", n).Msg("restored mirrors")
	}

	svc := engine.New(engine.Options{
		Store:         store,
		Tiers:         config.Registry(tiers),
		Settler:       settler,
		Mirror:        mirrors,
		Archiver:      archiver,
		Policy:        &policy,
		MatchDuration: cfg.MatchDuration,
		StoreTimeout:  cfg.StoreTimeout,
		MaxAttempts:   cfg.MaxAttempts,
	})

	// Cleanup stale mirrors every minute, remove after 1 hour
	go mirrors.CleanupLoop(ctx, 1*time.Minute, 1*time.Hour)
	go svc.ReconcileLoop(ctx, cfg.ReconcileInterval)

	handler := server.New(server.Options{
		Engine:  svc,
		Mirrors: mirrors,
		Wallets: db,
		Archive: archived,
		Origins: cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Int("tiers", len(tiers)).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server")
	}
	log.Info().Msg("shut down")
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
