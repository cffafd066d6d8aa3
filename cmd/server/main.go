package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/config"
	"github.com/trialkey-service/internal/eligibility"
	"github.com/trialkey-service/internal/keygen"
	"github.com/trialkey-service/internal/metrics"
	"github.com/trialkey-service/internal/server"
	"github.com/trialkey-service/internal/service"
	"github.com/trialkey-service/internal/store"
	"github.com/trialkey-service/internal/sweeper"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	st := store.New(backend, m)
	if err := st.Open(ctx); err != nil {
		return err
	}

	gen, err := keygen.New(cfg.KeyPrefix)
	if err != nil {
		return fmt.Errorf("key generator: %w", err)
	}
	guard := eligibility.NewGuard(cfg.RequiredTasks, cfg.TaskRecencyWindow, cfg.KeyValidity)
	keys := service.NewKeyService(st, guard, gen, cfg.KeyValidity, m)
	sw := sweeper.New(st, cfg.KeyValidity, cfg.SweepInterval, m)

	var wg sync.WaitGroup
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.Run(sweepCtx)
	}()

	srv := server.New(cfg, keys, sw, m)
	err = srv.ListenAndServe(ctx)

	stopSweeper()
	wg.Wait()
	return err
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// openBackend returns the configured persistence backend and a func that
// releases its resources.
func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		log.Info().Msg("using postgres key store")
		return store.NewPostgres(pool), pool.Close, nil

	case config.StoreDriverMemory:
		log.Warn().Msg("using in-memory key store, keys will not survive a restart")
		return store.NewMemory(), func() {}, nil

	default:
		log.Info().Str("path", cfg.DataFile).Msg("using file key store")
		return store.NewFileBackend(cfg.DataFile), func() {}, nil
	}
}
