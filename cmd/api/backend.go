package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/inaiurai/escrow/internal/auth"
	"github.com/inaiurai/escrow/internal/config"
	"github.com/inaiurai/escrow/internal/execution"
	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/permits"
	"github.com/inaiurai/escrow/internal/repository"
	"github.com/inaiurai/escrow/internal/store"
)

type userStore interface {
	identity.Provider
	auth.Credentials
}

// backend bundles one storage choice with the matching stage scheduler.
// bind is called once the permit service exists, because the stage workers
// need it and it needs the scheduler.
type backend struct {
	store     store.Store
	users     userStore
	scheduler permits.StageScheduler
	bind      func(r execution.StageRunner) error
	start     func(ctx context.Context)
	stop      func(ctx context.Context)
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.StoreBackend == "memory" {
		return openMemory(cfg, logger)
	}
	return openPostgres(ctx, cfg, logger)
}

func openMemory(cfg config.Config, logger *slog.Logger) (*backend, error) {
	var st *store.Memory
	if cfg.SnapshotPath == "" {
		st = store.NewMemory()
		logger.Warn("memory store has no snapshot_path; state is lost on exit")
	} else {
		var err error
		if st, err = store.OpenMemory(cfg.SnapshotPath, logger); err != nil {
			return nil, err
		}
	}
	sched := execution.NewLocalScheduler(cfg.StageDelay.Duration, logger)
	return &backend{
		store:     st,
		users:     identity.NewDirectory(),
		scheduler: sched,
		bind: func(r execution.StageRunner) error {
			sched.Bind(r)
			return nil
		},
		start: func(context.Context) {},
		stop:  func(context.Context) { sched.Close() },
	}, nil
}

func openPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach PostgreSQL (is it running?): %w", err)
	}
	logger.Info("Connected to PostgreSQL database successfully!")

	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("river migrate up: %w", err)
	}
	logger.Info("Schema and River migrations applied")

	sched := execution.NewRiverScheduler(cfg.StageDelay.Duration, logger)
	b := &backend{
		store:     repository.NewStore(pool),
		users:     repository.NewUserRepo(pool),
		scheduler: sched,
		start:     func(context.Context) {},
		stop:      func(context.Context) { pool.Close() },
	}
	b.bind = func(r execution.StageRunner) error {
		workers := river.NewWorkers()
		execution.AddWorkers(workers, r, cfg.StageTimeout.Duration)
		client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: 10},
			},
			Workers: workers,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("create river client: %w", err)
		}
		sched.Bind(client)

		b.start = func(ctx context.Context) {
			go func() {
				if err := client.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error("River client stopped", "error", err)
				}
			}()
		}
		b.stop = func(ctx context.Context) {
			stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := client.Stop(stopCtx); err != nil {
				logger.Warn("River client stop", "error", err)
			}
			pool.Close()
		}
		return nil
	}
	return b, nil
}
