package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/archiver"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/store"
)

// leaderRetry — как часто не-лидер пытается взять lock.
const leaderRetry = time.Minute

// runTrim ждёт лидерства (pg_try_advisory_lock) и запускает обрезку по расписанию.
func runTrim(ctx context.Context, cfg *config.Archiver, st *store.Store, pool *pgxpool.Pool, logger *slog.Logger) {
	sched, err := scheduler.New(scheduler.Config{
		Trimmer:  st,
		Group:    archiver.DefaultGroup,
		Streams:  cfg.StreamList(),
		MaxLen:   cfg.TrimMaxLen,
		Schedule: cfg.TrimSchedule,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("trim scheduler disabled", "error", err)
		return
	}

	tk := time.NewTicker(leaderRetry)
	defer tk.Stop()

	for {
		lock, err := repo.TryAdvisoryLock(ctx, pool, repo.TrimLockKey)
		if err != nil {
			logger.Warn("trim lock error", "error", err)
		}
		if lock != nil {
			logger.Info("trim leadership acquired")
			if err := sched.Run(ctx); err != nil {
				logger.Error("trim scheduler failed", "error", err)
			}

			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := lock.Unlock(unlockCtx); err != nil {
				logger.Warn("failed to release trim lock", "error", err)
			}
			cancel()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}
