// Conveyor Archiver — переносит ответы из response streams в PostgreSQL.
//
// Archiver:
//   - Читает response streams через consumer group "archive"
//   - Сохраняет записи в таблицу responses
//   - Публикует response.archived в RabbitMQ (если доступен)
//   - Обрезает streams по cron-расписанию (только лидер по pg advisory lock)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Conveyor/internal/archiver"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-archiver")

	cfg, err := config.LoadArchiver()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Redis
	rdb, err := store.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	st := store.New(rdb)

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	responses := repo.NewResponseRepo(pool)
	if err := responses.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// RabbitMQ
	var notifier archiver.Notifier
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, archiving without events", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		logger.Debug(mq.TopologyInfo())
		notifier = mq.NewPublisher(mqConn, logger)
	}

	metrics := telemetry.NewMetrics(nil)

	a, err := archiver.New(archiver.Config{
		Source:   st,
		Sink:     responses,
		Notifier: notifier,
		Streams:  cfg.StreamList(),
		Consumer: cfg.Consumer,
		Batch:    cfg.BatchSize,
		Block:    cfg.BlockTimeout(),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create archiver", "error", err)
		os.Exit(1)
	}

	// Обрезка streams: один лидер на всех архиваторах
	if cfg.TrimSchedule != "" {
		go runTrim(ctx, cfg, st, pool, logger)
	}

	// HTTP mux: /healthz + /metrics
	if cfg.MetricsPort != "" {
		srv, err := telemetry.StartServer(":"+cfg.MetricsPort, logger)
		if err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer srv.Close()
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("archiver failed", "error", err)
		os.Exit(1)
	}
	logger.Info("conveyor-archiver stopped")
}
