// Conveyor Worker — обрабатывает запросы одного request stream.
//
// Использование:
//
//	echo "worker-v0 <hex key>" | conveyor-worker {workerClass}:{consumerId}:h
//
// Worker:
//   - Читает worker identity и захватывает её (поле pid)
//   - Расшифровывает секретную конфигурацию ключом из stdin
//   - Читает запросы через consumer group "worker"
//   - Доставляет ответы в res:{ref}, response stream и req:{ref}:h
//
// Workers масштабируются горизонтально: один процесс на consumerId.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/credentials"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := telemetry.SetupLogger()

	if len(os.Args) != 2 || !strings.HasSuffix(os.Args[1], ":h") {
		fmt.Fprintln(os.Stderr, "Usage: conveyor-worker {workerClass}:{consumerId}:h")
		return exitUsage
	}
	workerKey := os.Args[1]
	if _, _, err := domain.ParseIdentityKey(workerKey); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitUsage
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitFatal
	}
	ackMode, _ := worker.ParseAckMode(cfg.AckMode)
	missingRef, _ := worker.ParseMissingRefPolicy(cfg.MissingRefPolicy)

	logger = logger.With("worker_key", workerKey, "worker_type", cfg.WorkerType)
	logger.Info("starting conveyor-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, err := store.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		return exitFatal
	}
	defer rdb.Close()
	st := store.New(rdb)

	identity, err := st.LoadIdentity(ctx, workerKey)
	if err != nil {
		logger.Error("failed to load identity", "error", err)
		return exitFatal
	}
	if err := identity.Validate(); err != nil {
		logger.Error("invalid identity", "error", err)
		return exitFatal
	}

	// Секрет: ключ приходит по stdin, шифротекст лежит в identity
	key, err := credentials.ReadKey(os.Stdin)
	if err != nil {
		logger.Error("failed to read key from stdin", "error", err)
		return exitFatal
	}
	secret, err := credentials.Bootstrap(key, identity, cfg.WorkerType)
	if err != nil {
		logger.Error("failed to bootstrap credentials", "error", err)
		return exitFatal
	}
	logger.Info("credentials loaded", "secret_fields", len(secret))

	// Порт метрик занимается до захвата identity: второй экземпляр на том же
	// хосте завершится с ошибкой, не тронув pid.
	metrics := telemetry.NewMetrics(nil)
	if cfg.MetricsPort != "" {
		srv, err := telemetry.StartServer(":"+cfg.MetricsPort, logger)
		if err != nil {
			logger.Error("failed to start metrics server", "error", err)
			return exitFatal
		}
		defer srv.Close()
	}

	w, err := worker.New(worker.Config{
		Store:            st,
		Identity:         identity,
		WorkerType:       cfg.WorkerType,
		WorkerURLPrefix:  cfg.WorkerURLPrefix,
		Handler:          worker.EchoHandler{WorkerType: cfg.WorkerType, WorkerKey: workerKey, ConsumerID: identity.ConsumerID},
		BlockTimeout:     cfg.BlockTimeout(),
		ReplyTTL:         cfg.ReplyTTL(),
		AckMode:          ackMode,
		MissingRefPolicy: missingRef,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to create worker", "error", err)
		return exitFatal
	}

	if err := w.Run(ctx); err != nil {
		logger.Error("worker failed", "error", err, "requests", w.RequestCount(),
			"ownership_revoked", errors.Is(err, store.ErrOwnershipRevoked))
		return exitFatal
	}

	logger.Info("conveyor-worker stopped", "requests", w.RequestCount())
	return exitOK
}
