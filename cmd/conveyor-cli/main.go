// Conveyor CLI — операторский инструмент для request/response streams.
//
// Использование:
//
//	conveyor [--redis-url URL] [--class CLASS] [--db-url URL] [--json] <command> [args] [flags]
//
// Команды:
//
//	info                  Consumer groups request stream'а
//	show-default-setup    Ключи, используемые для класса
//	create-req-stream     Создать request stream и группу "worker"
//	delete-req-stream     Удалить request stream
//	setup-worker ID       Создать worker identity
//	show-worker ID        Показать worker identity
//	release-worker ID     Снять pid с worker identity
//	xadd-req [REF]        Добавить запрос
//	xrange-req, xrange-res
//	xtrim-req N, xtrim-res N
//	pending               Неподтверждённые запросы
//	encrypt-secret        Зашифровать секрет (stdin)
//	watch-archived        События архиватора из RabbitMQ
//	show-archived REF     Ответы на REF из архива PostgreSQL
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	defaults, err := config.LoadCLI()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	var (
		redisURL   string
		class      string
		amqpURL    string
		dbURL      string
		jsonOutput bool
		rdb        *redis.Client
		pool       *pgxpool.Pool
	)

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor CLI — request/response stream administration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", defaults.RedisURL, "Redis URL")
	rootCmd.PersistentFlags().StringVar(&class, "class", defaults.WorkerClass, "Worker class")
	rootCmd.PersistentFlags().StringVar(&amqpURL, "rabbitmq-url", mq.DefaultURL, "RabbitMQ URL (watch-archived)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", defaults.DBURL, "PostgreSQL URL (show-archived)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	envFn := func() (*cli.Env, error) {
		if rdb == nil {
			c, err := store.NewClient(rootCmd.Context(), redisURL)
			if err != nil {
				return nil, err
			}
			rdb = c
		}
		cfg := *defaults
		cfg.WorkerClass = class
		return &cli.Env{
			Store:         store.New(rdb),
			Class:         class,
			WorkerURL:     cfg.WorkerURL(),
			WorkerVersion: cfg.WorkerVersion,
		}, nil
	}

	archiveFn := func(ctx context.Context) (cli.ArchiveLister, error) {
		if pool == nil {
			p, err := repo.NewPool(ctx, dbURL)
			if err != nil {
				return nil, err
			}
			pool = p
		}
		return repo.NewResponseRepo(pool), nil
	}

	logger := telemetry.NewLogger(os.Stderr, telemetry.LogLevel(), "text")

	rootCmd.AddCommand(cli.NewCommands(envFn, outputFn)...)
	rootCmd.AddCommand(
		cli.NewEncryptSecretCmd(outputFn),
		cli.NewWatchArchivedCmd(&amqpURL, logger, outputFn),
		cli.NewShowArchivedCmd(archiveFn, outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	cancel()
	if rdb != nil {
		rdb.Close()
	}
	if pool != nil {
		pool.Close()
	}
	if err != nil {
		outputFn().Error(err.Error())
		os.Exit(1)
	}
}
