package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ArchiveLister — чтение архива ответов. Реализация: *repo.ResponseRepo.
type ArchiveLister interface {
	ListByRef(ctx context.Context, ref string) ([]domain.ResponseEntry, error)
}

// ArchiveFunc лениво открывает архив (PostgreSQL нужен только этой команде).
type ArchiveFunc func(ctx context.Context) (ArchiveLister, error)

// NewShowArchivedCmd показывает заархивированные ответы на REF.
func NewShowArchivedCmd(archiveFn ArchiveFunc, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show-archived REF",
		Short: "Show archived responses for a ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := archiveFn(cmd.Context())
			if err != nil {
				return err
			}

			out := outputFn()
			entries, err := archive.ListByRef(cmd.Context(), args[0])
			if errors.Is(err, repo.ErrNotFound) {
				out.Warn("Not archived:", args[0])
				return err
			}
			if err != nil {
				return err
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					e.Stream,
					e.ID,
					e.Type,
					strconv.Itoa(e.Code),
					e.CreatedAt.Format(time.DateTime),
					e.Result,
				}
			}
			out.Print([]string{"STREAM", "ID", "TYPE", "CODE", "CREATED", "RES"}, rows, entries)
			return nil
		},
	}
}

// NewWatchArchivedCmd печатает события response.archived, пока команду не прервут.
func NewWatchArchivedCmd(amqpURL *string, logger *slog.Logger, outputFn OutputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "watch-archived",
		Short: "Print response.archived events from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := mq.NewConnection(*amqpURL, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := mq.SetupTopology(cmd.Context(), conn); err != nil {
				return err
			}

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue:   mq.QueueResponsesArchived,
				Handler: PrintArchived(outputFn()),
			})

			err = consumer.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// PrintArchived возвращает mq.Handler, выводящий событие строкой таблицы или JSON.
func PrintArchived(out *Output) mq.Handler {
	return func(_ context.Context, msg *mq.Message) error {
		p, err := mq.ParsePayload[mq.ResponseArchivedPayload](msg)
		if err != nil {
			return err
		}
		if out.jsonMode {
			out.JSON(p)
			return nil
		}
		out.Line(fmt.Sprintf("%s  %s  %s  ref=%s  code=%d",
			msg.Timestamp.Format("15:04:05"), p.Stream, p.StreamID, p.Ref, p.Code))
		return nil
	}
}
