package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// DefaultGroup — consumer group архиватора на response streams.
const DefaultGroup = "archive"

// Source — чтение response streams через consumer group. Реализация: *store.Store.
type Source interface {
	CreateGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]store.Entry, error)
	ReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]store.Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// Sink — архив. Реализация: *repo.ResponseRepo.
type Sink interface {
	Insert(ctx context.Context, e *domain.ResponseEntry) (bool, error)
}

// Notifier — публикация события об архивации. Реализация: *mq.Publisher.
type Notifier interface {
	PublishResponseArchived(ctx context.Context, payload mq.ResponseArchivedPayload) error
}

// Archiver переносит записи response streams в постоянный архив.
//
// Запись подтверждается (XACK) только после успешной вставки в архив.
// Если вставка не удалась, запись остаётся в pending entries list и
// перечитывается при следующем старте.
type Archiver struct {
	source   Source
	sink     Sink
	notifier Notifier
	streams  []string
	group    string
	consumer string
	batch    int64
	block    time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// Config — конфигурация Archiver.
type Config struct {
	Source   Source
	Sink     Sink
	Notifier Notifier // опционально
	Streams  []string
	Group    string // default: "archive"
	Consumer string
	Batch    int           // default: 50
	Block    time.Duration // default: 2s
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// New создаёт новый Archiver.
func New(cfg Config) (*Archiver, error) {
	if cfg.Source == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("archiver: source and sink are required")
	}
	if len(cfg.Streams) == 0 {
		return nil, fmt.Errorf("archiver: no streams")
	}
	if cfg.Consumer == "" {
		return nil, fmt.Errorf("archiver: consumer is required")
	}

	a := &Archiver{
		source:   cfg.Source,
		sink:     cfg.Sink,
		notifier: cfg.Notifier,
		streams:  cfg.Streams,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		batch:    int64(cfg.Batch),
		block:    cfg.Block,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if a.group == "" {
		a.group = DefaultGroup
	}
	if a.batch <= 0 {
		a.batch = 50
	}
	if a.block <= 0 {
		a.block = 2 * time.Second
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Setup создаёт consumer group на каждом stream'е. Существующая группа — не ошибка.
func (a *Archiver) Setup(ctx context.Context) error {
	for _, stream := range a.streams {
		err := a.source.CreateGroup(ctx, stream, a.group)
		if err != nil && !errors.Is(err, store.ErrGroupExists) {
			return err
		}
	}
	return nil
}

// Run архивирует все streams до отмены ctx. Каждый stream читается своей горутиной.
// Возвращает первую инфраструктурную ошибку чтения.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.Setup(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, stream := range a.streams {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			if err := a.runStream(ctx, stream); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(stream)
	}
	wg.Wait()
	return firstErr
}

// runStream сначала дорабатывает свои pending записи, затем читает новые.
func (a *Archiver) runStream(ctx context.Context, stream string) error {
	logger := telemetry.WithStream(a.logger, stream)
	logger.Info("archiving stream", "group", a.group, "consumer", a.consumer)

	for {
		pending, err := a.source.ReadPending(ctx, stream, a.group, a.consumer, a.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(pending) == 0 {
			break
		}
		logger.Info("re-archiving pending entries", "count", len(pending))
		if a.ArchiveBatch(ctx, stream, pending) == 0 {
			// Ни одна запись не прошла: архив недоступен, не крутимся впустую
			break
		}
	}

	for ctx.Err() == nil {
		entries, err := a.source.ReadGroup(ctx, stream, a.group, a.consumer, a.batch, a.block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a.ArchiveBatch(ctx, stream, entries)
	}
	return nil
}

// ArchiveBatch сохраняет записи и подтверждает успешно сохранённые.
// Возвращает число подтверждённых записей.
func (a *Archiver) ArchiveBatch(ctx context.Context, stream string, entries []store.Entry) int {
	if len(entries) == 0 {
		return 0
	}
	logger := telemetry.WithStream(a.logger, stream)

	acked := make([]string, 0, len(entries))
	inserted := 0
	for _, raw := range entries {
		entry, err := ParseEntry(stream, raw)
		if err != nil {
			// Такая запись никогда не станет валидной: подтверждаем и забываем
			logger.Warn("dropping malformed response entry", "id", raw.ID, "error", err)
			acked = append(acked, raw.ID)
			continue
		}

		created, err := a.sink.Insert(ctx, entry)
		if err != nil {
			logger.Error("failed to archive entry", "id", raw.ID, "ref", entry.Ref, "error", err)
			continue
		}
		acked = append(acked, raw.ID)
		if !created {
			logger.Debug("entry already archived", "id", raw.ID)
			continue
		}
		inserted++
		a.notify(ctx, logger, entry)
	}

	if err := a.source.Ack(ctx, stream, a.group, acked...); err != nil {
		logger.Error("failed to ack archived entries", "count", len(acked), "error", err)
		return 0
	}
	if a.metrics != nil && inserted > 0 {
		a.metrics.Archived(stream, inserted)
	}
	logger.Debug("batch archived", "read", len(entries), "inserted", inserted, "acked", len(acked))
	return len(acked)
}

// notify публикует событие. Ошибка публикации не отменяет архивацию.
func (a *Archiver) notify(ctx context.Context, logger *slog.Logger, e *domain.ResponseEntry) {
	if a.notifier == nil {
		return
	}
	err := a.notifier.PublishResponseArchived(ctx, mq.ResponseArchivedPayload{
		Stream:     e.Stream,
		StreamID:   e.ID,
		Ref:        e.Ref,
		WorkerType: e.Type,
		Code:       e.Code,
	})
	if err != nil {
		logger.Warn("failed to publish archived event", "ref", e.Ref, "error", err)
	}
}

// ParseEntry разбирает запись response stream.
// Время создания берётся из id записи.
func ParseEntry(stream string, raw store.Entry) (*domain.ResponseEntry, error) {
	id, err := domain.ParseStreamID(raw.ID)
	if err != nil {
		return nil, err
	}

	ref := raw.Fields[domain.FieldRef]
	if ref == "" {
		return nil, fmt.Errorf("entry %s: missing %s", raw.ID, domain.FieldRef)
	}
	res := raw.Fields[domain.FieldResponseRes]
	if res == "" {
		return nil, fmt.Errorf("entry %s: missing %s", raw.ID, domain.FieldResponseRes)
	}
	code, err := strconv.Atoi(raw.Fields[domain.FieldResponseCode])
	if err != nil {
		return nil, fmt.Errorf("entry %s: invalid %s: %w", raw.ID, domain.FieldResponseCode, err)
	}

	return &domain.ResponseEntry{
		Stream:    stream,
		ID:        raw.ID,
		Ref:       ref,
		Type:      raw.Fields[domain.FieldType],
		RequestID: raw.Fields[domain.FieldResponseXID],
		Code:      code,
		Result:    res,
		CreatedAt: time.UnixMilli(int64(id.UnixMs)).UTC(),
	}, nil
}
