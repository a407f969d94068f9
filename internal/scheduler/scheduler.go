package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Trimmer — обрезка stream'а без потери неархивированных записей.
// Реализация: *store.Store.
type Trimmer interface {
	TrimArchived(ctx context.Context, stream, group string, maxLen int64) (int64, error)
}

// Scheduler по расписанию обрезает streams до MaxLen записей.
//
// Response streams растут с каждым ответом. Удаляются только записи,
// уже подтверждённые группой Group, так что архив ничего не теряет.
type Scheduler struct {
	trimmer  Trimmer
	group    string
	streams  []string
	maxLen   int64
	schedule string
	logger   *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	Trimmer  Trimmer
	Group    string // consumer group архиватора
	Streams  []string
	MaxLen   int64
	Schedule string // cron-выражение, например "*/5 * * * *"
	Logger   *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Trimmer == nil {
		return nil, fmt.Errorf("scheduler: trimmer is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("scheduler: group is required")
	}
	if cfg.MaxLen <= 0 {
		return nil, fmt.Errorf("scheduler: max len must be positive: %d", cfg.MaxLen)
	}
	if err := ValidateCronExpr(cfg.Schedule); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		trimmer:  cfg.Trimmer,
		group:    cfg.Group,
		streams:  cfg.Streams,
		maxLen:   cfg.MaxLen,
		schedule: cfg.Schedule,
		logger:   logger.With("component", "trim-scheduler"),
	}, nil
}

// Tick обрезает все streams один раз.
// Ошибка одного stream'а не блокирует обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	var (
		removed int64
		failed  int
	)
	for _, stream := range s.streams {
		n, err := s.trimmer.TrimArchived(ctx, stream, s.group, s.maxLen)
		if err != nil {
			s.logger.Error("failed to trim stream", "stream", stream, "error", err)
			failed++
			continue
		}
		removed += n
	}

	s.logger.Info("trim tick completed",
		"streams", len(s.streams),
		"removed", removed,
		"failed", failed,
	)

	if failed > 0 {
		return fmt.Errorf("trim failed for %d of %d streams", failed, len(s.streams))
	}
	return nil
}

// Run запускает Tick по расписанию до отмены ctx.
// Дожидается завершения текущего Tick перед возвратом.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(s.schedule, func() {
		if err := s.Tick(ctx); err != nil {
			s.logger.Warn("trim tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule trim: %w", err)
	}

	next, _ := NextRun(s.schedule, time.Now())
	s.logger.Info("trim scheduler started", "schedule", s.schedule, "max_len", s.maxLen, "next_run", next)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("trim scheduler stopped")
	return nil
}
