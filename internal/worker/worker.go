package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultBlockTimeout   = 2 * time.Second
	defaultReplyTTL       = 8 * time.Second
	defaultReleaseTimeout = 2 * time.Second
)

// Store — операции coordination store, которые нужны циклу.
// Реализация: *store.Store.
type Store interface {
	Claim(ctx context.Context, key, token string) error
	VerifyOwner(ctx context.Context, key, token string) error
	Release(ctx context.Context, key, token string) error
	IncrementCounter(ctx context.Context, key, field string) (int64, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	DequeueOne(ctx context.Context, stream, group, consumer string, block time.Duration, noAck bool) (*domain.Message, error)
	Deliver(ctx context.Context, d *domain.Delivery) error
}

// Worker — цикл обработки запросов одного экземпляра worker'а.
//
// Один экземпляр = одна worker identity = один consumer в группе "worker".
// Внутри экземпляра нет конкурентности: за раз обрабатывается одно сообщение.
// Несколько экземпляров делят один request stream через consumer group.
type Worker struct {
	store    Store
	identity *domain.WorkerIdentity
	handler  Handler

	workerType       string
	token            string
	group            string
	blockTimeout     time.Duration
	replyTTL         time.Duration
	ackMode          AckMode
	missingRefPolicy MissingRefPolicy
	urlPrefix        string

	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	state        State
	requestCount int
}

// Config — конфигурация Worker.
type Config struct {
	// Store — coordination store.
	Store Store

	// Identity — worker identity, прочитанная при старте.
	Identity *domain.WorkerIdentity

	// WorkerType — объявленный тип worker'а.
	WorkerType string

	// Handler — бизнес-логика.
	Handler Handler

	// Token — значение поля pid для захвата (default: pid процесса).
	Token string

	// Group — consumer group (default: "worker").
	Group string

	BlockTimeout time.Duration // ожидание XREADGROUP (default: 2s)
	ReplyTTL     time.Duration // TTL res:{ref} (default: 8s)

	AckMode          AckMode          // default: AckOnRespond
	MissingRefPolicy MissingRefPolicy // default: MissingRefCount

	// WorkerURLPrefix — если задан, поле workerUrl запроса должно начинаться с него,
	// иначе запрос отклоняется с code=400 и счётчиком err:workerUrl.
	WorkerURLPrefix string

	// Metrics — опционально.
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: store is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("worker: identity is required")
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if cfg.WorkerType == "" {
		return nil, fmt.Errorf("worker: worker type is required")
	}
	if cfg.Handler == nil {
		return nil, ErrNoHandler
	}

	token := cfg.Token
	if token == "" {
		token = domain.ProcessToken(os.Getpid())
	}

	group := cfg.Group
	if group == "" {
		group = domain.DefaultGroup
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	replyTTL := cfg.ReplyTTL
	if replyTTL <= 0 {
		replyTTL = defaultReplyTTL
	}

	ackMode := cfg.AckMode
	if ackMode == "" {
		ackMode = AckOnRespond
	}

	missingRef := cfg.MissingRefPolicy
	if missingRef == "" {
		missingRef = MissingRefCount
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		store:            cfg.Store,
		identity:         cfg.Identity,
		handler:          cfg.Handler,
		workerType:       cfg.WorkerType,
		token:            token,
		group:            group,
		blockTimeout:     blockTimeout,
		replyTTL:         replyTTL,
		ackMode:          ackMode,
		missingRefPolicy: missingRef,
		urlPrefix:        cfg.WorkerURLPrefix,
		metrics:          cfg.Metrics,
		logger:           telemetry.WithConsumer(logger, cfg.Identity.Key, cfg.Identity.ConsumerID),
		now:              now,
		state:            StateClaiming,
	}, nil
}

// Run захватывает identity и обрабатывает запросы до одного из событий:
//   - достигнут requestLimit — возвращает nil
//   - ctx отменён — возвращает nil после текущей итерации
//   - фатальная ошибка (захват, отзыв владения, протокол, соединение) — возвращает её
//
// Ошибки бизнес-логики не фатальны: они уходят вызывающей стороне как code=500.
func (w *Worker) Run(ctx context.Context) (err error) {
	w.logger.Info("starting worker",
		"worker_type", w.workerType,
		"request_stream", w.identity.RequestStream,
		"response_stream", w.identity.ResponseStream,
		"request_limit", w.identity.RequestLimit,
		"ack_mode", w.ackMode,
		"missing_ref_policy", w.missingRefPolicy,
	)

	if err := w.store.Claim(ctx, w.identity.Key, w.token); err != nil {
		w.setState(StateFatal)
		return fmt.Errorf("claim identity: %w", err)
	}
	w.logger.Info("identity claimed", "pid", w.token)

	defer func() {
		if err != nil {
			w.setState(StateFatal)
		} else {
			w.setState(StateTerminated)
		}
		w.release()
	}()

	limit := w.identity.RequestLimit
	for limit == 0 || w.requestCount < limit {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping", "reason", ctx.Err(), "requests", w.requestCount)
			return nil
		}

		w.setState(StatePolling)
		if err := w.store.VerifyOwner(ctx, w.identity.Key, w.token); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, store.ErrOwnershipRevoked) {
				return fmt.Errorf("aborting because 'pid' field removed/changed: %w", err)
			}
			return fmt.Errorf("verify owner: %w", err)
		}

		msg, err := w.store.DequeueOne(ctx, w.identity.RequestStream, w.group, w.identity.ConsumerID,
			w.blockTimeout, w.ackMode == AckOnDequeue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		if msg == nil {
			if w.metrics != nil {
				w.metrics.DequeueTimeout(w.workerType)
			}
			continue
		}

		// Полученное сообщение дорабатывается до конца: отмена ctx
		// останавливает цикл только на границе итерации.
		w.requestCount++
		if err := w.process(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
	}

	w.logger.Info("request limit reached", "requests", w.requestCount)
	return nil
}

// RequestCount возвращает число полученных сообщений.
func (w *Worker) RequestCount() int {
	return w.requestCount
}

// State возвращает текущее состояние цикла.
func (w *Worker) State() State {
	return w.state
}

// release освобождает identity, если она всё ещё наша.
// Вызывается с отдельным контекстом: ctx цикла к этому моменту может быть отменён.
func (w *Worker) release() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultReleaseTimeout)
	defer cancel()

	if err := w.store.Release(ctx, w.identity.Key, w.token); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		w.logger.Warn("failed to release identity", "error", err)
		return
	}
	w.logger.Debug("identity released")
}

func (w *Worker) setState(s State) {
	if w.state == s {
		return
	}
	w.logger.Debug("state changed", "from", w.state, "to", s)
	w.state = s
}
