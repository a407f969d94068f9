package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// process обрабатывает одно сообщение и доставляет ответ.
// Возвращает ошибку только если цикл должен остановиться.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	received := w.now()
	w.setState(StateProcessing)

	// 1. Запрос без ref: ответ доставить некуда
	if msg.Ref == "" {
		return w.handleMissingRef(ctx, msg)
	}

	logger := telemetry.WithRef(w.logger, msg.Ref)
	logger.Debug("received request", "id", msg.ID.String(), "type", msg.Type)

	// 2. Тип запроса должен совпадать с типом worker'а
	var result domain.Result
	workerURL := msg.Payload[domain.FieldWorkerURL]
	switch {
	case msg.Type != w.workerType:
		logger.Warn("request type mismatch", "type", msg.Type, "worker_type", w.workerType)
		if _, err := w.store.IncrementCounter(ctx, w.identity.Key, domain.CounterTypeMismatch); err != nil {
			return fmt.Errorf("increment %s: %w", domain.CounterTypeMismatch, err)
		}
		w.requestError(telemetry.ReasonTypeMismatch)
		result = domain.Rejected(msg.Ref, fmt.Sprintf("expecting type %q, got %q", w.workerType, msg.Type))

	// 3. workerUrl запроса должен попадать под разрешённый префикс
	case w.urlPrefix != "" && !strings.HasPrefix(workerURL, w.urlPrefix):
		logger.Warn("request workerUrl not allowed", "worker_url", workerURL, "allow_prefix", w.urlPrefix)
		if _, err := w.store.IncrementCounter(ctx, w.identity.Key, domain.CounterWorkerURL); err != nil {
			return fmt.Errorf("increment %s: %w", domain.CounterWorkerURL, err)
		}
		w.requestError(telemetry.ReasonWorkerURL)
		result = domain.Rejected(msg.Ref, fmt.Sprintf("workerUrl %q does not start with %q", workerURL, w.urlPrefix))

	default:
		// 4. Бизнес-логика
		data, err := invoke(telemetry.WithLogger(ctx, logger), w.handler, msg.Payload)
		if err != nil {
			logger.Warn("handler failed", "error", err)
			w.requestError(telemetry.ReasonHandler)
			result = domain.Failure(msg.Ref, err, msg.Payload)
		} else {
			result = domain.Success(msg.Ref, data)
		}
	}

	// 5. Доставка ответа
	w.setState(StateResponding)
	if err := w.respond(ctx, msg, result, received); err != nil {
		return err
	}

	elapsed := w.now().Sub(received)
	if w.metrics != nil {
		w.metrics.ObserveRequest(w.workerType, result.Code, elapsed)
	}
	logger.Info("processed", "code", result.Code, "duration_ms", elapsed.Milliseconds())
	return nil
}

// respond записывает ответ во все проекции одной транзакцией.
func (w *Worker) respond(ctx context.Context, msg *domain.Message, result domain.Result, received time.Time) error {
	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", msg.Ref, err)
	}

	d := &domain.Delivery{
		Ref:            msg.Ref,
		WorkerType:     w.workerType,
		MessageID:      msg.ID,
		Result:         result,
		Trace:          domain.NewTrace(received, w.now(), res),
		TTL:            w.replyTTL,
		ResponseStream: w.identity.ResponseStream,
	}
	if w.ackMode == AckOnRespond {
		d.AckStream = w.identity.RequestStream
		d.AckGroup = w.group
	}

	if err := w.store.Deliver(ctx, d); err != nil {
		return fmt.Errorf("deliver response: %w", err)
	}
	return nil
}

// handleMissingRef применяет MissingRefPolicy.
func (w *Worker) handleMissingRef(ctx context.Context, msg *domain.Message) error {
	w.requestError(telemetry.ReasonMissingRef)

	if w.missingRefPolicy == MissingRefFail {
		w.logger.Error("request without ref", "id", msg.ID.String(), "type", msg.Type)
		return fmt.Errorf("%w: %s", ErrMissingRef, msg.ID)
	}

	n, err := w.store.IncrementCounter(ctx, w.identity.Key, domain.CounterMissingRef)
	if err != nil {
		return fmt.Errorf("increment %s: %w", domain.CounterMissingRef, err)
	}
	w.logger.Warn("skipping request without ref", "id", msg.ID.String(), "count", n)

	if w.ackMode == AckOnRespond {
		if err := w.store.Ack(ctx, w.identity.RequestStream, w.group, msg.ID.String()); err != nil {
			return fmt.Errorf("ack %s: %w", msg.ID, err)
		}
	}
	return nil
}

func (w *Worker) requestError(reason string) {
	if w.metrics != nil {
		w.metrics.RequestError(w.workerType, reason)
	}
}
