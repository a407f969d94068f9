package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Handler — бизнес-логика worker'а.
//
// Получает payload запроса (поля записи без ref и type) и возвращает
// поля результата. Ошибка не фатальна для цикла: вызывающая сторона
// получит code=500 с текстом ошибки и исходным payload.
//
// Логгер с ref запроса доступен через telemetry.FromContext(ctx).
type Handler interface {
	Handle(ctx context.Context, payload map[string]string) (map[string]any, error)
}

// HandlerFunc — адаптер функции к Handler.
type HandlerFunc func(ctx context.Context, payload map[string]string) (map[string]any, error)

// Handle вызывает f(ctx, payload).
func (f HandlerFunc) Handle(ctx context.Context, payload map[string]string) (map[string]any, error) {
	return f(ctx, payload)
}

// EchoHandler — демонстрационный обработчик: возвращает payload запроса
// вместе с описанием worker'а.
type EchoHandler struct {
	WorkerType string
	WorkerKey  string
	ConsumerID string
}

// Handle реализует Handler.
func (h EchoHandler) Handle(ctx context.Context, payload map[string]string) (map[string]any, error) {
	telemetry.FromContext(ctx).Debug("echo request", "fields", len(payload))

	return map[string]any{
		"type": h.WorkerType + "-res",
		"worker": map[string]any{
			"key":        h.WorkerKey,
			"consumerId": h.ConsumerID,
		},
		"request": map[string]any{
			"payload": payload,
		},
	}, nil
}

// invoke вызывает handler, превращая панику в ошибку.
func invoke(ctx context.Context, h Handler, payload map[string]string) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.FromContext(ctx).Error("handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, payload)
}
