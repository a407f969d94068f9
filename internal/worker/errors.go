package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoHandler — не задан обработчик запросов.
	ErrNoHandler = errors.New("handler is required")

	// ErrMissingRef — запрос без поля ref при политике MissingRefFail.
	ErrMissingRef = errors.New("request without ref")

	// ErrHandlerPanic — обработчик запаниковал; запрос получает code=500.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrUnknownAckMode — неизвестное значение ack mode.
	ErrUnknownAckMode = errors.New("unknown ack mode")

	// ErrUnknownMissingRefPolicy — неизвестное значение политики для запросов без ref.
	ErrUnknownMissingRefPolicy = errors.New("unknown missing ref policy")
)
