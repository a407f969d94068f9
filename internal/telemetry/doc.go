// Package telemetry обеспечивает наблюдаемость worker'а и архиватора.
//
// Включает:
//   - logging.go — structured logging через slog (stderr, LOG_LEVEL, LOG_FORMAT)
//   - metrics.go — Prometheus метрики запросов и архивации
//
// Логгер с ref запроса передаётся обработчику через контекст (WithLogger/FromContext).
// Метрики отдаются на /metrics, проверка живости — на /healthz.
package telemetry
