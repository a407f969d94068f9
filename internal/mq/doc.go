// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий
//   - consumer.go   — потребление событий
//
// Типы сообщений:
//   - response.archived — запись response stream сохранена в архив
//
// Exchanges:
//   - conveyor.responses — события архиватора
//   - conveyor.dlq       — dead letter queue
//
// RabbitMQ не участвует в обработке запросов: это канал уведомлений
// для внешних подписчиков. Архиватор работает и без него.
package mq
