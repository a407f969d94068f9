package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeResponses Exchange = "conveyor.responses"
	ExchangeDLQ       Exchange = "conveyor.dlq"
)

const (
	QueueResponsesArchived Queue = "responses.archived"
	QueueDLQResponses      Queue = "dlq.responses"
)

const (
	RoutingKeyArchived     RoutingKey = "archived"
	RoutingKeyDLQResponses RoutingKey = "responses"
)

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeResponses, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		queues := []struct {
			name Queue
			args amqp.Table
		}{
			// Сообщения, которые подписчик не смог обработать, уходят в DLQ
			{QueueResponsesArchived, amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQResponses),
			}},
			{QueueDLQResponses, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct {
			queue      Queue
			routingKey RoutingKey
			exchange   Exchange
		}{
			{QueueResponsesArchived, RoutingKeyArchived, ExchangeResponses},
			{QueueDLQResponses, RoutingKeyDLQResponses, ExchangeDLQ},
		}
		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.responses (direct)
    └── responses.archived [routing: archived]
            Producer: conveyor-archiver
            Consumer: conveyor-cli watch-archived
            DLQ: dlq.responses

    conveyor.dlq (direct)
    └── dlq.responses [routing: responses]
            Manual processing
  `
}
