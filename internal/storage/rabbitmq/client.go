package rabbitmq

import (
	"fmt"

	"github.com/alarmdispatch/core/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// NewConnection creates and returns a raw amqp.Connection.
// This single connection is shared across the application; the consumer
// opens its own per-worker channels from it (spec §5: DB pool and
// channels are shared but bounded resources).
func NewConnection(cfg *config.Config) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: failed to connect: %w", err)
	}
	return conn, nil
}
