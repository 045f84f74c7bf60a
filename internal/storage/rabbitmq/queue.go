package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	repo "github.com/alarmdispatch/core/internal/domain/repository"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Ensure AlarmQueue implements the repository interface at compile time.
var _ repo.Queue = (*AlarmQueue)(nil)

// Constants for the RabbitMQ topology. The wait/retry exchanges
// dead-letter back onto the main alarms exchange once their per-message
// TTL expires — the same delay-via-dead-lettering trick the teacher's
// notifications topology used, generalized from a single wait lane to a
// wait lane (paused-requeue) plus a retry lane (transient failures).
const (
	AlarmsExchange = "alarms.exchange"
	WaitExchange   = "alarms.wait.exchange"
	RetryExchange  = "alarms.retry.exchange"

	AlarmsQueue = "alarms.queue.process"
	WaitQueue   = "alarms.wait.queue.paused"
	RetryQueue  = "alarms.retry.queue.transient"

	Direct = "direct"
)

// AlarmQueue implements repo.Queue. It acts as a PUBLISHER, using the
// low-level amqp091-go library directly for reliability.
type AlarmQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger zerolog.Logger
}

// NewAlarmQueue creates a new AlarmQueue publisher, opening its own
// channel on the shared connection and declaring the topology.
func NewAlarmQueue(conn *amqp.Connection, logger *zerolog.Logger) (*AlarmQueue, error) {
	channel, err := conn.Channel()
	if err != nil {
		logger.Error().Err(err).Msg("storage: rabbitmq: failed to open a channel")
		return nil, fmt.Errorf("storage: rabbitmq: failed to open a channel: %w", err)
	}

	q := &AlarmQueue{
		conn:   conn,
		ch:     channel,
		logger: logger.With().Str("component", "alarm_queue_publisher").Logger(),
	}

	if err := q.setupTopology(); err != nil {
		q.logger.Error().Err(err).Msg("storage: rabbitmq: failed to setup topology")
		return nil, fmt.Errorf("storage: rabbitmq: failed to setup topology: %w", err)
	}

	return q, nil
}

// setupTopology declares all necessary exchanges and queues. Declarations
// are idempotent, so this is safe to re-run on every reconnect.
func (q *AlarmQueue) setupTopology() error {
	q.logger.Info().Msg("setting up rabbitmq topology")

	exchangesToDeclare := []struct {
		name string
		kind string
	}{
		{AlarmsExchange, Direct},
		{WaitExchange, Direct},
		{RetryExchange, Direct},
	}
	for _, exInfo := range exchangesToDeclare {
		if err := q.ch.ExchangeDeclare(exInfo.name, exInfo.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exInfo.name, err)
		}
	}

	if _, err := q.ch.QueueDeclare(AlarmsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", AlarmsQueue, err)
	}
	waitQueueArgs := amqp.Table{"x-dead-letter-exchange": AlarmsExchange}
	if _, err := q.ch.QueueDeclare(WaitQueue, true, false, false, false, waitQueueArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", WaitQueue, err)
	}
	retryQueueArgs := amqp.Table{"x-dead-letter-exchange": AlarmsExchange}
	if _, err := q.ch.QueueDeclare(RetryQueue, true, false, false, false, retryQueueArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", RetryQueue, err)
	}

	if err := q.ch.QueueBind(AlarmsQueue, "", AlarmsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to exchange %s: %w", AlarmsQueue, AlarmsExchange, err)
	}
	if err := q.ch.QueueBind(WaitQueue, "", WaitExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to exchange %s: %w", WaitQueue, WaitExchange, err)
	}
	if err := q.ch.QueueBind(RetryQueue, "", RetryExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s to exchange %s: %w", RetryQueue, RetryExchange, err)
	}

	q.logger.Info().Msg("rabbitmq topology setup successful")
	return nil
}

// PublishDelayed republishes a message on the wait lane so it reappears
// on the main alarms queue after delay elapses — used to requeue a
// message gated behind a system-wide pause, up to the configured soft
// cap on total delay.
func (q *AlarmQueue) PublishDelayed(ctx context.Context, payload []byte, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
	}
	return q.ch.PublishWithContext(ctx, WaitExchange, "", false, false, msg)
}

// PublishRetry republishes a transiently-failed message on the retry
// lane, carrying the attempt count in a header so the consumer can
// escalate to the dead-letter store once the attempt ceiling is hit.
func (q *AlarmQueue) PublishRetry(ctx context.Context, payload []byte, delay time.Duration, attempt int) error {
	if delay < 0 {
		delay = 0
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers:      amqp.Table{"x-attempt": attempt},
	}
	return q.ch.PublishWithContext(ctx, RetryExchange, "", false, false, msg)
}

// Close gracefully shuts down the publisher channel. The connection
// itself is managed by fx.
func (q *AlarmQueue) Close() error {
	if q.ch != nil {
		return q.ch.Close()
	}
	return nil
}
