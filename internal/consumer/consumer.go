// Package consumer drains the alarms queue with a pool of worker
// goroutines, generalized from the teacher's NotificationService worker
// pool into this domain's pause-gate / retry-lane / dead-letter flow
// (spec §5).
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/processor"
	"github.com/alarmdispatch/core/internal/storage/rabbitmq"
	"github.com/alarmdispatch/core/internal/syscontrol"
	"github.com/alarmdispatch/core/internal/wire"
	"github.com/jpillora/backoff"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const defaultWorkerCount = 5

// unknownChannel tags dead letters raised above the per-channel fan-out,
// where no single channel is at fault (malformed payload, alarm reload
// failure).
const unknownChannel = model.Channel("unknown")

// Consumer listens to the alarms queue and fans deliveries out to a pool
// of worker goroutines, each holding its own channel on the shared
// connection.
type Consumer struct {
	cfg         *config.Config
	logger      zerolog.Logger
	conn        *amqp.Connection
	dispatcher  processor.Dispatcher
	queue       repo.Queue
	dlq         processor.DLQWriter
	state       *syscontrol.Manager
	workerCount int
}

func New(
	cfg *config.Config,
	logger *zerolog.Logger,
	conn *amqp.Connection,
	dispatcher processor.Dispatcher,
	queue repo.Queue,
	dlq processor.DLQWriter,
	state *syscontrol.Manager,
) *Consumer {
	return &Consumer{
		cfg:         cfg,
		logger:      logger.With().Str("component", "consumer").Logger(),
		conn:        conn,
		dispatcher:  dispatcher,
		queue:       queue,
		dlq:         dlq,
		state:       state,
		workerCount: defaultWorkerCount,
	}
}

// Start launches the worker pool. It blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info().Int("count", c.workerCount).Msg("starting worker pool")
	var wg sync.WaitGroup
	for i := 0; i < c.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(ctx, workerID)
		}(i + 1)
	}
	wg.Wait()
	c.logger.Info().Msg("consumer stopped")
}

// runWorker owns one reconnect loop: it consumes until the channel or
// connection drops, then backs off and re-declares the topology before
// trying again, per spec §5's graceful-shutdown/reconnect note.
func (c *Consumer) runWorker(ctx context.Context, workerID int) {
	logger := c.logger.With().Int("worker_id", workerID).Logger()
	b := &backoff.Backoff{
		Min:    c.cfg.Bus.ReconnectBaseDelay,
		Max:    c.cfg.Bus.ReconnectMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	for ctx.Err() == nil {
		err := c.consumeUntilClosed(ctx, workerID, logger)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			delay := b.Duration()
			logger.Warn().Err(err).Dur("backoff", delay).Msg("consumer channel lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()
	}
}

// consumeUntilClosed opens a fresh channel, re-declares the topology
// (idempotent), and serves deliveries until the channel closes or ctx is
// cancelled. A non-nil error means the channel died and the caller
// should reconnect; nil means ctx was cancelled (clean shutdown).
func (c *Consumer) consumeUntilClosed(ctx context.Context, workerID int, logger zerolog.Logger) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Bus.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(rabbitmq.AlarmsQueue, fmt.Sprintf("worker-%d", workerID), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	logger.Info().Msg("worker is waiting for messages")
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return fmt.Errorf("channel closed")
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed by broker")
			}
			c.handleMessage(ctx, msg, logger)
		}
	}
}

// handleMessage implements the per-delivery decision tree: malformed
// payloads go straight to the dead-letter store (never silently
// dropped); a system-wide pause requeues via the wait lane; everything
// else is handed to the processor, with whole-message failures retried
// via the retry lane up to the configured delivery ceiling.
func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
	var payload wire.AlarmPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Error().Err(err).Msg("malformed payload, routing to dead-letter store")
		c.deadLetter(ctx, 0, "", unknownChannel, msg.Body, err, "malformed_payload")
		_ = msg.Ack(false)
		return
	}

	log := logger.With().Int64("alarm_id", payload.AlarmID).Logger()

	if c.state.Current(ctx).Paused {
		c.requeuePaused(ctx, msg, payload, log)
		return
	}

	alarm := payload.ToAlarm()
	log.Info().Int("attempt", attemptOf(msg)+1).Msg("processing alarm")

	if err := c.dispatcher.Process(ctx, alarm); err != nil {
		c.handleProcessError(ctx, msg, payload, err, log)
		return
	}

	_ = msg.Ack(false)
}

// requeuePaused republishes onto the wait lane so the alarm reappears
// once the per-message TTL elapses. Past the soft cap on requeue count,
// the gate is treated as advisory rather than a hard block: the message
// is handed to the processor anyway so a stuck pause flag cannot starve
// a message indefinitely.
func (c *Consumer) requeuePaused(ctx context.Context, msg amqp.Delivery, payload wire.AlarmPayload, log zerolog.Logger) {
	if payload.PausedRequeues >= c.cfg.Bus.PausedRequeueSoftCap {
		log.Warn().Int("requeues", payload.PausedRequeues).Msg("paused requeue soft cap reached, dispatching anyway")
		if err := c.dispatcher.Process(ctx, payload.ToAlarm()); err != nil {
			c.handleProcessError(ctx, msg, payload, err, log)
			return
		}
		_ = msg.Ack(false)
		return
	}

	payload.PausedRequeues++
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to re-marshal paused alarm, nacking for redelivery")
		_ = msg.Nack(false, true)
		return
	}

	if err := c.queue.PublishDelayed(ctx, body, c.cfg.Bus.PausedRequeueDelay); err != nil {
		log.Error().Err(err).Msg("failed to republish paused alarm, nacking for redelivery")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// handleProcessError retries whole-message failures (e.g. the alarm
// could not be reloaded) via the retry lane, escalating to the
// dead-letter store once max_delivery_attempts is exhausted.
func (c *Consumer) handleProcessError(ctx context.Context, msg amqp.Delivery, payload wire.AlarmPayload, procErr error, log zerolog.Logger) {
	attempt := attemptOf(msg) + 1
	if attempt >= c.cfg.Bus.MaxDeliveryAttempts {
		log.Error().Err(procErr).Int("attempts", attempt).Msg("max delivery attempts reached, routing to dead-letter store")
		c.deadLetter(ctx, payload.AlarmID, payload.IMEI, unknownChannel, msg.Body, procErr, "delivery_exhausted")
		_ = msg.Ack(false)
		return
	}

	delay := exponentialBackoff(attempt)
	log.Warn().Err(procErr).Int("attempt", attempt).Dur("backoff", delay).Msg("processing failed, scheduling retry")
	if err := c.queue.PublishRetry(ctx, msg.Body, delay, attempt); err != nil {
		log.Error().Err(err).Msg("failed to publish to retry lane, nacking for redelivery")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

func (c *Consumer) deadLetter(ctx context.Context, alarmID int64, imei string, ch model.Channel, payload []byte, cause error, errorType string) {
	item := model.DLQItem{
		AlarmID:       alarmID,
		IMEI:          imei,
		Channel:       ch,
		Payload:       payload,
		ErrorMessage:  cause.Error(),
		ErrorType:     errorType,
		Attempts:      1,
		LastAttemptAt: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.dlq.Add(ctx, item); err != nil {
		c.logger.Error().Err(err).Msg("failed to write dead letter")
	}
}

// exponentialBackoff mirrors the teacher's retry schedule: 5s * 2^attempt.
func exponentialBackoff(attempt int) time.Duration {
	delay := 5.0 * math.Pow(2, float64(attempt))
	return time.Duration(delay) * time.Second
}

// attemptOf reads the x-attempt header set by PublishRetry.
func attemptOf(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}
	switch v := msg.Headers["x-attempt"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

