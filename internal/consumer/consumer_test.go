package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alarmdispatch/core/internal/syscontrol"
	"github.com/alarmdispatch/core/internal/wire"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  int
	nacked int
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked++
	return nil
}
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked++
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

type fakeDispatcher struct {
	err error
}

func (f *fakeDispatcher) Process(ctx context.Context, alarm model.Alarm) error { return f.err }

type fakeQueue struct {
	mu             sync.Mutex
	retryCount     int
	delayedCount   int
	lastDelayedPayload []byte
}

func (f *fakeQueue) PublishRetry(ctx context.Context, payload []byte, delay time.Duration, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCount++
	return nil
}
func (f *fakeQueue) PublishDelayed(ctx context.Context, payload []byte, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayedCount++
	f.lastDelayedPayload = payload
	return nil
}

type fakeDLQWriter struct {
	mu    sync.Mutex
	items []model.DLQItem
}

func (f *fakeDLQWriter) Add(ctx context.Context, item model.DLQItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

type fakeStateRepo struct{ state model.SystemState }

func (f *fakeStateRepo) Get(ctx context.Context) (model.SystemState, error) { return f.state, nil }
func (f *fakeStateRepo) Set(ctx context.Context, s model.SystemState) error {
	f.state = s
	return nil
}

func newTestConsumer(t *testing.T, dispatcher *fakeDispatcher, queue *fakeQueue, dlqWriter *fakeDLQWriter, paused bool) *Consumer {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{Bus: config.BusConfig{
		PausedRequeueDelay:   time.Minute,
		PausedRequeueSoftCap: 3,
		MaxDeliveryAttempts:  3,
	}}
	stateRepo := &fakeStateRepo{state: model.SystemState{Paused: paused}}
	state := syscontrol.NewManager(stateRepo, nil, &logger)
	if err := state.SetPaused(context.Background(), paused, "test", "test"); err != nil {
		t.Fatalf("failed to seed paused state: %v", err)
	}
	return New(cfg, &logger, nil, dispatcher, queue, dlqWriter, state)
}

func deliveryWithBody(t *testing.T, payload wire.AlarmPayload, ack *fakeAcknowledger) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestHandleMessage_MalformedPayloadGoesToDeadLetter(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	queue := &fakeQueue{}
	dlqWriter := &fakeDLQWriter{}
	c := newTestConsumer(t, dispatcher, queue, dlqWriter, false)
	ack := &fakeAcknowledger{}

	msg := amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}
	c.handleMessage(context.Background(), msg, zerolog.Nop())

	if len(dlqWriter.items) != 1 || dlqWriter.items[0].ErrorType != "malformed_payload" {
		t.Fatalf("expected a malformed_payload dead letter, got %+v", dlqWriter.items)
	}
	if ack.acked != 1 {
		t.Fatalf("expected the malformed message to be acked, got %d", ack.acked)
	}
}

func TestHandleMessage_PausedRequeuesViaDelayedPublish(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	queue := &fakeQueue{}
	dlqWriter := &fakeDLQWriter{}
	c := newTestConsumer(t, dispatcher, queue, dlqWriter, true)
	ack := &fakeAcknowledger{}

	msg := deliveryWithBody(t, wire.AlarmPayload{AlarmID: 1}, ack)
	c.handleMessage(context.Background(), msg, zerolog.Nop())

	if queue.delayedCount != 1 {
		t.Fatalf("expected one delayed republish while paused, got %d", queue.delayedCount)
	}
	if ack.acked != 1 {
		t.Fatalf("expected the message to be acked after requeue, got %d", ack.acked)
	}
}

func TestHandleMessage_PausedSoftCapDispatchesAnyway(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	queue := &fakeQueue{}
	dlqWriter := &fakeDLQWriter{}
	c := newTestConsumer(t, dispatcher, queue, dlqWriter, true)
	ack := &fakeAcknowledger{}

	msg := deliveryWithBody(t, wire.AlarmPayload{AlarmID: 1, PausedRequeues: 3}, ack)
	c.handleMessage(context.Background(), msg, zerolog.Nop())

	if queue.delayedCount != 0 {
		t.Fatalf("expected no further delayed republish once the soft cap is reached, got %d", queue.delayedCount)
	}
	if ack.acked != 1 {
		t.Fatalf("expected the message to be dispatched and acked despite the pause, got %d acks", ack.acked)
	}
}

func TestHandleMessage_ProcessErrorRetriesViaRetryLane(t *testing.T) {
	dispatcher := &fakeDispatcher{err: errors.New("boom")}
	queue := &fakeQueue{}
	dlqWriter := &fakeDLQWriter{}
	c := newTestConsumer(t, dispatcher, queue, dlqWriter, false)
	ack := &fakeAcknowledger{}

	msg := deliveryWithBody(t, wire.AlarmPayload{AlarmID: 1}, ack)
	c.handleMessage(context.Background(), msg, zerolog.Nop())

	if queue.retryCount != 1 {
		t.Fatalf("expected one retry-lane publish, got %d", queue.retryCount)
	}
	if len(dlqWriter.items) != 0 {
		t.Fatal("expected no dead letter below the max delivery attempts")
	}
}

func TestHandleMessage_ProcessErrorEscalatesToDeadLetterAtMaxAttempts(t *testing.T) {
	dispatcher := &fakeDispatcher{err: errors.New("boom")}
	queue := &fakeQueue{}
	dlqWriter := &fakeDLQWriter{}
	c := newTestConsumer(t, dispatcher, queue, dlqWriter, false)
	ack := &fakeAcknowledger{}

	body, err := json.Marshal(wire.AlarmPayload{AlarmID: 1})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	msg := amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Headers:      amqp.Table{"x-attempt": int32(2)},
	}
	c.handleMessage(context.Background(), msg, zerolog.Nop())

	if queue.retryCount != 0 {
		t.Fatalf("expected no further retry-lane publish at the attempt ceiling, got %d", queue.retryCount)
	}
	if len(dlqWriter.items) != 1 || dlqWriter.items[0].ErrorType != "delivery_exhausted" {
		t.Fatalf("expected a delivery_exhausted dead letter, got %+v", dlqWriter.items)
	}
}

func TestHandleMessage_SuccessAcksWithoutSideEffects(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	queue := &fakeQueue{}
	dlqWriter := &fakeDLQWriter{}
	c := newTestConsumer(t, dispatcher, queue, dlqWriter, false)
	ack := &fakeAcknowledger{}

	msg := deliveryWithBody(t, wire.AlarmPayload{AlarmID: 1}, ack)
	c.handleMessage(context.Background(), msg, zerolog.Nop())

	if ack.acked != 1 || ack.nacked != 0 {
		t.Fatalf("expected a clean ack, got acked=%d nacked=%d", ack.acked, ack.nacked)
	}
	if queue.retryCount != 0 || queue.delayedCount != 0 || len(dlqWriter.items) != 0 {
		t.Fatal("expected no retry/requeue/dead-letter side effects on a successful dispatch")
	}
}

func TestExponentialBackoff(t *testing.T) {
	if got := exponentialBackoff(0); got != 5*time.Second {
		t.Fatalf("expected 5s at attempt 0, got %v", got)
	}
	if got := exponentialBackoff(1); got != 10*time.Second {
		t.Fatalf("expected 10s at attempt 1, got %v", got)
	}
	if got := exponentialBackoff(2); got != 20*time.Second {
		t.Fatalf("expected 20s at attempt 2, got %v", got)
	}
}

func TestAttemptOf(t *testing.T) {
	if got := attemptOf(amqp.Delivery{}); got != 0 {
		t.Fatalf("expected 0 with no headers, got %d", got)
	}
	if got := attemptOf(amqp.Delivery{Headers: amqp.Table{"x-attempt": int32(4)}}); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
	if got := attemptOf(amqp.Delivery{Headers: amqp.Table{"x-attempt": 7}}); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}
