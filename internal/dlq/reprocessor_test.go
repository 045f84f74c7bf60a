package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/breaker"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

type fakeDLQRepo struct {
	items      []model.DLQItem
	incremented map[int64]int
	reprocessed map[int64]bool
}

func newFakeDLQRepo(items ...model.DLQItem) *fakeDLQRepo {
	return &fakeDLQRepo{items: items, incremented: map[int64]int{}, reprocessed: map[int64]bool{}}
}

func (f *fakeDLQRepo) Add(ctx context.Context, item model.DLQItem) error {
	f.items = append(f.items, item)
	return nil
}

func (f *fakeDLQRepo) ListPending(ctx context.Context, filter repo.DLQFilter) ([]model.DLQItem, error) {
	var out []model.DLQItem
	for _, it := range f.items {
		if it.Reprocessed {
			continue
		}
		if filter.ID != 0 && it.ID != filter.ID {
			continue
		}
		if filter.Channel != "" && it.Channel != filter.Channel {
			continue
		}
		out = append(out, it)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDLQRepo) IncrementAttempt(ctx context.Context, id int64, at time.Time) error {
	f.incremented[id]++
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Attempts++
		}
	}
	return nil
}

func (f *fakeDLQRepo) MarkReprocessed(ctx context.Context, id int64, by string, at time.Time, failed bool) error {
	f.reprocessed[id] = true
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Reprocessed = true
		}
	}
	return nil
}

type fakeAlarmRepo struct {
	alarms map[int64]*model.Alarm
}

func (f *fakeAlarmRepo) GetByID(ctx context.Context, id int64) (*model.Alarm, error) {
	a, ok := f.alarms[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAlarmRepo) MarkSent(ctx context.Context, alarmID int64, ch model.Channel, at time.Time) (bool, error) {
	return false, nil
}

func (f *fakeAlarmRepo) ListPending(ctx context.Context, ch model.Channel, limit int) ([]model.Alarm, error) {
	return nil, nil
}

type fakeDispatcher struct {
	onProcess func(alarm *model.Alarm)
	err       error
}

func (f *fakeDispatcher) Process(ctx context.Context, alarm model.Alarm) error {
	if f.onProcess != nil {
		f.onProcess(&alarm)
	}
	return f.err
}

func newTestReprocessor(t *testing.T, dlqRepo repo.DLQRepository, alarms *fakeAlarmRepo, dispatcher *fakeDispatcher) *Reprocessor {
	t.Helper()
	logger := zerolog.Nop()
	store := NewStore(dlqRepo, &logger)
	breakers := breaker.NewSet(&config.Config{})
	return NewReprocessor(store, alarms, dispatcher, breakers, "worker-test", &config.Config{}, &logger)
}

func TestReprocessor_MarksReprocessedWhenAlreadySent(t *testing.T) {
	item := model.DLQItem{ID: 1, AlarmID: 100, Channel: model.ChannelSMS}
	dlqRepo := newFakeDLQRepo(item)
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{100: {ID: 100, SMSSent: true}}}
	dispatcher := &fakeDispatcher{}
	r := newTestReprocessor(t, dlqRepo, alarms, dispatcher)

	if err := r.ReprocessOne(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dlqRepo.reprocessed[1] {
		t.Fatal("expected item to be marked reprocessed since it was already sent")
	}
}

func TestReprocessor_MarksTerminalWhenAlarmMissing(t *testing.T) {
	item := model.DLQItem{ID: 2, AlarmID: 999, Channel: model.ChannelEmail}
	dlqRepo := newFakeDLQRepo(item)
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{}}
	dispatcher := &fakeDispatcher{}
	r := newTestReprocessor(t, dlqRepo, alarms, dispatcher)

	if err := r.ReprocessOne(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dlqRepo.reprocessed[2] {
		t.Fatal("expected item to be marked terminally reprocessed when the alarm no longer exists")
	}
}

func TestReprocessor_IncrementsAttemptWhenStillUnsent(t *testing.T) {
	item := model.DLQItem{ID: 3, AlarmID: 200, Channel: model.ChannelSMS, Attempts: 0}
	dlqRepo := newFakeDLQRepo(item)
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{200: {ID: 200, SMSSent: false}}}
	dispatcher := &fakeDispatcher{}
	r := newTestReprocessor(t, dlqRepo, alarms, dispatcher)

	if err := r.ReprocessOne(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dlqRepo.incremented[3] != 1 {
		t.Fatalf("expected attempt to be incremented once, got %d", dlqRepo.incremented[3])
	}
	if dlqRepo.reprocessed[3] {
		t.Fatal("expected item not to be marked terminal below the hard cap")
	}
}

func TestReprocessor_MarksTerminalAtHardCap(t *testing.T) {
	item := model.DLQItem{ID: 4, AlarmID: 300, Channel: model.ChannelSMS, Attempts: 9}
	dlqRepo := newFakeDLQRepo(item)
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{300: {ID: 300, SMSSent: false}}}
	dispatcher := &fakeDispatcher{}
	logger := zerolog.Nop()
	store := NewStore(dlqRepo, &logger)
	breakers := breaker.NewSet(&config.Config{})
	r := NewReprocessor(store, alarms, dispatcher, breakers, "worker-test", &config.Config{DLQ: config.DLQConfig{AttemptsHardCap: 10}}, &logger)

	if err := r.ReprocessOne(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dlqRepo.reprocessed[4] {
		t.Fatal("expected item to be marked terminal once attempts reach the hard cap")
	}
}

func TestReprocessor_ReprocessBatchReplaysAllWhenNoBreakerOpen(t *testing.T) {
	items := []model.DLQItem{
		{ID: 5, AlarmID: 400, Channel: model.ChannelSMS},
		{ID: 6, AlarmID: 401, Channel: model.ChannelEmail},
	}
	dlqRepo := newFakeDLQRepo(items...)
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{
		400: {ID: 400, SMSSent: true},
		401: {ID: 401, EmailSent: true},
	}}
	dispatcher := &fakeDispatcher{}
	logger := zerolog.Nop()
	store := NewStore(dlqRepo, &logger)
	breakers := breaker.NewSet(&config.Config{})
	breakers.ForceReset(model.ChannelSMS)
	r := NewReprocessor(store, alarms, dispatcher, breakers, "worker-test", &config.Config{}, &logger)

	replayed, err := r.ReprocessBatch(context.Background(), Filter{Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if replayed != 2 {
		t.Fatalf("expected both items to replay when no breaker is open, got %d", replayed)
	}
}
