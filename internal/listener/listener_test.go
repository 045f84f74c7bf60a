package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/rs/zerolog"
)

type fakeAlarmRepo struct {
	alarms map[int64]*model.Alarm
}

func (f *fakeAlarmRepo) GetByID(ctx context.Context, id int64) (*model.Alarm, error) {
	return f.alarms[id], nil
}
func (f *fakeAlarmRepo) MarkSent(ctx context.Context, alarmID int64, ch model.Channel, at time.Time) (bool, error) {
	return false, nil
}
func (f *fakeAlarmRepo) ListPending(ctx context.Context, ch model.Channel, limit int) ([]model.Alarm, error) {
	return nil, nil
}

type fakeDispatcher struct {
	processed []int64
	err       error
}

func (f *fakeDispatcher) Process(ctx context.Context, alarm model.Alarm) error {
	f.processed = append(f.processed, alarm.ID)
	return f.err
}

func newTestListener(alarms *fakeAlarmRepo, dispatcher *fakeDispatcher) *Listener {
	logger := zerolog.Nop()
	return NewListener(&config.Config{}, alarms, dispatcher, &logger)
}

func TestHandleNotification_ProcessesLoadedAlarm(t *testing.T) {
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{42: {ID: 42}}}
	dispatcher := &fakeDispatcher{}
	l := newTestListener(alarms, dispatcher)

	l.handleNotification(context.Background(), "42")

	if len(dispatcher.processed) != 1 || dispatcher.processed[0] != 42 {
		t.Fatalf("expected alarm 42 to be dispatched, got %v", dispatcher.processed)
	}
}

func TestHandleNotification_IgnoresNonNumericPayload(t *testing.T) {
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{}}
	dispatcher := &fakeDispatcher{}
	l := newTestListener(alarms, dispatcher)

	l.handleNotification(context.Background(), "not-a-number")

	if len(dispatcher.processed) != 0 {
		t.Fatal("expected no dispatch for a non-numeric payload")
	}
}

func TestHandleNotification_SkipsMissingAlarm(t *testing.T) {
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{}}
	dispatcher := &fakeDispatcher{}
	l := newTestListener(alarms, dispatcher)

	l.handleNotification(context.Background(), "99")

	if len(dispatcher.processed) != 0 {
		t.Fatal("expected no dispatch when the notified alarm cannot be loaded")
	}
}

func TestHandleNotification_SwallowsDispatchError(t *testing.T) {
	alarms := &fakeAlarmRepo{alarms: map[int64]*model.Alarm{7: {ID: 7}}}
	dispatcher := &fakeDispatcher{err: errors.New("boom")}
	l := newTestListener(alarms, dispatcher)

	l.handleNotification(context.Background(), "7")

	if len(dispatcher.processed) != 1 {
		t.Fatal("expected the dispatch attempt to still occur even though it errors")
	}
}
