package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/breaker"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/dlq"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/processor"
	"github.com/alarmdispatch/core/internal/syscontrol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type fakeStateRepo struct{ state model.SystemState }

func (f *fakeStateRepo) Get(ctx context.Context) (model.SystemState, error) { return f.state, nil }
func (f *fakeStateRepo) Set(ctx context.Context, s model.SystemState) error {
	f.state = s
	return nil
}

type fakeDLQRepo struct{ items []model.DLQItem }

func (f *fakeDLQRepo) Add(ctx context.Context, item model.DLQItem) error { return nil }
func (f *fakeDLQRepo) ListPending(ctx context.Context, filter repo.DLQFilter) ([]model.DLQItem, error) {
	return f.items, nil
}
func (f *fakeDLQRepo) IncrementAttempt(ctx context.Context, id int64, at time.Time) error { return nil }
func (f *fakeDLQRepo) MarkReprocessed(ctx context.Context, id int64, by string, at time.Time, failed bool) error {
	return nil
}

type fakeAlarmRepo struct{ pending []model.Alarm }

func (f *fakeAlarmRepo) GetByID(ctx context.Context, id int64) (*model.Alarm, error) { return nil, nil }
func (f *fakeAlarmRepo) MarkSent(ctx context.Context, alarmID int64, ch model.Channel, at time.Time) (bool, error) {
	return false, nil
}
func (f *fakeAlarmRepo) ListPending(ctx context.Context, ch model.Channel, limit int) ([]model.Alarm, error) {
	return f.pending, nil
}

type fakeQueue struct{ published int }

func (f *fakeQueue) PublishRetry(ctx context.Context, payload []byte, delay time.Duration, attempt int) error {
	return nil
}
func (f *fakeQueue) PublishDelayed(ctx context.Context, payload []byte, delay time.Duration) error {
	f.published++
	return nil
}

type fakeModemRepo struct{ modems []model.Modem }

func (f *fakeModemRepo) ListEligible(ctx context.Context, service string) ([]model.Modem, error) {
	return f.modems, nil
}
func (f *fakeModemRepo) FindDedicated(ctx context.Context, imei string) (*model.Modem, error) {
	return nil, nil
}
func (f *fakeModemRepo) IncrementSentCount(ctx context.Context, modemID int64, date time.Time) error {
	return nil
}
func (f *fakeModemRepo) SetHealth(ctx context.Context, modemID int64, status model.HealthStatus, checkedAt time.Time) error {
	return nil
}
func (f *fakeModemRepo) ResetExpiredPackages(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeModemRepo) List(ctx context.Context) ([]model.Modem, error) { return f.modems, nil }
func (f *fakeModemRepo) GetByID(ctx context.Context, id int64) (*model.Modem, error) {
	return nil, nil
}
func (f *fakeModemRepo) Create(ctx context.Context, m model.Modem) (int64, error) { return 1, nil }
func (f *fakeModemRepo) Update(ctx context.Context, m model.Modem) error          { return nil }
func (f *fakeModemRepo) Delete(ctx context.Context, id int64) error               { return nil }
func (f *fakeModemRepo) ResetPackage(ctx context.Context, id int64, start, end time.Time) error {
	return nil
}
func (f *fakeModemRepo) UsageReport(ctx context.Context, id int64, since time.Time) ([]repo.ModemUsageDay, error) {
	return nil, nil
}

type fakeDispatcher struct{}

func (fakeDispatcher) Process(ctx context.Context, alarm model.Alarm) error { return nil }

func newTestHandlers(t *testing.T) (*Handlers, *fakeQueue, *fakeAlarmRepo) {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{}

	breakers := breaker.NewSet(cfg)
	state := syscontrol.NewManager(&fakeStateRepo{}, nil, &logger)
	dlqStore := dlq.NewStore(&fakeDLQRepo{}, &logger)
	var dispatcher processor.Dispatcher = fakeDispatcher{}
	reprocessor := dlq.NewReprocessor(dlqStore, &fakeAlarmRepo{}, dispatcher, breakers, "test-worker", cfg, &logger)
	modems := &fakeModemRepo{modems: []model.Modem{{ID: 1, Name: "primary"}}}
	alarms := &fakeAlarmRepo{pending: []model.Alarm{{ID: 10, IMEI: "imei-1", IsSMS: true, IsValid: true}}}
	queue := &fakeQueue{}

	h := NewHandlers(breakers, state, dlqStore, reprocessor, modems, alarms, queue, &logger)
	return h, queue, alarms
}

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func TestHandlers_ListBreakers(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	router := newTestRouter(h)

	req := httptest.NewRequest("GET", "/admin/breakers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []breakerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out) != len(model.AllChannels) {
		t.Fatalf("expected one entry per channel, got %d", len(out))
	}
}

func TestHandlers_PauseThenGetState(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	router := newTestRouter(h)

	body, _ := json.Marshal(pauseRequest{Paused: true, Reason: "maintenance", By: "ops"})
	req := httptest.NewRequest("POST", "/admin/state/pause", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/admin/state", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var out stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !out.Paused || out.PauseReason != "maintenance" {
		t.Fatalf("expected the pause to be reflected in state, got %+v", out)
	}
}

func TestHandlers_ReprocessPendingAlarmsEnqueuesByChannel(t *testing.T) {
	h, queue, _ := newTestHandlers(t)
	router := newTestRouter(h)

	body, _ := json.Marshal(reprocessPendingRequest{Channel: string(model.ChannelSMS), Limit: 10})
	req := httptest.NewRequest("POST", "/admin/alarms/reprocess-pending", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if queue.published != 1 {
		t.Fatalf("expected exactly one alarm to be republished, got %d", queue.published)
	}
}

func TestHandlers_ReprocessPendingAlarmsRejectsUnknownChannel(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	router := newTestRouter(h)

	body, _ := json.Marshal(reprocessPendingRequest{Channel: "carrier_pigeon", Limit: 10})
	req := httptest.NewRequest("POST", "/admin/alarms/reprocess-pending", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for an unknown channel, got %d", rec.Code)
	}
}

func TestHandlers_ListModems(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	router := newTestRouter(h)

	req := httptest.NewRequest("GET", "/admin/modems", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []modemResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out) != 1 || out[0].Name != "primary" {
		t.Fatalf("expected the seeded modem to be listed, got %+v", out)
	}
}
