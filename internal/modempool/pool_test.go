package modempool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

type fakeModemRepo struct {
	dedicated  map[string]*model.Modem
	eligible   []model.Modem
	all        []model.Modem
	sentCount  map[int64]int
	health     map[int64]model.HealthStatus
}

func newFakeModemRepo() *fakeModemRepo {
	return &fakeModemRepo{
		dedicated: map[string]*model.Modem{},
		sentCount: map[int64]int{},
		health:    map[int64]model.HealthStatus{},
	}
}

func (f *fakeModemRepo) ListEligible(ctx context.Context, service string) ([]model.Modem, error) {
	return f.eligible, nil
}
func (f *fakeModemRepo) FindDedicated(ctx context.Context, imei string) (*model.Modem, error) {
	return f.dedicated[imei], nil
}
func (f *fakeModemRepo) IncrementSentCount(ctx context.Context, modemID int64, date time.Time) error {
	f.sentCount[modemID]++
	return nil
}
func (f *fakeModemRepo) SetHealth(ctx context.Context, modemID int64, status model.HealthStatus, checkedAt time.Time) error {
	f.health[modemID] = status
	return nil
}
func (f *fakeModemRepo) ResetExpiredPackages(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeModemRepo) List(ctx context.Context) ([]model.Modem, error) {
	if f.all != nil {
		return f.all, nil
	}
	return f.eligible, nil
}
func (f *fakeModemRepo) GetByID(ctx context.Context, id int64) (*model.Modem, error) {
	for _, m := range f.eligible {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}
func (f *fakeModemRepo) Create(ctx context.Context, m model.Modem) (int64, error) { return 0, nil }
func (f *fakeModemRepo) Update(ctx context.Context, m model.Modem) error          { return nil }
func (f *fakeModemRepo) Delete(ctx context.Context, id int64) error               { return nil }
func (f *fakeModemRepo) ResetPackage(ctx context.Context, id int64, start, end time.Time) error {
	return nil
}
func (f *fakeModemRepo) UsageReport(ctx context.Context, id int64, since time.Time) ([]repo.ModemUsageDay, error) {
	return nil, nil
}

func TestPool_SelectPrefersDedicatedModem(t *testing.T) {
	logger := zerolog.Nop()
	repo := newFakeModemRepo()
	dedicated := &model.Modem{ID: 1, MaxConcurrentSMS: 1}
	repo.dedicated["imei-1"] = dedicated
	repo.eligible = []model.Modem{{ID: 2, MaxConcurrentSMS: 1}}
	p := NewManagedPool(repo, &config.Config{}, &logger)

	m, err := p.Select(context.Background(), "primary", "imei-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != 1 {
		t.Fatalf("expected the dedicated modem to be selected, got %d", m.ID)
	}
}

func TestPool_SelectFallsBackWhenDedicatedIsSaturated(t *testing.T) {
	logger := zerolog.Nop()
	repo := newFakeModemRepo()
	dedicated := &model.Modem{ID: 1, MaxConcurrentSMS: 1}
	repo.dedicated["imei-1"] = dedicated
	repo.eligible = []model.Modem{{ID: 2, MaxConcurrentSMS: 1}}
	p := NewManagedPool(repo, &config.Config{}, &logger)

	if _, err := p.Select(context.Background(), "primary", "imei-1"); err != nil {
		t.Fatalf("unexpected error acquiring the dedicated modem: %v", err)
	}

	m, err := p.Select(context.Background(), "primary", "imei-1")
	if err != nil {
		t.Fatalf("unexpected error falling back: %v", err)
	}
	if m.ID != 2 {
		t.Fatalf("expected fallback to the eligible modem once the dedicated one is saturated, got %d", m.ID)
	}
}

func TestPool_SelectFailsWhenAllSlotsExhausted(t *testing.T) {
	logger := zerolog.Nop()
	repo := newFakeModemRepo()
	repo.eligible = []model.Modem{{ID: 3, MaxConcurrentSMS: 1}}
	p := NewManagedPool(repo, &config.Config{}, &logger)

	if _, err := p.Select(context.Background(), "primary", "imei-x"); err != nil {
		t.Fatalf("unexpected error on first select: %v", err)
	}
	if _, err := p.Select(context.Background(), "primary", "imei-y"); err == nil {
		t.Fatal("expected an error once the only modem's single slot is exhausted")
	}
}

func TestPool_ReleaseFreesSlotForReuse(t *testing.T) {
	logger := zerolog.Nop()
	repo := newFakeModemRepo()
	repo.eligible = []model.Modem{{ID: 4, MaxConcurrentSMS: 1}}
	p := NewManagedPool(repo, &config.Config{}, &logger)

	m, err := p.Select(context.Background(), "primary", "imei-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(m.ID)

	if _, err := p.Select(context.Background(), "primary", "imei-y"); err != nil {
		t.Fatalf("expected the freed slot to be reusable, got error: %v", err)
	}
}

func TestPool_MarkSentIncrementsUsage(t *testing.T) {
	logger := zerolog.Nop()
	repo := newFakeModemRepo()
	p := NewManagedPool(repo, &config.Config{}, &logger)

	if err := p.MarkSent(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.sentCount[7] != 1 {
		t.Fatalf("expected sent count to be incremented once, got %d", repo.sentCount[7])
	}
}

// TestPool_ProbeOnceRecoversUnhealthyModem guards against probeOnce
// sourcing its candidates from ListEligible, which excludes anything
// already unhealthy and would make an unhealthy modem permanently
// unprobable. A modem that starts unhealthy must still be probed, and
// a reachable host must bring it back to healthy.
func TestPool_ProbeOnceRecoversUnhealthyModem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	repo := newFakeModemRepo()
	repo.all = []model.Modem{{ID: 9, Host: srv.URL, HealthStatus: model.HealthUnhealthy}}
	repo.eligible = nil // an unhealthy modem would never appear here

	p := NewManagedPool(repo, &config.Config{}, &logger)
	p.probeOnce(context.Background())

	if got := repo.health[9]; got != model.HealthHealthy {
		t.Fatalf("expected a reachable, previously-unhealthy modem to recover to healthy, got %q", got)
	}
}
