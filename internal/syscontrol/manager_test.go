package syscontrol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/rs/zerolog"
)

type fakeStateRepo struct {
	mu    sync.Mutex
	state model.SystemState
	sets  int
}

func (f *fakeStateRepo) Get(ctx context.Context) (model.SystemState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeStateRepo) Set(ctx context.Context, s model.SystemState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	f.sets++
	return nil
}

func TestManager_CurrentIsZeroBeforeRefresh(t *testing.T) {
	logger := zerolog.Nop()
	repo := &fakeStateRepo{}
	m := NewManager(repo, nil, &logger)

	if got := m.Current(context.Background()); got.Paused {
		t.Fatalf("expected an unpaused zero-value state before any refresh, got %+v", got)
	}
}

func TestManager_SetPausedPersistsAndCaches(t *testing.T) {
	logger := zerolog.Nop()
	repo := &fakeStateRepo{}
	m := NewManager(repo, nil, &logger)

	if err := m.SetPaused(context.Background(), true, "maintenance", "ops"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := m.Current(context.Background())
	if !got.Paused || got.PauseReason != "maintenance" || got.PausedBy != "ops" {
		t.Fatalf("expected cache to reflect the pause immediately, got %+v", got)
	}
	if repo.sets != 1 {
		t.Fatalf("expected exactly one persisted write, got %d", repo.sets)
	}
}

func TestManager_SetMockPreservesPauseState(t *testing.T) {
	logger := zerolog.Nop()
	repo := &fakeStateRepo{}
	m := NewManager(repo, nil, &logger)

	if err := m.SetPaused(context.Background(), true, "r", "by"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetMock(context.Background(), true, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := m.Current(context.Background())
	if !got.Paused {
		t.Fatal("expected SetMock to preserve the existing pause flag")
	}
	if !got.MockSMS || got.MockEmail {
		t.Fatalf("expected mock_sms=true, mock_email=false, got %+v", got)
	}
}

func TestManager_WatchReloadPerformsInitialRefresh(t *testing.T) {
	logger := zerolog.Nop()
	repo := &fakeStateRepo{state: model.SystemState{Paused: true, PauseReason: "external"}}
	m := NewManager(repo, nil, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	go m.WatchReload(ctx)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Current(ctx).Paused {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected WatchReload's initial refresh to pick up the externally persisted state")
}
