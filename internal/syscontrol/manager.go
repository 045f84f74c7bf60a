// Package syscontrol implements the process-wide pause/mock state from
// spec §4.9 (C9): a single persisted row, read through a cache that's
// kept warm by a Redis pub/sub broadcast with a polling fallback, so a
// state change made on one instance becomes visible on every other
// instance within the poll interval even if the broadcast is missed.
package syscontrol

import (
	"context"
	"sync"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/pkg/keybuilder"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const pollInterval = 10 * time.Second

// Manager owns the cached SystemState and keeps it converged across
// instances.
type Manager struct {
	repo   repo.StateRepository
	redis  *redis.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	cached model.SystemState
}

func NewManager(r repo.StateRepository, client *redis.Client, logger *zerolog.Logger) *Manager {
	return &Manager{
		repo:   r,
		redis:  client,
		logger: logger.With().Str("component", "syscontrol").Logger(),
	}
}

// Current returns the cached state without touching Postgres. Callers
// on the hot path (the processor, per send) must never block on a
// database round trip just to check whether the system is paused.
func (m *Manager) Current(ctx context.Context) model.SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached
}

// refresh reloads the cache from Postgres, the source of truth.
func (m *Manager) refresh(ctx context.Context) {
	s, err := m.repo.Get(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("syscontrol: failed to refresh state, keeping cached value")
		return
	}
	m.mu.Lock()
	m.cached = s
	m.mu.Unlock()
}

// SetPaused persists the pause flag and publishes a change event so
// other instances refresh immediately rather than waiting for the next
// poll tick.
func (m *Manager) SetPaused(ctx context.Context, paused bool, reason, by string) error {
	m.mu.RLock()
	s := m.cached
	m.mu.RUnlock()
	s.Paused = paused
	s.PauseReason = reason
	s.PausedBy = by
	return m.write(ctx, s)
}

// SetMock persists a per-channel mock toggle for the two channels
// spec §3's SystemState entity carries (sms, email).
func (m *Manager) SetMock(ctx context.Context, mockSMS, mockEmail bool) error {
	m.mu.RLock()
	s := m.cached
	m.mu.RUnlock()
	s.MockSMS = mockSMS
	s.MockEmail = mockEmail
	return m.write(ctx, s)
}

func (m *Manager) write(ctx context.Context, s model.SystemState) error {
	if err := m.repo.Set(ctx, s); err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = s
	m.mu.Unlock()
	if m.redis != nil {
		if err := m.redis.Publish(ctx, keybuilder.StateChangedChannel(), "changed").Err(); err != nil {
			m.logger.Warn().Err(err).Msg("syscontrol: failed to publish state change")
		}
	}
	return nil
}

// WatchReload runs until ctx is cancelled, keeping the cache converged
// via a 10s poll plus a Redis pub/sub subscription for faster
// propagation (spec §4.9: "on write, broadcasts a change event (polling
// every 10s is acceptable)").
func (m *Manager) WatchReload(ctx context.Context) {
	m.refresh(ctx)

	var sub *redis.PubSub
	var ch <-chan *redis.Message
	if m.redis != nil {
		sub = m.redis.Subscribe(ctx, keybuilder.StateChangedChannel())
		ch = sub.Channel()
		defer sub.Close()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		case <-ch:
			m.refresh(ctx)
		}
	}
}
