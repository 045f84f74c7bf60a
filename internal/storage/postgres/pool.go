// Package postgres implements the persistence layer (C12): a managed
// connection pool plus one repository file per table family.
package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ManagedPool wraps a *pgxpool.Pool behind an atomic pointer so a guarded
// recreation (spec §4.12: "after threshold consecutive failures triggers a
// guarded pool-recreation with cooldown") can swap it out without callers
// holding a stale handle across the swap.
type ManagedPool struct {
	cfg    *config.Config
	logger zerolog.Logger

	current atomic.Pointer[pgxpool.Pool]

	failures     atomic.Int32
	lastRecreate atomic.Int64 // unix nano
}

// NewPool connects to Postgres and returns a ManagedPool ready for use.
func NewPool(cfg *config.Config, logger *zerolog.Logger) (*ManagedPool, error) {
	mp := &ManagedPool{cfg: cfg, logger: logger.With().Str("component", "postgres_pool").Logger()}

	pool, err := mp.dial(context.Background())
	if err != nil {
		return nil, err
	}
	mp.current.Store(pool)
	return mp, nil
}

func (m *ManagedPool) dial(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(m.cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid dsn: %w", err)
	}
	poolCfg.MinConns = int32(m.cfg.Postgres.Pool.MinConns)
	poolCfg.MaxConns = int32(m.cfg.Postgres.Pool.MaxConns)
	poolCfg.MaxConnLifetime = m.cfg.Postgres.Pool.ConnMaxLifetime
	// Every query enforces UTC session, per spec §4.12.
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}
	return pool, nil
}

// Pool returns the currently active *pgxpool.Pool. Callers should not cache
// this value across a long-lived goroutine iteration; fetch it per
// operation so a recreation is observed promptly.
func (m *ManagedPool) Pool() *pgxpool.Pool {
	return m.current.Load()
}

// NoteFailure records a connection-level failure and triggers a guarded
// recreation once the configured threshold is reached, respecting the
// cooldown between recreations.
func (m *ManagedPool) NoteFailure(ctx context.Context) {
	n := m.failures.Add(1)
	if int(n) < m.cfg.Postgres.Pool.FailureThreshold {
		return
	}

	now := time.Now()
	last := time.Unix(0, m.lastRecreate.Load())
	if now.Sub(last) < m.cfg.Postgres.Pool.RecreateCooldown {
		return
	}
	if !m.lastRecreate.CompareAndSwap(last.UnixNano(), now.UnixNano()) {
		return // another goroutine is already recreating
	}

	m.logger.Warn().Int32("consecutive_failures", n).Msg("recreating postgres pool")
	newPool, err := m.dial(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("pool recreation failed, keeping existing pool")
		return
	}
	old := m.current.Swap(newPool)
	m.failures.Store(0)
	if old != nil {
		go old.Close() // drain in background, don't block callers on old connections
	}
}

// NoteSuccess resets the consecutive-failure counter.
func (m *ManagedPool) NoteSuccess() {
	m.failures.Store(0)
}

// Close shuts down the active pool. Called from the fx lifecycle OnStop
// hook during graceful shutdown.
func (m *ManagedPool) Close() {
	if p := m.current.Load(); p != nil {
		p.Close()
	}
}
