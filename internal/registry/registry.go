// Package registry implements the cross-instance worker registry from
// spec §4.10 (C10): each worker process registers itself, heartbeats
// periodically, and any instance may sweep stale rows or list the
// current fleet for the admin surface.
package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

// Stats summarizes the registry for the admin surface.
type Stats struct {
	TotalWorkers int
	StaleSwept   int64
}

// Registry wraps repo.WorkerRepository with the heartbeat/sweep
// cadence and a stable worker_id per spec §3 ("hostname:pid").
type Registry struct {
	repo      repo.WorkerRepository
	id        string
	host      string
	heartbeat time.Duration
	ttl       time.Duration
	logger    zerolog.Logger
}

func NewRegistry(r repo.WorkerRepository, heartbeatInterval time.Duration, ttlMultiplier int, logger *zerolog.Logger) *Registry {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	if ttlMultiplier <= 0 {
		ttlMultiplier = 3
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	id := fmt.Sprintf("%s:%d", host, os.Getpid())
	return &Registry{
		repo:      r,
		id:        id,
		host:      host,
		heartbeat: heartbeatInterval,
		ttl:       heartbeatInterval * time.Duration(ttlMultiplier),
		logger:    logger.With().Str("component", "registry").Str("worker_id", id).Logger(),
	}
}

func (r *Registry) WorkerID() string { return r.id }

// Register inserts or refreshes this instance's row.
func (r *Registry) Register(ctx context.Context) error {
	now := time.Now().UTC()
	return r.repo.Register(ctx, model.WorkerRegistration{
		WorkerID:      r.id,
		Host:          r.host,
		PID:           os.Getpid(),
		StartedAt:     now,
		LastHeartbeat: now,
	})
}

// Heartbeat refreshes last_heartbeat for this instance.
func (r *Registry) Heartbeat(ctx context.Context) error {
	return r.repo.Heartbeat(ctx, r.id, time.Now().UTC())
}

// Sweep removes any registration whose heartbeat is older than
// ttl_multiplier * heartbeat_interval.
func (r *Registry) Sweep(ctx context.Context) (int64, error) {
	return r.repo.SweepStale(ctx, time.Now().UTC().Add(-r.ttl))
}

// Workers lists the currently registered fleet.
func (r *Registry) Workers(ctx context.Context) ([]model.WorkerRegistration, error) {
	return r.repo.List(ctx)
}

// Stats reports a summary for the admin surface.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	workers, err := r.Workers(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalWorkers: len(workers)}, nil
}

// Run registers this instance then, on every heartbeat interval until ctx
// is cancelled, heartbeats and sweeps stale registrations.
func (r *Registry) Run(ctx context.Context) {
	if err := r.Register(ctx); err != nil {
		r.logger.Error().Err(err).Msg("registry: failed to register worker")
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Heartbeat(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("registry: heartbeat failed")
			}
			if swept, err := r.Sweep(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("registry: sweep failed")
			} else if swept > 0 {
				r.logger.Info().Int64("swept", swept).Msg("registry: removed stale workers")
			}
		}
	}
}
