package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.WorkerRepository = (*WorkerRepository)(nil)

// WorkerRepository implements repo.WorkerRepository against
// `alarms_workers` (C10).
type WorkerRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewWorkerRepository(pool *ManagedPool, logger *zerolog.Logger) *WorkerRepository {
	return &WorkerRepository{pool: pool, logger: logger.With().Str("layer", "postgres_worker_repository").Logger()}
}

func (r *WorkerRepository) Register(ctx context.Context, reg model.WorkerRegistration) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			INSERT INTO alarms_workers (worker_id, host, pid, started_at, last_heartbeat)
			VALUES ($1,$2,$3,$4,$4)
			ON CONFLICT (worker_id) DO UPDATE SET host = $2, pid = $3, started_at = $4, last_heartbeat = $4`,
			reg.WorkerID, reg.Host, reg.PID, reg.StartedAt)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Register worker failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

func (r *WorkerRepository) Heartbeat(ctx context.Context, workerID string, at time.Time) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_workers SET last_heartbeat = $2 WHERE worker_id = $1`, workerID, at)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Heartbeat failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

func (r *WorkerRepository) SweepStale(ctx context.Context, olderThan time.Time) (int64, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		ct, execErr := r.pool.Pool().Exec(ctx, `DELETE FROM alarms_workers WHERE last_heartbeat < $1`, olderThan)
		if execErr != nil {
			return execErr
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return 0, fmt.Errorf("postgres: SweepStale failed: %w", err)
	}
	r.pool.NoteSuccess()
	return affected, nil
}

func (r *WorkerRepository) List(ctx context.Context) ([]model.WorkerRegistration, error) {
	var out []model.WorkerRegistration
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `SELECT worker_id, host, pid, started_at, last_heartbeat FROM alarms_workers ORDER BY worker_id`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var w model.WorkerRegistration
			if serr := rows.Scan(&w.WorkerID, &w.Host, &w.PID, &w.StartedAt, &w.LastHeartbeat); serr != nil {
				return serr
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: List workers failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}
