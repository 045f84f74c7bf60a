package postgres

import (
	"context"
	"fmt"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.StateRepository = (*StateRepository)(nil)

// StateRepository implements repo.StateRepository against the
// single-row `alarms_channel_config` system-state table (C9).
type StateRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewStateRepository(pool *ManagedPool, logger *zerolog.Logger) *StateRepository {
	return &StateRepository{pool: pool, logger: logger.With().Str("layer", "postgres_state_repository").Logger()}
}

func (r *StateRepository) Get(ctx context.Context) (model.SystemState, error) {
	var s model.SystemState
	err := withRetry(ctx, func() error {
		return r.pool.Pool().QueryRow(ctx, `
			SELECT paused, COALESCE(pause_reason, ''), COALESCE(paused_by, ''), mock_sms, mock_email
			FROM alarms_channel_config WHERE id = 1`).Scan(&s.Paused, &s.PauseReason, &s.PausedBy, &s.MockSMS, &s.MockEmail)
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return model.SystemState{}, fmt.Errorf("postgres: Get system state failed: %w", err)
	}
	r.pool.NoteSuccess()
	return s, nil
}

func (r *StateRepository) Set(ctx context.Context, s model.SystemState) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			INSERT INTO alarms_channel_config (id, paused, pause_reason, paused_by, mock_sms, mock_email)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET paused = $1, pause_reason = $2, paused_by = $3, mock_sms = $4, mock_email = $5`,
			s.Paused, s.PauseReason, s.PausedBy, s.MockSMS, s.MockEmail)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Set system state failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}
