package postgres

import (
	"context"
	"fmt"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.PushTokenRepository = (*PushTokenRepository)(nil)

// PushTokenRepository implements repo.PushTokenRepository against the
// `push_tokens` table.
type PushTokenRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewPushTokenRepository(pool *ManagedPool, logger *zerolog.Logger) *PushTokenRepository {
	return &PushTokenRepository{pool: pool, logger: logger.With().Str("layer", "postgres_push_token_repository").Logger()}
}

func (r *PushTokenRepository) ListByIMEI(ctx context.Context, imei string) ([]model.PushToken, error) {
	var out []model.PushToken
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT id, imei, token, invalid FROM push_tokens WHERE imei = $1 AND NOT invalid`, imei)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var t model.PushToken
			if serr := rows.Scan(&t.ID, &t.IMEI, &t.Token, &t.Invalid); serr != nil {
				return serr
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: ListByIMEI (push tokens) failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}

// MarkInvalid prunes a token the provider reported as invalid (spec §4.6
// "prune tokens reported invalid by provider").
func (r *PushTokenRepository) MarkInvalid(ctx context.Context, token string) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `UPDATE push_tokens SET invalid = true WHERE token = $1`, token)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		r.logger.Error().Err(err).Msg("failed to mark push token invalid")
		return fmt.Errorf("postgres: MarkInvalid failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}
