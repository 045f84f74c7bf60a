package postgres

import (
	"fmt"

	"context"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.ContactRepository = (*ContactRepository)(nil)

// ContactRepository implements repo.ContactRepository against
// `alarms_contacts`, ordered by priority ascending per spec §3.
type ContactRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewContactRepository(pool *ManagedPool, logger *zerolog.Logger) *ContactRepository {
	return &ContactRepository{pool: pool, logger: logger.With().Str("layer", "postgres_contact_repository").Logger()}
}

func (r *ContactRepository) ListByIMEI(ctx context.Context, imei string) ([]model.Contact, error) {
	var out []model.Contact
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT id, imei, COALESCE(email, ''), COALESCE(phone, ''), priority, active,
			       quiet_hours_start, quiet_hours_end
			FROM alarms_contacts
			WHERE imei = $1 AND active
			ORDER BY priority ASC`, imei)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var c model.Contact
			if serr := rows.Scan(&c.ID, &c.IMEI, &c.Email, &c.Phone, &c.Priority, &c.Active,
				&c.QuietHoursStart, &c.QuietHoursEnd); serr != nil {
				return serr
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		r.logger.Error().Err(err).Str("imei", imei).Msg("failed to list contacts")
		return nil, fmt.Errorf("postgres: ListByIMEI failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}
