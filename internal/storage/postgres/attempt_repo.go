package postgres

import (
	"context"
	"fmt"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.AttemptRepository = (*AttemptRepository)(nil)

// AttemptRepository appends append-only NotificationAttempt rows to
// `alarms_history` (spec §3: "Append-only; duplicates tolerated as
// history"). Per spec §4.12, callers must log-and-swallow any error this
// repository returns rather than let it affect the sent-marker decision.
type AttemptRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewAttemptRepository(pool *ManagedPool, logger *zerolog.Logger) *AttemptRepository {
	return &AttemptRepository{pool: pool, logger: logger.With().Str("layer", "postgres_attempt_repository").Logger()}
}

func (r *AttemptRepository) Insert(ctx context.Context, a model.NotificationAttempt) error {
	var modemID interface{}
	if a.ModemID != nil {
		modemID = *a.ModemID
	}
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			INSERT INTO alarms_history (
				alarm_id, imei, gps_time, channel, recipient, status, attempt_number,
				sent_at, error, provider_message_id, provider_name, modem_id, modem_name, response, skip_reason
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			a.AlarmID, a.IMEI, a.GPSTime, a.Channel, a.Recipient, a.Status, a.AttemptNumber,
			a.SentAt, a.Error, a.ProviderMessageID, a.ProviderName, modemID, a.ModemName, a.Response, a.SkipReason,
		)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Insert attempt failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

// NextAttemptNumber counts existing rows for (alarm_id, channel) and
// returns count+1. Per spec §9's documented open question, this is a
// count-then-insert pattern: concurrent retries can race into the same
// number. A DB sequence keyed by (alarm_id, channel) would remove the
// race if strict ordering is ever required; left unimplemented per the
// spec's "left to implementer" note.
func (r *AttemptRepository) NextAttemptNumber(ctx context.Context, alarmID int64, ch model.Channel) (int, error) {
	var count int
	err := withRetry(ctx, func() error {
		return r.pool.Pool().QueryRow(ctx, `
			SELECT COUNT(*) FROM alarms_history WHERE alarm_id = $1 AND channel = $2`, alarmID, ch).Scan(&count)
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return 0, fmt.Errorf("postgres: NextAttemptNumber failed: %w", err)
	}
	r.pool.NoteSuccess()
	return count + 1, nil
}
