package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.DedupRepository = (*DedupRepository)(nil)

// DedupRepository implements the (imei, alarm_type) dedup window with a
// single atomic upsert, per spec §5 ("DedupRecord upsert uses DB
// uniqueness on (imei, alarm_type) with CAS-style update CASE expression
// to avoid races") and the update rule in spec §3.
type DedupRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewDedupRepository(pool *ManagedPool, logger *zerolog.Logger) *DedupRepository {
	return &DedupRepository{pool: pool, logger: logger.With().Str("layer", "postgres_dedup_repository").Logger()}
}

// UpsertAndCheck inserts a fresh dedup record or, on conflict, resets it if
// last_occurrence predates the window else increments occurrence_count.
// It returns the resulting row and whether the caller should proceed
// (i.e. this call is the one within the window that has not already sent
// a notification).
func (r *DedupRepository) UpsertAndCheck(ctx context.Context, imei, alarmType string, window time.Duration, now time.Time) (model.DedupRecord, bool, error) {
	var rec model.DedupRecord
	err := withRetry(ctx, func() error {
		return r.pool.Pool().QueryRow(ctx, `
			INSERT INTO alarms_dedup (imei, alarm_type, first_occurrence, last_occurrence, occurrence_count, notification_sent)
			VALUES ($1, $2, $3, $3, 1, false)
			ON CONFLICT (imei, alarm_type) DO UPDATE SET
				first_occurrence = CASE
					WHEN alarms_dedup.last_occurrence < $3 - $4::interval THEN $3
					ELSE alarms_dedup.first_occurrence
				END,
				occurrence_count = CASE
					WHEN alarms_dedup.last_occurrence < $3 - $4::interval THEN 1
					ELSE alarms_dedup.occurrence_count + 1
				END,
				notification_sent = CASE
					WHEN alarms_dedup.last_occurrence < $3 - $4::interval THEN false
					ELSE alarms_dedup.notification_sent
				END,
				last_occurrence = $3
			RETURNING imei, alarm_type, first_occurrence, last_occurrence, occurrence_count, notification_sent
		`, imei, alarmType, now, window).Scan(
			&rec.IMEI, &rec.AlarmType, &rec.FirstOccurrence, &rec.LastOccurrence, &rec.OccurrenceCount, &rec.NotificationSent,
		)
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return model.DedupRecord{}, false, fmt.Errorf("postgres: UpsertAndCheck failed: %w", err)
	}
	r.pool.NoteSuccess()

	// Proceed unless a notification was already sent within this window.
	proceed := !rec.NotificationSent
	return rec, proceed, nil
}

// MarkNotificationSent flips notification_sent=true after a successful
// send, per spec §4.2's fan-out contract.
func (r *DedupRepository) MarkNotificationSent(ctx context.Context, imei, alarmType string) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_dedup SET notification_sent = true WHERE imei = $1 AND alarm_type = $2`, imei, alarmType)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: MarkNotificationSent failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}
