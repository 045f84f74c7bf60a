package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

var _ repo.AlarmRepository = (*AlarmRepository)(nil)

// AlarmRepository implements repo.AlarmRepository against the `alarms`
// table. The core is read-only for every column but the per-channel
// sent-markers (spec §3 Alarm invariant).
type AlarmRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewAlarmRepository(pool *ManagedPool, logger *zerolog.Logger) *AlarmRepository {
	return &AlarmRepository{pool: pool, logger: logger.With().Str("layer", "postgres_alarm_repository").Logger()}
}

func (r *AlarmRepository) GetByID(ctx context.Context, id int64) (*model.Alarm, error) {
	var a model.Alarm
	err := withRetry(ctx, func() error {
		row := r.pool.Pool().QueryRow(ctx, `
			SELECT id, imei, status, category, gps_time, latitude, longitude, speed,
			       is_sms, is_email, is_call, is_valid,
			       sms_sent, sms_sent_at, email_sent, email_sent_at, call_sent, call_sent_at
			FROM alarms WHERE id = $1`, id)
		return row.Scan(
			&a.ID, &a.IMEI, &a.Status, &a.Category, &a.GPSTime, &a.Latitude, &a.Longitude, &a.Speed,
			&a.IsSMS, &a.IsEmail, &a.IsCall, &a.IsValid,
			&a.SMSSent, &a.SMSSentAt, &a.EmailSent, &a.EmailSentAt, &a.CallSent, &a.CallSentAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		r.pool.NoteFailure(ctx)
		r.logger.Error().Err(err).Int64("alarm_id", id).Msg("failed to get alarm")
		return nil, fmt.Errorf("postgres: GetByID failed: %w", err)
	}
	r.pool.NoteSuccess()
	return &a, nil
}

// MarkSent performs the idempotent sent-marker transition described in
// spec §4.2 ("guarded by not <c>_sent"). It reports whether this call was
// the one that flipped the marker.
func (r *AlarmRepository) MarkSent(ctx context.Context, alarmID int64, ch model.Channel, at time.Time) (bool, error) {
	col, colAt, err := sentColumns(ch)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`UPDATE alarms SET %s = true, %s = $2 WHERE id = $1 AND NOT %s`, col, colAt, col)
	var tag int64
	rerr := withRetry(ctx, func() error {
		ct, execErr := r.pool.Pool().Exec(ctx, query, alarmID, at)
		if execErr != nil {
			return execErr
		}
		tag = ct.RowsAffected()
		return nil
	})
	if rerr != nil {
		r.pool.NoteFailure(ctx)
		return false, fmt.Errorf("postgres: MarkSent failed: %w", rerr)
	}
	r.pool.NoteSuccess()
	return tag == 1, nil
}

func (r *AlarmRepository) ListPending(ctx context.Context, ch model.Channel, limit int) ([]model.Alarm, error) {
	col, _, err := sentColumns(ch)
	if err != nil {
		return nil, err
	}
	flagCol, err := wantColumn(ch)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, imei, status, category, gps_time, latitude, longitude, speed,
		       is_sms, is_email, is_call, is_valid,
		       sms_sent, sms_sent_at, email_sent, email_sent_at, call_sent, call_sent_at
		FROM alarms
		WHERE is_valid AND %s AND NOT %s
		ORDER BY gps_time ASC
		LIMIT $1`, flagCol, col)

	var out []model.Alarm
	err = withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, query, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var a model.Alarm
			if serr := rows.Scan(
				&a.ID, &a.IMEI, &a.Status, &a.Category, &a.GPSTime, &a.Latitude, &a.Longitude, &a.Speed,
				&a.IsSMS, &a.IsEmail, &a.IsCall, &a.IsValid,
				&a.SMSSent, &a.SMSSentAt, &a.EmailSent, &a.EmailSentAt, &a.CallSent, &a.CallSentAt,
			); serr != nil {
				return serr
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: ListPending failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}

func sentColumns(ch model.Channel) (col, colAt string, err error) {
	switch ch {
	case model.ChannelSMS, model.ChannelPush:
		return "sms_sent", "sms_sent_at", nil
	case model.ChannelEmail:
		return "email_sent", "email_sent_at", nil
	case model.ChannelVoice:
		return "call_sent", "call_sent_at", nil
	default:
		return "", "", fmt.Errorf("postgres: unknown channel %q", ch)
	}
}

func wantColumn(ch model.Channel) (string, error) {
	switch ch {
	case model.ChannelSMS, model.ChannelPush:
		return "is_sms", nil
	case model.ChannelEmail:
		return "is_email", nil
	case model.ChannelVoice:
		return "is_call", nil
	default:
		return "", fmt.Errorf("postgres: unknown channel %q", ch)
	}
}
