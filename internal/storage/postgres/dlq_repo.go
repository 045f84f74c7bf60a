package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.DLQRepository = (*DLQRepository)(nil)

// DLQRepository implements repo.DLQRepository against `alarms_dlq`.
// Grounded on this package's own filtered-list/increment/annotate shape
// used throughout the repository layer (e.g. ModemRepository.ListEligible),
// adapted to the dead-letter domain's (alarm_id, channel) keying (spec
// §4.8: "rows are an audit trail", not a dedup-by-key store).
type DLQRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewDLQRepository(pool *ManagedPool, logger *zerolog.Logger) *DLQRepository {
	return &DLQRepository{pool: pool, logger: logger.With().Str("layer", "postgres_dlq_repository").Logger()}
}

func (r *DLQRepository) Add(ctx context.Context, item model.DLQItem) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			INSERT INTO alarms_dlq (alarm_id, imei, channel, payload, error_message, error_type, attempts, last_attempt_at, created_at, reprocessed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false)`,
			item.AlarmID, item.IMEI, item.Channel, item.Payload, item.ErrorMessage, item.ErrorType,
			item.Attempts, item.LastAttemptAt, item.CreatedAt,
		)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Add DLQ item failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

func (r *DLQRepository) ListPending(ctx context.Context, filter repo.DLQFilter) ([]model.DLQItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	// $1 is reserved for LIMIT; filter predicates are numbered from $2.
	clauses := []string{"NOT reprocessed"}
	args := []interface{}{limit}
	argn := 1

	if filter.ID != 0 {
		argn++
		clauses = append(clauses, fmt.Sprintf("id = $%d", argn))
		args = append(args, filter.ID)
	}
	if filter.Channel != "" {
		argn++
		clauses = append(clauses, fmt.Sprintf("channel = $%d", argn))
		args = append(args, filter.Channel)
	}
	if filter.ErrorType != "" {
		argn++
		clauses = append(clauses, fmt.Sprintf("error_type = $%d", argn))
		args = append(args, filter.ErrorType)
	}
	if filter.OlderThan > 0 {
		argn++
		clauses = append(clauses, fmt.Sprintf("created_at < now() - $%d::interval", argn))
		args = append(args, filter.OlderThan)
	}

	query := fmt.Sprintf(`
		SELECT id, alarm_id, imei, channel, payload, error_message, error_type, attempts,
		       last_attempt_at, created_at, reprocessed, reprocessed_at, COALESCE(reprocessed_by, '')
		FROM alarms_dlq
		WHERE %s
		ORDER BY channel, created_at ASC
		LIMIT $1`, strings.Join(clauses, " AND "))

	var out []model.DLQItem
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var it model.DLQItem
			if serr := rows.Scan(&it.ID, &it.AlarmID, &it.IMEI, &it.Channel, &it.Payload, &it.ErrorMessage,
				&it.ErrorType, &it.Attempts, &it.LastAttemptAt, &it.CreatedAt, &it.Reprocessed,
				&it.ReprocessedAt, &it.ReprocessedBy); serr != nil {
				return serr
			}
			out = append(out, it)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: ListPending (dlq) failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}

func (r *DLQRepository) IncrementAttempt(ctx context.Context, id int64, lastAttemptAt time.Time) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_dlq SET attempts = attempts + 1, last_attempt_at = $2 WHERE id = $1`, id, lastAttemptAt)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: IncrementAttempt failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

func (r *DLQRepository) MarkReprocessed(ctx context.Context, id int64, by string, at time.Time, failed bool) error {
	errMsg := ""
	if failed {
		errMsg = "attempts hard cap reached, stopped cycling"
	}
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_dlq
			SET reprocessed = true, reprocessed_at = $2, reprocessed_by = $3,
			    error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END
			WHERE id = $1`, id, at, by, errMsg)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: MarkReprocessed failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}
