package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

var _ repo.ModemRepository = (*ModemRepository)(nil)

// ModemRepository implements repo.ModemRepository against
// `alarms_sms_modems` / `alarms_sms_modem_usage`. Per Design Note
// ("per-modem mutable counters shared across workers... use DB-atomic
// increments with RETURNING; do not cache modem state across requests
// beyond a short TTL") this repository never caches rows — every call
// reads fresh from Postgres.
type ModemRepository struct {
	pool   *ManagedPool
	logger zerolog.Logger
}

func NewModemRepository(pool *ManagedPool, logger *zerolog.Logger) *ModemRepository {
	return &ModemRepository{pool: pool, logger: logger.With().Str("layer", "postgres_modem_repository").Logger()}
}

func (r *ModemRepository) ListEligible(ctx context.Context, service string) ([]model.Modem, error) {
	var out []model.Modem
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT id, name, host, credentials, COALESCE(cert_fingerprint, ''), modem_id, enabled, priority,
			       max_concurrent_sms, sms_sent_count, sms_limit, package_cost, package_currency,
			       package_start, package_end, allowed_services, health_status, last_health_check,
			       COALESCE(dedicated_imei, '')
			FROM alarms_sms_modems
			WHERE enabled AND health_status = 'healthy' AND sms_sent_count < sms_limit
			  AND ($1 = '' OR $1 = ANY(allowed_services))
			ORDER BY priority DESC, (sms_limit - sms_sent_count) DESC, sms_sent_count ASC`, service)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			if m, serr := scanModem(rows); serr != nil {
				return serr
			} else {
				out = append(out, m)
			}
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: ListEligible failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}

func (r *ModemRepository) FindDedicated(ctx context.Context, imei string) (*model.Modem, error) {
	var m model.Modem
	var found bool
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT id, name, host, credentials, COALESCE(cert_fingerprint, ''), modem_id, enabled, priority,
			       max_concurrent_sms, sms_sent_count, sms_limit, package_cost, package_currency,
			       package_start, package_end, allowed_services, health_status, last_health_check,
			       COALESCE(dedicated_imei, '')
			FROM alarms_sms_modems
			WHERE dedicated_imei = $1
			LIMIT 1`, imei)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		if rows.Next() {
			var serr error
			m, serr = scanModem(rows)
			if serr != nil {
				return serr
			}
			found = true
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: FindDedicated failed: %w", err)
	}
	r.pool.NoteSuccess()
	if !found {
		return nil, nil
	}
	return &m, nil
}

// IncrementSentCount atomically bumps the modem's counter and upserts a
// daily usage row, per spec §4.7 ("atomically increment sms_sent_count and
// insert a daily-usage row").
func (r *ModemRepository) IncrementSentCount(ctx context.Context, modemID int64, date time.Time) error {
	err := withRetry(ctx, func() error {
		tx, txErr := r.pool.Pool().Begin(ctx)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback(ctx)

		if _, execErr := tx.Exec(ctx, `
			UPDATE alarms_sms_modems SET sms_sent_count = sms_sent_count + 1 WHERE id = $1`, modemID); execErr != nil {
			return execErr
		}
		if _, execErr := tx.Exec(ctx, `
			INSERT INTO alarms_sms_modem_usage (modem_id, date, count)
			VALUES ($1, $2, 1)
			ON CONFLICT (modem_id, date) DO UPDATE SET count = alarms_sms_modem_usage.count + 1`,
			modemID, date.Truncate(24*time.Hour)); execErr != nil {
			return execErr
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: IncrementSentCount failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

func (r *ModemRepository) SetHealth(ctx context.Context, modemID int64, status model.HealthStatus, checkedAt time.Time) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_sms_modems SET health_status = $2, last_health_check = $3 WHERE id = $1`,
			modemID, status, checkedAt)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: SetHealth failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

// ResetExpiredPackages clears counters for modems whose package has
// rolled over, per spec §4.7 ("when now > package_end_date, counters
// reset atomically").
func (r *ModemRepository) ResetExpiredPackages(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := withRetry(ctx, func() error {
		ct, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_sms_modems
			SET sms_sent_count = 0, package_start = $2
			WHERE package_end < $2`, now)
		if execErr != nil {
			return execErr
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return 0, fmt.Errorf("postgres: ResetExpiredPackages failed: %w", err)
	}
	r.pool.NoteSuccess()
	return affected, nil
}

// List returns every modem row, for the admin listing endpoint.
func (r *ModemRepository) List(ctx context.Context) ([]model.Modem, error) {
	var out []model.Modem
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT id, name, host, credentials, COALESCE(cert_fingerprint, ''), modem_id, enabled, priority,
			       max_concurrent_sms, sms_sent_count, sms_limit, package_cost, package_currency,
			       package_start, package_end, allowed_services, health_status, last_health_check,
			       COALESCE(dedicated_imei, '')
			FROM alarms_sms_modems
			ORDER BY priority DESC, name ASC`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			m, serr := scanModem(rows)
			if serr != nil {
				return serr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: List modems failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}

// GetByID returns a single modem, or nil if it doesn't exist.
func (r *ModemRepository) GetByID(ctx context.Context, id int64) (*model.Modem, error) {
	var m model.Modem
	var found bool
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT id, name, host, credentials, COALESCE(cert_fingerprint, ''), modem_id, enabled, priority,
			       max_concurrent_sms, sms_sent_count, sms_limit, package_cost, package_currency,
			       package_start, package_end, allowed_services, health_status, last_health_check,
			       COALESCE(dedicated_imei, '')
			FROM alarms_sms_modems
			WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		if rows.Next() {
			var serr error
			m, serr = scanModem(rows)
			if serr != nil {
				return serr
			}
			found = true
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: GetByID modem failed: %w", err)
	}
	r.pool.NoteSuccess()
	if !found {
		return nil, nil
	}
	return &m, nil
}

// Create inserts a new modem row and returns its generated id.
func (r *ModemRepository) Create(ctx context.Context, m model.Modem) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
		return r.pool.Pool().QueryRow(ctx, `
			INSERT INTO alarms_sms_modems
				(name, host, credentials, cert_fingerprint, modem_id, enabled, priority, max_concurrent_sms,
				 sms_limit, package_cost, package_currency, package_start, package_end, allowed_services, dedicated_imei)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING id`,
			m.Name, m.Host, m.Credentials, m.CertFingerprint, m.ModemID, m.Enabled, m.Priority, m.MaxConcurrentSMS,
			m.SMSLimit, m.PackageCost, m.PackageCurrency, m.PackageStart, m.PackageEnd, m.AllowedServices, nullIfEmpty(m.DedicatedIMEI),
		).Scan(&id)
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return 0, fmt.Errorf("postgres: Create modem failed: %w", err)
	}
	r.pool.NoteSuccess()
	return id, nil
}

// Update overwrites a modem's editable fields (not the usage counters,
// which only IncrementSentCount/ResetExpiredPackages may touch).
func (r *ModemRepository) Update(ctx context.Context, m model.Modem) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_sms_modems SET
				name = $2, host = $3, credentials = $4, cert_fingerprint = $5, modem_id = $6,
				enabled = $7, priority = $8, max_concurrent_sms = $9, sms_limit = $10,
				package_cost = $11, package_currency = $12, allowed_services = $13, dedicated_imei = $14
			WHERE id = $1`,
			m.ID, m.Name, m.Host, m.Credentials, m.CertFingerprint, m.ModemID,
			m.Enabled, m.Priority, m.MaxConcurrentSMS, m.SMSLimit,
			m.PackageCost, m.PackageCurrency, m.AllowedServices, nullIfEmpty(m.DedicatedIMEI),
		)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Update modem failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

// Delete removes a modem row. Historical usage/attempt rows reference the
// id loosely (no FK) so they survive as an audit trail.
func (r *ModemRepository) Delete(ctx context.Context, id int64) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `DELETE FROM alarms_sms_modems WHERE id = $1`, id)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: Delete modem failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

// ResetPackage is the admin-triggered counterpart to
// ResetExpiredPackages: an operator manually starts a new billing
// package for one modem.
func (r *ModemRepository) ResetPackage(ctx context.Context, id int64, start, end time.Time) error {
	err := withRetry(ctx, func() error {
		_, execErr := r.pool.Pool().Exec(ctx, `
			UPDATE alarms_sms_modems
			SET sms_sent_count = 0, package_start = $2, package_end = $3
			WHERE id = $1`, id, start, end)
		return execErr
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return fmt.Errorf("postgres: ResetPackage failed: %w", err)
	}
	r.pool.NoteSuccess()
	return nil
}

// UsageReport returns daily send counts since the given time, newest first.
func (r *ModemRepository) UsageReport(ctx context.Context, id int64, since time.Time) ([]repo.ModemUsageDay, error) {
	var out []repo.ModemUsageDay
	err := withRetry(ctx, func() error {
		rows, qerr := r.pool.Pool().Query(ctx, `
			SELECT date, count FROM alarms_sms_modem_usage
			WHERE modem_id = $1 AND date >= $2
			ORDER BY date DESC`, id, since.Truncate(24*time.Hour))
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var d repo.ModemUsageDay
			if serr := rows.Scan(&d.Date, &d.Count); serr != nil {
				return serr
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		r.pool.NoteFailure(ctx)
		return nil, fmt.Errorf("postgres: UsageReport failed: %w", err)
	}
	r.pool.NoteSuccess()
	return out, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanModem(rows scannable) (model.Modem, error) {
	var m model.Modem
	err := rows.Scan(
		&m.ID, &m.Name, &m.Host, &m.Credentials, &m.CertFingerprint, &m.ModemID, &m.Enabled, &m.Priority,
		&m.MaxConcurrentSMS, &m.SMSSentCount, &m.SMSLimit, &m.PackageCost, &m.PackageCurrency,
		&m.PackageStart, &m.PackageEnd, &m.AllowedServices, &m.HealthStatus, &m.LastHealthCheck,
		&m.DedicatedIMEI,
	)
	return m, err
}
