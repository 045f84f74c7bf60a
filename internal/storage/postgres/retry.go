package postgres

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryDelays is the linear backoff schedule for transient connection
// errors on write paths, per spec §4.12 ("3 attempts, linear 1/2/5 s").
var retryDelays = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

// withRetry runs op, retrying on transient connection errors according to
// retryDelays. Non-transient errors (constraint violations, not-found) are
// returned immediately without retry.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		err = op()
		if err == nil || !isTransientConnErr(err) {
			return err
		}
		if attempt == len(retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
	return err
}

func isTransientConnErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return errors.Is(err, context.DeadlineExceeded)
}
