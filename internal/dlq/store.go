// Package dlq implements the dead-letter store and reprocessing loop
// from spec §4.8 (C8): a durable record of terminally-failed
// (alarm, channel) pairs, with a background loop that replays pending
// items through the processor.
package dlq

import (
	"context"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/rs/zerolog"
)

// Filter re-exports repo.DLQFilter under this package's name so callers
// of the admin surface don't need to import the repository package
// directly.
type Filter = repo.DLQFilter

// Store wraps repo.DLQRepository. It exists as its own package (rather
// than calling the repository directly from the processor and admin
// layers) so the Reprocessor can own the replay loop next to the data
// it reprocesses.
type Store struct {
	repo   repo.DLQRepository
	logger zerolog.Logger
}

func NewStore(r repo.DLQRepository, logger *zerolog.Logger) *Store {
	return &Store{repo: r, logger: logger.With().Str("component", "dlq_store").Logger()}
}

func (s *Store) Add(ctx context.Context, item model.DLQItem) error {
	return s.repo.Add(ctx, item)
}

func (s *Store) ListPending(ctx context.Context, filter Filter) ([]model.DLQItem, error) {
	return s.repo.ListPending(ctx, filter)
}

func (s *Store) IncrementAttempt(ctx context.Context, id int64, at time.Time) error {
	return s.repo.IncrementAttempt(ctx, id, at)
}

func (s *Store) MarkReprocessed(ctx context.Context, id int64, by string, failed bool) error {
	return s.repo.MarkReprocessed(ctx, id, by, time.Now().UTC(), failed)
}
