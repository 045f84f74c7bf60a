package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/alarmdispatch/core/internal/breaker"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/processor"
	"github.com/rs/zerolog"
)

// Reprocessor replays pending dead letters through the processor on a
// ticker, per spec §4.8. Grounded on the same batch-select /
// attempt-increment / terminal-annotate shape used across the example
// pack's retry-queue implementations, adapted to this domain's
// (alarm_id, channel) keying.
type Reprocessor struct {
	store      *Store
	alarms     repo.AlarmRepository
	dispatcher processor.Dispatcher
	breakers   *breaker.Set
	workerID   string
	interval   time.Duration
	batchSize  int
	hardCap    int
	logger     zerolog.Logger
}

func NewReprocessor(store *Store, alarms repo.AlarmRepository, dispatcher processor.Dispatcher, breakers *breaker.Set, workerID string, cfg *config.Config, logger *zerolog.Logger) *Reprocessor {
	interval := cfg.DLQ.ReprocessInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	batchSize := cfg.DLQ.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	hardCap := cfg.DLQ.AttemptsHardCap
	if hardCap <= 0 {
		hardCap = 10
	}
	return &Reprocessor{
		store:      store,
		alarms:     alarms,
		dispatcher: dispatcher,
		breakers:   breakers,
		workerID:   workerID,
		interval:   interval,
		batchSize:  batchSize,
		hardCap:    hardCap,
		logger:     logger.With().Str("component", "dlq_reprocessor").Logger(),
	}
}

// Run ticks until ctx is cancelled, replaying one batch per tick.
func (r *Reprocessor) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReprocessBatch(ctx, Filter{Limit: r.batchSize})
		}
	}
}

// ReprocessBatch replays every pending item matching filter, skipping
// channels whose breaker is currently open (spec §4.8).
func (r *Reprocessor) ReprocessBatch(ctx context.Context, filter Filter) (int, error) {
	items, err := r.store.ListPending(ctx, filter)
	if err != nil {
		r.logger.Error().Err(err).Msg("dlq: failed to list pending items")
		return 0, err
	}

	replayed := 0
	for _, item := range items {
		if r.breakers.State(item.Channel).String() == "open" {
			continue
		}
		r.reprocessOne(ctx, item)
		replayed++
	}
	return replayed, nil
}

// ReprocessOne replays a single dead letter by id, for the admin
// "reprocess one" endpoint (spec §6). It ignores the breaker-open skip
// that ReprocessBatch applies automatically, since an operator asking
// for one specific item has already made that call.
func (r *Reprocessor) ReprocessOne(ctx context.Context, id int64) error {
	items, err := r.store.ListPending(ctx, Filter{ID: id, Limit: 1})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("dlq: item %d not found or already reprocessed", id)
	}
	r.reprocessOne(ctx, items[0])
	return nil
}

// reprocessOne replays a single dead letter by re-running the alarm
// through the processor and checking whether the channel's sent-marker
// transitioned afterward. Process() re-derives eligible channels from
// the alarm's current sent-markers, so replaying it is safe even though
// it may also touch channels unrelated to this dead letter.
func (r *Reprocessor) reprocessOne(ctx context.Context, item model.DLQItem) {
	logger := r.logger.With().Int64("dlq_id", item.ID).Int64("alarm_id", item.AlarmID).Str("channel", string(item.Channel)).Logger()

	alarm, err := r.alarms.GetByID(ctx, item.AlarmID)
	if err != nil || alarm == nil {
		logger.Warn().Err(err).Msg("dlq: alarm no longer found, marking terminal")
		if err := r.store.MarkReprocessed(ctx, item.ID, r.workerID, true); err != nil {
			logger.Error().Err(err).Msg("dlq: failed to mark terminal")
		}
		return
	}

	if alarm.AlreadySent(item.Channel) {
		if err := r.store.MarkReprocessed(ctx, item.ID, r.workerID, false); err != nil {
			logger.Error().Err(err).Msg("dlq: failed to mark reprocessed")
		}
		return
	}

	if err := r.dispatcher.Process(ctx, *alarm); err != nil {
		logger.Warn().Err(err).Msg("dlq: replay returned an error")
	}

	after, err := r.alarms.GetByID(ctx, item.AlarmID)
	if err == nil && after != nil && after.AlreadySent(item.Channel) {
		if err := r.store.MarkReprocessed(ctx, item.ID, r.workerID, false); err != nil {
			logger.Error().Err(err).Msg("dlq: failed to mark reprocessed")
		}
		return
	}

	if err := r.store.IncrementAttempt(ctx, item.ID, time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("dlq: failed to increment attempt count")
	}
	if item.Attempts+1 >= r.hardCap {
		logger.Warn().Int("attempts", item.Attempts+1).Msg("dlq: hard cap reached, marking terminal")
		if err := r.store.MarkReprocessed(ctx, item.ID, r.workerID, true); err != nil {
			logger.Error().Err(err).Msg("dlq: failed to mark terminal")
		}
	}
}
