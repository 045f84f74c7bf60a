// Package listener implements the optional LISTEN/NOTIFY secondary
// trigger from spec §4.11 (C11): a low-latency nudge that runs
// alongside the bus consumer rather than replacing it, safe to enable
// or disable at any time because every path converges on the same
// dedup-gated processor.
package listener

import (
	"context"
	"strconv"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/processor"
	"github.com/jackc/pgx/v5"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

const channelName = "alarms_new"

// Listener holds a dedicated, unpooled connection (LISTEN requires one
// session to own the subscription) and feeds notified alarm IDs straight
// into the processor, bypassing the bus entirely.
type Listener struct {
	dsn        string
	alarms     repo.AlarmRepository
	dispatcher processor.Dispatcher
	logger     zerolog.Logger
}

func NewListener(cfg *config.Config, alarms repo.AlarmRepository, dispatcher processor.Dispatcher, logger *zerolog.Logger) *Listener {
	return &Listener{
		dsn:        cfg.Postgres.DSN,
		alarms:     alarms,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "listener").Logger(),
	}
}

// Run connects, issues LISTEN, and processes notifications until ctx is
// cancelled, reconnecting with jittered backoff on any connection error
// — the same reconnect shape the consumer uses for its AMQP channel.
func (l *Listener) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for ctx.Err() == nil {
		err := l.listenUntilClosed(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			delay := b.Duration()
			l.logger.Warn().Err(err).Dur("backoff", delay).Msg("listener connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()
	}
}

func (l *Listener) listenUntilClosed(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
		return err
	}
	l.logger.Info().Str("channel", channelName).Msg("listening for notifications")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.handleNotification(ctx, notification.Payload)
	}
}

// handleNotification parses the notify payload (the alarm's numeric id,
// per spec §4.11) and reloads the alarm so the processor sees the same
// full row the bus payload would have carried.
func (l *Listener) handleNotification(ctx context.Context, payload string) {
	alarmID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		l.logger.Warn().Str("payload", payload).Err(err).Msg("notification payload is not a numeric alarm id, ignoring")
		return
	}

	log := l.logger.With().Int64("alarm_id", alarmID).Logger()

	alarm, err := l.alarms.GetByID(ctx, alarmID)
	if err != nil || alarm == nil {
		log.Warn().Err(err).Msg("notified alarm could not be loaded, skipping")
		return
	}

	if err := l.dispatcher.Process(ctx, *alarm); err != nil {
		log.Warn().Err(err).Msg("listener-triggered processing failed; bus delivery remains the authoritative path")
	}
}
