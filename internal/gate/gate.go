// Package gate implements the per-send evaluation pipeline from spec
// §4.5 (C5): dedup, quiet hours, bounce suppression, and rate limiting,
// composed with first-miss-wins semantics.
package gate

import (
	"context"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/quiethours"
	"github.com/alarmdispatch/core/internal/ratelimit"
)

// Skip reasons, recorded on NotificationAttempt.SkipReason (spec §4.5).
const (
	ReasonDeduplicated = "deduplicated"
	ReasonQuietHours   = "quiet_hours"
	ReasonBounced      = "bounced"
	ReasonRateLimited  = "rate_limited"
)

// BounceChecker is the narrow external contract for email bounce
// suppression (spec §1: "bounce-webhook ingestion" is out of core
// scope; the core only ever asks "is this recipient suppressed").
type BounceChecker interface {
	Suppressed(ctx context.Context, email string) (bool, error)
}

// Gate composes the four checks behind a single Evaluate call.
type Gate struct {
	dedup   repo.DedupRepository
	quiet   *quiethours.Checker
	bounce  BounceChecker
	limiter ratelimit.Limiter
	window  time.Duration
}

func NewGate(dedup repo.DedupRepository, quiet *quiethours.Checker, bounce BounceChecker, limiter ratelimit.Limiter, cfg *config.Config) *Gate {
	window := cfg.Dedup.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Gate{dedup: dedup, quiet: quiet, bounce: bounce, limiter: limiter, window: window}
}

// Evaluate runs the four checks in spec §4.5 order, returning on the
// first one that fires. allow=true means the caller should proceed with
// the send and, on success, call MarkSent via the dedup repository.
func (g *Gate) Evaluate(ctx context.Context, alarm model.Alarm, channel model.Channel, contacts []model.Contact) (allow bool, reason string, err error) {
	_, proceed, err := g.dedup.UpsertAndCheck(ctx, alarm.IMEI, alarm.Status, g.window, time.Now().UTC())
	if err != nil {
		return false, "", err
	}
	if !proceed {
		return false, ReasonDeduplicated, nil
	}

	if g.quiet.Suppressed(contacts, alarm.Category, time.Now().UTC()) {
		return false, ReasonQuietHours, nil
	}

	if channel == model.ChannelEmail && g.bounce != nil {
		for _, c := range contacts {
			if recipient, ok := c.RecipientFor(channel); ok {
				suppressed, berr := g.bounce.Suppressed(ctx, recipient)
				if berr != nil {
					// Fail open: an unreachable suppression list must not
					// block a legitimate alarm (same rule as the limiter).
					continue
				}
				if suppressed {
					return false, ReasonBounced, nil
				}
			}
		}
	}

	allowed, err := g.limiter.Allow(ctx, channel, alarm.IMEI)
	if err != nil {
		return false, "", err
	}
	if !allowed {
		return false, ReasonRateLimited, nil
	}

	return true, "", nil
}

// MarkSent records that the dedup window should now suppress further
// sends, per spec §4.5 ("on subsequent send success, set
// notification_sent=true").
func (g *Gate) MarkSent(ctx context.Context, alarm model.Alarm) error {
	return g.dedup.MarkNotificationSent(ctx, alarm.IMEI, alarm.Status)
}
