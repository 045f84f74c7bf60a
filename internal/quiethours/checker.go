// Package quiethours evaluates the quiet-hours suppression rule from
// spec §4.5 step 2: if any active contact for the alarm's imei has a
// quiet-hours window covering the current UTC time, the send is skipped
// unless the alarm's category is configured as critical.
package quiethours

import (
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
)

// Checker decides whether quiet hours currently suppress a channel.
type Checker struct {
	criticalCategories map[string]bool
}

func NewChecker(cfg *config.Config) *Checker {
	crit := make(map[string]bool, len(cfg.QuietHours.CriticalCategories))
	for _, c := range cfg.QuietHours.CriticalCategories {
		crit[c] = true
	}
	return &Checker{criticalCategories: crit}
}

// Suppressed reports whether any contact in contacts is currently inside
// its quiet-hours window, unless category is configured as critical
// (critical categories always override quiet hours, per spec §4.5).
func (c *Checker) Suppressed(contacts []model.Contact, category string, at time.Time) bool {
	if c.criticalCategories[category] {
		return false
	}
	for _, contact := range contacts {
		if contact.InQuietHours(at) {
			return true
		}
	}
	return false
}
