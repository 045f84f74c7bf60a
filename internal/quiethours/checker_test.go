package quiethours

import (
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
)

func mustTime(t *testing.T, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", hhmm, err)
	}
	return parsed
}

func TestChecker_Suppressed(t *testing.T) {
	cfg := &config.Config{QuietHours: config.QuietHoursConfig{CriticalCategories: []string{"sos"}}}
	checker := NewChecker(cfg)

	start := mustTime(t, "22:00")
	end := mustTime(t, "06:00")
	contact := model.Contact{Active: true, QuietHoursStart: &start, QuietHoursEnd: &end}

	insideWindow := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	outsideWindow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !checker.Suppressed([]model.Contact{contact}, "speeding", insideWindow) {
		t.Fatal("expected quiet hours to suppress a non-critical category inside the window")
	}
	if checker.Suppressed([]model.Contact{contact}, "speeding", outsideWindow) {
		t.Fatal("expected no suppression outside the window")
	}
}

func TestChecker_CriticalCategoryOverridesQuietHours(t *testing.T) {
	cfg := &config.Config{QuietHours: config.QuietHoursConfig{CriticalCategories: []string{"sos"}}}
	checker := NewChecker(cfg)

	start := mustTime(t, "22:00")
	end := mustTime(t, "06:00")
	contact := model.Contact{Active: true, QuietHoursStart: &start, QuietHoursEnd: &end}
	insideWindow := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)

	if checker.Suppressed([]model.Contact{contact}, "sos", insideWindow) {
		t.Fatal("expected a critical category to override quiet hours")
	}
}

func TestChecker_NoQuietHoursConfigured(t *testing.T) {
	cfg := &config.Config{}
	checker := NewChecker(cfg)
	contact := model.Contact{Active: true}

	if checker.Suppressed([]model.Contact{contact}, "speeding", time.Now().UTC()) {
		t.Fatal("expected no suppression when a contact has no quiet-hours window")
	}
}
