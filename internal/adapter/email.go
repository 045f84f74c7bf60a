package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// EmailAdapter sends notifications via SMTP, grounded on the teacher's
// EmailNotifier but generalized to the common Adapter contract and
// given a stable provider message-id for provider-side dedup (spec
// §4.6: "include a stable message-id derived from (alarm_id, channel)").
type EmailAdapter struct {
	mu      sync.RWMutex
	dialer  *gomail.Dialer
	from    string
	healthy atomic.Bool
	logger  zerolog.Logger
}

func NewEmailAdapter(cfg config.EmailConfig, logger *zerolog.Logger) *EmailAdapter {
	a := &EmailAdapter{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger.With().Str("component", "email_adapter").Logger(),
	}
	a.healthy.Store(true)
	return a
}

func (a *EmailAdapter) Send(_ context.Context, msg Message) (Result, error) {
	a.mu.RLock()
	dialer, from := a.dialer, a.from
	a.mu.RUnlock()

	providerMessageID := messageID(msg.AlarmID, msg.Channel)

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Message-Id", fmt.Sprintf("<%s@alarmdispatch>", providerMessageID))
	m.SetHeader("Subject", fmt.Sprintf("Alarm: %s (%s)", msg.Category, msg.IMEI))
	m.SetBody("text/plain", renderBody(msg))

	if err := dialer.DialAndSend(m); err != nil {
		a.healthy.Store(false)
		a.logger.Error().Err(err).Int64("alarm_id", msg.AlarmID).Str("recipient", msg.Recipient).Msg("failed to send email")
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}

	a.healthy.Store(true)
	return Result{Success: true, ProviderMessageID: providerMessageID}, nil
}

func (a *EmailAdapter) Healthy(_ context.Context) bool {
	return a.healthy.Load()
}

func (a *EmailAdapter) Reload(_ context.Context) error {
	// Dialer is rebuilt by the caller (fx decorator / admin endpoint)
	// calling SetConfig with the freshly-loaded config; a plain Reload
	// with no arguments has nothing new to pull on its own.
	return nil
}

// SetConfig swaps the dialer and from-address under lock, the mechanism
// admin-triggered config reload uses to avoid a restart.
func (a *EmailAdapter) SetConfig(cfg config.EmailConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	a.from = cfg.From
}

func messageID(alarmID int64, channel model.Channel) string {
	return hashID(fmt.Sprintf("%d:%s", alarmID, channel))
}

func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

func renderBody(msg Message) string {
	return fmt.Sprintf(
		"Alarm on device %s\nCategory: %s\nStatus: %s\nTime: %s\nLocation: %f,%f\nSpeed: %.1f",
		msg.IMEI, msg.Category, msg.Status, msg.GPSTime, msg.Latitude, msg.Longitude, msg.Speed,
	)
}
