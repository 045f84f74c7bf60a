package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/alarmdispatch/core/internal/modempool"
	"github.com/rs/zerolog"
)

// SMSAdapter delegates target modem selection to the modem pool (C2)
// and POSTs the formatted text to the chosen modem's HTTP endpoint,
// per spec §4.6 ("SMS: delegates target selection to C2; adapter
// produces the formatted text; adapter-level timeout 15s").
type SMSAdapter struct {
	pool    *modempool.ManagedPool
	client  *http.Client
	timeout time.Duration
	healthy atomic.Bool
	logger  zerolog.Logger
}

func NewSMSAdapter(pool *modempool.ManagedPool, cfg config.SMSConfig, logger *zerolog.Logger) *SMSAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	a := &SMSAdapter{
		pool:    pool,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With().Str("component", "sms_adapter").Logger(),
	}
	a.healthy.Store(true)
	return a
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	Accepted  bool   `json:"accepted"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (a *SMSAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	modem, err := a.pool.Select(ctx, "sms", msg.IMEI)
	if err != nil {
		a.healthy.Store(false)
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}
	defer a.pool.Release(modem.ID)

	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, _ := json.Marshal(smsPayload{To: msg.Recipient, Body: renderSMSBody(msg)})
	req, err := http.NewRequestWithContext(sctx, http.MethodPost, modem.Host+"/send", bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Kind: errkind.Permanent, Err: err}, errkind.New(errkind.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+modem.Credentials)

	resp, err := a.client.Do(req)
	if err != nil {
		a.healthy.Store(false)
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		kind := errkind.ClassifyHTTPStatus(resp.StatusCode)
		err := fmt.Errorf("sms adapter: modem %s returned status %d", modem.Name, resp.StatusCode)
		return Result{Success: false, Kind: kind, Err: err}, errkind.New(kind, err)
	}

	var out smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}
	if !out.Accepted {
		err := fmt.Errorf("sms adapter: modem %s rejected message: %s", modem.Name, out.Error)
		return Result{Success: false, Kind: errkind.Permanent, Err: err}, errkind.New(errkind.Permanent, err)
	}

	a.healthy.Store(true)
	if err := a.pool.MarkSent(ctx, modem.ID); err != nil {
		a.logger.Warn().Err(err).Int64("modem_id", modem.ID).Msg("sms adapter: failed to mark modem usage")
	}
	return Result{Success: true, ProviderMessageID: out.MessageID}, nil
}

func (a *SMSAdapter) Healthy(_ context.Context) bool {
	return a.healthy.Load()
}

func (a *SMSAdapter) Reload(_ context.Context) error {
	return nil
}

func renderSMSBody(msg Message) string {
	return fmt.Sprintf("%s alarm on %s at %s (%.5f,%.5f)", msg.Category, msg.IMEI, msg.GPSTime, msg.Latitude, msg.Longitude)
}
