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
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/rs/zerolog"
)

// PushAdapter multicasts to every registered device token for an
// alarm's imei, per spec §4.6 ("multicast to all registered device
// tokens for the owner; prune tokens reported invalid by provider").
// The processor resolves tokens and loops Send per-token; msg.Recipient
// carries the token. Unlike the other channels, a single invalid
// recipient does not fail the whole channel attempt — the adapter prunes
// the token and reports it so the caller can continue.
type PushAdapter struct {
	baseURL string
	tokens  repo.PushTokenRepository
	client  *http.Client
	healthy atomic.Bool
	logger  zerolog.Logger
}

func NewPushAdapter(cfg config.PushConfig, tokens repo.PushTokenRepository, logger *zerolog.Logger) *PushAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	a := &PushAdapter{
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "push_adapter").Logger(),
	}
	a.healthy.Store(true)
	return a
}

type pushPayload struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type pushResponse struct {
	Delivered     bool   `json:"delivered"`
	TokenInvalid  bool   `json:"token_invalid"`
	Error         string `json:"error,omitempty"`
}

// Send delivers to the single token named in msg.Recipient. The
// processor calls this once per token resolved for the alarm's imei.
// A token the provider reports invalid is marked invalid through the
// PushTokenRepository here and returned as InvalidRecipient.
func (a *PushAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	body, _ := json.Marshal(pushPayload{Token: msg.Recipient, Title: fmt.Sprintf("Alarm: %s", msg.Category), Body: renderPushBody(msg)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Kind: errkind.Permanent, Err: err}, errkind.New(errkind.Permanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.healthy.Store(false)
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		kind := errkind.ClassifyHTTPStatus(resp.StatusCode)
		err := fmt.Errorf("push adapter: provider returned status %d", resp.StatusCode)
		return Result{Success: false, Kind: kind, Err: err}, errkind.New(kind, err)
	}

	var out pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}
	if out.TokenInvalid {
		if pruneErr := a.tokens.MarkInvalid(ctx, msg.Recipient); pruneErr != nil {
			a.logger.Warn().Err(pruneErr).Msg("push adapter: failed to prune invalid token")
		}
		err := fmt.Errorf("push adapter: token reported invalid: %s", out.Error)
		return Result{Success: false, Kind: errkind.InvalidRecipient, Err: err}, errkind.New(errkind.InvalidRecipient, err)
	}
	if !out.Delivered {
		err := fmt.Errorf("push adapter: provider did not deliver: %s", out.Error)
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}

	a.healthy.Store(true)
	return Result{Success: true}, nil
}

func (a *PushAdapter) Healthy(_ context.Context) bool {
	return a.healthy.Load()
}

func (a *PushAdapter) Reload(_ context.Context) error {
	return nil
}

func renderPushBody(msg Message) string {
	return fmt.Sprintf("%s alarm for device %s", msg.Category, msg.IMEI)
}
