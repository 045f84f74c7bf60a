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
	"github.com/rs/zerolog"
)

// VoiceAdapter initiates a TTS call via a configurable voice provider
// HTTP API. Success means the provider queued the call, not that the
// recipient answered (spec §4.6: "success = call queued at provider").
type VoiceAdapter struct {
	baseURL string
	client  *http.Client
	healthy atomic.Bool
	logger  zerolog.Logger
}

func NewVoiceAdapter(cfg config.VoiceConfig, logger *zerolog.Logger) *VoiceAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &VoiceAdapter{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "voice_adapter").Logger(),
	}
	a.healthy.Store(true)
	return a
}

type voicePayload struct {
	To     string `json:"to"`
	Script string `json:"script"`
}

type voiceResponse struct {
	Queued  bool   `json:"queued"`
	CallID  string `json:"call_id"`
	Error   string `json:"error,omitempty"`
}

func (a *VoiceAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	body, _ := json.Marshal(voicePayload{To: msg.Recipient, Script: renderVoiceScript(msg)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/calls", bytes.NewReader(body))
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
		err := fmt.Errorf("voice adapter: provider returned status %d", resp.StatusCode)
		return Result{Success: false, Kind: kind, Err: err}, errkind.New(kind, err)
	}

	var out voiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Success: false, Kind: errkind.Transient, Err: err}, errkind.New(errkind.Transient, err)
	}
	if !out.Queued {
		err := fmt.Errorf("voice adapter: provider did not queue call: %s", out.Error)
		return Result{Success: false, Kind: errkind.Permanent, Err: err}, errkind.New(errkind.Permanent, err)
	}

	a.healthy.Store(true)
	return Result{Success: true, ProviderMessageID: out.CallID}, nil
}

func (a *VoiceAdapter) Healthy(_ context.Context) bool {
	return a.healthy.Load()
}

func (a *VoiceAdapter) Reload(_ context.Context) error {
	return nil
}

func renderVoiceScript(msg Message) string {
	return fmt.Sprintf("Alert. %s alarm reported for device %s. Status %s.", msg.Category, msg.IMEI, msg.Status)
}
