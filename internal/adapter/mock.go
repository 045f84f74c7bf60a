package adapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MockAdapter is the teacher's LogNotifier generalized into a
// per-channel mock recorder: it logs instead of sending, and is swapped
// in by the system-control layer (C9) for a channel while
// mock_<channel>=true, per spec §4.9 ("Mock mode: routes all sends for
// that channel through a log-only mock, recording attempts normally").
type MockAdapter struct {
	channel string
	logger  zerolog.Logger
}

func NewMockAdapter(channel string, logger *zerolog.Logger) *MockAdapter {
	return &MockAdapter{
		channel: channel,
		logger:  logger.With().Str("component", "mock_adapter").Str("channel", channel).Logger(),
	}
}

func (a *MockAdapter) Send(_ context.Context, msg Message) (Result, error) {
	providerMessageID := fmt.Sprintf("mock-%s", uuid.NewString())
	a.logger.Info().
		Int64("alarm_id", msg.AlarmID).
		Str("recipient", msg.Recipient).
		Str("provider_message_id", providerMessageID).
		Msg(">>> MOCK SEND: notification dispatched")
	return Result{Success: true, ProviderMessageID: providerMessageID}, nil
}

func (a *MockAdapter) Healthy(_ context.Context) bool {
	return true
}

func (a *MockAdapter) Reload(_ context.Context) error {
	return nil
}
