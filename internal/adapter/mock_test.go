package adapter

import (
	"context"
	"strings"
	"testing"

	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/rs/zerolog"
)

func TestMockAdapter_SendAlwaysSucceeds(t *testing.T) {
	logger := zerolog.Nop()
	a := NewMockAdapter("sms", &logger)

	result, err := a.Send(context.Background(), Message{AlarmID: 42, Recipient: "+15551234567"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected mock send to always succeed")
	}
	if !strings.HasPrefix(result.ProviderMessageID, "mock-") {
		t.Fatalf("expected a mock-prefixed provider message id, got %q", result.ProviderMessageID)
	}
}

func TestMockAdapter_HealthyAndReload(t *testing.T) {
	logger := zerolog.Nop()
	a := NewMockAdapter("email", &logger)

	if !a.Healthy(context.Background()) {
		t.Fatal("expected mock adapter to always report healthy")
	}
	if err := a.Reload(context.Background()); err != nil {
		t.Fatalf("expected reload to be a no-op, got: %v", err)
	}
}

func TestNewMockSet_CoversEveryChannel(t *testing.T) {
	logger := zerolog.Nop()
	set := NewMockSet(&logger)

	for _, ch := range model.AllChannels {
		if _, ok := set[ch]; !ok {
			t.Fatalf("expected mock set to include channel %q", ch)
		}
	}
}
