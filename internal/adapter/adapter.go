// Package adapter implements the per-channel send contract from spec
// §4.6: a common Adapter interface, one concrete implementation per
// channel (email, sms, voice, push), plus a mock adapter used when the
// system is in mock mode (C1).
package adapter

import (
	"context"

	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/rs/zerolog"
)

// Result is the outcome of a single send attempt.
type Result struct {
	Success           bool
	ProviderMessageID string
	Kind              errkind.Kind
	Err               error
}

// Message is everything an adapter needs to deliver a single alarm
// notification to a single recipient on a single channel. The processor
// builds one Message per (alarm, channel, contact).
type Message struct {
	AlarmID     int64
	IMEI        string
	Category    string
	Status      string
	GPSTime     string
	Latitude    float64
	Longitude   float64
	Speed       float64
	Channel     model.Channel
	Recipient   string // email address, phone number, or push token
	AttemptNum  int
}

// Adapter is the common per-channel send contract (spec §4.6).
type Adapter interface {
	// Send delivers msg and reports the outcome. It must never panic on a
	// provider error — all failures surface through Result/err.
	Send(ctx context.Context, msg Message) (Result, error)
	// Healthy reports whether the adapter's upstream dependency currently
	// looks reachable, consumed by C10/metrics per spec §4.6.
	Healthy(ctx context.Context) bool
	// Reload applies configuration changes without a process restart
	// (spec §4.6: "All adapters must be reloadable").
	Reload(ctx context.Context) error
}

// NewLiveSet assembles the real, provider-backed adapter for every
// channel. The processor picks between this map and NewMockSet per
// request, per spec §4.9's mock-mode toggles.
func NewLiveSet(email *EmailAdapter, sms *SMSAdapter, voice *VoiceAdapter, push *PushAdapter) map[model.Channel]Adapter {
	return map[model.Channel]Adapter{
		model.ChannelEmail: email,
		model.ChannelSMS:   sms,
		model.ChannelVoice: voice,
		model.ChannelPush:  push,
	}
}

// NewMockSet assembles one MockAdapter per channel, used in development
// mode and whenever the live SystemState flags a channel as mocked.
func NewMockSet(logger *zerolog.Logger) map[model.Channel]Adapter {
	return map[model.Channel]Adapter{
		model.ChannelEmail: NewMockAdapter(string(model.ChannelEmail), logger),
		model.ChannelSMS:   NewMockAdapter(string(model.ChannelSMS), logger),
		model.ChannelVoice: NewMockAdapter(string(model.ChannelVoice), logger),
		model.ChannelPush:  NewMockAdapter(string(model.ChannelPush), logger),
	}
}
