// Package processor implements the alarm fan-out contract from spec
// §4.2 (C6): for each eligible channel, resolve contacts, gate the
// send, invoke the breaker-wrapped adapter, and record the outcome.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alarmdispatch/core/internal/adapter"
	"github.com/alarmdispatch/core/internal/breaker"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	repo "github.com/alarmdispatch/core/internal/domain/repository"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/alarmdispatch/core/internal/gate"
	"github.com/alarmdispatch/core/internal/syscontrol"
	"github.com/rs/zerolog"
)

// Dispatcher is implemented by Processor and consumed by C7 (the
// consumer) and C8 (the DLQ reprocessor), breaking the otherwise
// cyclic processor<->consumer and processor<->dlq import relationship.
type Dispatcher interface {
	Process(ctx context.Context, alarm model.Alarm) error
}

// DLQWriter is implemented by C8's Store and consumed here, for the
// same reason: the processor must be able to hand a terminally-failed
// (alarm, channel) to the dead-letter store without importing it.
type DLQWriter interface {
	Add(ctx context.Context, item model.DLQItem) error
}

const perChannelBudget = 30 * time.Second

// Processor implements Dispatcher.
type Processor struct {
	alarms    repo.AlarmRepository
	contacts  repo.ContactRepository
	pushToks  repo.PushTokenRepository
	attempts  repo.AttemptRepository
	gate      *gate.Gate
	breakers  *breaker.Set
	live      map[model.Channel]adapter.Adapter
	mock      map[model.Channel]adapter.Adapter
	state     *syscontrol.Manager
	dlq       DLQWriter
	devMode   bool
	logger    zerolog.Logger
}

func NewProcessor(
	alarms repo.AlarmRepository,
	contacts repo.ContactRepository,
	pushToks repo.PushTokenRepository,
	attempts repo.AttemptRepository,
	g *gate.Gate,
	breakers *breaker.Set,
	live map[model.Channel]adapter.Adapter,
	mock map[model.Channel]adapter.Adapter,
	state *syscontrol.Manager,
	dlq DLQWriter,
	cfg *config.Config,
	logger *zerolog.Logger,
) *Processor {
	return &Processor{
		alarms:   alarms,
		contacts: contacts,
		pushToks: pushToks,
		attempts: attempts,
		gate:     g,
		breakers: breakers,
		live:     live,
		mock:     mock,
		state:    state,
		dlq:      dlq,
		devMode:  cfg.Channels.Mode == "development",
		logger:   logger.With().Str("component", "processor").Logger(),
	}
}

// Process implements Dispatcher. It re-checks validity immediately
// before touching any adapter (spec §9 resolution: a mid-flight
// cancellation skips remaining channels with reason "cancelled"), then
// fans out one goroutine per eligible channel.
func (p *Processor) Process(ctx context.Context, alarm model.Alarm) error {
	fresh, err := p.alarms.GetByID(ctx, alarm.ID)
	if err != nil {
		return fmt.Errorf("processor: reload alarm %d: %w", alarm.ID, err)
	}
	alarm = *fresh

	if !alarm.IsValid {
		p.recordSkipAll(ctx, alarm, "cancelled")
		return nil
	}

	channels := p.eligibleChannels(ctx, alarm)
	if len(channels) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.processChannel(ctx, alarm, ch)
		}()
	}
	wg.Wait()
	return nil
}

// eligibleChannels implements spec §4.2's boolean formula:
// is_<c>=1 ∧ not <c>_sent ∧ breaker(<c>).allows() ∧ system.mock_or_live_available(<c>).
func (p *Processor) eligibleChannels(ctx context.Context, alarm model.Alarm) []model.Channel {
	var out []model.Channel
	for _, ch := range model.AllChannels {
		if !alarm.WantsChannel(ch) || alarm.AlreadySent(ch) {
			continue
		}
		if p.breakers.State(ch).String() == "open" {
			continue
		}
		if p.adapterFor(ctx, ch) == nil {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// adapterFor picks the mock or live adapter for a channel per the
// current system state (spec §4.9: mock mode swaps the adapter for an
// in-memory recorder).
func (p *Processor) adapterFor(ctx context.Context, ch model.Channel) adapter.Adapter {
	if p.devMode {
		if a := p.mock[ch]; a != nil {
			return a
		}
	}
	state := p.state.Current(ctx)
	switch ch {
	case model.ChannelSMS:
		if state.MockSMS {
			return p.mock[ch]
		}
	case model.ChannelEmail:
		if state.MockEmail {
			return p.mock[ch]
		}
	}
	if a := p.live[ch]; a != nil {
		return a
	}
	return p.mock[ch]
}

func (p *Processor) processChannel(ctx context.Context, alarm model.Alarm, ch model.Channel) {
	cctx, cancel := context.WithTimeout(ctx, perChannelBudget)
	defer cancel()

	contacts, err := p.contacts.ListByIMEI(cctx, alarm.IMEI)
	if err != nil {
		p.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Str("channel", string(ch)).Msg("processor: failed to resolve contacts")
		return
	}
	if len(contacts) == 0 {
		return
	}

	allow, reason, err := p.gate.Evaluate(cctx, alarm, ch, contacts)
	if err != nil {
		p.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Str("channel", string(ch)).Msg("processor: gate evaluation failed")
		return
	}
	if !allow {
		p.recordSkip(cctx, alarm, ch, "", reason)
		return
	}

	if ch == model.ChannelPush {
		p.sendPush(cctx, alarm, ch)
		return
	}

	p.sendToContacts(cctx, alarm, ch, contacts)
}

// sendToContacts iterates contacts in priority order until one succeeds
// or all are exhausted, per spec §4.2.
func (p *Processor) sendToContacts(ctx context.Context, alarm model.Alarm, ch model.Channel, contacts []model.Contact) {
	a := p.adapterFor(ctx, ch)
	if a == nil {
		return
	}

	var lastErr error
	for _, contact := range contacts {
		recipient, ok := contact.RecipientFor(ch)
		if !ok {
			continue
		}
		msg := buildMessage(alarm, ch, recipient)

		res, err := p.breakers.Call(ch, func() (adapter.Result, error) { return a.Send(ctx, msg) })
		if err == nil && res.Success {
			p.recordSuccess(ctx, alarm, ch, recipient, res)
			return
		}
		lastErr = err
		p.recordAttemptFailure(ctx, alarm, ch, recipient, res, err)
	}

	// All contacts exhausted without a success: terminal failure for
	// this (alarm, channel), per spec §4.2.
	p.sendToDLQ(ctx, alarm, ch, lastErr)
}

// sendPush multicasts to every token for the imei; success if at least
// one token succeeds (spec §4.6), invalid tokens are pruned by the
// adapter itself.
func (p *Processor) sendPush(ctx context.Context, alarm model.Alarm, ch model.Channel) {
	a := p.adapterFor(ctx, ch)
	if a == nil {
		return
	}
	tokens, err := p.pushToks.ListByIMEI(ctx, alarm.IMEI)
	if err != nil {
		p.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Msg("processor: failed to resolve push tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	var anySuccess bool
	var lastErr error
	for _, tok := range tokens {
		if tok.Invalid {
			continue
		}
		msg := buildMessage(alarm, ch, tok.Token)
		res, err := p.breakers.Call(ch, func() (adapter.Result, error) { return a.Send(ctx, msg) })
		if err == nil && res.Success {
			anySuccess = true
			p.recordSuccess(ctx, alarm, ch, tok.Token, res)
			continue
		}
		lastErr = err
		p.recordAttemptFailure(ctx, alarm, ch, tok.Token, res, err)
	}

	if !anySuccess {
		p.sendToDLQ(ctx, alarm, ch, lastErr)
	}
}

func buildMessage(alarm model.Alarm, ch model.Channel, recipient string) adapter.Message {
	return adapter.Message{
		AlarmID:   alarm.ID,
		IMEI:      alarm.IMEI,
		Category:  alarm.Category,
		Status:    alarm.Status,
		GPSTime:   alarm.GPSTime.UTC().Format(time.RFC3339),
		Latitude:  alarm.Latitude,
		Longitude: alarm.Longitude,
		Speed:     alarm.Speed,
		Channel:   ch,
		Recipient: recipient,
	}
}

// recordSuccess updates the sent-marker idempotently, inserts an audit
// row, and converges the dedup record (spec §4.2 step "On success").
// Per spec §4.12, attempt-insert failures are logged and swallowed —
// they must never affect delivery control flow.
func (p *Processor) recordSuccess(ctx context.Context, alarm model.Alarm, ch model.Channel, recipient string, res adapter.Result) {
	now := time.Now().UTC()
	if _, err := p.alarms.MarkSent(ctx, alarm.ID, ch, now); err != nil {
		p.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Str("channel", string(ch)).Msg("processor: failed to mark sent")
	}
	if err := p.gate.MarkSent(ctx, alarm); err != nil {
		p.logger.Warn().Err(err).Int64("alarm_id", alarm.ID).Msg("processor: failed to converge dedup record")
	}
	p.insertAttempt(ctx, alarm, ch, recipient, model.AttemptSuccess, now, "", res.ProviderMessageID, "")
}

func (p *Processor) recordAttemptFailure(ctx context.Context, alarm model.Alarm, ch model.Channel, recipient string, res adapter.Result, err error) {
	status := model.AttemptFailed
	if res.Kind == errkind.Permanent || res.Kind == errkind.InvalidRecipient {
		status = model.AttemptPermanentFailure
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.insertAttempt(ctx, alarm, ch, recipient, status, time.Now().UTC(), msg, res.ProviderMessageID, "")
}

func (p *Processor) recordSkip(ctx context.Context, alarm model.Alarm, ch model.Channel, recipient, reason string) {
	p.insertAttempt(ctx, alarm, ch, recipient, model.AttemptSkipped, time.Now().UTC(), "", "", reason)
}

func (p *Processor) recordSkipAll(ctx context.Context, alarm model.Alarm, reason string) {
	for _, ch := range model.AllChannels {
		if alarm.WantsChannel(ch) && !alarm.AlreadySent(ch) {
			p.recordSkip(ctx, alarm, ch, "", reason)
		}
	}
}

func (p *Processor) insertAttempt(ctx context.Context, alarm model.Alarm, ch model.Channel, recipient string, status model.AttemptStatus, at time.Time, errMsg, providerMessageID, skipReason string) {
	num, err := p.attempts.NextAttemptNumber(ctx, alarm.ID, ch)
	if err != nil {
		p.logger.Warn().Err(err).Int64("alarm_id", alarm.ID).Msg("processor: failed to compute attempt number")
	}
	a := model.NotificationAttempt{
		AlarmID:           alarm.ID,
		IMEI:              alarm.IMEI,
		GPSTime:           alarm.GPSTime,
		Channel:           ch,
		Recipient:         recipient,
		Status:            status,
		AttemptNumber:     num,
		SentAt:            at,
		Error:             errMsg,
		ProviderMessageID: providerMessageID,
		SkipReason:        skipReason,
	}
	if err := p.attempts.Insert(ctx, a); err != nil {
		p.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Msg("processor: failed to insert attempt audit row")
	}
}

func (p *Processor) sendToDLQ(ctx context.Context, alarm model.Alarm, ch model.Channel, cause error) {
	errType := "unknown"
	if ke, ok := cause.(*errkind.Error); ok {
		errType = string(ke.Kind)
	}
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	item := model.DLQItem{
		AlarmID:       alarm.ID,
		IMEI:          alarm.IMEI,
		Channel:       ch,
		ErrorMessage:  errMsg,
		ErrorType:     errType,
		Attempts:      1,
		LastAttemptAt: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.dlq.Add(ctx, item); err != nil {
		p.logger.Error().Err(err).Int64("alarm_id", alarm.ID).Str("channel", string(ch)).Msg("processor: failed to write dead letter")
	}
}
