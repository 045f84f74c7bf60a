// Package model holds the technology-agnostic entities of the alarm
// dispatcher: alarms, contacts, audit rows, and the dedup/DLQ/modem/worker
// bookkeeping entities described by the data model.
package model

import "time"

// Channel is one of the four delivery channels an alarm can fan out to.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"
	ChannelPush  Channel = "push"
)

// AllChannels enumerates every channel in a stable order, used when
// iterating eligible channels for fan-out.
var AllChannels = []Channel{ChannelSMS, ChannelEmail, ChannelVoice, ChannelPush}

// Alarm is the immutable event inserted by upstream parsers. The core never
// mutates it except for the per-channel sent-markers, each of which
// transitions false->true at most once per instance lifetime.
type Alarm struct {
	ID        int64
	IMEI      string
	Status    string // alarm type name, e.g. "Panic"
	Category  string
	GPSTime   time.Time
	Latitude  float64
	Longitude float64
	Speed     float64

	IsSMS   bool
	IsEmail bool
	IsCall  bool
	IsValid bool

	SMSSent     bool
	SMSSentAt   *time.Time
	EmailSent   bool
	EmailSentAt *time.Time
	CallSent    bool
	CallSentAt  *time.Time
}

// WantsChannel reports whether the alarm was flagged for the given channel
// by its is_sms/is_email/is_call markers. Push has no inbound flag of its
// own: it rides along with is_sms (a push token is a best-effort mirror of
// the SMS channel).
func (a Alarm) WantsChannel(ch Channel) bool {
	switch ch {
	case ChannelSMS:
		return a.IsSMS
	case ChannelEmail:
		return a.IsEmail
	case ChannelVoice:
		return a.IsCall
	case ChannelPush:
		return a.IsSMS
	default:
		return false
	}
}

// AlreadySent reports whether the sent-marker for the given channel is set.
func (a Alarm) AlreadySent(ch Channel) bool {
	switch ch {
	case ChannelSMS:
		return a.SMSSent
	case ChannelEmail:
		return a.EmailSent
	case ChannelVoice:
		return a.CallSent
	case ChannelPush:
		return a.SMSSent
	default:
		return true
	}
}

// Contact is a device owner's delivery target, ordered by Priority
// ascending. At least one of Email/Phone is present.
type Contact struct {
	ID               int64
	IMEI             string
	Email            string
	Phone            string
	Priority         int
	Active           bool
	QuietHoursStart  *time.Time // wall-clock time-of-day, UTC
	QuietHoursEnd    *time.Time
}

// InQuietHours reports whether the UTC wall-clock time t falls inside the
// contact's quiet-hours window. A window where Start > End wraps past
// midnight.
func (c Contact) InQuietHours(t time.Time) bool {
	if c.QuietHoursStart == nil || c.QuietHoursEnd == nil {
		return false
	}
	now := timeOfDay(t)
	start := timeOfDay(*c.QuietHoursStart)
	end := timeOfDay(*c.QuietHoursEnd)
	if start.Equal(end) {
		return false
	}
	if start.Before(end) {
		return !now.Before(start) && now.Before(end)
	}
	// wraps past midnight
	return !now.Before(start) || now.Before(end)
}

func timeOfDay(t time.Time) time.Time {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// RecipientFor returns the recipient address used for a given channel, and
// whether the contact has one.
func (c Contact) RecipientFor(ch Channel) (string, bool) {
	switch ch {
	case ChannelEmail:
		return c.Email, c.Email != ""
	case ChannelSMS, ChannelVoice:
		return c.Phone, c.Phone != ""
	case ChannelPush:
		// push targets are resolved separately via push_tokens; the
		// contact itself carries no address for this channel.
		return "", true
	default:
		return "", false
	}
}

// AttemptStatus is the terminal outcome recorded for a delivery attempt.
type AttemptStatus string

const (
	AttemptSuccess          AttemptStatus = "success"
	AttemptFailed           AttemptStatus = "failed"
	AttemptSkipped          AttemptStatus = "skipped"
	AttemptPermanentFailure AttemptStatus = "permanent_failure"
)

// NotificationAttempt is an append-only audit row.
type NotificationAttempt struct {
	ID                int64
	AlarmID           int64
	IMEI              string
	GPSTime           time.Time
	Channel           Channel
	Recipient         string
	Status            AttemptStatus
	AttemptNumber     int
	SentAt            time.Time
	Error             string
	ProviderMessageID string
	ProviderName      string
	ModemID           *int64
	ModemName         string
	Response          string
	SkipReason        string
}

// DedupRecord tracks the dedup window for an (imei, alarm_type) pair.
type DedupRecord struct {
	IMEI             string
	AlarmType        string
	FirstOccurrence  time.Time
	LastOccurrence   time.Time
	OccurrenceCount  int
	NotificationSent bool
}

// DLQItem is a terminal-failure audit row eligible for reprocessing.
type DLQItem struct {
	ID             int64
	AlarmID        int64
	IMEI           string
	Channel        Channel
	Payload        []byte
	ErrorMessage   string
	ErrorType      string
	Attempts       int
	LastAttemptAt  time.Time
	CreatedAt      time.Time
	Reprocessed    bool
	ReprocessedAt  *time.Time
	ReprocessedBy  string
}

// HealthStatus is a modem's current probe-derived availability.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Modem is a pooled SMS-sending endpoint with quota and affinity rules.
type Modem struct {
	ID                int64
	Name              string
	Host              string
	Credentials       string
	CertFingerprint   string
	ModemID           string
	Enabled           bool
	Priority          int
	MaxConcurrentSMS  int
	SMSSentCount      int
	SMSLimit          int
	PackageCost       float64
	PackageCurrency   string
	PackageStart      time.Time
	PackageEnd        time.Time
	AllowedServices   []string
	HealthStatus      HealthStatus
	LastHealthCheck   time.Time
	DedicatedIMEI     string // optional IMEI affinity mapping
}

// RemainingQuota is SMSLimit-SMSSentCount, floored at zero.
func (m Modem) RemainingQuota() int {
	r := m.SMSLimit - m.SMSSentCount
	if r < 0 {
		return 0
	}
	return r
}

// Eligible reports whether the modem currently satisfies selection
// preconditions (spec §4.7 step 1), independent of in-flight concurrency.
func (m Modem) Eligible(service string) bool {
	if !m.Enabled || m.HealthStatus != HealthHealthy {
		return false
	}
	if m.SMSSentCount >= m.SMSLimit {
		return false
	}
	if service == "" {
		return true
	}
	for _, s := range m.AllowedServices {
		if s == service {
			return true
		}
	}
	return false
}

// WorkerRegistration is a heartbeat row for one running core instance.
type WorkerRegistration struct {
	WorkerID      string
	Host          string
	PID           int
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// SystemState is the process-wide pause/mock toggle row.
type SystemState struct {
	Paused      bool
	PauseReason string
	PausedBy    string
	MockSMS     bool
	MockEmail   bool
}

// PushToken is a registered device token for a push-eligible owner.
type PushToken struct {
	ID      int64
	IMEI    string
	Token   string
	Invalid bool
}
