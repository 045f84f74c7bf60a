// Package repository defines the persistence contracts the core depends on.
// Concrete implementations live under internal/storage; the domain layer
// and everything above it only ever imports this package, never a
// storage package directly, mirroring the teacher's repository-interface
// split between internal/domain/repository and internal/storage/postgres.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
)

// Sentinel errors, classified by callers via errors.Is rather than string
// matching (Design Note: "Exceptions-as-control-flow... replace with
// explicit result values").
var (
	ErrNotFound        = errors.New("repository: not found")
	ErrDuplicateRecord = errors.New("repository: duplicate record")
)

// AlarmRepository is the read/sent-marker-update contract for Alarm rows.
// The core is read-only for everything but the per-channel sent-markers.
type AlarmRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Alarm, error)
	// MarkSent performs the idempotent "set sent-marker if not already set"
	// update for a channel; it reports whether this call was the one that
	// transitioned the marker (false if it was already set).
	MarkSent(ctx context.Context, alarmID int64, ch model.Channel, at time.Time) (transitioned bool, err error)
	// ListPending returns alarms eligible for reprocessing on a channel,
	// used by the admin "reprocess pending" endpoint.
	ListPending(ctx context.Context, ch model.Channel, limit int) ([]model.Alarm, error)
}

// ContactRepository resolves delivery targets for an IMEI, in priority
// order ascending.
type ContactRepository interface {
	ListByIMEI(ctx context.Context, imei string) ([]model.Contact, error)
}

// PushTokenRepository resolves and prunes push device tokens.
type PushTokenRepository interface {
	ListByIMEI(ctx context.Context, imei string) ([]model.PushToken, error)
	MarkInvalid(ctx context.Context, token string) error
}

// AttemptRepository appends NotificationAttempt audit rows. Per spec §4.12,
// callers must never let a failure here affect the caller's control flow;
// implementations still return an error so the caller can log it.
type AttemptRepository interface {
	Insert(ctx context.Context, a model.NotificationAttempt) error
	// NextAttemptNumber returns the next attempt_number for (alarm_id,
	// channel). Per spec §9, concurrent retries may race this into
	// duplicate numbers; callers that need strict ordering should use a
	// DB sequence instead (left as a documented limitation, not solved
	// here).
	NextAttemptNumber(ctx context.Context, alarmID int64, ch model.Channel) (int, error)
}

// DedupRepository implements the (imei, alarm_type) dedup-window upsert.
type DedupRepository interface {
	// UpsertAndCheck performs the pre-increment CAS update described in
	// spec §4.5/§5 and returns the resulting record plus whether the
	// caller is the one that should proceed (i.e. dedup did NOT fire).
	UpsertAndCheck(ctx context.Context, imei, alarmType string, window time.Duration, now time.Time) (rec model.DedupRecord, proceed bool, err error)
	MarkNotificationSent(ctx context.Context, imei, alarmType string) error
}

// DLQRepository persists and lists dead-letter rows.
type DLQRepository interface {
	Add(ctx context.Context, item model.DLQItem) error
	ListPending(ctx context.Context, filter DLQFilter) ([]model.DLQItem, error)
	IncrementAttempt(ctx context.Context, id int64, lastAttemptAt time.Time) error
	MarkReprocessed(ctx context.Context, id int64, by string, at time.Time, failed bool) error
}

// DLQFilter narrows a DLQ listing by channel, error type, and age, per
// spec §4.8's "Batch reprocess endpoint supports filters".
type DLQFilter struct {
	ID        int64         // zero value = any; set to target a single row (admin "reprocess one")
	Channel   model.Channel // zero value = any
	ErrorType string        // empty = any
	OlderThan time.Duration // zero = any
	Limit     int
}

// ModemRepository backs the SMS modem pool's selection and accounting,
// plus the admin CRUD/usage-report surface (spec §6).
type ModemRepository interface {
	ListEligible(ctx context.Context, service string) ([]model.Modem, error)
	FindDedicated(ctx context.Context, imei string) (*model.Modem, error)
	IncrementSentCount(ctx context.Context, modemID int64, date time.Time) error
	SetHealth(ctx context.Context, modemID int64, status model.HealthStatus, checkedAt time.Time) error
	ResetExpiredPackages(ctx context.Context, now time.Time) (int64, error)

	List(ctx context.Context) ([]model.Modem, error)
	GetByID(ctx context.Context, id int64) (*model.Modem, error)
	Create(ctx context.Context, m model.Modem) (int64, error)
	Update(ctx context.Context, m model.Modem) error
	Delete(ctx context.Context, id int64) error
	ResetPackage(ctx context.Context, id int64, start, end time.Time) error
	UsageReport(ctx context.Context, id int64, since time.Time) ([]ModemUsageDay, error)
}

// ModemUsageDay is one row of the admin usage report (spec §6 "usage
// reports").
type ModemUsageDay struct {
	Date  time.Time
	Count int
}

// WorkerRepository backs the cross-instance worker registry.
type WorkerRepository interface {
	Register(ctx context.Context, reg model.WorkerRegistration) error
	Heartbeat(ctx context.Context, workerID string, at time.Time) error
	SweepStale(ctx context.Context, olderThan time.Time) (int64, error)
	List(ctx context.Context) ([]model.WorkerRegistration, error)
}

// StateRepository persists the single system-state row.
type StateRepository interface {
	Get(ctx context.Context) (model.SystemState, error)
	Set(ctx context.Context, s model.SystemState) error
}

// Queue abstracts the inbound/outbound message bus operations the core
// needs beyond raw consumption (publishing retries and DLQ-bound
// messages), mirroring the teacher's NotificationQueue split between
// Publish and PublishRetry.
type Queue interface {
	PublishRetry(ctx context.Context, payload []byte, delay time.Duration, attempt int) error
	PublishDelayed(ctx context.Context, payload []byte, delay time.Duration) error
}
