package http

import "time"

// pauseRequest is the body for POST /admin/state/pause.
type pauseRequest struct {
	Paused bool   `json:"paused"`
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// mockRequest is the body for POST /admin/state/mock.
type mockRequest struct {
	MockSMS   bool `json:"mock_sms"`
	MockEmail bool `json:"mock_email"`
}

// stateResponse mirrors model.SystemState for the admin surface.
type stateResponse struct {
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason"`
	PausedBy    string `json:"paused_by"`
	MockSMS     bool   `json:"mock_sms"`
	MockEmail   bool   `json:"mock_email"`
}

// breakerResponse reports one channel's circuit state.
type breakerResponse struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
}

// dlqItemResponse is one dead-letter row.
type dlqItemResponse struct {
	ID            int64      `json:"id"`
	AlarmID       int64      `json:"alarm_id"`
	IMEI          string     `json:"imei"`
	Channel       string     `json:"channel"`
	ErrorMessage  string     `json:"error_message"`
	ErrorType     string     `json:"error_type"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	Reprocessed   bool       `json:"reprocessed"`
	ReprocessedAt *time.Time `json:"reprocessed_at,omitempty"`
}

// dlqBatchRequest is the body for POST /admin/dlq/reprocess-batch.
type dlqBatchRequest struct {
	Channel   string `json:"channel"`
	ErrorType string `json:"error_type"`
	OlderThan string `json:"older_than"` // Go duration string, e.g. "1h"
	Limit     int    `json:"limit"`
}

// modemRequest is the body for modem create/update.
type modemRequest struct {
	Name             string    `json:"name"`
	Host             string    `json:"host"`
	Credentials      string    `json:"credentials"`
	CertFingerprint  string    `json:"cert_fingerprint"`
	ModemID          string    `json:"modem_id"`
	Enabled          bool      `json:"enabled"`
	Priority         int       `json:"priority"`
	MaxConcurrentSMS int       `json:"max_concurrent_sms"`
	SMSLimit         int       `json:"sms_limit"`
	PackageCost      float64   `json:"package_cost"`
	PackageCurrency  string    `json:"package_currency"`
	PackageStart     time.Time `json:"package_start"`
	PackageEnd       time.Time `json:"package_end"`
	AllowedServices  []string  `json:"allowed_services"`
	DedicatedIMEI    string    `json:"dedicated_imei"`
}

// modemResponse is a modem row as exposed over the admin surface;
// credentials are never echoed back.
type modemResponse struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Host             string    `json:"host"`
	ModemID          string    `json:"modem_id"`
	Enabled          bool      `json:"enabled"`
	Priority         int       `json:"priority"`
	MaxConcurrentSMS int       `json:"max_concurrent_sms"`
	SMSSentCount     int       `json:"sms_sent_count"`
	SMSLimit         int       `json:"sms_limit"`
	PackageCost      float64   `json:"package_cost"`
	PackageCurrency  string    `json:"package_currency"`
	PackageStart     time.Time `json:"package_start"`
	PackageEnd       time.Time `json:"package_end"`
	AllowedServices  []string  `json:"allowed_services"`
	HealthStatus     string    `json:"health_status"`
	LastHealthCheck  time.Time `json:"last_health_check"`
	DedicatedIMEI    string    `json:"dedicated_imei,omitempty"`
}

// packageResetRequest is the body for POST /admin/modems/:id/reset-package.
type packageResetRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// usageResponse is one day of a modem's send volume.
type usageResponse struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// reprocessPendingRequest is the body for POST /admin/alarms/reprocess-pending.
type reprocessPendingRequest struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
}
