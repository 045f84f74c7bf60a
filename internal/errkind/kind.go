// Package errkind implements the error taxonomy from spec §7: adapters and
// infrastructure classify failures into a small, closed set of kinds so
// callers match on the kind instead of string-matching error text or
// relying on exceptions as control flow.
package errkind

// Kind classifies an error for retry/breaker/DLQ routing decisions.
type Kind string

const (
	// Transient covers network errors, timeouts, 5xx responses, and KV
	// store unavailability. Retried via bus requeue or in-adapter retry.
	Transient Kind = "transient"
	// Permanent covers malformed payloads and 4xx responses that are not
	// rate-limit signals or a provider-declared invalid recipient. Never
	// retried.
	Permanent Kind = "permanent"
	// InvalidRecipient is the provider declaring the recipient itself
	// unreachable (bad phone number, bounced address, unregistered push
	// token). Never retried; for push sends, the offending token is
	// pruned without failing the rest of the multicast.
	InvalidRecipient Kind = "invalid_recipient"
	// RateLimited covers HTTP 429 or a provider-specific rate-limit
	// signal. Backed off and requeued with delay; does not trip a breaker.
	RateLimited Kind = "rate_limited"
	// ServiceDegraded marks a repeated-transient condition that should
	// trip the channel's circuit breaker.
	ServiceDegraded Kind = "service_degraded"
	// Fatal is configuration-invalid-on-startup only; it aborts the
	// worker process.
	Fatal Kind = "fatal"
	// CircuitOpen is synthesized by the breaker itself (spec §4.3) when a
	// channel's breaker is open; it never originates from an adapter.
	CircuitOpen Kind = "circuit_open"
)

// TripsBreaker reports whether an error of this kind counts toward a
// circuit breaker's consecutive-failure counter (spec §4.3).
func (k Kind) TripsBreaker() bool {
	return k == Transient || k == ServiceDegraded
}

// Retryable reports whether the error is worth retrying at all.
func (k Kind) Retryable() bool {
	return k == Transient || k == RateLimited || k == ServiceDegraded || k == CircuitOpen
}

// Error wraps an underlying error with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ClassifyHTTPStatus maps a provider HTTP response code to a Kind,
// matching spec §4.3's breaker carve-out: 429 is a rate-limit signal
// (never trips the breaker), 408 and 5xx are transient (network/timeout
// failures worth retrying and counting against the breaker), and every
// other 4xx is a permanent client error (bad request, invalid
// recipient) that is DLQ-eligible but never trips the breaker.
func ClassifyHTTPStatus(code int) Kind {
	switch {
	case code == 429:
		return RateLimited
	case code == 408:
		return Transient
	case code >= 500:
		return Transient
	case code >= 400:
		return Permanent
	default:
		return Permanent
	}
}
