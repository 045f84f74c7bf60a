// Package breaker wraps gobreaker.CircuitBreaker with one breaker per
// notification channel, per spec §4.3's closed/open/half_open state
// machine, consumed by the processor around every adapter call (C3).
package breaker

import (
	"errors"
	"sync"

	"github.com/alarmdispatch/core/internal/adapter"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/sony/gobreaker"
)

// Set holds one gobreaker.CircuitBreaker per channel.
type Set struct {
	mu       sync.RWMutex
	breakers map[model.Channel]*gobreaker.CircuitBreaker
	cfg      config.BreakerConfig
}

func NewSet(cfg *config.Config) *Set {
	s := &Set{
		breakers: make(map[model.Channel]*gobreaker.CircuitBreaker, len(model.AllChannels)),
		cfg:      cfg.Breaker,
	}
	for _, ch := range model.AllChannels {
		s.breakers[ch] = s.newBreaker(ch)
	}
	return s
}

func (s *Set) newBreaker(ch model.Channel) *gobreaker.CircuitBreaker {
	threshold := uint32(s.cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	coolDown := s.cfg.CoolDown
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(ch),
		Timeout: coolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Per spec §4.3, only transient/service-degraded failures
			// count against the breaker; client errors (permanent,
			// rate-limited, invalid recipient) are the callee's fault,
			// not the provider's, and must not trip it.
			var ke *errkind.Error
			if errors.As(err, &ke) {
				return !ke.Kind.TripsBreaker()
			}
			return err == nil
		},
	})
}

// Call runs fn through the channel's breaker, translating gobreaker's
// open-state rejection into an adapter.Result classified CircuitOpen so
// callers never need to import gobreaker themselves.
func (s *Set) Call(ch model.Channel, fn func() (adapter.Result, error)) (adapter.Result, error) {
	s.mu.RLock()
	cb := s.breakers[ch]
	s.mu.RUnlock()
	if cb == nil {
		return fn()
	}

	out, err := cb.Execute(func() (interface{}, error) {
		r, fnErr := fn()
		return r, fnErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return adapter.Result{Success: false, Kind: errkind.CircuitOpen, Err: err}, err
		}
		if r, ok := out.(adapter.Result); ok {
			return r, err
		}
		return adapter.Result{Success: false, Kind: errkind.Transient, Err: err}, err
	}
	return out.(adapter.Result), nil
}

// State reports the current breaker state for a channel.
func (s *Set) State(ch model.Channel) gobreaker.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb := s.breakers[ch]
	if cb == nil {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// ForceReset replaces the channel's breaker with a fresh closed one, the
// admin override described in spec §4.3 ("Admin may force-reset a
// breaker to closed").
func (s *Set) ForceReset(ch model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers[ch] = s.newBreaker(ch)
}
