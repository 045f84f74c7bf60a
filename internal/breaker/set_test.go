package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/adapter"
	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alarmdispatch/core/internal/errkind"
	"github.com/sony/gobreaker"
)

func newTestSet() *Set {
	return NewSet(&config.Config{
		Breaker: config.BreakerConfig{FailureThreshold: 3, CoolDown: time.Minute},
	})
}

func TestSet_TripsOnConsecutiveTransientFailures(t *testing.T) {
	s := newTestSet()
	failing := func() (adapter.Result, error) {
		err := errkind.New(errkind.Transient, errors.New("connection refused"))
		return adapter.Result{Success: false, Kind: errkind.Transient, Err: err}, err
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Call(model.ChannelSMS, failing); err == nil {
			t.Fatalf("expected call %d to fail", i)
		}
	}

	if s.State(model.ChannelSMS) != gobreaker.StateOpen {
		t.Fatalf("expected breaker to be open after 3 consecutive transient failures, got %v", s.State(model.ChannelSMS))
	}

	result, err := s.Call(model.ChannelSMS, func() (adapter.Result, error) {
		t.Fatal("fn should not be invoked while the breaker is open")
		return adapter.Result{}, nil
	})
	if err == nil {
		t.Fatal("expected an error when the breaker is open")
	}
	if result.Kind != errkind.CircuitOpen {
		t.Fatalf("expected CircuitOpen kind, got %v", result.Kind)
	}
}

func TestSet_PermanentFailuresDoNotTripBreaker(t *testing.T) {
	s := newTestSet()
	failing := func() (adapter.Result, error) {
		err := errkind.New(errkind.Permanent, errors.New("bad recipient"))
		return adapter.Result{Success: false, Kind: errkind.Permanent, Err: err}, err
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Call(model.ChannelEmail, failing); err == nil {
			t.Fatalf("expected call %d to surface the permanent error", i)
		}
	}

	if s.State(model.ChannelEmail) != gobreaker.StateClosed {
		t.Fatalf("expected breaker to stay closed for permanent failures, got %v", s.State(model.ChannelEmail))
	}
}

func TestSet_ForceReset(t *testing.T) {
	s := newTestSet()
	failing := func() (adapter.Result, error) {
		err := errkind.New(errkind.Transient, errors.New("timeout"))
		return adapter.Result{Success: false, Kind: errkind.Transient, Err: err}, err
	}
	for i := 0; i < 3; i++ {
		_, _ = s.Call(model.ChannelVoice, failing)
	}
	if s.State(model.ChannelVoice) != gobreaker.StateOpen {
		t.Fatal("expected breaker to be open before reset")
	}

	s.ForceReset(model.ChannelVoice)

	if s.State(model.ChannelVoice) != gobreaker.StateClosed {
		t.Fatal("expected breaker to be closed after ForceReset")
	}
}

func TestSet_IndependentPerChannel(t *testing.T) {
	s := newTestSet()
	failing := func() (adapter.Result, error) {
		err := errkind.New(errkind.Transient, errors.New("down"))
		return adapter.Result{Success: false, Kind: errkind.Transient, Err: err}, err
	}
	for i := 0; i < 3; i++ {
		_, _ = s.Call(model.ChannelSMS, failing)
	}

	if s.State(model.ChannelSMS) != gobreaker.StateOpen {
		t.Fatal("expected sms breaker to be open")
	}
	if s.State(model.ChannelPush) != gobreaker.StateClosed {
		t.Fatal("expected push breaker to be unaffected by sms failures")
	}
}
