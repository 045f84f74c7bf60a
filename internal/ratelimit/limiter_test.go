package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zerolog.Nop()
	full := &config.Config{RateLimit: cfg}
	return NewRedisLimiter(client, full, &logger), mr
}

func TestRedisLimiter_Disabled(t *testing.T) {
	limiter, _ := newTestLimiter(t, config.RateLimitConfig{Enabled: false})

	ok, err := limiter.Allow(context.Background(), model.ChannelSMS, "imei-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected disabled limiter to always allow")
	}
}

func TestRedisLimiter_GlobalPerMinute(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:         true,
		GlobalPerMinute: map[string]int{string(model.ChannelSMS): 2},
	}
	limiter, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	// Distinct imeis keep the per-imei gate out of the way of the global count.
	imeis := []string{"imei-a", "imei-b", "imei-c"}
	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, model.ChannelSMS, imeis[i])
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected call %d to be allowed under the global limit", i)
		}
	}

	ok, err := limiter.Allow(ctx, model.ChannelSMS, imeis[2])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected third call within the same minute to be rejected")
	}
}

func TestRedisLimiter_PerIMEIInterval(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:         true,
		PerIMEIInterval: time.Minute,
	}
	limiter, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, model.ChannelSMS, "imei-1")
	if err != nil || !ok {
		t.Fatalf("expected first send to imei-1 to be allowed, got ok=%v err=%v", ok, err)
	}

	ok, err = limiter.Allow(ctx, model.ChannelSMS, "imei-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second send to the same imei within the interval to be rejected")
	}

	ok, err = limiter.Allow(ctx, model.ChannelSMS, "imei-2")
	if err != nil || !ok {
		t.Fatalf("expected a different imei to be unaffected by imei-1's bucket, got ok=%v err=%v", ok, err)
	}
}

func TestRedisLimiter_FailsOpenOnStoreError(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:         true,
		GlobalPerMinute: map[string]int{string(model.ChannelSMS): 1},
	}
	limiter, mr := newTestLimiter(t, cfg)
	mr.Close()

	ok, err := limiter.Allow(context.Background(), model.ChannelSMS, "imei-1")
	if err != nil {
		t.Fatalf("Allow should swallow the store error, got: %v", err)
	}
	if !ok {
		t.Fatal("expected limiter to fail open when the store is unreachable")
	}
}
