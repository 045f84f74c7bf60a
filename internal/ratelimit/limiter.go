// Package ratelimit implements the global and per-(imei,channel) token
// buckets described in spec §4.4: a shared key-value store with atomic
// INCR+TTL, composed with AND, failing open on store errors.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/alarmdispatch/core/internal/config"
	"github.com/alarmdispatch/core/internal/domain/model"
	"github.com/alarmdispatch/core/pkg/keybuilder"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter decides whether a send to (channel, imei) may proceed right now.
type Limiter interface {
	Allow(ctx context.Context, channel model.Channel, imei string) (bool, error)
}

// RedisLimiter implements Limiter against go-redis. The global window is
// a fixed one-minute bucket keyed by wall-clock time; the per-imei window
// is a single key that lives for the configured interval. Both are
// incremented with INCR and given a TTL on first write — the same counter-with-TTL idiom
// the teacher uses elsewhere for Redis-backed state.
type RedisLimiter struct {
	client  *redis.Client
	cfg     config.RateLimitConfig
	perIMEI time.Duration
	logger  zerolog.Logger
}

func NewRedisLimiter(client *redis.Client, cfg *config.Config, logger *zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		cfg:     cfg.RateLimit,
		perIMEI: cfg.RateLimit.PerIMEIInterval,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Allow composes the global-per-channel and per-(imei,channel) limits
// with AND. On a Redis error it fails open: an unreachable limiter must
// never become an outage for the rest of the pipeline (spec §4.4).
func (l *RedisLimiter) Allow(ctx context.Context, channel model.Channel, imei string) (bool, error) {
	if !l.cfg.Enabled {
		return true, nil
	}

	globalOK, err := l.allowGlobal(ctx, channel)
	if err != nil {
		l.logger.Warn().Err(err).Str("channel", string(channel)).Msg("rate limiter: global check failed, failing open")
		return true, nil
	}
	if !globalOK {
		return false, nil
	}

	imeiOK, err := l.allowIMEI(ctx, channel, imei)
	if err != nil {
		l.logger.Warn().Err(err).Str("channel", string(channel)).Str("imei", imei).Msg("rate limiter: per-imei check failed, failing open")
		return true, nil
	}
	return imeiOK, nil
}

func (l *RedisLimiter) allowGlobal(ctx context.Context, channel model.Channel) (bool, error) {
	limit, ok := l.cfg.GlobalPerMinute[string(channel)]
	if !ok || limit <= 0 {
		return true, nil
	}
	bucket := time.Now().UTC().Unix() / 60
	key := keybuilder.RateLimitGlobalKey(string(channel), bucket)
	count, err := l.incrWithTTL(ctx, key, time.Minute)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

func (l *RedisLimiter) allowIMEI(ctx context.Context, channel model.Channel, imei string) (bool, error) {
	interval := l.perIMEI
	if interval <= 0 {
		interval = 60 * time.Second
	}
	key := keybuilder.RateLimitIMEIKey(imei, string(channel))
	count, err := l.incrWithTTL(ctx, key, interval)
	if err != nil {
		return false, err
	}
	// Per-imei is a "1 per interval" gate, not a counted bucket: only the
	// first INCR within the window may pass.
	return count <= 1, nil
}

func (l *RedisLimiter) incrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: incr failed: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("ratelimit: expire failed: %w", err)
		}
	}
	return count, nil
}
