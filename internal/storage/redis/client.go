// Package redis adapts the shared go-redis client to the core's rate
// limiter and system-state broadcast needs.
package redis

import (
	"github.com/alarmdispatch/core/internal/config"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient builds the shared *goredis.Client used by every Redis-backed
// component (C4 rate limiter, C9 broadcast).
func NewClient(cfg *config.Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
