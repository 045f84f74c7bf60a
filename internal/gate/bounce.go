package gate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisBounceKey is the set external bounce-webhook ingestion (out of
// core scope, spec §1) is expected to populate; the core only reads it.
const redisBounceKey = "alarmdispatch:bounce:suppressed"

// RedisBounceChecker implements BounceChecker as a read-only view over a
// Redis set maintained by the out-of-scope bounce-webhook ingestion
// service. This keeps the core's dependency on that service to a single
// SISMEMBER call, matching spec §1's "narrow surface contracts".
type RedisBounceChecker struct {
	client *redis.Client
}

func NewRedisBounceChecker(client *redis.Client) *RedisBounceChecker {
	return &RedisBounceChecker{client: client}
}

func (c *RedisBounceChecker) Suppressed(ctx context.Context, email string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, redisBounceKey, email).Result()
	if err != nil {
		return false, fmt.Errorf("gate: bounce check failed: %w", err)
	}
	return ok, nil
}
