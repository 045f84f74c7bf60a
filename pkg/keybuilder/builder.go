// Package keybuilder centralizes the Redis key layout used across the
// rate limiter (C4) and system-state broadcast (C9), so
// every caller derives keys the same way instead of hand-formatting them.
package keybuilder

import "fmt"

const (
	prefix = "alarmdispatch"

	segRateLimitGlobal = "ratelimit:global"
	segRateLimitIMEI   = "ratelimit:imei"
	segState           = "state"
	segStateChannel    = "state:changed"
)

// RateLimitGlobalKey builds the global per-channel token-bucket key for the
// current bucket window.
func RateLimitGlobalKey(channel string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", prefix, segRateLimitGlobal, channel, bucket)
}

// RateLimitIMEIKey builds the per-(imei,channel) token-bucket key.
func RateLimitIMEIKey(imei, channel string) string {
	return fmt.Sprintf("%s:%s:%s:%s", prefix, segRateLimitIMEI, imei, channel)
}

// StateKey names a key for a SystemState snapshot. The system-state
// manager does not read or write it: it caches state in memory and
// refreshes that cache from Postgres.
func StateKey() string {
	return fmt.Sprintf("%s:%s", prefix, segState)
}

// StateChangedChannel is the pub/sub channel C9 publishes on after a write.
func StateChangedChannel() string {
	return fmt.Sprintf("%s:%s", prefix, segStateChannel)
}
