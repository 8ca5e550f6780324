package redis

import (
	"context"
	"fmt"
	"time"

	"casino-ewallet/pkg/clock"

	goredis "github.com/redis/go-redis/v9"
)

// incrWindowScript bumps a window counter and arms its expiry on first use.
var incrWindowScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimitStore keeps fixed-window request counters in Redis.
type RateLimitStore struct {
	client *goredis.Client
	clock  clock.Clock
	prefix string
}

// NewRateLimitStore creates a Redis-backed rate limit store.
func NewRateLimitStore(client *goredis.Client, clk clock.Clock) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		clock:  clk,
		prefix: "ratelimit:",
	}
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Allow counts one request against key in the current window.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	if window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", window)
	}
	now := s.clock.Now()
	windowStart := now.Truncate(window)
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, windowStart.Unix())

	// Expiry outlives the window slightly so late INCRs never resurrect a fresh key.
	ttl := window + time.Second
	count, err := incrWindowScript.Run(ctx, s.client, []string{redisKey}, ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit incr: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(window),
	}, nil
}
