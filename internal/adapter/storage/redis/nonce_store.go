package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casino-ewallet/pkg/clock"

	goredis "github.com/redis/go-redis/v9"
)

// NonceStore implements ports.NonceStore using Redis SET NX.
//
// Every transfer nonce is reserved here before the casino sees it, so the
// store is the cross-instance record of which nonces were ever issued and
// when. That is what lets an operator match a casino-side transfer whose
// response never reached us back to this system, even after the attempt
// history on the transaction row has been rewritten.
type NonceStore struct {
	client *goredis.Client
	clock  clock.Clock
	prefix string
}

// NewNonceStore creates a Redis-backed nonce store. Keys are
// nonce:<scope>:<nonce> and hold the reservation time in unix milliseconds.
func NewNonceStore(client *goredis.Client, clk clock.Clock) *NonceStore {
	return &NonceStore{
		client: client,
		clock:  clk,
		prefix: "nonce:",
	}
}

// CheckAndSet reserves nonce within scope for ttl. It reports false when the
// nonce was already issued.
func (s *NonceStore) CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error) {
	key := s.prefix + scope + ":" + nonce
	result, err := s.client.SetArgs(ctx, key, s.clock.Now().UnixMilli(), goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("reserve %s nonce %s: %w", scope, nonce, err)
	}
	return result == "OK", nil
}
