package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casino-ewallet/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still carries our token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker implements ports.Locker with SET NX PX leases.
type Locker struct {
	client *goredis.Client
	prefix string
}

// NewLocker creates a Redis-backed lease provider.
func NewLocker(client *goredis.Client) *Locker {
	return &Locker{
		client: client,
		prefix: "lock:",
	}
}

// TryLock acquires key for ttl. ok is false when another holder owns it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.Lease, bool, error) {
	token := uuid.NewString()
	full := l.prefix + key

	result, err := l.client.SetArgs(ctx, full, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if result != "OK" {
		return nil, false, nil
	}
	return &lease{client: l.client, key: full, token: token}, true, nil
}

type lease struct {
	client *goredis.Client
	key    string
	token  string
}

// Release drops the lease if we still own it; an expired lease is a no-op.
func (l *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	return nil
}

// Extend renews the lease for ttl. A lease that expired or was taken over is
// not revived.
func (l *lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis extend %s: %w", l.key, err)
	}
	return n == 1, nil
}
