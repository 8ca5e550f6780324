package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// WebhookCache implements ports.WebhookCache using Redis.
// Only deliveries that were fully processed are remembered.
type WebhookCache struct {
	client *goredis.Client
	prefix string
}

// NewWebhookCache creates a new Redis-backed webhook delivery cache.
func NewWebhookCache(client *goredis.Client) *WebhookCache {
	return &WebhookCache{
		client: client,
		prefix: "webhook:seen:",
	}
}

// Seen reports whether a delivery with this fingerprint was already processed.
func (c *WebhookCache) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("redis webhook seen: %w", err)
	}
	return n > 0, nil
}

// Remember stores the fingerprint with TTL.
func (c *WebhookCache) Remember(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+fingerprint, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis webhook remember: %w", err)
	}
	return nil
}
