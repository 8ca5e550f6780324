package middleware

import (
	"fmt"
	"strconv"
	"time"

	"casino-ewallet/config"
	redisStore "casino-ewallet/internal/adapter/storage/redis"
	"casino-ewallet/pkg/apperror"
	"casino-ewallet/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// RateLimitRules derives per-group limits from configuration.
func RateLimitRules(cfg config.RateLimitConfig) map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"deposits_create": {Limit: cfg.DepositsPerMinute, Window: time.Minute},
		"deposits_read":   {Limit: cfg.ReadsPerMinute, Window: time.Minute},
		"ops":             {Limit: cfg.OpsPerMinute, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Store failures let the request through.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", callerIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int64(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// callerIdentifier keys limits by authenticated user, falling back to client IP.
func callerIdentifier(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return id.String()
	}
	return c.ClientIP()
}
