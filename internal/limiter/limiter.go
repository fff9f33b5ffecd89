// Package limiter provides Redis-backed rate limiting using the INCR + EXPIRE
// window algorithm. It throttles message sends per user so one noisy session
// cannot flood a channel. On Redis errors it fails open: a store outage must
// not block legitimate traffic.
package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a rate limiting policy: key prefix, maximum count in the
// window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// RuleSend allows 10 messages per 10 seconds per user.
var RuleSend = Rule{Key: "rl:send:", Limit: 10, Window: 10 * time.Second}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// New creates a Limiter backed by the given Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the identifier is within the rate limit defined by
// rule. It increments the counter and sets the expiry on first access.
// Returns true if the request is allowed, false if rate limited.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[limiter] INCR failed, failing open")
		return true, err
	}

	// First increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("[limiter] EXPIRE failed, failing open")
			// The key would otherwise persist and block the identifier
			// forever; best effort removal.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}
