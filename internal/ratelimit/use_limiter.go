package ratelimit

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/featuregate/internal/config"
)

const keyUseUser = "featuregate:ratelimit:use:%s"

// UseLimiter throttles record-use calls per user. It protects the store
// from request floods and is unrelated to feature quotas.
type UseLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewUseLimiter returns nil when rate limiting is disabled.
func NewUseLimiter(cfg config.Config, client *redis.Client) (*UseLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires a redis client")
	}
	if limitCfg.UseRate <= 0 || limitCfg.UseBurst <= 0 {
		return nil, ErrInvalidRate
	}
	return &UseLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.UseRate,
		burst:  limitCfg.UseBurst,
	}, nil
}

func (l *UseLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UseLimiter) AllowUser(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUseUser, userID), l.rate, l.burst)
}
