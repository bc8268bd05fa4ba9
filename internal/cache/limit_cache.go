package cache

import (
	"strings"
	"time"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
)

const defaultLimitTTL = 30 * time.Second

// LimitCache stores resolved per-user limits for the quota hot path.
type LimitCache interface {
	Get(userID, featureKey string) (featuredomain.EffectiveLimit, bool)
	Set(userID, featureKey string, limit featuredomain.EffectiveLimit)
	Invalidate(userID, featureKey string)
	InvalidateAll()
}

type limitCache struct {
	limits Cache[string, featuredomain.EffectiveLimit]
	ttl    time.Duration
}

func NewLimitCache() LimitCache {
	return NewLimitCacheWithTTL(defaultLimitTTL)
}

func NewLimitCacheWithTTL(ttl time.Duration) LimitCache {
	return &limitCache{
		limits: NewTTLCache[string, featuredomain.EffectiveLimit](),
		ttl:    ttl,
	}
}

func (c *limitCache) Get(userID, featureKey string) (featuredomain.EffectiveLimit, bool) {
	return c.limits.Get(cacheKey(userID, featureKey))
}

func (c *limitCache) Set(userID, featureKey string, limit featuredomain.EffectiveLimit) {
	c.limits.Set(cacheKey(userID, featureKey), limit, c.ttl)
}

func (c *limitCache) Invalidate(userID, featureKey string) {
	c.limits.Delete(cacheKey(userID, featureKey))
}

// InvalidateAll drops every entry; catalog edits affect all users at once.
func (c *limitCache) InvalidateAll() {
	c.limits.Purge()
}

func cacheKey(userID, featureKey string) string {
	return strings.TrimSpace(featureKey) + "|" + strings.TrimSpace(userID)
}
