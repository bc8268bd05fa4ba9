// Package redisstore keeps usage counters in Redis. The limit check and the
// increment run inside one Lua script so concurrent attempts cannot overshoot.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/policy"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const Name = "redis"

// Counters outlive their period so late reads still see the final value.
const expiryGrace = 35 * 24 * time.Hour

// Replies: 0 denied, 1 granted, 2 attempt already landed, -1 attempt ID
// landed for another feature.
const recordUseScript = `
local limit = tonumber(ARGV[1])
local expire_at = tonumber(ARGV[2])
local attempt_ttl = tonumber(ARGV[3])
local feature = ARGV[4]

local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if attempt_ttl > 0 then
  local landed = redis.call("GET", KEYS[2])
  if landed then
    if landed ~= feature then
      return {-1, current}
    end
    return {2, current}
  end
end

if limit >= 0 and current >= limit then
  return {0, current}
end

current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIREAT", KEYS[1], expire_at)
end
if attempt_ttl > 0 then
  redis.call("SET", KEYS[2], feature, "PX", attempt_ttl)
end
return {1, current}
`

type Params struct {
	fx.In

	Client *redis.Client
	Log    *zap.Logger
	Limits domain.LimitResolver
}

type Store struct {
	client *redis.Client
	log    *zap.Logger
	limits domain.LimitResolver
	script *redis.Script
}

func New(p Params) *Store {
	return &Store{
		client: p.Client,
		log:    p.Log.Named("quota.redisstore"),
		limits: p.Limits,
		script: redis.NewScript(recordUseScript),
	}
}

func (s *Store) Name() string { return Name }

func CounterKey(userID, featureKey string, period domain.Period) string {
	return fmt.Sprintf("featuregate:usage:{%s}:%s:%s", userID, featureKey, period)
}

// AttemptKey shares the counter's hash tag so both keys live in one slot.
func AttemptKey(userID, attemptID string) string {
	return fmt.Sprintf("featuregate:attempt:{%s}:%s", userID, attemptID)
}

func (s *Store) GetUsage(ctx context.Context, userID, featureKey string, period domain.Period) (domain.FeatureUsage, error) {
	if s.client == nil {
		return domain.FeatureUsage{}, errors.New("redis client not configured")
	}
	limit, err := s.resolve(ctx, userID, featureKey)
	if err != nil {
		return domain.FeatureUsage{}, err
	}

	current, err := s.client.Get(ctx, CounterKey(userID, featureKey, period)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.FeatureUsage{}, err
	}
	return policy.Apply(domain.Snapshot(limit, current, period)), nil
}

func (s *Store) RecordUse(ctx context.Context, req domain.RecordRequest) (domain.RecordResult, error) {
	if s.client == nil {
		return domain.RecordResult{}, errors.New("redis client not configured")
	}
	limit, err := s.resolve(ctx, req.UserID, req.FeatureKey)
	if err != nil {
		return domain.RecordResult{}, err
	}

	ceiling := policy.Unlimited
	if !limit.IsUnlimited() {
		ceiling = limit.LimitValue
	}
	expireAt := req.Period.ResetsAt().Add(expiryGrace)

	attemptTTL := int64(0)
	if req.AttemptID != "" {
		attemptTTL = domain.AttemptRetention.Milliseconds()
	}

	res, err := s.script.Run(
		ctx,
		s.client,
		[]string{
			CounterKey(req.UserID, req.FeatureKey, req.Period),
			AttemptKey(req.UserID, req.AttemptID),
		},
		ceiling,
		expireAt.UnixMilli(),
		attemptTTL,
		req.FeatureKey,
	).Int64Slice()
	if err != nil {
		return domain.RecordResult{}, err
	}
	if len(res) != 2 {
		return domain.RecordResult{}, fmt.Errorf("unexpected record script response: %v", res)
	}

	result := domain.RecordResult{
		Outcome:   domain.OutcomeDenied,
		Usage:     policy.Apply(domain.Snapshot(limit, res[1], req.Period)),
		AttemptID: req.AttemptID,
	}
	switch res[0] {
	case -1:
		return domain.RecordResult{}, domain.ErrInvalidAttemptID
	case 1:
		result.Outcome = domain.OutcomeGranted
	case 2:
		result.Outcome = domain.OutcomeGranted
		result.Replayed = true
	}
	return result, nil
}

func (s *Store) AttemptLanded(ctx context.Context, userID, featureKey, attemptID string) (bool, error) {
	if s.client == nil {
		return false, errors.New("redis client not configured")
	}
	landed, err := s.client.Get(ctx, AttemptKey(userID, attemptID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return landed == featureKey, nil
}

func (s *Store) resolve(ctx context.Context, userID, featureKey string) (featuredomain.EffectiveLimit, error) {
	limit, err := s.limits.ResolveLimit(ctx, userID, featureKey)
	if err != nil {
		return featuredomain.EffectiveLimit{}, err
	}
	if !limit.Active {
		return featuredomain.EffectiveLimit{}, domain.ErrFeatureInactive
	}
	return limit, nil
}

var _ domain.Store = (*Store)(nil)
