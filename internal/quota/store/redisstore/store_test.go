package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const period = domain.Period("2025-03")

type staticLimits map[string]featuredomain.EffectiveLimit

func (s staticLimits) ResolveLimit(_ context.Context, _ string, featureKey string) (featuredomain.EffectiveLimit, error) {
	limit, ok := s[featureKey]
	if !ok {
		return featuredomain.EffectiveLimit{}, featuredomain.ErrNotFound
	}
	return limit, nil
}

func setupStore(t *testing.T, limits staticLimits) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(Params{Client: client, Log: zap.NewNop(), Limits: limits}), mr
}

func limited(key string, value int64) featuredomain.EffectiveLimit {
	return featuredomain.EffectiveLimit{FeatureKey: key, LimitValue: value, Active: true}
}

func record(t *testing.T, s *Store, user, key string) domain.RecordResult {
	t.Helper()
	res, err := s.RecordUse(context.Background(), domain.RecordRequest{
		UserID:     user,
		FeatureKey: key,
		Period:     period,
		AttemptID:  domain.NewAttemptID(),
	})
	require.NoError(t, err)
	return res
}

func TestGetUsageMissingKeyIsZero(t *testing.T) {
	s, _ := setupStore(t, staticLimits{"exports": limited("exports", 5)})

	usage, err := s.GetUsage(context.Background(), "u-1", "exports", period)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.CurrentUsage)
	assert.Equal(t, int64(5), usage.Remaining)
	assert.Equal(t, period.ResetsAt(), usage.ResetsAt)
}

func TestRecordUseDeniesAtLimit(t *testing.T) {
	s, mr := setupStore(t, staticLimits{"exports": limited("exports", 3)})
	require.NoError(t, mr.Set(CounterKey("u-1", "exports", period), "3"))

	res := record(t, s, "u-1", "exports")
	assert.Equal(t, domain.OutcomeDenied, res.Outcome)
	assert.Equal(t, int64(3), res.Usage.CurrentUsage)
	assert.Equal(t, int64(0), res.Usage.Remaining)

	got, err := mr.Get(CounterKey("u-1", "exports", period))
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestRecordUseGrantsLastUnit(t *testing.T) {
	s, mr := setupStore(t, staticLimits{"exports": limited("exports", 3)})
	require.NoError(t, mr.Set(CounterKey("u-1", "exports", period), "2"))

	res := record(t, s, "u-1", "exports")
	assert.True(t, res.Granted())
	assert.Equal(t, int64(3), res.Usage.CurrentUsage)
	assert.Equal(t, int64(0), res.Usage.Remaining)

	res = record(t, s, "u-1", "exports")
	assert.False(t, res.Granted())
}

func TestRecordUseSetsExpiryOnFirstWrite(t *testing.T) {
	s, mr := setupStore(t, staticLimits{"exports": limited("exports", 3)})
	mr.SetTime(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	record(t, s, "u-1", "exports")
	ttl := mr.TTL(CounterKey("u-1", "exports", period))
	expected := period.ResetsAt().Add(expiryGrace).Sub(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, expected.Seconds(), ttl.Seconds(), 1)
}

func TestRecordUseSequentialIsMonotonic(t *testing.T) {
	s, _ := setupStore(t, staticLimits{"exports": limited("exports", 5)})

	var last int64
	for i := 0; i < 8; i++ {
		res := record(t, s, "u-1", "exports")
		assert.GreaterOrEqual(t, res.Usage.CurrentUsage, last)
		assert.LessOrEqual(t, res.Usage.CurrentUsage, int64(5))
		last = res.Usage.CurrentUsage
	}
	assert.Equal(t, int64(5), last)
}

func TestRecordUseConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 8
	s, _ := setupStore(t, staticLimits{"exports": limited("exports", limit)})

	var granted, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.RecordUse(context.Background(), domain.RecordRequest{
				UserID: "u-1", FeatureKey: "exports", Period: period,
			})
			if err != nil {
				t.Error(err)
				return
			}
			if res.Granted() {
				granted.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), granted.Load())
	assert.Equal(t, int64(limit), denied.Load())

	usage, err := s.GetUsage(context.Background(), "u-1", "exports", period)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), usage.CurrentUsage)
}

func TestRecordUseUnlimited(t *testing.T) {
	s, _ := setupStore(t, staticLimits{
		"zero": limited("zero", 0),
		"flag":  {FeatureKey: "flag", LimitValue: 2, Unlimited: true, Active: true},
	})

	for _, key := range []string{"zero", "flag"} {
		for i := 0; i < 5; i++ {
			res := record(t, s, "u-1", key)
			require.True(t, res.Granted(), key)
			assert.Equal(t, policy.Unlimited, res.Usage.Remaining)
			assert.True(t, res.Usage.IsUnlimited)
		}
	}
}

func TestRecordUseUnknownAndInactive(t *testing.T) {
	s, _ := setupStore(t, staticLimits{
		"archived": {FeatureKey: "archived", LimitValue: 3},
	})

	_, err := s.RecordUse(context.Background(), domain.RecordRequest{UserID: "u-1", FeatureKey: "missing", Period: period})
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)

	_, err = s.RecordUse(context.Background(), domain.RecordRequest{UserID: "u-1", FeatureKey: "archived", Period: period})
	assert.ErrorIs(t, err, domain.ErrFeatureInactive)
}

func TestCountersAreScopedPerPeriodAndUser(t *testing.T) {
	s, _ := setupStore(t, staticLimits{"exports": limited("exports", 1)})

	assert.True(t, record(t, s, "u-1", "exports").Granted())
	assert.True(t, record(t, s, "u-2", "exports").Granted())

	res, err := s.RecordUse(context.Background(), domain.RecordRequest{
		UserID: "u-1", FeatureKey: "exports", Period: "2025-04",
	})
	require.NoError(t, err)
	assert.True(t, res.Granted())
}

func TestReplayedAttemptIsNotCharged(t *testing.T) {
	s, mr := setupStore(t, staticLimits{
		"exports": limited("exports", 3),
		"imports": limited("imports", 3),
	})
	req := domain.RecordRequest{UserID: "u-1", FeatureKey: "exports", Period: period, AttemptID: "retry-me"}

	first, err := s.RecordUse(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Granted())
	assert.False(t, first.Replayed)

	second, err := s.RecordUse(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Granted())
	assert.True(t, second.Replayed)
	assert.Equal(t, int64(1), second.Usage.CurrentUsage)

	ttl := mr.TTL(AttemptKey("u-1", "retry-me"))
	assert.InDelta(t, domain.AttemptRetention.Seconds(), ttl.Seconds(), 1)

	landed, err := s.AttemptLanded(context.Background(), "u-1", "exports", "retry-me")
	require.NoError(t, err)
	assert.True(t, landed)

	landed, err = s.AttemptLanded(context.Background(), "u-1", "imports", "retry-me")
	require.NoError(t, err)
	assert.False(t, landed)

	_, err = s.RecordUse(context.Background(), domain.RecordRequest{UserID: "u-1", FeatureKey: "imports", Period: period, AttemptID: "retry-me"})
	assert.ErrorIs(t, err, domain.ErrInvalidAttemptID)
}

func TestDeniedAttemptDoesNotLand(t *testing.T) {
	s, mr := setupStore(t, staticLimits{"exports": limited("exports", 1)})
	require.NoError(t, mr.Set(CounterKey("u-1", "exports", period), "1"))

	res, err := s.RecordUse(context.Background(), domain.RecordRequest{UserID: "u-1", FeatureKey: "exports", Period: period, AttemptID: "denied"})
	require.NoError(t, err)
	assert.False(t, res.Granted())

	landed, err := s.AttemptLanded(context.Background(), "u-1", "exports", "denied")
	require.NoError(t, err)
	assert.False(t, landed)
	assert.False(t, mr.Exists(AttemptKey("u-1", "denied")))
}
