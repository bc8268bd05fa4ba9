package domain

import (
	"context"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
)

// Store owns the usage counters. RecordUse must perform the limit check and
// the increment as one atomic operation on the backend.
type Store interface {
	Name() string
	GetUsage(ctx context.Context, userID, featureKey string, period Period) (FeatureUsage, error)
	// RecordUse also records req.AttemptID when it grants. An attempt ID
	// that already landed is answered as a Replayed grant without charging.
	RecordUse(ctx context.Context, req RecordRequest) (RecordResult, error)
	// AttemptLanded reports whether attemptID was charged for featureKey.
	AttemptLanded(ctx context.Context, userID, featureKey, attemptID string) (bool, error)
}

// LimitResolver resolves the effective limit for a user.
type LimitResolver interface {
	ResolveLimit(ctx context.Context, userID, featureKey string) (featuredomain.EffectiveLimit, error)
}

// Snapshot builds the usage view for limit and current within period.
// Remaining is filled in by the quota policy.
func Snapshot(limit featuredomain.EffectiveLimit, current int64, period Period) FeatureUsage {
	return FeatureUsage{
		FeatureKey:   limit.FeatureKey,
		Period:       period,
		LimitValue:   limit.LimitValue,
		CurrentUsage: current,
		IsUnlimited:  limit.IsUnlimited(),
		ResetsAt:     period.ResetsAt(),
	}
}
