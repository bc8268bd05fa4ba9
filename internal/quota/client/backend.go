// Package client is the facade feature front ends use to read, gate and
// refresh a user's feature usage.
package client

import (
	"context"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
)

// Backend is bound to one user. Implementations report failures with the
// quota/domain sentinels.
type Backend interface {
	GetUsage(ctx context.Context, featureKey string) (domain.FeatureUsage, error)
	// RecordUse charges under attemptID. Re-sending a landed attempt is not
	// charged again.
	RecordUse(ctx context.Context, featureKey, attemptID string, metadata map[string]any) (domain.RecordResult, error)
	AttemptLanded(ctx context.Context, featureKey, attemptID string) (bool, error)
}

// ServiceBackend calls the quota service in-process.
type ServiceBackend struct {
	svc    domain.Service
	userID string
}

func NewServiceBackend(svc domain.Service, userID string) *ServiceBackend {
	return &ServiceBackend{svc: svc, userID: userID}
}

func (b *ServiceBackend) GetUsage(ctx context.Context, featureKey string) (domain.FeatureUsage, error) {
	return b.svc.GetUsage(ctx, b.userID, featureKey)
}

func (b *ServiceBackend) RecordUse(ctx context.Context, featureKey, attemptID string, metadata map[string]any) (domain.RecordResult, error) {
	return b.svc.RecordUseAttempt(ctx, b.userID, featureKey, attemptID, metadata)
}

func (b *ServiceBackend) AttemptLanded(ctx context.Context, featureKey, attemptID string) (bool, error) {
	return b.svc.AttemptLanded(ctx, b.userID, featureKey, attemptID)
}

var (
	_ Backend = (*ServiceBackend)(nil)
	_ Backend = (*HTTPBackend)(nil)
)
