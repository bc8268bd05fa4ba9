package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/featuregate/pkg/db/pagination"
)

type Service interface {
	GetUsage(ctx context.Context, userID, featureKey string) (FeatureUsage, error)
	RecordUse(ctx context.Context, userID, featureKey string, metadata map[string]any) (RecordResult, error)
	// RecordUseAttempt is RecordUse under a caller-chosen attempt ID, so an
	// ambiguous call can be resolved with AttemptLanded. Re-sending a landed
	// attempt does not charge again.
	RecordUseAttempt(ctx context.Context, userID, featureKey, attemptID string, metadata map[string]any) (RecordResult, error)
	AttemptLanded(ctx context.Context, userID, featureKey, attemptID string) (bool, error)
	ListUsage(ctx context.Context, userID string) ([]FeatureUsage, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
	PurgeEvents(ctx context.Context, before time.Time, batchSize int) (int64, error)
	PurgeAttempts(ctx context.Context, before time.Time, batchSize int) (int64, error)
}

type ListEventsRequest struct {
	UserID     string
	FeatureKey string
	pagination.Pagination
}

type EventResponse struct {
	ID         string         `json:"id"`
	AttemptID  string         `json:"attempt_id"`
	FeatureKey string         `json:"feature_key"`
	Period     Period         `json:"period"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ListEventsResponse struct {
	Events   []EventResponse     `json:"events"`
	PageInfo pagination.PageInfo `json:"page_info"`
}
