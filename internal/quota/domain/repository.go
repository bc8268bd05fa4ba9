package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// GetCounter returns 0 when no row exists for the period.
	GetCounter(ctx context.Context, db *gorm.DB, userID, featureKey string, period Period) (int64, error)
	// IncrementIfBelow adds one to the counter, creating it on first use,
	// unless limit is non-nil and the current value has reached it. It
	// reports whether a row changed.
	IncrementIfBelow(ctx context.Context, db *gorm.DB, counter *UsageCounter, limit *int64) (bool, error)

	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *UsageAttempt) error
	// FindAttempt returns nil when the attempt is unknown.
	FindAttempt(ctx context.Context, db *gorm.DB, userID, attemptID string) (*UsageAttempt, error)
	PurgeAttemptsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	ListEvents(ctx context.Context, db *gorm.DB, filter EventFilter) ([]UsageEvent, error)
	PurgeEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type EventFilter struct {
	UserID     string
	FeatureKey string
	Limit      int

	// Keyset cursor; both zero for the first page.
	BeforeTime time.Time
	BeforeID   snowflake.ID
}
