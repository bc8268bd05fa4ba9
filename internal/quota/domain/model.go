package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageCounter is the authoritative count for one (user, feature, period).
type UsageCounter struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	UserID       string       `gorm:"column:user_id;type:varchar(128);not null;uniqueIndex:ux_feature_usage_counters_key,priority:1"`
	FeatureKey   string       `gorm:"column:feature_key;type:varchar(64);not null;uniqueIndex:ux_feature_usage_counters_key,priority:2"`
	Period       Period       `gorm:"column:period;type:varchar(7);not null;uniqueIndex:ux_feature_usage_counters_key,priority:3"`
	CurrentUsage int64        `gorm:"column:current_usage;not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UsageCounter) TableName() string { return "feature_usage_counters" }

// UsageEvent is the append-only audit record of one granted use.
type UsageEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	AttemptID  string            `gorm:"column:attempt_id;type:varchar(64);not null"`
	UserID     string            `gorm:"column:user_id;type:varchar(128);not null;index:ix_feature_usage_events_user_feature,priority:1"`
	FeatureKey string            `gorm:"column:feature_key;type:varchar(64);not null;index:ix_feature_usage_events_user_feature,priority:2"`
	Period     Period            `gorm:"column:period;type:varchar(7);not null"`
	OccurredAt time.Time         `gorm:"column:occurred_at;not null;index:ix_feature_usage_events_user_feature,priority:3;index:ix_feature_usage_events_occurred_at"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata"`
}

func (UsageEvent) TableName() string { return "feature_usage_events" }

// FeatureUsage is a point-in-time snapshot of one user's usage of a feature.
type FeatureUsage struct {
	FeatureKey   string    `json:"feature_key"`
	Period       Period    `json:"period"`
	LimitValue   int64     `json:"limit_value"`
	CurrentUsage int64     `json:"current_usage"`
	Remaining    int64     `json:"remaining"`
	IsUnlimited  bool      `json:"is_unlimited"`
	ResetsAt     time.Time `json:"resets_at"`
}

type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// RecordRequest is one check-and-increment attempt handed to a Store.
type RecordRequest struct {
	UserID     string
	FeatureKey string
	Period     Period
	AttemptID  string
}

// RecordResult carries the outcome and the counter state the store observed
// while deciding it.
type RecordResult struct {
	Outcome   Outcome      `json:"outcome"`
	Usage     FeatureUsage `json:"usage"`
	AttemptID string       `json:"attempt_id"`
	// Replayed is set when the attempt had already landed; nothing was
	// charged by this call.
	Replayed bool `json:"replayed,omitempty"`
}

func (r RecordResult) Granted() bool {
	return r.Outcome == OutcomeGranted
}
