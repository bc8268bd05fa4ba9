package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const MaxAttemptIDLength = 64

// AttemptRetention is how long a landed attempt stays resolvable.
const AttemptRetention = 72 * time.Hour

var attemptIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// UsageAttempt marks one landed increment. It is written in the same atomic
// store operation as the increment, so its presence answers whether an
// ambiguous RecordUse call was charged.
type UsageAttempt struct {
	UserID     string    `gorm:"column:user_id;type:varchar(128);primaryKey"`
	AttemptID  string    `gorm:"column:attempt_id;type:varchar(64);primaryKey"`
	FeatureKey string    `gorm:"column:feature_key;type:varchar(64);not null"`
	Period     Period    `gorm:"column:period;type:varchar(7);not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:ix_feature_usage_attempts_created_at"`
}

func (UsageAttempt) TableName() string { return "feature_usage_attempts" }

// NewAttemptID returns a fresh ULID.
func NewAttemptID() string {
	return ulid.Make().String()
}

// NormalizeAttemptID validates a caller-chosen attempt ID. An empty value
// yields a fresh one.
func NormalizeAttemptID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return NewAttemptID(), nil
	}
	if len(id) > MaxAttemptIDLength || !attemptIDPattern.MatchString(id) {
		return "", ErrInvalidAttemptID
	}
	return id, nil
}
