package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Feature is a catalog entry describing a rate-limited capability and its
// default monthly allowance.
type Feature struct {
	ID  snowflake.ID `gorm:"primaryKey"`
	Key string       `gorm:"column:feature_key;type:varchar(64);not null;uniqueIndex:ux_features_feature_key"`

	Name         string  `gorm:"type:text;not null"`
	Description  *string `gorm:"type:text"`
	DefaultValue int64   `gorm:"column:default_value;not null;default:0"`
	Unlimited    bool    `gorm:"not null;default:false"`
	Active       bool    `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Feature) TableName() string { return "features" }

// LimitOverride replaces the catalog default for one user.
type LimitOverride struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     string       `gorm:"column:user_id;type:varchar(128);not null;uniqueIndex:ux_feature_limit_overrides_user_feature,priority:1"`
	FeatureKey string       `gorm:"column:feature_key;type:varchar(64);not null;uniqueIndex:ux_feature_limit_overrides_user_feature,priority:2;index"`
	LimitValue int64        `gorm:"column:limit_value;not null;default:0"`
	Unlimited  bool         `gorm:"not null;default:false"`
	Reason     *string      `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LimitOverride) TableName() string { return "feature_limit_overrides" }

// EffectiveLimit is the limit that applies to one user for one feature.
type EffectiveLimit struct {
	FeatureKey string
	LimitValue int64
	Unlimited  bool
	Active     bool
	Overridden bool
}

// IsUnlimited reports whether the limit never denies. A non-positive limit
// value is unlimited; disabling a feature is expressed by Active=false.
func (l EffectiveLimit) IsUnlimited() bool {
	return l.Unlimited || l.LimitValue <= 0
}

// Resolve applies override on top of the catalog entry f.
func Resolve(f Feature, override *LimitOverride) EffectiveLimit {
	limit := EffectiveLimit{
		FeatureKey: f.Key,
		LimitValue: f.DefaultValue,
		Unlimited:  f.Unlimited,
		Active:     f.Active,
	}
	if override != nil {
		limit.LimitValue = override.LimitValue
		limit.Unlimited = override.Unlimited
		limit.Overridden = true
	}
	return limit
}
