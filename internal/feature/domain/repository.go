package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*Feature, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Feature, error)
	Update(ctx context.Context, db *gorm.DB, feature *Feature) error

	UpsertOverride(ctx context.Context, db *gorm.DB, override *LimitOverride) error
	FindOverride(ctx context.Context, db *gorm.DB, userID, key string) (*LimitOverride, error)
	DeleteOverride(ctx context.Context, db *gorm.DB, userID, key string) (int64, error)
	ListOverrides(ctx context.Context, db *gorm.DB, key string) ([]LimitOverride, error)

	// ResolveLimit returns nil when the feature key is not in the catalog.
	ResolveLimit(ctx context.Context, db *gorm.DB, userID, key string) (*EffectiveLimit, error)
}
