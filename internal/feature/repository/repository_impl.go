package repository

import (
	"context"
	"database/sql"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const featureColumns = `id, feature_key, name, description, default_value, unlimited, active, created_at, updated_at`

func (r *repo) Create(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (`+featureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feature.ID,
		feature.Key,
		feature.Name,
		feature.Description,
		feature.DefaultValue,
		feature.Unlimited,
		feature.Active,
		feature.CreatedAt,
		feature.UpdatedAt,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE feature_key = ?`,
		key,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).Model(&domain.Feature{})
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if err := stmt.Order("feature_key ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE features
		 SET name = ?, description = ?, default_value = ?, unlimited = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		feature.Name,
		feature.Description,
		feature.DefaultValue,
		feature.Unlimited,
		feature.Active,
		feature.UpdatedAt,
		feature.ID,
	).Error
}

func (r *repo) UpsertOverride(ctx context.Context, db *gorm.DB, override *domain.LimitOverride) error {
	if override == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"limit_value", "unlimited", "reason", "updated_at"}),
	}).Create(override).Error
}

func (r *repo) FindOverride(ctx context.Context, db *gorm.DB, userID, key string) (*domain.LimitOverride, error) {
	var o domain.LimitOverride
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, feature_key, limit_value, unlimited, reason, created_at, updated_at
		 FROM feature_limit_overrides WHERE user_id = ? AND feature_key = ?`,
		userID,
		key,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) DeleteOverride(ctx context.Context, db *gorm.DB, userID, key string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM feature_limit_overrides WHERE user_id = ? AND feature_key = ?`,
		userID,
		key,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListOverrides(ctx context.Context, db *gorm.DB, key string) ([]domain.LimitOverride, error) {
	var items []domain.LimitOverride
	err := db.WithContext(ctx).
		Where("feature_key = ?", key).
		Order("user_id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

type limitRow struct {
	FeatureKey        string
	DefaultValue      int64
	Unlimited         bool
	Active            bool
	OverrideID        sql.NullInt64
	OverrideLimit     sql.NullInt64
	OverrideUnlimited sql.NullBool
}

func (r *repo) ResolveLimit(ctx context.Context, db *gorm.DB, userID, key string) (*domain.EffectiveLimit, error) {
	var rows []limitRow
	err := db.WithContext(ctx).Raw(
		`SELECT f.feature_key, f.default_value, f.unlimited, f.active,
		        o.id AS override_id, o.limit_value AS override_limit, o.unlimited AS override_unlimited
		 FROM features f
		 LEFT JOIN feature_limit_overrides o ON o.feature_key = f.feature_key AND o.user_id = ?
		 WHERE f.feature_key = ?`,
		userID,
		key,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	feature := domain.Feature{
		Key:          row.FeatureKey,
		DefaultValue: row.DefaultValue,
		Unlimited:    row.Unlimited,
		Active:       row.Active,
	}
	var override *domain.LimitOverride
	if row.OverrideID.Valid {
		override = &domain.LimitOverride{
			ID:         snowflake.ID(row.OverrideID.Int64),
			LimitValue: row.OverrideLimit.Int64,
			Unlimited:  row.OverrideUnlimited.Valid && row.OverrideUnlimited.Bool,
		}
	}
	limit := domain.Resolve(feature, override)
	return &limit, nil
}
