package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetCounter(ctx context.Context, db *gorm.DB, userID, featureKey string, period domain.Period) (int64, error) {
	var counts []int64
	err := db.WithContext(ctx).Raw(
		`SELECT current_usage FROM feature_usage_counters
		 WHERE user_id = ? AND feature_key = ? AND period = ?`,
		userID,
		featureKey,
		period,
	).Scan(&counts).Error
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, nil
	}
	return counts[0], nil
}

func (r *repo) IncrementIfBelow(ctx context.Context, db *gorm.DB, counter *domain.UsageCounter, limit *int64) (bool, error) {
	if counter == nil {
		return false, gorm.ErrInvalidData
	}

	var (
		query string
		args  = []any{
			counter.ID,
			counter.UserID,
			counter.FeatureKey,
			counter.Period,
			counter.CreatedAt,
			counter.UpdatedAt,
		}
	)

	switch db.Dialector.Name() {
	case "mysql":
		// Assignments run left to right, so updated_at must be checked first.
		query = `INSERT INTO feature_usage_counters
			(id, user_id, feature_key, period, current_usage, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON DUPLICATE KEY UPDATE
			updated_at = IF(current_usage < ?, VALUES(updated_at), updated_at),
			current_usage = IF(current_usage < ?, current_usage + 1, current_usage)`
		ceiling := int64(1<<63 - 1)
		if limit != nil {
			ceiling = *limit
		}
		args = append(args, ceiling, ceiling)
	default:
		query = `INSERT INTO feature_usage_counters
			(id, user_id, feature_key, period, current_usage, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (user_id, feature_key, period) DO UPDATE
			SET current_usage = feature_usage_counters.current_usage + 1,
			    updated_at = excluded.updated_at`
		if limit != nil {
			query += ` WHERE feature_usage_counters.current_usage < ?`
			args = append(args, *limit)
		}
	}

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.UsageAttempt) error {
	if attempt == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repo) FindAttempt(ctx context.Context, db *gorm.DB, userID, attemptID string) (*domain.UsageAttempt, error) {
	var items []domain.UsageAttempt
	err := db.WithContext(ctx).
		Where("user_id = ? AND attempt_id = ?", userID, attemptID).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) PurgeAttemptsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	var res *gorm.DB
	switch db.Dialector.Name() {
	case "mysql":
		res = db.WithContext(ctx).Exec(
			`DELETE FROM feature_usage_attempts WHERE created_at < ? ORDER BY created_at LIMIT ?`,
			cutoff,
			limit,
		)
	default:
		res = db.WithContext(ctx).Exec(
			`DELETE FROM feature_usage_attempts WHERE (user_id, attempt_id) IN (
				SELECT user_id, attempt_id FROM feature_usage_attempts WHERE created_at < ? ORDER BY created_at LIMIT ?
			)`,
			cutoff,
			limit,
		)
	}
	return res.RowsAffected, res.Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.UsageEvent) error {
	if event == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.EventFilter) ([]domain.UsageEvent, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Where("user_id = ? AND feature_key = ?", filter.UserID, filter.FeatureKey)

	if !filter.BeforeTime.IsZero() {
		stmt = stmt.Where("(occurred_at < ? OR (occurred_at = ? AND id < ?))",
			filter.BeforeTime, filter.BeforeTime, filter.BeforeID)
	}

	var items []domain.UsageEvent
	err := stmt.
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) PurgeEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	var res *gorm.DB
	switch db.Dialector.Name() {
	case "mysql":
		res = db.WithContext(ctx).Exec(
			`DELETE FROM feature_usage_events WHERE occurred_at < ? ORDER BY occurred_at LIMIT ?`,
			cutoff,
			limit,
		)
	default:
		res = db.WithContext(ctx).Exec(
			`DELETE FROM feature_usage_events WHERE id IN (
				SELECT id FROM feature_usage_events WHERE occurred_at < ? ORDER BY occurred_at LIMIT ?
			)`,
			cutoff,
			limit,
		)
	}
	return res.RowsAffected, res.Error
}
