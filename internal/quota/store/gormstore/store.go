// Package gormstore keeps usage counters in the relational database and
// enforces limits with a conditional upsert.
package gormstore

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/policy"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const Name = "gorm"

// maxTxAttempts bounds re-runs of a transaction the database aborted to
// break a lock conflict, such as MySQL's concurrent first-insert deadlock.
const maxTxAttempts = 3

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	FeatureRepo featuredomain.Repository
	Repo        domain.Repository
	Clock       clock.Clock
}

type Store struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	featureRepo featuredomain.Repository
	repo        domain.Repository
	clock       clock.Clock
}

func New(p Params) *Store {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		db:          p.DB,
		log:         p.Log.Named("quota.gormstore"),
		genID:       p.GenID,
		featureRepo: p.FeatureRepo,
		repo:        p.Repo,
		clock:       clk,
	}
}

func (s *Store) Name() string { return Name }

func (s *Store) GetUsage(ctx context.Context, userID, featureKey string, period domain.Period) (domain.FeatureUsage, error) {
	limit, err := s.resolve(ctx, s.db, userID, featureKey)
	if err != nil {
		return domain.FeatureUsage{}, err
	}
	current, err := s.repo.GetCounter(ctx, s.db, userID, featureKey, period)
	if err != nil {
		return domain.FeatureUsage{}, err
	}
	return policy.Apply(domain.Snapshot(limit, current, period)), nil
}

// RecordUse performs the conditional increment and records the attempt in
// one transaction. The upsert is the first statement so the row lock it takes
// serializes concurrent attempts for the same counter; the limit is resolved
// beforehand.
func (s *Store) RecordUse(ctx context.Context, req domain.RecordRequest) (domain.RecordResult, error) {
	limit, err := s.resolve(ctx, s.db, req.UserID, req.FeatureKey)
	if err != nil {
		return domain.RecordResult{}, err
	}

	if req.AttemptID != "" {
		replayed, ok, err := s.replay(ctx, req, limit)
		if err != nil {
			return domain.RecordResult{}, err
		}
		if ok {
			return replayed, nil
		}
	}

	var ceiling *int64
	if !limit.IsUnlimited() {
		value := limit.LimitValue
		ceiling = &value
	}

	var result domain.RecordResult
	for attempt := 1; ; attempt++ {
		result, err = s.increment(ctx, req, limit, ceiling)
		if err == nil || attempt == maxTxAttempts || !db.IsRetryableTxErr(err) || ctx.Err() != nil {
			break
		}
		s.log.Debug("record use transaction aborted, retrying",
			zap.String("feature_key", req.FeatureKey),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	if err != nil {
		// A concurrent call with the same attempt ID committed first and this
		// transaction rolled back.
		if req.AttemptID != "" && db.IsDuplicateKeyErr(err) {
			replayed, ok, rerr := s.replay(ctx, req, limit)
			if rerr == nil && ok {
				return replayed, nil
			}
		}
		return domain.RecordResult{}, err
	}
	return result, nil
}

func (s *Store) increment(ctx context.Context, req domain.RecordRequest, limit featuredomain.EffectiveLimit, ceiling *int64) (domain.RecordResult, error) {
	var result domain.RecordResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		changed, err := s.repo.IncrementIfBelow(ctx, tx, &domain.UsageCounter{
			ID:         s.genID.Generate(),
			UserID:     req.UserID,
			FeatureKey: req.FeatureKey,
			Period:     req.Period,
			CreatedAt:  now,
			UpdatedAt:  now,
		}, ceiling)
		if err != nil {
			return err
		}

		if changed && req.AttemptID != "" {
			if err := s.repo.InsertAttempt(ctx, tx, &domain.UsageAttempt{
				UserID:     req.UserID,
				AttemptID:  req.AttemptID,
				FeatureKey: req.FeatureKey,
				Period:     req.Period,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}

		current, err := s.repo.GetCounter(ctx, tx, req.UserID, req.FeatureKey, req.Period)
		if err != nil {
			return err
		}

		outcome := domain.OutcomeDenied
		if changed {
			outcome = domain.OutcomeGranted
		}
		result = domain.RecordResult{
			Outcome:   outcome,
			Usage:     policy.Apply(domain.Snapshot(limit, current, req.Period)),
			AttemptID: req.AttemptID,
		}
		return nil
	})
	return result, err
}

func (s *Store) AttemptLanded(ctx context.Context, userID, featureKey, attemptID string) (bool, error) {
	attempt, err := s.repo.FindAttempt(ctx, s.db, userID, attemptID)
	if err != nil {
		return false, err
	}
	return attempt != nil && attempt.FeatureKey == featureKey, nil
}

func (s *Store) replay(ctx context.Context, req domain.RecordRequest, limit featuredomain.EffectiveLimit) (domain.RecordResult, bool, error) {
	attempt, err := s.repo.FindAttempt(ctx, s.db, req.UserID, req.AttemptID)
	if err != nil || attempt == nil {
		return domain.RecordResult{}, false, err
	}
	if attempt.FeatureKey != req.FeatureKey {
		return domain.RecordResult{}, false, domain.ErrInvalidAttemptID
	}

	current, err := s.repo.GetCounter(ctx, s.db, req.UserID, req.FeatureKey, attempt.Period)
	if err != nil {
		return domain.RecordResult{}, false, err
	}
	return domain.RecordResult{
		Outcome:   domain.OutcomeGranted,
		Usage:     policy.Apply(domain.Snapshot(limit, current, attempt.Period)),
		AttemptID: req.AttemptID,
		Replayed:  true,
	}, true, nil
}

func (s *Store) resolve(ctx context.Context, db *gorm.DB, userID, featureKey string) (featuredomain.EffectiveLimit, error) {
	limit, err := s.featureRepo.ResolveLimit(ctx, db, userID, featureKey)
	if err != nil {
		return featuredomain.EffectiveLimit{}, err
	}
	if limit == nil {
		return featuredomain.EffectiveLimit{}, domain.ErrFeatureNotFound
	}
	if !limit.Active {
		return featuredomain.EffectiveLimit{}, domain.ErrFeatureInactive
	}
	return *limit, nil
}

var _ domain.Store = (*Store)(nil)
