package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/cache"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Clock  clock.Clock
	Limits cache.LimitCache `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	clock  clock.Clock
	limits cache.LimitCache
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("feature.service"),
		repo:   p.Repo,
		genID:  p.GenID,
		clock:  clk,
		limits: p.Limits,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	items, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, key string) (*domain.Response, error) {
	item, err := s.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	name := strings.TrimSpace(req.Name)
	rawKey := req.Key
	if strings.TrimSpace(rawKey) == "" {
		rawKey = domain.KeyFromName(name)
	}
	key, err := domain.NormalizeKey(rawKey)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.DefaultValue < 0 {
		return nil, domain.ErrInvalidLimit
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	record := &domain.Feature{
		ID:           s.genID.Generate(),
		Key:          key,
		Name:         name,
		Description:  trimmedPtr(req.Description),
		DefaultValue: req.DefaultValue,
		Unlimited:    req.Unlimited,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}

	s.log.Info("feature created", zap.String("feature_key", key), zap.Int64("default_value", record.DefaultValue))
	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	item, err := s.findByKey(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		item.Description = trimmedPtr(req.Description)
	}
	if req.DefaultValue != nil {
		if *req.DefaultValue < 0 {
			return nil, domain.ErrInvalidLimit
		}
		item.DefaultValue = *req.DefaultValue
	}
	if req.Unlimited != nil {
		item.Unlimited = *req.Unlimited
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	s.invalidateAll()

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Archive(ctx context.Context, key string) (*domain.Response, error) {
	item, err := s.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	item.Active = false
	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	s.invalidateAll()

	s.log.Info("feature archived", zap.String("feature_key", item.Key))
	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) SetOverride(ctx context.Context, req domain.SetOverrideRequest) (*domain.OverrideResponse, error) {
	userID, err := domain.NormalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	feature, err := s.findByKey(ctx, req.FeatureKey)
	if err != nil {
		return nil, err
	}
	// A zero override would read as unlimited; that has to be asked for.
	if req.LimitValue < 0 || (req.LimitValue == 0 && !req.Unlimited) {
		return nil, domain.ErrInvalidLimit
	}

	now := s.clock.Now()
	record := &domain.LimitOverride{
		ID:         s.genID.Generate(),
		UserID:     userID,
		FeatureKey: feature.Key,
		LimitValue: req.LimitValue,
		Unlimited:  req.Unlimited,
		Reason:     trimmedPtr(req.Reason),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.UpsertOverride(ctx, s.db, record); err != nil {
		return nil, err
	}
	if s.limits != nil {
		s.limits.Invalidate(userID, feature.Key)
	}

	stored, err := s.repo.FindOverride(ctx, s.db, userID, feature.Key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = record
	}

	s.log.Info("limit override set",
		zap.String("feature_key", feature.Key),
		zap.String("user_id", userID),
		zap.Int64("limit_value", stored.LimitValue),
		zap.Bool("unlimited", stored.Unlimited),
	)
	resp := toOverrideResponse(stored)
	return &resp, nil
}

func (s *Service) DeleteOverride(ctx context.Context, userID, key string) error {
	userID, err := domain.NormalizeUserID(userID)
	if err != nil {
		return err
	}
	key, err = domain.NormalizeKey(key)
	if err != nil {
		return err
	}

	deleted, err := s.repo.DeleteOverride(ctx, s.db, userID, key)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return domain.ErrOverrideNotFound
	}
	if s.limits != nil {
		s.limits.Invalidate(userID, key)
	}
	return nil
}

func (s *Service) ListOverrides(ctx context.Context, key string) ([]domain.OverrideResponse, error) {
	feature, err := s.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListOverrides(ctx, s.db, feature.Key)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.OverrideResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toOverrideResponse(&items[i]))
	}
	return resp, nil
}

// ResolveLimit returns the effective limit for userID, consulting the limit
// cache first when one is configured.
func (s *Service) ResolveLimit(ctx context.Context, userID, key string) (domain.EffectiveLimit, error) {
	userID, err := domain.NormalizeUserID(userID)
	if err != nil {
		return domain.EffectiveLimit{}, err
	}
	key, err = domain.NormalizeKey(key)
	if err != nil {
		return domain.EffectiveLimit{}, err
	}

	if s.limits != nil {
		if cached, ok := s.limits.Get(userID, key); ok {
			return cached, nil
		}
	}

	limit, err := s.repo.ResolveLimit(ctx, s.db, userID, key)
	if err != nil {
		return domain.EffectiveLimit{}, err
	}
	if limit == nil {
		return domain.EffectiveLimit{}, domain.ErrNotFound
	}
	if s.limits != nil {
		s.limits.Set(userID, key, *limit)
	}
	return *limit, nil
}

func (s *Service) findByKey(ctx context.Context, raw string) (*domain.Feature, error) {
	key, err := domain.NormalizeKey(raw)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) invalidateAll() {
	if s.limits != nil {
		s.limits.InvalidateAll()
	}
}

func toResponse(f *domain.Feature) domain.Response {
	return domain.Response{
		ID:           f.ID.String(),
		Key:          f.Key,
		Name:         f.Name,
		Description:  f.Description,
		DefaultValue: f.DefaultValue,
		Unlimited:    f.Unlimited,
		Active:       f.Active,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

func toOverrideResponse(o *domain.LimitOverride) domain.OverrideResponse {
	return domain.OverrideResponse{
		ID:         o.ID.String(),
		UserID:     o.UserID,
		FeatureKey: o.FeatureKey,
		LimitValue: o.LimitValue,
		Unlimited:  o.Unlimited,
		Reason:     o.Reason,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

