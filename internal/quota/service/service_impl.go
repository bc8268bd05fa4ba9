package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/config"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultStoreTimeout = 2 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Config   config.Config
	Store    domain.Store
	Repo     domain.Repository
	Features featuredomain.Service
	Clock    clock.Clock
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	store    domain.Store
	repo     domain.Repository
	features featuredomain.Service
	clock    clock.Clock
	metrics  *obsmetrics.Metrics
	timeout  time.Duration
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := time.Duration(p.Config.Quota.StoreTimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("quota.service"),
		genID:    p.GenID,
		store:    p.Store,
		repo:     p.Repo,
		features: p.Features,
		clock:    clk,
		metrics:  p.Metrics,
		timeout:  timeout,
	}
}

func (s *Service) GetUsage(ctx context.Context, userID, featureKey string) (domain.FeatureUsage, error) {
	userID, featureKey, err := normalizeTarget(userID, featureKey)
	if err != nil {
		return domain.FeatureUsage{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usage, err := s.store.GetUsage(storeCtx, userID, featureKey, domain.PeriodOf(s.clock.Now()))
	if err != nil {
		return domain.FeatureUsage{}, s.classify(ctx, "get_usage", err, false)
	}
	return usage, nil
}

func (s *Service) RecordUse(ctx context.Context, userID, featureKey string, metadata map[string]any) (domain.RecordResult, error) {
	return s.RecordUseAttempt(ctx, userID, featureKey, "", metadata)
}

// RecordUseAttempt makes exactly one store call. A call cut off by its
// deadline is reported as an *OutcomeUnknownError carrying the attempt ID;
// AttemptLanded answers whether it was charged.
func (s *Service) RecordUseAttempt(ctx context.Context, userID, featureKey, attemptID string, metadata map[string]any) (domain.RecordResult, error) {
	userID, featureKey, err := normalizeTarget(userID, featureKey)
	if err != nil {
		return domain.RecordResult{}, err
	}
	attemptID, err = domain.NormalizeAttemptID(attemptID)
	if err != nil {
		return domain.RecordResult{}, err
	}
	meta, err := domain.NormalizeMetadata(metadata)
	if err != nil {
		return domain.RecordResult{}, err
	}

	now := s.clock.Now()
	req := domain.RecordRequest{
		UserID:     userID,
		FeatureKey: featureKey,
		Period:     domain.PeriodOf(now),
		AttemptID:  attemptID,
	}
	log := logger.WithFeature(logger.FromContext(ctx), userID, featureKey).
		With(zap.String("attempt_id", req.AttemptID))

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.store.RecordUse(storeCtx, req)
	s.metrics.ObserveRecordUse(ctx, s.store.Name(), time.Since(started))
	if err != nil {
		err = s.classify(ctx, "record_use", err, true)
		if errors.Is(err, domain.ErrOutcomeUnknown) {
			log.Warn("record use outcome unknown", zap.Error(err))
			err = &domain.OutcomeUnknownError{AttemptID: req.AttemptID, Err: err}
		}
		return domain.RecordResult{}, err
	}

	if result.Replayed {
		log.Debug("attempt already landed", zap.Int64("current_usage", result.Usage.CurrentUsage))
		return result, nil
	}

	s.metrics.RecordDecision(ctx, featureKey, result.Granted())
	if !result.Granted() {
		log.Debug("use denied",
			zap.Int64("current_usage", result.Usage.CurrentUsage),
			zap.Int64("limit_value", result.Usage.LimitValue),
		)
		return result, nil
	}

	s.appendEvent(ctx, log, req, now, meta)
	log.Debug("use granted", zap.Int64("current_usage", result.Usage.CurrentUsage))
	return result, nil
}

// appendEvent writes the audit row for a granted use. Failures never undo
// the increment.
func (s *Service) appendEvent(ctx context.Context, log *zap.Logger, req domain.RecordRequest, at time.Time, meta domain.Metadata) {
	if s.db == nil || s.repo == nil {
		return
	}
	event := &domain.UsageEvent{
		ID:         s.genID.Generate(),
		AttemptID:  req.AttemptID,
		UserID:     req.UserID,
		FeatureKey: req.FeatureKey,
		Period:     req.Period,
		OccurredAt: at,
	}
	if len(meta) > 0 {
		event.Metadata = datatypes.JSONMap(meta)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.repo.InsertEvent(writeCtx, s.db, event); err != nil {
		s.metrics.RecordAuditWriteFailure(ctx, req.FeatureKey)
		log.Warn("usage event write failed", zap.Error(err))
	}
}

func (s *Service) AttemptLanded(ctx context.Context, userID, featureKey, attemptID string) (bool, error) {
	userID, featureKey, err := normalizeTarget(userID, featureKey)
	if err != nil {
		return false, err
	}
	attemptID = strings.TrimSpace(attemptID)
	if attemptID == "" {
		return false, domain.ErrInvalidAttemptID
	}
	if _, err := domain.NormalizeAttemptID(attemptID); err != nil {
		return false, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	landed, err := s.store.AttemptLanded(storeCtx, userID, featureKey, attemptID)
	if err != nil {
		return false, s.classify(ctx, "attempt_landed", err, false)
	}
	return landed, nil
}

func (s *Service) ListUsage(ctx context.Context, userID string) ([]domain.FeatureUsage, error) {
	userID, err := featuredomain.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	active := true
	features, err := s.features.List(ctx, featuredomain.ListRequest{Active: &active})
	if err != nil {
		return nil, s.classify(ctx, "list_usage", err, false)
	}

	period := domain.PeriodOf(s.clock.Now())
	out := make([]domain.FeatureUsage, 0, len(features))
	for _, feature := range features {
		storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		usage, err := s.store.GetUsage(storeCtx, userID, feature.Key, period)
		cancel()
		if err != nil {
			// Archived or removed between the list and the read.
			if errors.Is(err, domain.ErrFeatureInactive) || errors.Is(err, domain.ErrFeatureNotFound) {
				continue
			}
			return nil, s.classify(ctx, "list_usage", err, false)
		}
		out = append(out, usage)
	}
	return out, nil
}

func (s *Service) ListEvents(ctx context.Context, req domain.ListEventsRequest) (domain.ListEventsResponse, error) {
	userID, featureKey, err := normalizeTarget(req.UserID, req.FeatureKey)
	if err != nil {
		return domain.ListEventsResponse{}, err
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListEventsResponse{}, err
	}

	size := req.Size()
	filter := domain.EventFilter{
		UserID:     userID,
		FeatureKey: featureKey,
		Limit:      size + 1,
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListEventsResponse{}, pagination.ErrInvalidPageToken
		}
		filter.BeforeID = id
		filter.BeforeTime = cursor.CreatedAt
	}

	items, err := s.repo.ListEvents(ctx, s.db, filter)
	if err != nil {
		return domain.ListEventsResponse{}, s.classify(ctx, "list_events", err, false)
	}

	items, pageInfo, err := pagination.Trim(items, size, func(e domain.UsageEvent) pagination.Cursor {
		return pagination.Cursor{ID: e.ID.String(), CreatedAt: e.OccurredAt}
	})
	if err != nil {
		return domain.ListEventsResponse{}, err
	}

	events := make([]domain.EventResponse, 0, len(items))
	for _, item := range items {
		events = append(events, toEventResponse(item))
	}
	return domain.ListEventsResponse{Events: events, PageInfo: pageInfo}, nil
}

// PurgeEvents deletes at most batchSize audit events older than before.
func (s *Service) PurgeEvents(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, nil
	}
	deleted, err := s.repo.PurgeEventsBefore(ctx, s.db, before, batchSize)
	if err != nil {
		return 0, s.classify(ctx, "purge_events", err, false)
	}
	return deleted, nil
}

// PurgeAttempts deletes at most batchSize landed attempts older than before.
func (s *Service) PurgeAttempts(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, nil
	}
	deleted, err := s.repo.PurgeAttemptsBefore(ctx, s.db, before, batchSize)
	if err != nil {
		return 0, s.classify(ctx, "purge_attempts", err, false)
	}
	return deleted, nil
}

// classify passes domain errors through and wraps everything else as a
// store failure. For record calls a timeout means the increment may have
// landed.
func (s *Service) classify(ctx context.Context, operation string, err error, recording bool) error {
	switch {
	case errors.Is(err, domain.ErrFeatureNotFound),
		errors.Is(err, domain.ErrFeatureInactive),
		errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, domain.ErrInvalidFeatureKey),
		errors.Is(err, domain.ErrInvalidAttemptID),
		errors.Is(err, domain.ErrStoreUnavailable):
		return err
	}

	if recording && isTimeout(err) {
		s.metrics.RecordStoreError(ctx, operation, "outcome_unknown")
		return fmt.Errorf("%w: %w", domain.ErrOutcomeUnknown, err)
	}

	reason := "unavailable"
	if isTimeout(err) {
		reason = "timeout"
	}
	s.metrics.RecordStoreError(ctx, operation, reason)
	s.log.Error("store call failed",
		zap.String("operation", operation),
		zap.String("store", s.store.Name()),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func normalizeTarget(userID, featureKey string) (string, string, error) {
	userID, err := featuredomain.NormalizeUserID(userID)
	if err != nil {
		return "", "", err
	}
	featureKey, err = featuredomain.NormalizeKey(featureKey)
	if err != nil {
		return "", "", err
	}
	return userID, featureKey, nil
}

func toEventResponse(e domain.UsageEvent) domain.EventResponse {
	return domain.EventResponse{
		ID:         e.ID.String(),
		AttemptID:  e.AttemptID,
		FeatureKey: e.FeatureKey,
		Period:     e.Period,
		OccurredAt: e.OccurredAt,
		Metadata:   map[string]any(e.Metadata),
	}
}

var _ domain.Service = (*Service)(nil)
