package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GetUsage(ctx context.Context, featureKey string) (domain.FeatureUsage, error) {
	args := m.Called(ctx, featureKey)
	return args.Get(0).(domain.FeatureUsage), args.Error(1)
}

func (m *mockBackend) RecordUse(ctx context.Context, featureKey, attemptID string, metadata map[string]any) (domain.RecordResult, error) {
	args := m.Called(ctx, featureKey, attemptID, metadata)
	return args.Get(0).(domain.RecordResult), args.Error(1)
}

func (m *mockBackend) AttemptLanded(ctx context.Context, featureKey, attemptID string) (bool, error) {
	args := m.Called(ctx, featureKey, attemptID)
	return args.Bool(0), args.Error(1)
}

func usage(current, limit int64) domain.FeatureUsage {
	return policy.Apply(domain.FeatureUsage{
		FeatureKey:   "video_analysis",
		Period:       "2025-03",
		LimitValue:   limit,
		CurrentUsage: current,
	})
}

func granted(u domain.FeatureUsage) domain.RecordResult {
	return domain.RecordResult{Outcome: domain.OutcomeGranted, Usage: u}
}

func TestLoadPopulatesState(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(3, 10), nil).Once()

	s := NewSession(backend, nil)
	st := s.Load(context.Background(), "video_analysis")

	require.NotNil(t, st.Usage)
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.True(t, st.CanUse())
	assert.Equal(t, int64(7), st.Remaining())
	assert.Equal(t, int64(3), st.UsageCount())
	assert.Equal(t, int64(10), st.Limit())
	assert.Equal(t, "3 / 10", st.FormatUsage())
	assert.Equal(t, st, s.State("video_analysis"))
}

func TestStateBeforeLoad(t *testing.T) {
	st := NewSession(new(mockBackend), nil).State("video_analysis")
	assert.Nil(t, st.Usage)
	assert.False(t, st.CanUse())
	assert.Equal(t, "", st.FormatUsage())
	assert.Equal(t, int64(0), st.Remaining())
}

func TestUnlimitedState(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(42, 0), nil)

	st := NewSession(backend, nil).Load(context.Background(), "video_analysis")
	assert.True(t, st.IsUnlimited())
	assert.True(t, st.CanUse())
	assert.Equal(t, policy.Unlimited, st.Remaining())
	assert.Equal(t, "Unlimited", st.FormatUsage())
}

func TestLoadErrorKeepsLastGoodUsage(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(2, 5), nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").
		Return(domain.FeatureUsage{}, domain.ErrStoreUnavailable).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	st := s.Load(context.Background(), "video_analysis")

	assert.ErrorIs(t, st.Err, domain.ErrStoreUnavailable)
	assert.False(t, st.CanUse())
	require.NotNil(t, st.Usage)
	assert.Equal(t, int64(2), st.Usage.CurrentUsage)
}

func TestLoadErrorWithoutCache(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").
		Return(domain.FeatureUsage{}, domain.ErrStoreUnavailable)

	st := NewSession(backend, nil).Load(context.Background(), "video_analysis")
	assert.Error(t, st.Err)
	assert.Nil(t, st.Usage)
	assert.False(t, st.CanUse())
}

func TestUseGrantedRefetches(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(4, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, map[string]any{"video_id": "v1"}).
		Return(granted(usage(5, 5)), nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(5, 5), nil).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	ok := s.Use(context.Background(), "video_analysis", map[string]any{"video_id": "v1"})

	assert.True(t, ok)
	st := s.State("video_analysis")
	assert.Equal(t, int64(5), st.UsageCount())
	assert.False(t, st.CanUse())
	assert.Equal(t, "5 / 5", st.FormatUsage())
	backend.AssertExpectations(t)
}

func TestUseGrantedRefetchFailureIncrementsLocally(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(granted(usage(2, 5)), nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").
		Return(domain.FeatureUsage{}, domain.ErrStoreUnavailable).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	require.True(t, s.Use(context.Background(), "video_analysis", nil))

	st := s.State("video_analysis")
	assert.NoError(t, st.Err)
	assert.Equal(t, int64(2), st.UsageCount())
	assert.Equal(t, int64(3), st.Remaining())
}

func TestUseDeniedLeavesCacheUntouched(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(5, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(domain.RecordResult{Outcome: domain.OutcomeDenied, Usage: usage(5, 5)}, nil).Once()

	s := NewSession(backend, nil)
	before := s.Load(context.Background(), "video_analysis")
	assert.False(t, s.Use(context.Background(), "video_analysis", nil))

	assert.Equal(t, before, s.State("video_analysis"))
	backend.AssertNumberOfCalls(t, "RecordUse", 1)
	backend.AssertNumberOfCalls(t, "GetUsage", 1)
}

func TestUseStoreErrorSetsErr(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(domain.RecordResult{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, errors.New("down"))).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	assert.False(t, s.Use(context.Background(), "video_analysis", nil))

	st := s.State("video_analysis")
	assert.ErrorIs(t, st.Err, domain.ErrStoreUnavailable)
	assert.False(t, st.CanUse())
	assert.Equal(t, int64(1), st.UsageCount())
	backend.AssertNumberOfCalls(t, "RecordUse", 1)
}

func TestUseOutcomeUnknownLanded(t *testing.T) {
	backend := new(mockBackend)
	var sent string
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.String(2) }).
		Return(domain.RecordResult{}, domain.ErrOutcomeUnknown).Once()
	backend.On("AttemptLanded", mock.Anything, "video_analysis", mock.MatchedBy(func(id string) bool {
		return id != "" && id == sent
	})).Return(true, nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(2, 5), nil).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	assert.True(t, s.Use(context.Background(), "video_analysis", nil))

	st := s.State("video_analysis")
	assert.NoError(t, st.Err)
	assert.Equal(t, int64(2), st.UsageCount())
	backend.AssertNumberOfCalls(t, "RecordUse", 1)
	backend.AssertExpectations(t)
}

func TestUseOutcomeUnknownNotLanded(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Twice()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(domain.RecordResult{}, domain.ErrOutcomeUnknown).Once()
	backend.On("AttemptLanded", mock.Anything, "video_analysis", mock.Anything).Return(false, nil).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	assert.False(t, s.Use(context.Background(), "video_analysis", nil))

	st := s.State("video_analysis")
	assert.ErrorIs(t, st.Err, domain.ErrOutcomeUnknown)
	assert.Equal(t, int64(1), st.UsageCount())
	backend.AssertNumberOfCalls(t, "RecordUse", 1)
}

// Another consumer takes the last unit while this call's own attempt is lost.
func TestUseOutcomeUnknownIgnoresCounterMovedByOthers(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(4, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(domain.RecordResult{}, domain.ErrOutcomeUnknown).Once()
	backend.On("AttemptLanded", mock.Anything, "video_analysis", mock.Anything).Return(false, nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(5, 5), nil).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	assert.False(t, s.Use(context.Background(), "video_analysis", nil))

	st := s.State("video_analysis")
	assert.ErrorIs(t, st.Err, domain.ErrOutcomeUnknown)
	assert.Equal(t, int64(5), st.UsageCount())
	assert.False(t, st.CanUse())
	backend.AssertExpectations(t)
}

func TestUseOutcomeUnknownLookupFailure(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Once()
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(domain.RecordResult{}, domain.ErrOutcomeUnknown).Once()
	backend.On("AttemptLanded", mock.Anything, "video_analysis", mock.Anything).
		Return(false, domain.ErrStoreUnavailable).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	assert.False(t, s.Use(context.Background(), "video_analysis", nil))

	st := s.State("video_analysis")
	assert.ErrorIs(t, st.Err, domain.ErrOutcomeUnknown)
	assert.Equal(t, int64(1), st.UsageCount())
	backend.AssertNumberOfCalls(t, "RecordUse", 1)
	backend.AssertNumberOfCalls(t, "GetUsage", 1)
}

func TestUseOutcomeUnknownWithoutSnapshot(t *testing.T) {
	backend := new(mockBackend)
	backend.On("RecordUse", mock.Anything, "video_analysis", mock.Anything, mock.Anything).
		Return(domain.RecordResult{}, domain.ErrOutcomeUnknown).Once()
	backend.On("AttemptLanded", mock.Anything, "video_analysis", mock.Anything).Return(false, nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(3, 5), nil).Once()

	s := NewSession(backend, nil)
	assert.False(t, s.Use(context.Background(), "video_analysis", nil))
	assert.Equal(t, int64(3), s.State("video_analysis").UsageCount())
}

func TestRefreshDiscardsCache(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Once()
	backend.On("GetUsage", mock.Anything, "video_analysis").
		Return(domain.FeatureUsage{}, domain.ErrStoreUnavailable).Once()

	s := NewSession(backend, nil)
	s.Load(context.Background(), "video_analysis")
	st := s.Refresh(context.Background(), "video_analysis")

	assert.Nil(t, st.Usage)
	assert.Error(t, st.Err)
}

func TestStateReturnsCopy(t *testing.T) {
	backend := new(mockBackend)
	backend.On("GetUsage", mock.Anything, "video_analysis").Return(usage(1, 5), nil).Once()

	s := NewSession(backend, nil)
	st := s.Load(context.Background(), "video_analysis")
	st.Usage.CurrentUsage = 99

	assert.Equal(t, int64(1), s.State("video_analysis").UsageCount())
}
