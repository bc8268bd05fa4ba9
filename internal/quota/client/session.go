package client

import (
	"context"
	"errors"
	"sync"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/policy"
	"go.uber.org/zap"
)

// Session caches one usage snapshot per feature key for a single user.
// Concurrent Use calls are not serialized here; the store's atomic
// increment is the only enforcement.
type Session struct {
	backend Backend
	log     *zap.Logger

	mu      sync.RWMutex
	entries map[string]*State
}

func NewSession(backend Backend, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		backend: backend,
		log:     log.Named("quota.session"),
		entries: make(map[string]*State),
	}
}

// State returns a copy of the cached state for featureKey.
func (s *Session) State(featureKey string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[featureKey]
	if !ok {
		return State{FeatureKey: featureKey}
	}
	return copyState(entry)
}

// Load fetches usage and keeps the last good snapshot when the fetch fails.
func (s *Session) Load(ctx context.Context, featureKey string) State {
	s.update(featureKey, func(st *State) { st.Loading = true })

	usage, err := s.backend.GetUsage(ctx, featureKey)
	return s.update(featureKey, func(st *State) {
		st.Loading = false
		if err != nil {
			st.Err = err
			return
		}
		st.Usage = &usage
		st.Err = nil
	})
}

// Refresh discards the cached snapshot before fetching.
func (s *Session) Refresh(ctx context.Context, featureKey string) State {
	s.update(featureKey, func(st *State) {
		st.Usage = nil
		st.Err = nil
	})
	return s.Load(ctx, featureKey)
}

// Use attempts one use of featureKey and reports whether it was granted.
// Denied leaves the cache untouched. An ambiguous timeout is resolved by
// asking whether this call's attempt landed and is never re-submitted.
func (s *Session) Use(ctx context.Context, featureKey string, metadata map[string]any) bool {
	attemptID := domain.NewAttemptID()

	result, err := s.backend.RecordUse(ctx, featureKey, attemptID, metadata)
	switch {
	case err == nil && result.Granted():
		s.afterGranted(ctx, featureKey, result)
		return true
	case err == nil:
		return false
	case errors.Is(err, domain.ErrOutcomeUnknown):
		return s.resolveUnknown(ctx, featureKey, attemptID, err)
	default:
		s.update(featureKey, func(st *State) { st.Err = err })
		return false
	}
}

func (s *Session) afterGranted(ctx context.Context, featureKey string, result domain.RecordResult) {
	usage, err := s.backend.GetUsage(ctx, featureKey)
	s.update(featureKey, func(st *State) {
		st.Err = nil
		switch {
		case err == nil:
			st.Usage = &usage
		case st.Usage != nil:
			local := *st.Usage
			local.CurrentUsage++
			local = policy.Apply(local)
			st.Usage = &local
		case result.Usage.FeatureKey != "":
			snapshot := result.Usage
			st.Usage = &snapshot
		}
	})
	if err != nil {
		s.log.Debug("refetch after granted use failed", zap.String("feature_key", featureKey), zap.Error(err))
	}
}

// resolveUnknown looks up the attempt itself. Counter movement proves
// nothing since other consumers share the counter. A failed lookup counts as
// not granted.
func (s *Session) resolveUnknown(ctx context.Context, featureKey, attemptID string, cause error) bool {
	log := s.log.With(zap.String("feature_key", featureKey), zap.String("attempt_id", attemptID))

	landed, err := s.backend.AttemptLanded(ctx, featureKey, attemptID)
	if err != nil {
		s.update(featureKey, func(st *State) { st.Err = cause })
		log.Warn("ambiguous use left unresolved", zap.Error(err))
		return false
	}
	log.Info("resolved ambiguous use", zap.Bool("landed", landed))

	if landed {
		s.afterGranted(ctx, featureKey, domain.RecordResult{Outcome: domain.OutcomeGranted, AttemptID: attemptID})
		return true
	}

	usage, err := s.backend.GetUsage(ctx, featureKey)
	s.update(featureKey, func(st *State) {
		if err == nil {
			st.Usage = &usage
		}
		st.Err = cause
	})
	return false
}

func (s *Session) update(featureKey string, fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[featureKey]
	if !ok {
		entry = &State{FeatureKey: featureKey}
		s.entries[featureKey] = entry
	}
	fn(entry)
	return copyState(entry)
}

func copyState(st *State) State {
	out := *st
	if st.Usage != nil {
		usage := *st.Usage
		out.Usage = &usage
	}
	return out
}
