package domain

import (
	"errors"
	"fmt"

	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
)

var (
	ErrInvalidUser       = featuredomain.ErrInvalidUser
	ErrInvalidFeatureKey = featuredomain.ErrInvalidKey
	ErrFeatureNotFound   = featuredomain.ErrNotFound
	ErrFeatureInactive   = featuredomain.ErrInactive
	ErrInvalidMetadata   = errors.New("invalid_metadata")
	ErrInvalidAttemptID  = errors.New("invalid_attempt_id")
	ErrStoreUnavailable  = errors.New("store_unavailable")

	// ErrOutcomeUnknown means a RecordUse call was cut off after it may have
	// reached the store. It matches ErrStoreUnavailable as well.
	ErrOutcomeUnknown = fmt.Errorf("outcome_unknown: %w", ErrStoreUnavailable)
)

// OutcomeUnknownError carries the attempt ID of an ambiguous RecordUse call
// so the caller can ask whether that attempt landed.
type OutcomeUnknownError struct {
	AttemptID string
	Err       error
}

func (e *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("attempt %s: %v", e.AttemptID, e.Err)
}

func (e *OutcomeUnknownError) Unwrap() error { return e.Err }

// AttemptIDOf returns the attempt ID carried by err, if any.
func AttemptIDOf(err error) string {
	var unknown *OutcomeUnknownError
	if errors.As(err, &unknown) {
		return unknown.AttemptID
	}
	return ""
}
