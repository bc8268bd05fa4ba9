package client

import (
	"fmt"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/smallbiznis/featuregate/internal/quota/policy"
)

// State is a copy of the cached view of one feature. Usage is nil until the
// first successful load.
type State struct {
	FeatureKey string
	Usage      *domain.FeatureUsage
	Loading    bool
	Err        error
}

// CanUse is advisory for rendering. It is false while loading failed or
// nothing is cached.
func (s State) CanUse() bool {
	if s.Usage == nil || s.Err != nil {
		return false
	}
	return policy.Decide(*s.Usage).CanUse
}

func (s State) IsUnlimited() bool {
	if s.Usage == nil {
		return false
	}
	return policy.Decide(*s.Usage).Remaining == policy.Unlimited
}

// Remaining returns policy.Unlimited for unlimited features and 0 when
// nothing is cached.
func (s State) Remaining() int64 {
	if s.Usage == nil {
		return 0
	}
	return policy.Decide(*s.Usage).Remaining
}

func (s State) UsageCount() int64 {
	if s.Usage == nil {
		return 0
	}
	return s.Usage.CurrentUsage
}

func (s State) Limit() int64 {
	if s.Usage == nil {
		return 0
	}
	return s.Usage.LimitValue
}

// FormatUsage renders "Unlimited" or "<current> / <limit>". It returns an
// empty string before the first load.
func (s State) FormatUsage() string {
	if s.Usage == nil {
		return ""
	}
	if s.IsUnlimited() {
		return "Unlimited"
	}
	return fmt.Sprintf("%d / %d", s.Usage.CurrentUsage, s.Usage.LimitValue)
}
