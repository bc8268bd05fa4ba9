// Package policy decides whether a usage snapshot still permits a use.
package policy

import "github.com/smallbiznis/featuregate/internal/quota/domain"

// Unlimited is the Remaining value reported for unlimited features.
const Unlimited int64 = -1

type Decision struct {
	CanUse    bool  `json:"can_use"`
	Remaining int64 `json:"remaining"`
}

// Decide is a pure function of usage.
func Decide(usage domain.FeatureUsage) Decision {
	if usage.IsUnlimited || usage.LimitValue <= 0 {
		return Decision{CanUse: true, Remaining: Unlimited}
	}
	remaining := usage.LimitValue - usage.CurrentUsage
	if remaining < 0 {
		remaining = 0
	}
	return Decision{CanUse: remaining > 0, Remaining: remaining}
}

// Apply returns usage with Remaining and IsUnlimited set from Decide.
func Apply(usage domain.FeatureUsage) domain.FeatureUsage {
	decision := Decide(usage)
	usage.Remaining = decision.Remaining
	usage.IsUnlimited = decision.Remaining == Unlimited
	return usage
}
