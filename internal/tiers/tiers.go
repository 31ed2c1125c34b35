// Package tiers defines seller verification tiers and the limits attached
// to each: settlement delay, daily withdrawal ceiling, and payout
// processing delay.
package tiers

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a seller/user verification level.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierEnhanced Tier = "enhanced"
	TierStandard Tier = "standard"
	TierBasic    Tier = "basic"
)

// Parse normalizes a tier string; unknown values fall back to basic.
func Parse(s string) Tier {
	switch Tier(s) {
	case TierPremium, TierEnhanced, TierStandard, TierBasic:
		return Tier(s)
	}
	return TierBasic
}

// SettlementDelayDays is the number of business days between a settlement
// trigger and the scheduled seller credit.
func (t Tier) SettlementDelayDays() int {
	switch t {
	case TierPremium:
		return 1
	case TierEnhanced:
		return 2
	case TierStandard:
		return 3
	default:
		return 7
	}
}

// DailyWithdrawalLimit is the maximum total withdrawal amount per calendar day.
func (t Tier) DailyWithdrawalLimit() decimal.Decimal {
	switch t {
	case TierPremium:
		return decimal.NewFromInt(500000)
	case TierEnhanced:
		return decimal.NewFromInt(200000)
	case TierStandard:
		return decimal.NewFromInt(100000)
	default:
		return decimal.NewFromInt(25000)
	}
}

// ProcessingDelay is the expected delay before a withdrawal payout executes.
func (t Tier) ProcessingDelay() time.Duration {
	switch t {
	case TierPremium:
		return 2 * time.Hour
	case TierEnhanced:
		return 4 * time.Hour
	case TierStandard:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// Provider looks up a user's verification tier. In production this is
// backed by the KYC/verification service; tests use a static map.
type Provider interface {
	VerificationTier(userID string) Tier
}

// StaticProvider is a map-backed Provider with a basic-tier default.
type StaticProvider map[string]Tier

// VerificationTier returns the mapped tier, defaulting to basic.
func (p StaticProvider) VerificationTier(userID string) Tier {
	if tier, ok := p[userID]; ok {
		return tier
	}
	return TierBasic
}

// Registry is a mutable, concurrency-safe Provider. Tier assignments
// arrive from the verification workflow at runtime; unassigned users
// default to basic.
type Registry struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewRegistry creates an empty tier registry.
func NewRegistry() *Registry {
	return &Registry{tiers: make(map[string]Tier)}
}

// VerificationTier returns the assigned tier, defaulting to basic.
func (r *Registry) VerificationTier(userID string) Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tier, ok := r.tiers[userID]; ok {
		return tier
	}
	return TierBasic
}

// SetTier assigns a tier to a user, normalizing unknown values to basic.
func (r *Registry) SetTier(userID string, tier Tier) Tier {
	normalized := Parse(string(tier))
	r.mu.Lock()
	r.tiers[userID] = normalized
	r.mu.Unlock()
	return normalized
}
