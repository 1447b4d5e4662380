package quota

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/qbank-platform/qbank/internal/profiles"
)

// Membership describes the inputs that decided a user's allowance.
type Membership struct {
	DeclaredTier  profiles.Tier `json:"declared_tier"`
	EffectiveTier profiles.Tier `json:"effective_tier"`
	ExpiresAt     *time.Time    `json:"expires_at"`
	PremiumActive bool          `json:"premium_active"`
	Role          profiles.Role `json:"role"`
	IsWhitelisted bool          `json:"is_whitelisted"`
	IsExempt      bool          `json:"is_exempt"`
}

// CategoryUsage is the current window of one category. Percentage is absent
// for exempt users and zero-quota allowances.
type CategoryUsage struct {
	Used       int        `json:"used"`
	Total      int        `json:"total"`
	ResetAt    *time.Time `json:"reset_at"`
	PeriodDays int        `json:"period_days"`
	Percentage *float64   `json:"percentage,omitempty"`
}

type UsageSummary struct {
	UserID     uuid.UUID     `json:"user_id"`
	Membership Membership    `json:"membership"`
	Answer     CategoryUsage `json:"answer"`
	Paper      CategoryUsage `json:"paper"`
}

// GetUsageSummary reports usage for both categories. An expired window is
// shown as rolled over without writing the rollover back.
func (e *Engine) GetUsageSummary(ctx context.Context, userID uuid.UUID) (*UsageSummary, error) {
	p, err := e.resolver.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()

	summary := &UsageSummary{
		UserID: userID,
		Membership: Membership{
			DeclaredTier:  p.MembershipTier,
			EffectiveTier: EffectiveTier(p, now),
			ExpiresAt:     p.MembershipExpiresAt,
			PremiumActive: p.PremiumActive(now),
			Role:          p.Role,
			IsWhitelisted: p.IsWhitelisted,
			IsExempt:      exempt(p),
		},
	}

	var (
		cfg      *QuotaConfig
		override *QuotaOverride
	)
	if !summary.Membership.IsExempt {
		if cfg, override, err = e.resolver.config(ctx, userID); err != nil {
			return nil, err
		}
	}

	for _, cat := range Categories {
		usage, err := e.categoryUsage(ctx, p, cfg, override, cat, now)
		if err != nil {
			return nil, err
		}
		if cat == CategoryPaper {
			summary.Paper = usage
		} else {
			summary.Answer = usage
		}
	}
	return summary, nil
}

func (e *Engine) categoryUsage(ctx context.Context, p *profiles.Profile, cfg *QuotaConfig, override *QuotaOverride, cat Category, now time.Time) (CategoryUsage, error) {
	if exempt(p) {
		return CategoryUsage{Total: Unlimited}, nil
	}

	stored, err := e.ledger.Get(ctx, p.UserID, cat)
	if err != nil {
		return CategoryUsage{}, storeErr("reading "+string(cat)+" ledger", err)
	}

	eff := ResolveWith(p, cfg, override, cat, now)
	usage := CategoryUsage{Total: eff.Quota, PeriodDays: eff.PeriodDays}

	if stored != nil {
		view, _ := e.window.Advance(stored, p.UserID, cat, now, eff.PeriodDays)
		resetAt := view.ResetAt
		usage.Used = view.Used
		usage.ResetAt = &resetAt
	}

	if eff.Quota > 0 {
		pct := math.Round(float64(usage.Used)/float64(eff.Quota)*10000) / 100
		usage.Percentage = &pct
	}
	return usage, nil
}
