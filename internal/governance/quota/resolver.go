package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qbank-platform/qbank/internal/profiles"
)

// Resolver merges tier defaults, per-user overrides and privileged bypass
// into the effective allowance for a user. It never writes.
type Resolver struct {
	profiles profiles.Reader
	configs  ConfigProvider
	clock    Clock
}

// NewResolver creates a new Resolver.
func NewResolver(profileReader profiles.Reader, configs ConfigProvider, clock Clock) *Resolver {
	if clock == nil {
		clock = RealClock{}
	}
	return &Resolver{
		profiles: profileReader,
		configs:  configs,
		clock:    clock,
	}
}

// Resolve returns the effective allowance of userID for category.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, category Category) (Effective, error) {
	if _, err := ParseCategory(string(category)); err != nil {
		return Effective{}, err
	}

	profile, err := r.profile(ctx, userID)
	if err != nil {
		return Effective{}, err
	}
	if exempt(profile) {
		return Effective{IsExempt: true}, nil
	}

	cfg, override, err := r.config(ctx, userID)
	if err != nil {
		return Effective{}, err
	}
	return ResolveWith(profile, cfg, override, category, r.clock.Now()), nil
}

func (r *Resolver) profile(ctx context.Context, userID uuid.UUID) (*profiles.Profile, error) {
	p, err := r.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr("reading profile", err)
	}
	if p == nil {
		slog.Debug("quota: no profile row", "user_id", userID)
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (r *Resolver) config(ctx context.Context, userID uuid.UUID) (*QuotaConfig, *QuotaOverride, error) {
	cfg, err := r.configs.QuotaConfig(ctx)
	if err != nil {
		return nil, nil, storeErr("reading quota config", err)
	}
	override, err := r.configs.QuotaOverride(ctx, userID)
	if err != nil {
		return nil, nil, storeErr("reading quota override", err)
	}
	return cfg, override, nil
}

// ResolveWith applies the precedence rules to already loaded records:
// privileged role or whitelist, then effective tier, then tier default,
// then non-nil override fields.
func ResolveWith(p *profiles.Profile, cfg *QuotaConfig, override *QuotaOverride, category Category, now time.Time) Effective {
	if exempt(p) {
		return Effective{IsExempt: true}
	}

	a := cfg.Tier(EffectiveTier(p, now)).For(category)
	a = override.Apply(category, a)

	return Effective{Quota: a.Quota, PeriodDays: a.PeriodDays}
}

// EffectiveTier is premium only while the membership has a future expiry.
func EffectiveTier(p *profiles.Profile, now time.Time) profiles.Tier {
	if p.PremiumActive(now) {
		return profiles.TierPremium
	}
	return profiles.TierBasic
}

func exempt(p *profiles.Profile) bool {
	return p.Role.Privileged() || p.IsWhitelisted
}
