package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbank-platform/qbank/internal/profiles"
)

func ptr[T any](v T) *T { return &v }

func TestResolveWith(t *testing.T) {
	cfg := DefaultQuotaConfig()
	future := t0.Add(30 * day)
	past := t0.Add(-time.Second)

	tests := []struct {
		name     string
		profile  profiles.Profile
		override *QuotaOverride
		category Category
		want     Effective
	}{
		{
			name:     "basic default",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierBasic},
			category: CategoryAnswer,
			want:     Effective{Quota: 200, PeriodDays: 5},
		},
		{
			name:     "active premium",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierPremium, MembershipExpiresAt: &future},
			category: CategoryPaper,
			want:     Effective{Quota: 100, PeriodDays: 30},
		},
		{
			name:     "expired premium downgrades to basic",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierPremium, MembershipExpiresAt: &past},
			category: CategoryAnswer,
			want:     Effective{Quota: 200, PeriodDays: 5},
		},
		{
			name:     "premium without expiry is basic",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierPremium},
			category: CategoryAnswer,
			want:     Effective{Quota: 200, PeriodDays: 5},
		},
		{
			name:     "admin bypasses everything",
			profile:  profiles.Profile{Role: profiles.RoleAdmin, MembershipTier: profiles.TierBasic},
			override: &QuotaOverride{AnswerQuota: ptr(1)},
			category: CategoryAnswer,
			want:     Effective{IsExempt: true},
		},
		{
			name:     "whitelisted user bypasses",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierBasic, IsWhitelisted: true},
			category: CategoryPaper,
			want:     Effective{IsExempt: true},
		},
		{
			name:     "partial override keeps default period",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierBasic},
			override: &QuotaOverride{PaperQuota: ptr(3)},
			category: CategoryPaper,
			want:     Effective{Quota: 3, PeriodDays: 5},
		},
		{
			name:     "override of other category is ignored",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierBasic},
			override: &QuotaOverride{PaperQuota: ptr(3), PaperPeriodDays: ptr(1)},
			category: CategoryAnswer,
			want:     Effective{Quota: 200, PeriodDays: 5},
		},
		{
			name:     "override beats premium tier",
			profile:  profiles.Profile{Role: profiles.RoleUser, MembershipTier: profiles.TierPremium, MembershipExpiresAt: &future},
			override: &QuotaOverride{AnswerQuota: ptr(50), AnswerPeriodDays: ptr(2)},
			category: CategoryAnswer,
			want:     Effective{Quota: 50, PeriodDays: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.profile
			got := ResolveWith(&p, &cfg, tt.override, tt.category, t0)
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingConfigs struct{}

func (failingConfigs) QuotaConfig(context.Context) (*QuotaConfig, error) {
	return nil, errors.New("connection refused")
}

func (failingConfigs) QuotaOverride(context.Context, uuid.UUID) (*QuotaOverride, error) {
	return nil, nil
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	store := newProfileStore()
	user := store.add(profiles.RoleUser, profiles.TierBasic, nil, false)
	admin := store.add(profiles.RoleSuperAdmin, profiles.TierBasic, nil, false)

	r := NewResolver(store, NewStaticConfigProvider(DefaultQuotaConfig()), NewFakeClock(t0))

	t.Run("unknown category", func(t *testing.T) {
		_, err := r.Resolve(ctx, user, Category("video"))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing profile", func(t *testing.T) {
		_, err := r.Resolve(ctx, uuid.New(), CategoryAnswer)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("profile store failure", func(t *testing.T) {
		store.fail(errors.New("timeout"))
		defer store.fail(nil)
		_, err := r.Resolve(ctx, user, CategoryAnswer)
		assert.ErrorIs(t, err, ErrStore)
	})

	t.Run("config store failure", func(t *testing.T) {
		broken := NewResolver(store, failingConfigs{}, NewFakeClock(t0))
		_, err := broken.Resolve(ctx, user, CategoryAnswer)
		assert.ErrorIs(t, err, ErrStore)
	})

	t.Run("exempt skips config load", func(t *testing.T) {
		broken := NewResolver(store, failingConfigs{}, NewFakeClock(t0))
		eff, err := broken.Resolve(ctx, admin, CategoryPaper)
		require.NoError(t, err)
		assert.True(t, eff.IsExempt)
	})

	t.Run("tier default", func(t *testing.T) {
		eff, err := r.Resolve(ctx, user, CategoryPaper)
		require.NoError(t, err)
		assert.Equal(t, Effective{Quota: 10, PeriodDays: 5}, eff)
	})
}
