package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qbank-platform/qbank/internal/profiles"
)

// TierFree is deprecated: it is kept in QuotaConfig but never selected by
// resolution.
const TierFree profiles.Tier = "free"

// Allowance is a quota over a rolling window of PeriodDays days.
type Allowance struct {
	Quota      int `json:"quota" validate:"gte=0"`
	PeriodDays int `json:"period_days" validate:"gte=1"`
}

// TierAllowance holds the per-category defaults of one tier.
type TierAllowance struct {
	Answer Allowance `json:"answer"`
	Paper  Allowance `json:"paper"`
}

func (t TierAllowance) For(c Category) Allowance {
	if c == CategoryPaper {
		return t.Paper
	}
	return t.Answer
}

// QuotaConfig is the global tier defaults record (one row).
type QuotaConfig struct {
	Free      TierAllowance `json:"free"`
	Basic     TierAllowance `json:"basic"`
	Premium   TierAllowance `json:"premium"`
	UpdatedBy *uuid.UUID    `json:"updated_by,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Tier returns the defaults of tier. Unknown tiers fall back to basic.
func (c *QuotaConfig) Tier(tier profiles.Tier) TierAllowance {
	switch tier {
	case profiles.TierPremium:
		return c.Premium
	case TierFree:
		return c.Free
	default:
		return c.Basic
	}
}

// Validate checks every allowance pair.
func (c *QuotaConfig) Validate() error {
	tiers := []struct {
		name string
		t    TierAllowance
	}{{"free", c.Free}, {"basic", c.Basic}, {"premium", c.Premium}}

	for _, tier := range tiers {
		for _, cat := range Categories {
			a := tier.t.For(cat)
			if a.Quota < 0 {
				return &ValidationError{Field: fmt.Sprintf("%s.%s.quota", tier.name, cat), Reason: "must be >= 0"}
			}
			if a.PeriodDays < 1 {
				return &ValidationError{Field: fmt.Sprintf("%s.%s.period_days", tier.name, cat), Reason: "must be >= 1"}
			}
		}
	}
	return nil
}

// DefaultQuotaConfig matches the row seeded by the migrations.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Free: TierAllowance{
			Answer: Allowance{Quota: 20, PeriodDays: 7},
			Paper:  Allowance{Quota: 2, PeriodDays: 7},
		},
		Basic: TierAllowance{
			Answer: Allowance{Quota: 200, PeriodDays: 5},
			Paper:  Allowance{Quota: 10, PeriodDays: 5},
		},
		Premium: TierAllowance{
			Answer: Allowance{Quota: 1000, PeriodDays: 30},
			Paper:  Allowance{Quota: 100, PeriodDays: 30},
		},
	}
}

// QuotaOverride replaces tier defaults field by field. Nil fields keep the
// tier default.
type QuotaOverride struct {
	UserID           uuid.UUID  `json:"user_id"`
	AnswerQuota      *int       `json:"answer_quota"`
	AnswerPeriodDays *int       `json:"answer_period_days"`
	PaperQuota       *int       `json:"paper_quota"`
	PaperPeriodDays  *int       `json:"paper_period_days"`
	CreatedBy        *uuid.UUID `json:"created_by,omitempty"`
	Notes            string     `json:"notes"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (o *QuotaOverride) fields(c Category) (quota, periodDays *int) {
	if c == CategoryPaper {
		return o.PaperQuota, o.PaperPeriodDays
	}
	return o.AnswerQuota, o.AnswerPeriodDays
}

// Apply merges the override's non-nil fields over a.
func (o *QuotaOverride) Apply(c Category, a Allowance) Allowance {
	if o == nil {
		return a
	}
	q, p := o.fields(c)
	if q != nil {
		a.Quota = *q
	}
	if p != nil {
		a.PeriodDays = *p
	}
	return a
}

// Validate checks the non-nil fields.
func (o *QuotaOverride) Validate() error {
	for _, cat := range Categories {
		q, p := o.fields(cat)
		if q != nil && *q < 0 {
			return &ValidationError{Field: string(cat) + "_quota", Reason: "must be >= 0"}
		}
		if p != nil && *p < 1 {
			return &ValidationError{Field: string(cat) + "_period_days", Reason: "must be >= 1"}
		}
	}
	return nil
}

// ConfigProvider is the read side of the configuration store.
type ConfigProvider interface {
	QuotaConfig(ctx context.Context) (*QuotaConfig, error)
	// QuotaOverride returns nil, nil when the user has no override.
	QuotaOverride(ctx context.Context, userID uuid.UUID) (*QuotaOverride, error)
}

// ConfigWriter is the privileged write path of the configuration store.
type ConfigWriter interface {
	UpdateQuotaConfig(ctx context.Context, cfg QuotaConfig, updatedBy uuid.UUID) (*QuotaConfig, error)
	UpsertOverride(ctx context.Context, ov QuotaOverride) (*QuotaOverride, error)
	DeleteOverride(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ConfigStorer is a configuration store with both read and write sides.
type ConfigStorer interface {
	ConfigProvider
	ConfigWriter
}

// StaticConfigProvider serves a fixed config and an in-memory override map.
type StaticConfigProvider struct {
	mu        sync.RWMutex
	config    QuotaConfig
	overrides map[uuid.UUID]*QuotaOverride
}

func NewStaticConfigProvider(cfg QuotaConfig) *StaticConfigProvider {
	return &StaticConfigProvider{
		config:    cfg,
		overrides: make(map[uuid.UUID]*QuotaOverride),
	}
}

var _ ConfigStorer = (*StaticConfigProvider)(nil)

func (s *StaticConfigProvider) QuotaConfig(_ context.Context) (*QuotaConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.config
	return &cfg, nil
}

func (s *StaticConfigProvider) QuotaOverride(_ context.Context, userID uuid.UUID) (*QuotaOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ov, ok := s.overrides[userID]
	if !ok {
		return nil, nil
	}
	cp := *ov
	return &cp, nil
}

func (s *StaticConfigProvider) UpdateQuotaConfig(_ context.Context, cfg QuotaConfig, updatedBy uuid.UUID) (*QuotaConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedBy = &updatedBy
	cfg.UpdatedAt = time.Now().UTC()
	s.config = cfg
	return &cfg, nil
}

func (s *StaticConfigProvider) UpsertOverride(_ context.Context, ov QuotaOverride) (*QuotaOverride, error) {
	if err := ov.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.overrides[ov.UserID]; ok {
		ov.CreatedBy = prev.CreatedBy
		ov.CreatedAt = prev.CreatedAt
	} else {
		ov.CreatedAt = now
	}
	ov.UpdatedAt = now
	s.overrides[ov.UserID] = &ov
	cp := ov
	return &cp, nil
}

func (s *StaticConfigProvider) DeleteOverride(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.overrides[userID]
	delete(s.overrides, userID)
	return ok, nil
}
