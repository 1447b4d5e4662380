package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const configColumns = `
	free_answer_quota, free_answer_period_days, free_paper_quota, free_paper_period_days,
	basic_answer_quota, basic_answer_period_days, basic_paper_quota, basic_paper_period_days,
	premium_answer_quota, premium_answer_period_days, premium_paper_quota, premium_paper_period_days,
	updated_by, updated_at`

const overrideColumns = `
	user_id, answer_quota, answer_period_days, paper_quota, paper_period_days,
	created_by, notes, created_at, updated_at`

// ConfigStore persists QuotaConfig and QuotaOverride rows in PostgreSQL.
// The engine only reads through it; writes come from the admin surface.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

func (s *ConfigStore) QuotaConfig(ctx context.Context) (*QuotaConfig, error) {
	var c QuotaConfig
	err := s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM quota_config WHERE id = 1`).Scan(
		&c.Free.Answer.Quota, &c.Free.Answer.PeriodDays, &c.Free.Paper.Quota, &c.Free.Paper.PeriodDays,
		&c.Basic.Answer.Quota, &c.Basic.Answer.PeriodDays, &c.Basic.Paper.Quota, &c.Basic.Paper.PeriodDays,
		&c.Premium.Answer.Quota, &c.Premium.Answer.PeriodDays, &c.Premium.Paper.Quota, &c.Premium.Paper.PeriodDays,
		&c.UpdatedBy, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The migration seeds the row; fall back to the same defaults.
			def := DefaultQuotaConfig()
			return &def, nil
		}
		return nil, storeErr("fetching quota config", err)
	}
	return &c, nil
}

// UpdateQuotaConfig replaces every allowance and returns the stored row.
func (s *ConfigStore) UpdateQuotaConfig(ctx context.Context, c QuotaConfig, updatedBy uuid.UUID) (*QuotaConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var out QuotaConfig
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quota_config (id,
			free_answer_quota, free_answer_period_days, free_paper_quota, free_paper_period_days,
			basic_answer_quota, basic_answer_period_days, basic_paper_quota, basic_paper_period_days,
			premium_answer_quota, premium_answer_period_days, premium_paper_quota, premium_paper_period_days,
			updated_by, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		 ON CONFLICT (id) DO UPDATE SET
			free_answer_quota = EXCLUDED.free_answer_quota,
			free_answer_period_days = EXCLUDED.free_answer_period_days,
			free_paper_quota = EXCLUDED.free_paper_quota,
			free_paper_period_days = EXCLUDED.free_paper_period_days,
			basic_answer_quota = EXCLUDED.basic_answer_quota,
			basic_answer_period_days = EXCLUDED.basic_answer_period_days,
			basic_paper_quota = EXCLUDED.basic_paper_quota,
			basic_paper_period_days = EXCLUDED.basic_paper_period_days,
			premium_answer_quota = EXCLUDED.premium_answer_quota,
			premium_answer_period_days = EXCLUDED.premium_answer_period_days,
			premium_paper_quota = EXCLUDED.premium_paper_quota,
			premium_paper_period_days = EXCLUDED.premium_paper_period_days,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		 RETURNING `+configColumns,
		c.Free.Answer.Quota, c.Free.Answer.PeriodDays, c.Free.Paper.Quota, c.Free.Paper.PeriodDays,
		c.Basic.Answer.Quota, c.Basic.Answer.PeriodDays, c.Basic.Paper.Quota, c.Basic.Paper.PeriodDays,
		c.Premium.Answer.Quota, c.Premium.Answer.PeriodDays, c.Premium.Paper.Quota, c.Premium.Paper.PeriodDays,
		updatedBy,
	).Scan(
		&out.Free.Answer.Quota, &out.Free.Answer.PeriodDays, &out.Free.Paper.Quota, &out.Free.Paper.PeriodDays,
		&out.Basic.Answer.Quota, &out.Basic.Answer.PeriodDays, &out.Basic.Paper.Quota, &out.Basic.Paper.PeriodDays,
		&out.Premium.Answer.Quota, &out.Premium.Answer.PeriodDays, &out.Premium.Paper.Quota, &out.Premium.Paper.PeriodDays,
		&out.UpdatedBy, &out.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr("updating quota config", err)
	}
	return &out, nil
}

func scanOverride(row pgx.Row) (*QuotaOverride, error) {
	var o QuotaOverride
	err := row.Scan(&o.UserID, &o.AnswerQuota, &o.AnswerPeriodDays, &o.PaperQuota, &o.PaperPeriodDays,
		&o.CreatedBy, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *ConfigStore) QuotaOverride(ctx context.Context, userID uuid.UUID) (*QuotaOverride, error) {
	o, err := scanOverride(s.pool.QueryRow(ctx,
		`SELECT `+overrideColumns+` FROM quota_overrides WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("fetching quota override", err)
	}
	return o, nil
}

// UpsertOverride creates or replaces the user's override. created_by and
// created_at are kept from the first write.
func (s *ConfigStore) UpsertOverride(ctx context.Context, o QuotaOverride) (*QuotaOverride, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	out, err := scanOverride(s.pool.QueryRow(ctx,
		`INSERT INTO quota_overrides
			(user_id, answer_quota, answer_period_days, paper_quota, paper_period_days, created_by, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
			answer_quota = EXCLUDED.answer_quota,
			answer_period_days = EXCLUDED.answer_period_days,
			paper_quota = EXCLUDED.paper_quota,
			paper_period_days = EXCLUDED.paper_period_days,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		 RETURNING `+overrideColumns,
		o.UserID, o.AnswerQuota, o.AnswerPeriodDays, o.PaperQuota, o.PaperPeriodDays, o.CreatedBy, o.Notes))
	if err != nil {
		return nil, storeErr("upserting quota override", err)
	}
	return out, nil
}

// DeleteOverride removes the user's override. Returns false if none existed.
func (s *ConfigStore) DeleteOverride(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quota_overrides WHERE user_id = $1`, userID)
	if err != nil {
		return false, storeErr("deleting quota override", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ ConfigStorer = (*ConfigStore)(nil)
