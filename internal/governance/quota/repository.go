package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL Ledger. Each consume runs in one transaction
// holding the row lock of (user_id, category).
type Repository struct {
	pool   *pgxpool.Pool
	window Window
}

// NewRepository creates a new quota Repository.
func NewRepository(pool *pgxpool.Pool, window Window) *Repository {
	return &Repository{pool: pool, window: window}
}

// Consume ensures the row exists, locks it, evaluates the attempt and writes
// the result back before committing.
func (r *Repository) Consume(ctx context.Context, req ConsumeRequest) (Outcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, storeErr("beginning consume transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO quota_ledger (user_id, category, used, reset_at)
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (user_id, category) DO NOTHING`,
		req.UserID, string(req.Category), r.window.Reset(req.Now, req.Allowance.PeriodDays))
	if err != nil {
		return Outcome{}, storeErr("ensuring ledger entry", err)
	}

	stored := &Entry{UserID: req.UserID, Category: req.Category}
	err = tx.QueryRow(ctx,
		`SELECT used, reset_at, current_period_items
		 FROM quota_ledger
		 WHERE user_id = $1 AND category = $2
		 FOR UPDATE`, req.UserID, string(req.Category),
	).Scan(&stored.Used, &stored.ResetAt, &stored.Items)
	if err != nil {
		return Outcome{}, storeErr("locking ledger entry", err)
	}
	stored.ResetAt = stored.ResetAt.UTC()

	e, out, dirty := evaluate(r.window, stored, req)
	if dirty {
		_, err = tx.Exec(ctx,
			`UPDATE quota_ledger
			 SET used = $3,
			     reset_at = $4,
			     current_period_items = $5,
			     updated_at = NOW()
			 WHERE user_id = $1 AND category = $2`,
			req.UserID, string(req.Category), e.Used, e.ResetAt, e.Items)
		if err != nil {
			return Outcome{}, storeErr("updating ledger entry", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, storeErr("committing consume transaction", err)
	}
	return out, nil
}

// Get returns the stored entry, or nil if the user never consumed in category.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID, category Category) (*Entry, error) {
	e := &Entry{UserID: userID, Category: category}
	err := r.pool.QueryRow(ctx,
		`SELECT used, reset_at, current_period_items
		 FROM quota_ledger WHERE user_id = $1 AND category = $2`,
		userID, string(category),
	).Scan(&e.Used, &e.ResetAt, &e.Items)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("fetching ledger entry", fmt.Errorf("user %s category %s: %w", userID, category, err))
	}
	e.ResetAt = e.ResetAt.UTC()
	return e, nil
}

var _ Ledger = (*Repository)(nil)
