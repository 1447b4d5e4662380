package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reader is the narrow read-only capability the quota engine is granted on
// the profile table. It only exposes role and membership fields.
type Reader interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

type postgresReader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) Reader {
	return &postgresReader{pool: pool}
}

// GetByID returns nil, nil when the profile does not exist.
func (r *postgresReader) GetByID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	query := `
		SELECT id, role::text, membership_tier::text, membership_expires_at, is_whitelisted
		FROM profiles WHERE id = $1`

	p := &Profile{}
	var role, tier string
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &role, &tier, &p.MembershipExpiresAt, &p.IsWhitelisted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying profile by id: %w", err)
	}
	p.Role = Role(role)
	p.MembershipTier = Tier(tier)
	return p, nil
}
