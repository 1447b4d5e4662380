package profiles

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Privileged reports whether the role bypasses quota checks and may use the
// admin configuration surface.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// Profile is the subset of the user profile the quota engine may read.
// The row is owned by the identity layer and never written here.
type Profile struct {
	UserID              uuid.UUID  `json:"user_id"`
	Role                Role       `json:"role"`
	MembershipTier      Tier       `json:"membership_tier"`
	MembershipExpiresAt *time.Time `json:"membership_expires_at,omitempty"`
	IsWhitelisted       bool       `json:"is_whitelisted"`
}

// PremiumActive reports whether the premium membership is in force at now.
// A missing or past expiry downgrades to basic.
func (p *Profile) PremiumActive(now time.Time) bool {
	return p.MembershipTier == TierPremium &&
		p.MembershipExpiresAt != nil &&
		p.MembershipExpiresAt.After(now)
}
