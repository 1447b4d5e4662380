package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog matches the audit_logs table schema.
type AuditLog struct {
	ID           uuid.UUID       `json:"id"`
	OwnerUserID  uuid.UUID       `json:"owner_user_id"`
	ActorUserID  *uuid.UUID      `json:"actor_user_id,omitempty"`
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListParams filters and pages audit queries. ResourceType narrows to one
// quota category (answer, paper) or admin resource (quota_config,
// quota_override).
type ListParams struct {
	EventType    string
	Severity     string
	ResourceType string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: DefaultPageSize,
	}
}

// Normalize clamps out-of-range paging values back to the defaults.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		p.PageSize = DefaultPageSize
	}
	return p
}

func (p ListParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}
