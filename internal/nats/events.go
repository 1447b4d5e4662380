package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents holds every audit event published by the service.
const StreamEvents = "QBANK_EVENTS"

// SubjectAuditEvent is the subject quota audit events are published on.
const SubjectAuditEvent = "qbank.events.audit"

// Audit event types.
const (
	EventQuotaExceeded   = "quota_exceeded"
	EventOverrideSet     = "override_set"
	EventOverrideCleared = "override_cleared"
	EventConfigUpdated   = "config_updated"
)

// AuditEvent is published for compliance/audit logging. OwnerUserID is the
// user the event is about; ActorUserID is set when an admin caused it.
type AuditEvent struct {
	OwnerUserID  uuid.UUID  `json:"owner_user_id"`
	ActorUserID  *uuid.UUID `json:"actor_user_id,omitempty"`
	EventType    string     `json:"event_type"`
	Severity     string     `json:"severity"` // info, warn, error
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Details      string     `json:"details"`
	Timestamp    time.Time  `json:"timestamp"`
}
