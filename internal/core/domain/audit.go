package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateDeposit AuditAction = "CREATE_DEPOSIT"
	AuditActionRetryTransfer AuditAction = "RETRY_TRANSFER"
	AuditActionCancel        AuditAction = "CANCEL_DEPOSIT"
	AuditActionResolveReview AuditAction = "RESOLVE_REVIEW"
	AuditActionAccessDenied  AuditAction = "ACCESS_DENIED"
)

// AuditLog records a single operator or user action.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
