package entity

import (
	"encoding/json"
	"time"
)

// Audited entity types
const (
	AuditEntityExpense  = "expense"
	AuditEntityApproval = "approval"
)

// Audit actions
const (
	AuditActionCreated         = "created"
	AuditActionUpdated         = "updated"
	AuditActionDeleted         = "deleted"
	AuditActionAttachmentAdded = "attachment_added"
	AuditActionAmountExtracted = "amount_extracted_from_receipt"
	AuditActionPolicyFlagged   = "policy_exception_flagged"
	AuditActionStatusChanged   = "status_changed"
	AuditActionApproved        = "approved"
	AuditActionRejected        = "rejected"
	AuditActionPaid            = "paid"
)

// AuditLogEntry is an append-only record of a change
type AuditLogEntry struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    int64           `json:"entity_id"`
	Action      string          `json:"action"`
	ActorID     *int64          `json:"actor_id,omitempty"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	PerformedAt time.Time       `json:"performed_at"`
}
