package entity

import (
	"time"

	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// Decision is the outcome recorded on an approval record
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// IsFinal returns true once a decision has been made
func (d Decision) IsFinal() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalRecord holds one role's decision for one expense.
// (ExpenseID, Role) is unique.
type ApprovalRecord struct {
	ID        int64         `json:"id"`
	ExpenseID int64         `json:"expense_id"`
	Role      workflow.Role `json:"role"`
	Decision  Decision      `json:"decision"`
	DecidedBy *int64        `json:"decided_by,omitempty"`
	Comments  string        `json:"comments,omitempty"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// IsPending returns true while no decision has been recorded
func (r *ApprovalRecord) IsPending() bool {
	return r.Decision == DecisionPending
}
