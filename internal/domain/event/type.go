package event

// Type identifies the type of domain event
type Type string

const (
	TypeExpenseSubmitted Type = "expense.submitted"
	TypeExpenseApproved  Type = "expense.approved"
	TypeExpenseRejected  Type = "expense.rejected"
	TypePaymentProcessed Type = "expense.payment_processed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseSubmitted,
		TypeExpenseApproved,
		TypeExpenseRejected,
		TypePaymentProcessed:
		return true
	default:
		return false
	}
}

// Payload keys. Events carry enough to render a message without reloading the expense.
const (
	KeySubmitterID   = "submitter_id"
	KeySubmitterName = "submitter_name"
	KeyManagerID     = "manager_id"
	KeyAmount        = "amount"
	KeyCategory      = "category"
	KeyDescription   = "description"
	KeyExpenseDate   = "expense_date"
	KeyStatus        = "status"
	KeyActorID       = "actor_id"
	KeyActorName     = "actor_name"
	KeyActorRole     = "actor_role"
	KeyRemarks       = "remarks"
	KeyPolicyFlagged = "policy_flagged"
)
