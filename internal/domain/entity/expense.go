package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// DateLayout is the wire and storage format for expense dates
const DateLayout = "2006-01-02"

// Expense is one reimbursement claim
type Expense struct {
	ID               int64           `json:"id"`
	SubmitterID      int64           `json:"submitter_id"`
	CategoryID       int64           `json:"category_id"`
	TransportTypeID  *int64          `json:"transport_type_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	ExpenseDate      time.Time       `json:"expense_date"`
	Description      string          `json:"description"`
	Status           workflow.State  `json:"status"`
	RejectionRemarks *string         `json:"rejection_remarks,omitempty"`
	FileHash         string          `json:"file_hash,omitempty"`
	TextHash         string          `json:"text_hash,omitempty"`
	ValidationScore  float64         `json:"validation_score"`
	AIValidated      bool            `json:"ai_validated"`
	RiskFactors      []string        `json:"risk_factors"`
	Recommendations  []string        `json:"recommendations"`
	PolicyCheck      *PolicyResult   `json:"policy_check,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasPlaceholderAmount reports whether the amount is still the zero placeholder
// used when a receipt was uploaded without an amount
func (e *Expense) HasPlaceholderAmount() bool {
	return !e.Amount.IsPositive()
}

// ExpenseFilter narrows expense listings. Zero values are ignored.
type ExpenseFilter struct {
	SubmitterID int64
	ManagerID   int64
	Statuses    []workflow.State
	Limit       int
	Offset      int
}

// PriorExpense is the slice of history the duplicate detector compares against
type PriorExpense struct {
	ID          int64
	Amount      decimal.Decimal
	ExpenseDate time.Time
	FileHash    string
	TextHash    string
}
