package entity

import "github.com/shopspring/decimal"

// Frequency of a policy limit. Stored and reported, not enforced.
type Frequency string

const (
	FrequencyPerTrip Frequency = "PER_TRIP"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Category is an expense category such as Travel or Meals
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Policy caps spending for a (grade, category) pair
type Policy struct {
	ID               int64           `json:"id"`
	GradeID          int64           `json:"grade_id"`
	CategoryID       int64           `json:"category_id"`
	MaxAmount        decimal.Decimal `json:"max_amount"`
	Frequency        Frequency       `json:"frequency"`
	RequiresApproval bool            `json:"requires_approval"`
}

// TransportPolicy caps spending for a (grade, transport type) pair
type TransportPolicy struct {
	ID              int64           `json:"id"`
	GradeID         int64           `json:"grade_id"`
	TransportTypeID int64           `json:"transport_type_id"`
	AllowedClass    string          `json:"allowed_class"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
	RequiresTicket  bool            `json:"requires_ticket"`
}

// PolicyResult is the outcome of a policy check
type PolicyResult struct {
	IsCompliant   bool                   `json:"is_compliant"`
	Violations    []string               `json:"violations"`
	AllowedAmount *decimal.Decimal       `json:"allowed_amount,omitempty"`
	Details       map[string]interface{} `json:"details"`
}
