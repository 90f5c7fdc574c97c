package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

// ClassifierRequest is what the external classifier sees
type ClassifierRequest struct {
	Metadata    ClassifierMetadata `json:"metadata"`
	ReceiptText string             `json:"receipt_text"`
}

// ClassifierMetadata describes the claim being screened
type ClassifierMetadata struct {
	Amount             string `json:"amount"`
	Category           string `json:"category"`
	Description        string `json:"description"`
	ExpenseDate        string `json:"expense_date"`
	SubmissionDeadline string `json:"submission_deadline,omitempty"`
	DateValid          bool   `json:"date_valid"`
}

// ClassifierResponse is the raw classifier answer before normalization
type ClassifierResponse struct {
	Decision    string   `json:"decision"`
	RiskLevel   string   `json:"risk_level"`
	Reasons     []string `json:"reasons"`
	AmountGuess *float64 `json:"extracted_total_amount_guess"`
}

// Classifier is an optional external receipt classifier
type Classifier interface {
	Classify(ctx context.Context, req *ClassifierRequest) (*ClassifierResponse, error)
}

// Extraction is the text and best-effort amount read from a receipt
type Extraction struct {
	Text   string
	Amount *decimal.Decimal
}

// TextExtractor reads text from a stored receipt
type TextExtractor interface {
	Extract(ctx context.Context, path, fileType string) (*Extraction, error)
}

// Notifier delivers a message to a user over an external channel
type Notifier interface {
	Notify(ctx context.Context, recipient *entity.User, title, message string) error
}

// PaymentVoucher is the data written to a payment voucher
type PaymentVoucher struct {
	ExpenseID     int64
	Payee         string
	PayeeEmail    string
	Category      string
	Description   string
	Amount        decimal.Decimal
	ExpenseDate   string
	ApprovedBy    string
	ApprovedAt    string
	CorrelationID string
}

// VoucherWriter renders a payment voucher and returns where it was written
type VoucherWriter interface {
	Write(ctx context.Context, v *PaymentVoucher) (string, error)
}
