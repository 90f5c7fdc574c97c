package screening

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

// Classifier decisions
const (
	DecisionAllow  = "allow"
	DecisionBlock  = "block"
	DecisionReview = "review"
	DecisionSkip   = "skip"
)

// Classifier risk levels
const (
	RiskLow     = "low"
	RiskMedium  = "medium"
	RiskHigh    = "high"
	RiskUnknown = "unknown"
)

const (
	defaultClassifierTimeout = 20 * time.Second
	maxReceiptTextRunes      = 12000
	maxReasons               = 10
)

// SubmissionWindow is the result of the local date-window rule: a bill
// dated in month M may be submitted until the end of month M+2.
type SubmissionWindow struct {
	Valid         bool      `json:"valid"`
	Deadline      time.Time `json:"deadline"`
	DaysRemaining int       `json:"days_remaining"`
	Reason        string    `json:"reason"`
}

// CheckSubmissionWindow applies the window rule to a YYYY-MM-DD date
func CheckSubmissionWindow(expenseDate string, now time.Time) SubmissionWindow {
	d, err := time.ParseInLocation(entity.DateLayout, expenseDate, now.Location())
	if err != nil {
		return SubmissionWindow{
			Reason: fmt.Sprintf("Invalid date format. Expected YYYY-MM-DD, got: %s", expenseDate),
		}
	}

	monthStart := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
	deadline := monthStart.AddDate(0, 3, 0).Add(-time.Second)

	w := SubmissionWindow{
		Valid:    !now.After(deadline),
		Deadline: deadline,
	}
	if w.Valid {
		w.DaysRemaining = int(deadline.Sub(now).Hours() / 24)
		w.Reason = fmt.Sprintf("Expense from %s is valid until %s",
			monthStart.Format("January 2006"), deadline.Format("January 02, 2006"))
	} else {
		w.Reason = fmt.Sprintf("Expense from %s expired on %s",
			monthStart.Format("January 2006"), deadline.Format("January 02, 2006"))
	}
	return w
}

// ClassifierInput is the claim to screen
type ClassifierInput struct {
	Text        string
	Amount      decimal.Decimal
	Category    string
	Description string
	ExpenseDate string
}

// Verdict is the normalized classifier outcome
type Verdict struct {
	Enabled     bool             `json:"enabled"`
	Available   bool             `json:"available"`
	Decision    string           `json:"decision"`
	RiskLevel   string           `json:"risk_level"`
	Reasons     []string         `json:"reasons"`
	AmountGuess *decimal.Decimal `json:"amount_guess,omitempty"`
	Window      SubmissionWindow `json:"window"`
}

// Blocks reports whether the verdict stops a submission. In strict mode a
// review verdict blocks too.
func (v *Verdict) Blocks(strict bool) bool {
	return v.Decision == DecisionBlock || (strict && v.Decision == DecisionReview)
}

// ClassifierAdapter wraps the optional external classifier with the local
// date-window rule and conservative fallbacks. Evaluate never returns an error.
type ClassifierAdapter struct {
	classifier port.Classifier
	enabled    bool
	timeout    time.Duration
	now        func() time.Time
	logger     Logger
}

// AdapterOption configures a ClassifierAdapter
type AdapterOption func(*ClassifierAdapter)

// WithTimeout bounds each classifier call
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *ClassifierAdapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAdapterClock overrides the adapter's notion of now
func WithAdapterClock(now func() time.Time) AdapterOption {
	return func(a *ClassifierAdapter) {
		a.now = now
	}
}

// NewClassifierAdapter creates the adapter. A nil classifier means disabled.
func NewClassifierAdapter(classifier port.Classifier, logger Logger, opts ...AdapterOption) *ClassifierAdapter {
	a := &ClassifierAdapter{
		classifier: classifier,
		enabled:    classifier != nil,
		timeout:    defaultClassifierTimeout,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluate screens one claim
func (a *ClassifierAdapter) Evaluate(ctx context.Context, in ClassifierInput) *Verdict {
	window := CheckSubmissionWindow(in.ExpenseDate, a.now())

	if !a.enabled {
		v := &Verdict{Decision: DecisionSkip, RiskLevel: RiskUnknown, Reasons: []string{}, Window: window}
		if !window.Valid {
			v.Decision = DecisionBlock
			v.RiskLevel = RiskHigh
			v.Reasons = []string{window.Reason}
		}
		return v
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		v := &Verdict{
			Enabled:   true,
			Decision:  DecisionReview,
			RiskLevel: RiskHigh,
			Reasons:   []string{"No text extracted from receipt"},
			Window:    window,
		}
		return applyWindow(v)
	}

	req := &port.ClassifierRequest{
		Metadata: port.ClassifierMetadata{
			Amount:      in.Amount.StringFixed(2),
			Category:    in.Category,
			Description: in.Description,
			ExpenseDate: in.ExpenseDate,
			DateValid:   window.Valid,
		},
		ReceiptText: truncateRunes(text, maxReceiptTextRunes),
	}
	if !window.Deadline.IsZero() {
		req.Metadata.SubmissionDeadline = window.Deadline.Format(entity.DateLayout)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.classifier.Classify(callCtx, req)
	if err != nil {
		a.logger.Error("Classifier call failed", "error", fmt.Errorf("%w: %v", domainerr.ErrClassifierUnavailable, err))
		v := &Verdict{
			Enabled:   true,
			Decision:  DecisionReview,
			RiskLevel: RiskHigh,
			Reasons:   []string{fmt.Sprintf("classifier unavailable: %v", err)},
			Window:    window,
		}
		return applyWindow(v)
	}

	v := &Verdict{
		Enabled:   true,
		Available: true,
		Decision:  clamp(resp.Decision, DecisionReview, DecisionAllow, DecisionBlock, DecisionReview),
		RiskLevel: clamp(resp.RiskLevel, RiskHigh, RiskLow, RiskMedium, RiskHigh),
		Reasons:   append([]string{}, resp.Reasons...),
		Window:    window,
	}
	if resp.AmountGuess != nil && *resp.AmountGuess > 0 {
		guess := decimal.NewFromFloat(*resp.AmountGuess).Round(2)
		v.AmountGuess = &guess
	}
	return applyWindow(v)
}

// applyWindow overrides the verdict when the date window failed and caps reasons
func applyWindow(v *Verdict) *Verdict {
	if !v.Window.Valid {
		v.Decision = DecisionBlock
		v.RiskLevel = RiskHigh
		v.Reasons = append([]string{v.Window.Reason}, v.Reasons...)
	}
	if len(v.Reasons) > maxReasons {
		v.Reasons = v.Reasons[:maxReasons]
	}
	return v
}

func clamp(value, fallback string, allowed ...string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	return fallback
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
