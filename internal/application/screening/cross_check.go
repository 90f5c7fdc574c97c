package screening

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

const (
	duplicateThreshold = 85.0
	approvalThreshold  = 60.0
	maxExpenseAgeDays  = 365
)

// Penalties subtracted from 100 for each failed cross-check
const (
	penaltyDuplicate   = 40
	penaltyDate        = 25
	penaltyAmount      = 20
	penaltyVendor      = 30
	penaltyPattern     = 15
	penaltyConsistency = 10
)

type amountRange struct {
	min, max decimal.Decimal
}

func newRange(min, max int64) amountRange {
	return amountRange{decimal.NewFromInt(min), decimal.NewFromInt(max)}
}

var reasonableAmounts = map[string]amountRange{
	"Travel":          newRange(500, 50000),
	"Meals":           newRange(100, 5000),
	"Accommodation":   newRange(800, 20000),
	"Equipment":       newRange(1000, 100000),
	"Office Supplies": newRange(50, 5000),
	"Other":           newRange(50, 25000),
}

var suspiciousVendors = []string{
	"test vendor", "demo company", "sample business",
	"fake enterprise", "mock corporation", "placeholder ltd",
}

var sampleIndicators = []string{"sample", "demo", "test", "specimen", "example", "mock"}

var vendorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([A-Z][A-Za-z0-9&\-]+(?:\s+(?:Inc|Ltd|Pvt|Corporation|Company))?)`),
	regexp.MustCompile(`([A-Z][A-Za-z0-9&\-]+\s+(?:Enterprises|Services|Solutions))`),
	regexp.MustCompile(`([A-Z][A-Za-z0-9&\-]+\s+(?:Restaurant|Hotel|Store|Shop))`),
}

var (
	flightPattern         = regexp.MustCompile(`(?:flight|airline|booking|pnr|seat)`)
	localTransitPattern   = regexp.MustCompile(`(?:taxi|cab|uber|ola|metro|bus)`)
	restaurantPattern     = regexp.MustCompile(`(?:restaurant|food|dining|menu|bill)`)
	foodDeliveryPattern   = regexp.MustCompile(`(?:swiggy|zomato|foodpanda|uber eats)`)
	hotelPattern          = regexp.MustCompile(`(?:hotel|accommodation|room|check.?in|checkout)`)
	officePattern         = regexp.MustCompile(`(?:stationery|office|supplies|equipment)`)
	generalReceiptPattern = regexp.MustCompile(`(?:bill|invoice|receipt|cash|memo|due)`)
)

var currencySymbols = []string{"₹", "Rs", "INR", "rs"}

// PriorLister supplies a submitter's earlier expenses
type PriorLister interface {
	ListPrior(ctx context.Context, submitterID int64) ([]*entity.PriorExpense, error)
}

// CrossCheckInput describes a new submission
type CrossCheckInput struct {
	FilePath      string
	FileHash      string
	ExtractedText string
	Amount        decimal.Decimal
	Category      string
	Description   string
	Date          string
	SubmitterID   int64
}

// DuplicateMatch is a prior expense that looks like the new one
type DuplicateMatch struct {
	ExpenseID      int64   `json:"expense_id"`
	SimilarityType string  `json:"similarity_type"`
	Similarity     float64 `json:"similarity"`
	Date           string  `json:"date"`
	Amount         string  `json:"amount"`
}

// CrossCheckResult is the verdict of the duplicate and consistency checks
type CrossCheckResult struct {
	IsApproved       bool             `json:"is_approved"`
	ConfidenceScore  float64          `json:"confidence_score"`
	RiskFactors      []string         `json:"risk_factors"`
	Recommendations  []string         `json:"recommendations"`
	DuplicateMatches []DuplicateMatch `json:"duplicate_matches"`
	MaxSimilarity    float64          `json:"max_similarity"`
	DateValid        bool             `json:"date_valid"`
	FileHash         string           `json:"file_hash"`
	TextHash         string           `json:"text_hash"`
}

// Summary renders the result as one line
func (r *CrossCheckResult) Summary() string {
	if r.IsApproved {
		return fmt.Sprintf("Expense passed cross-checks (Confidence: %.1f%%)", r.ConfidenceScore)
	}
	return fmt.Sprintf("Expense failed cross-checks (Confidence: %.1f%%, Issues: %d)", r.ConfidenceScore, len(r.RiskFactors))
}

type finding struct {
	ok             bool
	issue          string
	recommendation string
}

// CrossChecker compares a submission with the submitter's history and with itself
type CrossChecker struct {
	priors PriorLister
	now    func() time.Time
}

// NewCrossChecker creates a cross checker. now may be nil.
func NewCrossChecker(priors PriorLister, now func() time.Time) *CrossChecker {
	if now == nil {
		now = time.Now
	}
	return &CrossChecker{priors: priors, now: now}
}

// Check runs all cross-checks. It fails only when history cannot be read.
func (c *CrossChecker) Check(ctx context.Context, in CrossCheckInput) (*CrossCheckResult, error) {
	now := c.now()

	res := &CrossCheckResult{
		IsApproved:       true,
		RiskFactors:      []string{},
		Recommendations:  []string{},
		DuplicateMatches: []DuplicateMatch{},
		FileHash:         in.FileHash,
		TextHash:         TextHash(in.ExtractedText),
	}
	if res.FileHash == "" && in.FilePath != "" {
		res.FileHash = FileHash(in.FilePath)
	}

	priors, err := c.priors.ListPrior(ctx, in.SubmitterID)
	if err != nil {
		return nil, fmt.Errorf("list prior expenses: %w", err)
	}

	score := 100.0
	penalize := func(f finding, penalty float64, blocking bool) {
		if f.ok {
			return
		}
		res.RiskFactors = append(res.RiskFactors, f.issue)
		res.Recommendations = append(res.Recommendations, f.recommendation)
		score -= penalty
		if blocking {
			res.IsApproved = false
		}
	}

	res.DuplicateMatches, res.MaxSimilarity = findDuplicates(in, res.FileHash, res.TextHash, priors)
	if len(res.DuplicateMatches) > 0 {
		penalize(finding{
			issue:          fmt.Sprintf("High similarity (%.1f%%) with existing bills", res.MaxSimilarity),
			recommendation: "This appears to be a duplicate submission",
		}, penaltyDuplicate, true)
	}

	dateFinding := validateExpenseDate(in.Date, in.ExtractedText, now)
	res.DateValid = dateFinding.ok
	penalize(dateFinding, penaltyDate, true)
	penalize(validateAmount(in.Amount, in.Category), penaltyAmount, false)
	penalize(validateVendor(in.ExtractedText), penaltyVendor, false)

	if !matchesCategoryPatterns(in.ExtractedText, in.Category) {
		penalize(finding{
			issue:          fmt.Sprintf("Receipt doesn't match expected %s patterns", in.Category),
			recommendation: "Verify this is a genuine receipt",
		}, penaltyPattern, false)
	}

	penalize(checkContentConsistency(in.ExtractedText, in.Amount, in.Description), penaltyConsistency, false)

	if score < 0 {
		score = 0
	}
	res.ConfidenceScore = score
	if score < approvalThreshold {
		res.IsApproved = false
		res.Recommendations = append(res.Recommendations, "Expense requires manual review")
	}

	return res, nil
}

func findDuplicates(in CrossCheckInput, fileHash, textHash string, priors []*entity.PriorExpense) ([]DuplicateMatch, float64) {
	matches := []DuplicateMatch{}
	maxSimilarity := 0.0

	for _, p := range priors {
		priorDate := p.ExpenseDate.Format(entity.DateLayout)

		if fileHash != "" && p.FileHash == fileHash {
			matches = append(matches, DuplicateMatch{
				ExpenseID:      p.ID,
				SimilarityType: "exact_file_match",
				Similarity:     100,
				Date:           priorDate,
				Amount:         p.Amount.StringFixed(2),
			})
			maxSimilarity = 100
			continue
		}

		textSimilarity := 0.0
		if textHash != "" && p.TextHash == textHash {
			textSimilarity = 100
		}
		weighted := dateSimilarity(in.Date, priorDate)*0.6 + amountSimilarity(in.Amount, p.Amount)*0.4

		combined := textSimilarity
		if weighted > combined {
			combined = weighted
		}
		if combined >= duplicateThreshold {
			kind := "combined_similarity"
			if textSimilarity == 100 {
				kind = "text_match"
			}
			matches = append(matches, DuplicateMatch{
				ExpenseID:      p.ID,
				SimilarityType: kind,
				Similarity:     combined,
				Date:           priorDate,
				Amount:         p.Amount.StringFixed(2),
			})
		}
		if combined > maxSimilarity {
			maxSimilarity = combined
		}
	}

	return matches, maxSimilarity
}

func dateSimilarity(a, b string) float64 {
	d1, err1 := time.Parse(entity.DateLayout, a)
	d2, err2 := time.Parse(entity.DateLayout, b)
	if err1 != nil || err2 != nil {
		return 0
	}
	days := d1.Sub(d2).Hours() / 24
	if days < 0 {
		days = -days
	}
	switch {
	case days == 0:
		return 100
	case days <= 7:
		return 80
	case days <= 30:
		return 50
	default:
		return 20
	}
}

func amountSimilarity(a, b decimal.Decimal) float64 {
	diff := a.Sub(b).Abs()
	switch {
	case diff.IsZero():
		return 100
	case diff.LessThanOrEqual(decimal.NewFromInt(10)):
		return 90
	case diff.LessThanOrEqual(decimal.NewFromInt(50)):
		return 70
	case diff.LessThanOrEqual(decimal.NewFromInt(100)):
		return 50
	default:
		return 20
	}
}

func validateExpenseDate(date, text string, now time.Time) finding {
	d, err := time.ParseInLocation(entity.DateLayout, date, now.Location())
	if err != nil {
		return finding{issue: "Invalid date format", recommendation: "Please provide a valid date (YYYY-MM-DD)"}
	}
	if d.After(now) {
		return finding{
			issue:          fmt.Sprintf("Date is in future (%s)", date),
			recommendation: "Expense date cannot be in the future",
		}
	}
	if days := int(now.Sub(d).Hours() / 24); days > maxExpenseAgeDays {
		return finding{
			issue:          fmt.Sprintf("Date is too old (%d days)", days),
			recommendation: "Expenses older than 1 year require additional approval",
		}
	}

	_, textDates := findDates(text)
	if len(textDates) == 0 {
		return finding{ok: true}
	}
	for _, td := range textDates {
		diff := d.Sub(td)
		if diff < 0 {
			diff = -diff
		}
		if diff <= 24*time.Hour {
			return finding{ok: true}
		}
	}
	return finding{
		issue:          "Expense date doesn't match dates in receipt",
		recommendation: "Verify the expense date matches the receipt",
	}
}

func validateAmount(amount decimal.Decimal, category string) finding {
	if r, ok := reasonableAmounts[category]; ok {
		if amount.LessThan(r.min) {
			return finding{
				issue:          fmt.Sprintf("Amount ₹%s is below minimum (₹%s) for %s", amount.String(), r.min.String(), category),
				recommendation: fmt.Sprintf("Verify the amount is correct for %s expense", category),
			}
		}
		if amount.GreaterThan(r.max) {
			return finding{
				issue:          fmt.Sprintf("Amount ₹%s exceeds maximum (₹%s) for %s", amount.String(), r.max.String(), category),
				recommendation: fmt.Sprintf("Large amounts require additional documentation for %s", category),
			}
		}
	}

	thousand := decimal.NewFromInt(1000)
	if amount.Mod(thousand).IsZero() && amount.GreaterThanOrEqual(thousand) {
		return finding{
			issue:          "Amount is a round number (potential placeholder)",
			recommendation: "Verify exact amount from receipt",
		}
	}
	if amount.Equal(amount.Truncate(0)) && amount.GreaterThan(decimal.NewFromInt(100)) {
		return finding{
			issue:          "Large whole number amount (missing cents?)",
			recommendation: "Verify exact amount including paise from receipt",
		}
	}
	return finding{ok: true}
}

func validateVendor(text string) finding {
	lower := strings.ToLower(text)

	for _, v := range suspiciousVendors {
		if strings.Contains(lower, v) {
			return finding{
				issue:          "Suspicious vendor detected: " + v,
				recommendation: "This appears to be a test/fake receipt",
			}
		}
	}
	for _, s := range sampleIndicators {
		if strings.Contains(lower, s) {
			return finding{
				issue:          "Sample receipt detected: " + s,
				recommendation: "Cannot submit sample/test receipts",
			}
		}
	}

	for _, p := range vendorPatterns {
		if p.MatchString(text) {
			return finding{ok: true}
		}
	}
	if len([]rune(text)) > 50 {
		return finding{
			issue:          "No clear vendor information found",
			recommendation: "Receipt should clearly show vendor/business name",
		}
	}
	return finding{ok: true}
}

func matchesCategoryPatterns(text, category string) bool {
	lower := strings.ToLower(text)

	var specific []*regexp.Regexp
	switch category {
	case "Travel":
		specific = []*regexp.Regexp{flightPattern, localTransitPattern}
	case "Meals":
		specific = []*regexp.Regexp{restaurantPattern, foodDeliveryPattern}
	case "Accommodation":
		specific = []*regexp.Regexp{hotelPattern}
	case "Equipment":
		specific = []*regexp.Regexp{officePattern}
	}
	for _, p := range specific {
		if p.MatchString(lower) {
			return true
		}
	}
	return generalReceiptPattern.MatchString(lower)
}

func checkContentConsistency(text string, amount decimal.Decimal, description string) finding {
	var issues []string

	amountStr := amount.StringFixed(2)
	if amount.Equal(amount.Truncate(0)) {
		amountStr = amount.StringFixed(0)
	}
	if !strings.Contains(text, amountStr) && !strings.Contains(text, amount.StringFixed(0)) {
		issues = append(issues, "Amount not found in receipt text")
	}
	if len(containsAny(text, currencySymbols)) == 0 {
		issues = append(issues, "No currency symbol found in receipt")
	}
	if len([]rune(strings.TrimSpace(description))) < 5 {
		issues = append(issues, "Description too short - may be placeholder")
	}
	if len([]rune(strings.TrimSpace(text))) < 20 {
		issues = append(issues, "Receipt text too short - may be incomplete")
	}

	if len(issues) == 0 {
		return finding{ok: true}
	}
	return finding{issue: issues[0], recommendation: "Review receipt content for completeness"}
}
