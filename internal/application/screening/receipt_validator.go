package screening

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Risk levels reported by the receipt validator
const (
	RiskLevelLow    = "Low"
	RiskLevelMedium = "Medium"
	RiskLevelHigh   = "High"
)

const (
	genuineThreshold = 60.0
	lowRiskThreshold = 80.0
	checkPassScore   = 70
	recentFileAge    = time.Minute
	smallFileBytes   = 1000
	largeFileBytes   = 10 * 1024 * 1024
	minReceiptWords  = 10
)

var suspiciousKeywords = []string{
	"sample", "demo", "test", "fake", "template", "example",
	"mock", "dummy", "placeholder", "specimen", "illustration",
}

var amountIndicators = []string{"total", "amount", "rs", "inr", "₹"}

var receiptFormatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:invoice|bill|receipt)\s*(?:no|number|#)?\s*[:\s]*([A-Z0-9\-]+)`),
	regexp.MustCompile(`(?i)(?:gst|tin|vat|tax)\s*(?:id|no)?\s*[:\s]*([A-Z0-9]+)`),
	regexp.MustCompile(`(?i)(?:phone|mobile|tel)\s*[:\s]*([0-9\-\s]+)`),
	regexp.MustCompile(`(?i)[\w\.-]+@[\w\.-]+\.\w+`),
}

var embeddedAmountPattern = regexp.MustCompile(`[₹Rs]?\s*([\d,]+\.?\d*)`)

// CheckResult is the outcome of one heuristic
type CheckResult struct {
	Score           int      `json:"score"`
	Passed          bool     `json:"passed"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}

// ReceiptReport aggregates all heuristics for one receipt
type ReceiptReport struct {
	IsGenuine       bool                   `json:"is_genuine"`
	ConfidenceScore float64                `json:"confidence_score"`
	RiskLevel       string                 `json:"risk_level"`
	RiskFactors     []string               `json:"risk_factors"`
	Recommendations []string               `json:"recommendations"`
	Checks          map[string]CheckResult `json:"checks"`
}

// Summary renders the report as one line
func (r *ReceiptReport) Summary() string {
	verdict := "Receipt appears genuine"
	if !r.IsGenuine {
		verdict = "Receipt may be fraudulent"
	}
	return fmt.Sprintf("%s (Confidence: %.1f%%, Risk: %s)", verdict, r.ConfidenceScore, r.RiskLevel)
}

type receiptInput struct {
	path   string
	text   string
	amount decimal.Decimal
	now    time.Time
	// upload marks a copy written moments ago by the service itself
	upload bool
}

type receiptCheck struct {
	name string
	run  func(in receiptInput) CheckResult
}

// ReceiptValidator scores how genuine a receipt looks. It is stateless and
// safe for concurrent use.
type ReceiptValidator struct {
	now    func() time.Time
	checks []receiptCheck
}

// ValidatorOption configures a ReceiptValidator
type ValidatorOption func(*ReceiptValidator)

// WithClock overrides the validator's notion of now
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *ReceiptValidator) {
		v.now = now
	}
}

// NewReceiptValidator creates a validator running the seven standard checks
func NewReceiptValidator(opts ...ValidatorOption) *ReceiptValidator {
	v := &ReceiptValidator{
		now: time.Now,
		checks: []receiptCheck{
			{"suspicious_keywords", checkSuspiciousKeywords},
			{"amount_consistency", checkAmountConsistency},
			{"date_validity", checkDateValidity},
			{"required_elements", checkRequiredElements},
			{"format_consistency", checkFormatConsistency},
			{"file_metadata", checkFileMetadata},
			{"logical_consistency", checkLogicalConsistency},
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every check and averages the scores
func (v *ReceiptValidator) Validate(filePath, text string, amount decimal.Decimal) *ReceiptReport {
	return v.run(receiptInput{path: filePath, text: text, amount: amount, now: v.now()})
}

// ValidateUpload validates a receipt staged from the request body. The
// file's age is not evidence of anything there; size still is.
func (v *ReceiptValidator) ValidateUpload(filePath, text string, amount decimal.Decimal) *ReceiptReport {
	return v.run(receiptInput{path: filePath, text: text, amount: amount, now: v.now(), upload: true})
}

func (v *ReceiptValidator) run(in receiptInput) *ReceiptReport {
	report := &ReceiptReport{
		RiskFactors:     []string{},
		Recommendations: []string{},
		Checks:          make(map[string]CheckResult, len(v.checks)),
	}

	total := 0
	for _, c := range v.checks {
		res := c.run(in)
		if res.Score < 0 {
			res.Score = 0
		}
		res.Passed = res.Score >= checkPassScore
		report.Checks[c.name] = res
		report.RiskFactors = append(report.RiskFactors, res.RiskFactors...)
		report.Recommendations = append(report.Recommendations, res.Recommendations...)
		total += res.Score
	}

	report.ConfidenceScore = float64(total) / float64(len(v.checks))
	report.IsGenuine = report.ConfidenceScore >= genuineThreshold

	switch {
	case report.ConfidenceScore >= lowRiskThreshold:
		report.RiskLevel = RiskLevelLow
	case report.ConfidenceScore >= genuineThreshold:
		report.RiskLevel = RiskLevelMedium
	default:
		report.RiskLevel = RiskLevelHigh
	}

	return report
}

func checkSuspiciousKeywords(in receiptInput) CheckResult {
	found := containsAny(strings.ToLower(in.text), suspiciousKeywords)
	if len(found) == 0 {
		return CheckResult{Score: 100}
	}
	return CheckResult{
		Score:           20,
		RiskFactors:     []string{"Suspicious keywords found: " + strings.Join(found, ", ")},
		Recommendations: []string{"Review receipt manually for authenticity"},
	}
}

func checkAmountConsistency(in receiptInput) CheckResult {
	res := CheckResult{Score: 100}
	thousand := decimal.NewFromInt(1000)

	if in.amount.Mod(thousand).IsZero() && in.amount.GreaterThan(thousand) {
		res.RiskFactors = append(res.RiskFactors, "Amount is a round number, which might be suspicious")
		res.Score -= 30
	}
	if in.amount.GreaterThan(decimal.NewFromInt(100000)) {
		res.RiskFactors = append(res.RiskFactors, "Unusually high amount for a typical expense")
		res.Recommendations = append(res.Recommendations, "Verify large expense with additional documentation")
		res.Score -= 20
	}
	if in.amount.LessThan(decimal.NewFromInt(10)) {
		res.RiskFactors = append(res.RiskFactors, "Very small amount might indicate test receipt")
		res.Score -= 15
	}
	return res
}

func checkDateValidity(in receiptInput) CheckResult {
	res := CheckResult{Score: 100}

	raw, parsed := findDates(in.text)
	if len(raw) == 0 {
		res.RiskFactors = append(res.RiskFactors, "No clear date found in receipt")
		res.Recommendations = append(res.Recommendations, "Ensure receipt includes a valid date")
		res.Score -= 40
	}
	for _, d := range parsed {
		if d.After(in.now) {
			res.RiskFactors = append(res.RiskFactors, "Future date found in receipt")
			res.Score -= 50
		}
	}
	return res
}

func checkRequiredElements(in receiptInput) CheckResult {
	var missing []string
	words := strings.Fields(in.text)

	head := words
	if len(head) > 10 {
		head = head[:10]
	}
	hasVendor := false
	for _, w := range head {
		if len([]rune(w)) > 3 {
			hasVendor = true
			break
		}
	}
	if !hasVendor {
		missing = append(missing, "vendor name")
	}
	if len(containsAny(strings.ToLower(in.text), amountIndicators)) == 0 {
		missing = append(missing, "amount indicators")
	}
	if len(words) < minReceiptWords {
		missing = append(missing, "item descriptions")
	}

	if len(missing) == 0 {
		return CheckResult{Score: 100}
	}
	return CheckResult{
		Score:           100 - 20*len(missing),
		RiskFactors:     []string{"Missing required elements: " + strings.Join(missing, ", ")},
		Recommendations: []string{"Ensure receipt includes all required information"},
	}
}

func checkFormatConsistency(in receiptInput) CheckResult {
	matches := 0
	for _, p := range receiptFormatPatterns {
		if p.MatchString(in.text) {
			matches++
		}
	}
	if matches >= 2 {
		return CheckResult{Score: 100}
	}
	return CheckResult{
		Score:           60,
		RiskFactors:     []string{"Receipt format doesn't match typical patterns"},
		Recommendations: []string{"Verify receipt format and structure"},
	}
}

// checkFileMetadata skips scratch copies under temp directories; their
// timestamps always look freshly created.
func checkFileMetadata(in receiptInput) CheckResult {
	normalized := strings.ToLower(strings.ReplaceAll(in.path, `\`, "/"))
	if strings.Contains(normalized, "/tmp/") || strings.Contains(normalized, "/temp/") {
		return CheckResult{Score: 100}
	}

	info, err := os.Stat(in.path)
	if err != nil {
		return CheckResult{
			Score:       90,
			RiskFactors: []string{fmt.Sprintf("Could not analyze file metadata: %v", err)},
		}
	}

	res := CheckResult{Score: 100}
	if !in.upload && in.now.Sub(info.ModTime()) < recentFileAge {
		res.RiskFactors = append(res.RiskFactors, "File was created very recently")
		res.Score -= 30
	}
	switch size := info.Size(); {
	case size < smallFileBytes:
		res.RiskFactors = append(res.RiskFactors, "File size is very small")
		res.Score -= 40
	case size > largeFileBytes:
		res.RiskFactors = append(res.RiskFactors, "File size is unusually large")
		res.Score -= 20
	}
	return res
}

func checkLogicalConsistency(in receiptInput) CheckResult {
	res := CheckResult{Score: 100}

	distinct := map[int64]bool{}
	for _, m := range embeddedAmountPattern.FindAllStringSubmatch(in.text, -1) {
		v, err := decimal.NewFromString(strings.TrimSuffix(strings.ReplaceAll(m[1], ",", ""), "."))
		if err != nil || !v.IsPositive() {
			continue
		}
		distinct[v.IntPart()] = true
	}
	if len(distinct) > 3 {
		res.RiskFactors = append(res.RiskFactors, "Multiple different amounts found")
		res.Recommendations = append(res.Recommendations, "Verify which amount is the correct total")
		res.Score -= 30
	}

	seen := map[string]int{}
	duplicated := false
	for _, line := range strings.Split(in.text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= 10 {
			continue
		}
		seen[line]++
		if seen[line] == 2 {
			duplicated = true
		}
	}
	if duplicated {
		res.RiskFactors = append(res.RiskFactors, "Duplicate lines found in receipt")
		res.Score -= 20
	}
	return res
}
