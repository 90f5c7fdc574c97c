package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountTier ranks how much a match can be trusted; lower is better
type amountTier int

const (
	tierFinalTotal amountTier = iota
	tierKeywordTotal
	tierCurrency
)

type amountPattern struct {
	re   *regexp.Regexp
	tier amountTier
}

// Indian currency receipts. Every pattern needs a currency marker or a total
// keyword so that UPI ids and phone numbers are not read as amounts.
var amountPatterns = []amountPattern{
	{regexp.MustCompile(`(?i)(?:total\s+(?:amount|paid|fare|price)|amount\s+paid|final\s+amount|grand\s+total|net\s+amount|bill\s+amount|sub\s+total)[\s:]*(?:₹|Rs\.?|INR)\s*([\d,]+(?:\.\d+)?)`), tierFinalTotal},
	{regexp.MustCompile(`(?i)(?:total|amount|price|cost|due|payable|net|fare|bill)[\s:]*(?:₹|Rs\.?|INR)\s*([\d,]+(?:\.\d+)?)`), tierKeywordTotal},
	{regexp.MustCompile(`(?i)(?:grand\s+total|net\s+total|total)\s*[:\-]?\s*([1-9]\d{0,6}(?:\.\d{1,2})?)\b`), tierKeywordTotal},
	{regexp.MustCompile(`(?i)(?:total|amount|price|cost|due|payable|fare|paid|bill|sum|charge)\s+(?:is|:|=)?\s*(?:Rs|rupees?|INR)\s*\.?\s*([\d,]+\.\d{1,2})`), tierKeywordTotal},
	{regexp.MustCompile(`₹\s*([\d,]+(?:\.\d{1,2})?)`), tierCurrency},
	{regexp.MustCompile(`(?i)\bRs\.?\s*([\d,]+(?:\.\d{1,2})?)`), tierCurrency},
	{regexp.MustCompile(`(?i)\bINR\s*([\d,]+(?:\.\d{1,2})?)`), tierCurrency},
	{regexp.MustCompile(`(?i)\brupees?\s+([\d,]+\.\d{1,2})`), tierCurrency},
	{regexp.MustCompile(`(?i)([\d,]+\.\d{1,2})\s*(?:Rs|INR|₹)`), tierCurrency},
}

var (
	minGuess = decimal.NewFromInt(10)
	maxGuess = decimal.RequireFromString("999999.99")
)

// GuessAmount returns the most trustworthy amount in text: the largest value
// of the best tier that matched. It returns nil when nothing plausible is found.
func GuessAmount(text string) *decimal.Decimal {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var best *decimal.Decimal
	bestTier := amountTier(-1)
	for _, p := range amountPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			value, ok := normalizeAmount(m[1])
			if !ok || value.LessThan(minGuess) {
				continue
			}
			switch {
			case best == nil, p.tier < bestTier:
				v := value
				best, bestTier = &v, p.tier
			case p.tier == bestTier && value.GreaterThan(*best):
				v := value
				best = &v
			}
		}
	}
	return best
}

// normalizeAmount parses Indian (1,23,456.50) and Western (123,456.50)
// grouping and rejects values that look like ids or years
func normalizeAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.Trim(raw, ".,")
	if raw == "" {
		return decimal.Zero, false
	}

	whole, frac, hasFrac := strings.Cut(raw, ".")
	digits := strings.ReplaceAll(whole, ",", "")
	if digits == "" {
		return decimal.Zero, false
	}
	if !hasFrac && len(digits) > 5 {
		return decimal.Zero, false
	}
	if hasFrac {
		if strings.Contains(frac, ".") || strings.Contains(frac, ",") {
			return decimal.Zero, false
		}
		if len(frac) > 2 {
			frac = frac[:2]
		}
		digits += "." + frac
	}

	value, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, false
	}
	if value.LessThan(decimal.RequireFromString("0.01")) || value.GreaterThan(maxGuess) {
		return decimal.Zero, false
	}
	if !hasFrac && len(digits) == 4 && value.IntPart() >= 1900 && value.IntPart() <= 2099 {
		return decimal.Zero, false
	}
	return value, true
}
