package voucher

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ones = []string{"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
		"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen", "Seventeen", "Eighteen", "Nineteen"}
	tens = []string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety"}
)

// AmountInWords spells a rupee amount using the Indian numbering system,
// e.g. 123456.50 -> "Rupees One Lakh Twenty Three Thousand Four Hundred Fifty Six and Fifty Paise Only"
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Abs().Round(2)
	rupees := amount.IntPart()
	paise := amount.Sub(decimal.NewFromInt(rupees)).Mul(decimal.NewFromInt(100)).IntPart()

	words := "Zero"
	if rupees > 0 {
		words = indianWords(rupees)
	}
	out := "Rupees " + words
	if paise > 0 {
		out += " and " + belowHundred(paise) + " Paise"
	}
	return out + " Only"
}

func indianWords(n int64) string {
	var parts []string
	for _, unit := range []struct {
		size int64
		name string
	}{
		{10000000, "Crore"},
		{100000, "Lakh"},
		{1000, "Thousand"},
		{100, "Hundred"},
	} {
		if n >= unit.size {
			q := n / unit.size
			var qw string
			if q >= 100 {
				qw = indianWords(q)
			} else {
				qw = belowHundred(q)
			}
			parts = append(parts, qw+" "+unit.name)
			n %= unit.size
		}
	}
	if n > 0 {
		parts = append(parts, belowHundred(n))
	}
	return strings.Join(parts, " ")
}

func belowHundred(n int64) string {
	if n < 20 {
		return ones[n]
	}
	if n%10 == 0 {
		return tens[n/10]
	}
	return tens[n/10] + " " + ones[n%10]
}
