package services

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch/models"
)

// priceRegexp captures the first run of digits with grouping or decimal
// separators, ignoring currency symbols and words around it.
var priceRegexp = regexp.MustCompile(`\d[\d.,]*`)

// ParsePrice turns a free-text price ("3,50 MAD", "$1,200.50", "12 DH")
// into a positive decimal rounded to cents. A minus sign anywhere before the
// number rejects it.
//
// With both separators present the last one is the decimal mark. A lone
// comma or dot followed by exactly three digits is a thousands separator
// unless the integer part is zero; otherwise it is the decimal mark.
func ParsePrice(raw string) (decimal.Decimal, error) {
	loc := priceRegexp.FindStringIndex(raw)
	if loc == nil {
		return decimal.Zero, &models.ValidationError{Field: "price", Reason: "no number in " + quote(raw)}
	}
	if strings.ContainsAny(raw[:loc[0]], "-−") {
		return decimal.Zero, &models.ValidationError{Field: "price", Reason: "must be greater than zero"}
	}
	match := strings.TrimRight(raw[loc[0]:loc[1]], ".,")

	d, err := decimal.NewFromString(canonicalNumber(match))
	if err != nil {
		return decimal.Zero, &models.ValidationError{Field: "price", Reason: "unreadable number " + quote(raw)}
	}
	return ValidPrice(d)
}

// ValidPrice rounds an exact decimal to cents and rejects it unless the
// result is positive.
func ValidPrice(d decimal.Decimal) (decimal.Decimal, error) {
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, &models.ValidationError{Field: "price", Reason: "must be greater than zero"}
	}
	return d, nil
}

func canonicalNumber(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		return singleSeparator(s, ",")
	case lastDot >= 0:
		return singleSeparator(s, ".")
	}
	return s
}

func singleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	i := strings.Index(s, sep)
	if len(s)-i-1 == 3 && strings.TrimLeft(s[:i], "0") != "" {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

func quote(s string) string {
	return `"` + s + `"`
}
