// Package discount parses the free-text discount field agents type into a
// structured fixed amount and percent.
//
// The grammar is two token kinds separated by whitespace or "+":
//
//	fixed   = [currency] number       e.g. "500", "RM1,200", "$ 50.5"
//	percent = number "%"              e.g. "10%", "12.5 %"
//
// When a kind repeats the last token wins. Anything else is ignored.
package discount

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencyMarkers = []string{"MYR", "RM", "$"}

// Expression is a parsed discount input.
type Expression struct {
	Fixed   decimal.Decimal `json:"fixed"`
	Percent decimal.Decimal `json:"percent"`
}

// IsZero reports whether the expression has no effect.
func (e Expression) IsZero() bool {
	return e.Fixed.IsZero() && e.Percent.IsZero()
}

// Equal compares both parts numerically.
func (e Expression) Equal(other Expression) bool {
	return e.Fixed.Equal(other.Fixed) && e.Percent.Equal(other.Percent)
}

// String returns the canonical form accepted by Parse, e.g. "500 10%".
func (e Expression) String() string {
	parts := make([]string, 0, 2)
	if !e.Fixed.IsZero() {
		parts = append(parts, e.Fixed.String())
	}
	if !e.Percent.IsZero() {
		parts = append(parts, e.Percent.String()+"%")
	}
	return strings.Join(parts, " ")
}

// Parse reads text into an Expression. It never fails.
func Parse(text string) Expression {
	var out Expression
	for _, tok := range tokenize(text) {
		if strings.HasSuffix(tok, "%") {
			if v, ok := number(strings.TrimSuffix(tok, "%")); ok {
				out.Percent = v
			}
			continue
		}
		if v, ok := number(stripCurrency(tok)); ok {
			out.Fixed = v
		}
	}
	return out
}

// tokenize splits on whitespace and "+" and glues a detached "%" or
// currency marker onto its number, so "10 %" and "RM 500" stay one token.
func tokenize(text string) []string {
	raw := strings.Fields(strings.ReplaceAll(text, "+", " "))
	tokens := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		switch {
		case tok == "%" && len(tokens) > 0:
			tokens[len(tokens)-1] += "%"
		case isCurrencyMarker(tok) && i+1 < len(raw):
			tokens = append(tokens, tok+raw[i+1])
			i++
		default:
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func isCurrencyMarker(tok string) bool {
	for _, m := range currencyMarkers {
		if strings.EqualFold(tok, m) {
			return true
		}
	}
	return false
}

func stripCurrency(tok string) string {
	upper := strings.ToUpper(tok)
	for _, m := range currencyMarkers {
		if strings.HasPrefix(upper, m) {
			return tok[len(m):]
		}
	}
	return tok
}

func number(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
