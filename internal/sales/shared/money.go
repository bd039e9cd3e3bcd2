// Package shared holds money helpers used by every sales package.
package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CurrencyPrefix is printed before amounts in line descriptions.
const CurrencyPrefix = "RM"

var (
	hundred = decimal.NewFromInt(100)
	printer = message.NewPrinter(language.English)
)

// Round2 rounds to cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PercentOf returns base × percent/100 rounded to cents.
func PercentOf(base, percent decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(percent).Div(hundred))
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// FormatMoney renders d with grouping, e.g. "RM 1,200.00".
func FormatMoney(d decimal.Decimal) string {
	return CurrencyPrefix + " " + FormatAmount(d)
}

// FormatAmount renders d with thousands grouping and two decimals.
func FormatAmount(d decimal.Decimal) string {
	return printer.Sprintf("%.2f", Round2(d).InexactFloat64())
}

// FormatPercent renders a percent without trailing zeros, e.g. "12.5%".
func FormatPercent(p decimal.Decimal) string {
	return p.String() + "%"
}
