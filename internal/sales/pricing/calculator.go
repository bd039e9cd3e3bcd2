// Package pricing computes quotation totals and turns them into ordered
// line items. Calculate is the only place totals are computed.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/sales/shared"
)

// SSTRate is the consumption tax percent.
var SSTRate = decimal.NewFromInt(6)

// ExtraItem is an agent-entered adjustment line. UnitPrice may be negative.
type ExtraItem struct {
	Description string          `json:"description" validate:"required,max=200"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount is the rounded extended amount.
func (e ExtraItem) Amount() decimal.Decimal {
	return shared.Round2(e.Qty.Mul(shared.Round2(e.UnitPrice)))
}

// Inputs are the adjustments that determine a total.
type Inputs struct {
	PackagePrice    decimal.Decimal
	Markup          decimal.Decimal
	Extras          []ExtraItem
	FixedDiscount   decimal.Decimal
	PercentDiscount decimal.Decimal
	// Vouchers holds each resolved voucher amount in application order.
	Vouchers     []decimal.Decimal
	TaxEnabled   bool
	FinancingFee decimal.Decimal
}

// Breakdown is the result of Calculate.
type Breakdown struct {
	PriceWithMarkup      decimal.Decimal `json:"price_with_markup"`
	ExtraItemsTotal      decimal.Decimal `json:"extra_items_total"`
	PercentDiscountValue decimal.Decimal `json:"percent_discount_value"`
	TotalVoucherAmount   decimal.Decimal `json:"total_voucher_amount"`
	TaxableSubtotal      decimal.Decimal `json:"taxable_subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	FinancingFee         decimal.Decimal `json:"financing_fee"`
	FinalTotal           decimal.Decimal `json:"final_total"`

	// Applied deductions are capped so they never take the subtotal below
	// zero. They equal the requested values whenever TaxableSubtotal > 0.
	AppliedFixedDiscount   decimal.Decimal   `json:"applied_fixed_discount"`
	AppliedPercentDiscount decimal.Decimal   `json:"applied_percent_discount"`
	AppliedVouchers        []decimal.Decimal `json:"applied_vouchers"`
}

// Equal compares every monetary field.
func (b Breakdown) Equal(o Breakdown) bool {
	if len(b.AppliedVouchers) != len(o.AppliedVouchers) {
		return false
	}
	for i := range b.AppliedVouchers {
		if !b.AppliedVouchers[i].Equal(o.AppliedVouchers[i]) {
			return false
		}
	}
	return b.PriceWithMarkup.Equal(o.PriceWithMarkup) &&
		b.ExtraItemsTotal.Equal(o.ExtraItemsTotal) &&
		b.PercentDiscountValue.Equal(o.PercentDiscountValue) &&
		b.TotalVoucherAmount.Equal(o.TotalVoucherAmount) &&
		b.TaxableSubtotal.Equal(o.TaxableSubtotal) &&
		b.TaxAmount.Equal(o.TaxAmount) &&
		b.FinancingFee.Equal(o.FinancingFee) &&
		b.FinalTotal.Equal(o.FinalTotal) &&
		b.AppliedFixedDiscount.Equal(o.AppliedFixedDiscount) &&
		b.AppliedPercentDiscount.Equal(o.AppliedPercentDiscount)
}

// Calculate computes the total. Order of operations:
//
//  1. priceWithMarkup = packagePrice + markup
//  2. extraItemsTotal = Σ qty × unitPrice
//  3. percentDiscountValue = packagePrice × percent/100
//  4. taxableSubtotal = max(0, priceWithMarkup + extras − fixed − percent − vouchers)
//  5. taxAmount = taxableSubtotal × SST when enabled
//  6. finalTotal = taxableSubtotal + taxAmount + financingFee
//
// Every component is rounded to cents before it is summed.
func Calculate(in Inputs) Breakdown {
	var b Breakdown

	packagePrice := shared.Round2(in.PackagePrice)
	b.PriceWithMarkup = packagePrice.Add(shared.Round2(in.Markup))

	b.ExtraItemsTotal = decimal.Zero
	for _, item := range in.Extras {
		b.ExtraItemsTotal = b.ExtraItemsTotal.Add(item.Amount())
	}

	b.PercentDiscountValue = shared.PercentOf(packagePrice, in.PercentDiscount)

	fixed := shared.Round2(in.FixedDiscount)
	b.TotalVoucherAmount = decimal.Zero
	vouchers := make([]decimal.Decimal, len(in.Vouchers))
	for i, v := range in.Vouchers {
		vouchers[i] = shared.Round2(v)
		b.TotalVoucherAmount = b.TotalVoucherAmount.Add(vouchers[i])
	}

	gross := b.PriceWithMarkup.Add(b.ExtraItemsTotal)
	b.TaxableSubtotal = shared.NonNegative(
		gross.Sub(fixed).Sub(b.PercentDiscountValue).Sub(b.TotalVoucherAmount),
	)

	b.TaxAmount = decimal.Zero
	if in.TaxEnabled {
		b.TaxAmount = shared.PercentOf(b.TaxableSubtotal, SSTRate)
	}

	b.FinancingFee = shared.Round2(in.FinancingFee)
	b.FinalTotal = b.TaxableSubtotal.Add(b.TaxAmount).Add(b.FinancingFee)

	available := shared.NonNegative(gross)
	b.AppliedFixedDiscount, available = deduct(fixed, available)
	b.AppliedPercentDiscount, available = deduct(b.PercentDiscountValue, available)
	b.AppliedVouchers = make([]decimal.Decimal, len(vouchers))
	for i, v := range vouchers {
		b.AppliedVouchers[i], available = deduct(v, available)
	}

	return b
}

func deduct(requested, available decimal.Decimal) (applied, remaining decimal.Decimal) {
	applied = decimal.Min(shared.NonNegative(requested), available)
	return applied, available.Sub(applied)
}
