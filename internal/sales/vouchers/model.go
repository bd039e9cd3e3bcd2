package vouchers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/sales/shared"
)

// Voucher is a coupon definition managed outside this service.
type Voucher struct {
	ID                 int64
	Code               string
	Title              string
	DiscountAmount     decimal.NullDecimal
	DiscountPercent    decimal.NullDecimal
	InvoiceDescription string
	ValidFrom          *time.Time
	ValidUntil         *time.Time
	Active             bool
}

// AmountFor returns the voucher's value against the base package price.
// A positive fixed amount takes precedence over a percent.
func (v Voucher) AmountFor(packagePrice decimal.Decimal) decimal.Decimal {
	if v.DiscountAmount.Valid && v.DiscountAmount.Decimal.IsPositive() {
		return shared.Round2(v.DiscountAmount.Decimal)
	}
	if v.DiscountPercent.Valid {
		return shared.PercentOf(packagePrice, v.DiscountPercent.Decimal)
	}
	return decimal.Zero
}

// Description is the line item text for the voucher.
func (v Voucher) Description() string {
	if v.InvoiceDescription != "" {
		return v.InvoiceDescription
	}
	return "Voucher (" + v.Code + ")"
}

// ValidAt reports whether t falls inside the validity window.
func (v Voucher) ValidAt(t time.Time) bool {
	if !v.Active {
		return false
	}
	if v.ValidFrom != nil && t.Before(*v.ValidFrom) {
		return false
	}
	if v.ValidUntil != nil && t.After(*v.ValidUntil) {
		return false
	}
	return true
}
