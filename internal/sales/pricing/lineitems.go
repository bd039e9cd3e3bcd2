package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/sales/shared"
)

// ItemType tags a line item.
type ItemType string

const (
	ItemPackage  ItemType = "package"
	ItemExtra    ItemType = "extra"
	ItemDiscount ItemType = "discount"
	ItemVoucher  ItemType = "voucher"
	ItemEPPFee   ItemType = "epp_fee"
	ItemNotice   ItemType = "notice"
	ItemTax      ItemType = "tax"
)

// Sort bands. Extras occupy SortExtras+i.
const (
	SortPackage  = 0
	SortExtras   = 50
	SortDiscount = 100
	SortVoucher  = 101
	SortEPPFee   = 200
	SortNotice   = 250
	SortTax      = 300
)

// LineItem is one materialized entry.
type LineItem struct {
	LineNo      int             `json:"line_no"`
	Description string          `json:"description"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	Type        ItemType        `json:"item_type"`
	SortOrder   int             `json:"sort_order"`
}

// VoucherLine is a resolved voucher ready to be priced.
type VoucherLine struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Quote carries everything needed to price and materialize one document.
type Quote struct {
	PackageDescription      string
	PackagePrice            decimal.Decimal
	Markup                  decimal.Decimal
	Extras                  []ExtraItem
	FixedDiscount           decimal.Decimal
	PercentDiscount         decimal.Decimal
	Vouchers                []VoucherLine
	TaxEnabled              bool
	FinancingFee            decimal.Decimal
	FinancingFeeDescription string
	PaymentNotice           string
}

// Inputs projects the quote onto calculator inputs.
func (q Quote) Inputs() Inputs {
	amounts := make([]decimal.Decimal, len(q.Vouchers))
	for i, v := range q.Vouchers {
		amounts[i] = v.Amount
	}
	return Inputs{
		PackagePrice:    q.PackagePrice,
		Markup:          q.Markup,
		Extras:          q.Extras,
		FixedDiscount:   q.FixedDiscount,
		PercentDiscount: q.PercentDiscount,
		Vouchers:        amounts,
		TaxEnabled:      q.TaxEnabled,
		FinancingFee:    q.FinancingFee,
	}
}

// Price computes the breakdown and the matching line items.
func Price(q Quote) (Breakdown, []LineItem) {
	b := Calculate(q.Inputs())
	return b, Materialize(q, b)
}

// Materialize emits line items whose amounts sum to b.FinalTotal.
func Materialize(q Quote, b Breakdown) []LineItem {
	items := make([]LineItem, 0, 6+len(q.Extras)+len(q.Vouchers))
	add := func(item LineItem) {
		item.LineNo = len(items) + 1
		items = append(items, item)
	}

	add(LineItem{
		Description: q.PackageDescription,
		Qty:         decimal.NewFromInt(1),
		UnitPrice:   b.PriceWithMarkup,
		Amount:      b.PriceWithMarkup,
		Type:        ItemPackage,
		SortOrder:   SortPackage,
	})

	for i, extra := range q.Extras {
		add(LineItem{
			Description: extra.Description,
			Qty:         extra.Qty,
			UnitPrice:   shared.Round2(extra.UnitPrice),
			Amount:      extra.Amount(),
			Type:        ItemExtra,
			SortOrder:   SortExtras + i,
		})
	}

	if b.AppliedFixedDiscount.IsPositive() {
		add(deduction("Discount ("+shared.FormatMoney(q.FixedDiscount)+")", b.AppliedFixedDiscount, ItemDiscount, SortDiscount))
	}
	if b.AppliedPercentDiscount.IsPositive() {
		add(deduction("Discount ("+shared.FormatPercent(q.PercentDiscount)+")", b.AppliedPercentDiscount, ItemDiscount, SortDiscount))
	}
	for i, v := range q.Vouchers {
		if i >= len(b.AppliedVouchers) || !b.AppliedVouchers[i].IsPositive() {
			continue
		}
		add(deduction(v.Description, b.AppliedVouchers[i], ItemVoucher, SortVoucher))
	}

	if b.FinancingFee.IsPositive() {
		desc := "Bank Processing Fee"
		if d := strings.TrimSpace(q.FinancingFeeDescription); d != "" {
			desc += " (" + d + ")"
		}
		add(LineItem{
			Description: desc,
			Qty:         decimal.NewFromInt(1),
			UnitPrice:   b.FinancingFee,
			Amount:      b.FinancingFee,
			Type:        ItemEPPFee,
			SortOrder:   SortEPPFee,
		})
	}

	if notice := strings.TrimSpace(q.PaymentNotice); notice != "" {
		add(LineItem{
			Description: notice,
			Qty:         decimal.NewFromInt(1),
			UnitPrice:   decimal.Zero,
			Amount:      decimal.Zero,
			Type:        ItemNotice,
			SortOrder:   SortNotice,
		})
	}

	if q.TaxEnabled {
		add(LineItem{
			Description: "SST (" + shared.FormatPercent(SSTRate) + ")",
			Qty:         decimal.NewFromInt(1),
			UnitPrice:   b.TaxAmount,
			Amount:      b.TaxAmount,
			Type:        ItemTax,
			SortOrder:   SortTax,
		})
	}

	return items
}

func deduction(desc string, amount decimal.Decimal, typ ItemType, sortOrder int) LineItem {
	neg := amount.Neg()
	return LineItem{
		Description: desc,
		Qty:         decimal.NewFromInt(1),
		UnitPrice:   neg,
		Amount:      neg,
		Type:        typ,
		SortOrder:   sortOrder,
	}
}

// Sort orders items by band, then by line number.
func Sort(items []LineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].LineNo < items[j].LineNo
	})
}

// Summary is derived from stored line items.
type Summary struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Deductions   decimal.Decimal `json:"deductions"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	FinancingFee decimal.Decimal `json:"financing_fee"`
	Total        decimal.Decimal `json:"total"`
}

// Summarize re-scans items. Subtotal is the taxable subtotal: everything
// except tax and the financing fee.
func Summarize(items []LineItem) Summary {
	s := Summary{
		Subtotal:     decimal.Zero,
		Deductions:   decimal.Zero,
		TaxAmount:    decimal.Zero,
		FinancingFee: decimal.Zero,
		Total:        decimal.Zero,
	}
	for _, item := range items {
		s.Total = s.Total.Add(item.Amount)
		switch item.Type {
		case ItemTax:
			s.TaxAmount = s.TaxAmount.Add(item.Amount)
		case ItemEPPFee:
			s.FinancingFee = s.FinancingFee.Add(item.Amount)
		case ItemDiscount, ItemVoucher:
			s.Deductions = s.Deductions.Add(item.Amount.Neg())
			s.Subtotal = s.Subtotal.Add(item.Amount)
		default:
			s.Subtotal = s.Subtotal.Add(item.Amount)
		}
	}
	return s
}

// Extras returns the extra items carried by a stored item list.
func Extras(items []LineItem) []ExtraItem {
	var out []ExtraItem
	sorted := append([]LineItem(nil), items...)
	Sort(sorted)
	for _, item := range sorted {
		if item.Type != ItemExtra {
			continue
		}
		out = append(out, ExtraItem{Description: item.Description, Qty: item.Qty, UnitPrice: item.UnitPrice})
	}
	return out
}
