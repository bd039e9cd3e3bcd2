package quotations

import (
	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/sales/customers"
	"github.com/solarcalc/invoicing/internal/sales/pricing"
)

// CreateRequest describes a quotation to price or create.
type CreateRequest struct {
	PackageID  string           `json:"package_id" validate:"required,max=64"`
	TemplateID string           `json:"template_id,omitempty" validate:"omitempty,max=64"`
	AgentID    string           `json:"agent_id,omitempty" validate:"omitempty,max=64"`
	Customer   *customers.Input `json:"customer,omitempty"`

	AgentMarkup       decimal.Decimal     `json:"agent_markup"`
	DiscountGiven     string              `json:"discount_given,omitempty" validate:"max=100"`
	VoucherCodes      []string            `json:"voucher_codes,omitempty" validate:"max=20,dive,max=50"`
	ExtraItems        []pricing.ExtraItem `json:"extra_items,omitempty" validate:"max=50,dive"`
	ApplySST          bool                `json:"apply_sst"`
	EPPFeeAmount      decimal.Decimal     `json:"epp_fee_amount"`
	EPPFeeDescription string              `json:"epp_fee_description,omitempty" validate:"max=200"`
	PaymentNotice     string              `json:"payment_notice,omitempty" validate:"max=500"`

	CustomerNotes string `json:"customer_notes,omitempty" validate:"max=2000"`
	InternalNotes string `json:"internal_notes,omitempty" validate:"max=2000"`
}

// ReviseRequest layers changes over a document's stored inputs. Nil fields
// keep the source value.
type ReviseRequest struct {
	PackageID  *string          `json:"package_id,omitempty"`
	TemplateID *string          `json:"template_id,omitempty"`
	AgentID    *string          `json:"agent_id,omitempty"`
	Customer   *customers.Input `json:"customer,omitempty"`

	AgentMarkup       *decimal.Decimal     `json:"agent_markup,omitempty"`
	DiscountGiven     *string              `json:"discount_given,omitempty"`
	VoucherCodes      *[]string            `json:"voucher_codes,omitempty"`
	ExtraItems        *[]pricing.ExtraItem `json:"extra_items,omitempty"`
	ApplySST          *bool                `json:"apply_sst,omitempty"`
	EPPFeeAmount      *decimal.Decimal     `json:"epp_fee_amount,omitempty"`
	EPPFeeDescription *string              `json:"epp_fee_description,omitempty"`
	PaymentNotice     *string              `json:"payment_notice,omitempty"`

	CustomerNotes *string `json:"customer_notes,omitempty"`
	InternalNotes *string `json:"internal_notes,omitempty"`

	// Silent keeps the predecessor's number and share link. It is chosen by
	// the route, not the body.
	Silent bool `json:"-"`
}

func (r ReviseRequest) apply(base CreateRequest) CreateRequest {
	out := base
	if r.PackageID != nil {
		out.PackageID = *r.PackageID
	}
	if r.TemplateID != nil {
		out.TemplateID = *r.TemplateID
	}
	if r.AgentID != nil {
		out.AgentID = *r.AgentID
	}
	if r.Customer != nil {
		c := *r.Customer
		out.Customer = &c
	}
	if r.AgentMarkup != nil {
		out.AgentMarkup = *r.AgentMarkup
	}
	if r.DiscountGiven != nil {
		out.DiscountGiven = *r.DiscountGiven
	}
	if r.VoucherCodes != nil {
		out.VoucherCodes = append([]string(nil), (*r.VoucherCodes)...)
	}
	if r.ExtraItems != nil {
		out.ExtraItems = append([]pricing.ExtraItem(nil), (*r.ExtraItems)...)
	}
	if r.ApplySST != nil {
		out.ApplySST = *r.ApplySST
	}
	if r.EPPFeeAmount != nil {
		out.EPPFeeAmount = *r.EPPFeeAmount
	}
	if r.EPPFeeDescription != nil {
		out.EPPFeeDescription = *r.EPPFeeDescription
	}
	if r.PaymentNotice != nil {
		out.PaymentNotice = *r.PaymentNotice
	}
	if r.CustomerNotes != nil {
		out.CustomerNotes = *r.CustomerNotes
	}
	if r.InternalNotes != nil {
		out.InternalNotes = *r.InternalNotes
	}
	return out
}

// requestFrom rebuilds the inputs a document was priced from. Extras come
// from its stored extra line items.
func requestFrom(doc *Document, items []pricing.LineItem) CreateRequest {
	return CreateRequest{
		PackageID:         doc.PackageID,
		TemplateID:        doc.TemplateID,
		AgentID:           doc.AgentID,
		AgentMarkup:       doc.AgentMarkup,
		DiscountGiven:     doc.DiscountGiven,
		VoucherCodes:      append([]string(nil), doc.VoucherCodes...),
		ExtraItems:        pricing.Extras(items),
		ApplySST:          doc.ApplySST,
		EPPFeeAmount:      doc.EPPFeeAmount,
		EPPFeeDescription: doc.EPPFeeDescription,
		PaymentNotice:     doc.PaymentNotice,
		CustomerNotes:     doc.CustomerNotes,
		InternalNotes:     doc.InternalNotes,
	}
}

// Preview is a priced quotation that has not been written.
type Preview struct {
	PackageID       string             `json:"package_id"`
	PackageName     string             `json:"package_name"`
	TemplateID      string             `json:"template_id,omitempty"`
	TaxEnabled      bool               `json:"tax_enabled"`
	Discount        string             `json:"discount,omitempty"`
	AppliedVouchers []string           `json:"applied_vouchers"`
	Breakdown       pricing.Breakdown  `json:"breakdown"`
	LineItems       []pricing.LineItem `json:"line_items"`
	Summary         pricing.Summary    `json:"summary"`
}

// ShareRequest toggles or rotates the public link.
type ShareRequest struct {
	Enabled bool `json:"enabled"`
	// ExpiresInDays resets the expiry from now. Zero keeps the current one.
	ExpiresInDays int  `json:"expires_in_days" validate:"gte=0,lte=365"`
	Rotate        bool `json:"rotate"`
}

// PaymentRequest records money received against a document.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ListResponse is a page of latest documents.
type ListResponse struct {
	Items  []Document `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

type shareResponse struct {
	*Document
	ShareURL string `json:"share_url,omitempty"`
}
