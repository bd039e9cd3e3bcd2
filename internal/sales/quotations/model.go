// Package quotations manages quotation documents: pricing, the append-only
// version chain, sharing, and payment capture.
package quotations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/sales/catalog"
	"github.com/solarcalc/invoicing/internal/sales/pricing"
)

// Status is the commercial state of a document.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
	StatusDeleted       Status = "deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartiallyPaid, StatusPaid, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// Payable reports whether payments may still be recorded.
func (s Status) Payable() bool {
	return s == StatusDraft || s == StatusSent || s == StatusPartiallyPaid
}

// Settle derives the payment status of a document holding paid against
// total. Cancelled documents and documents with nothing paid keep their
// status.
func (s Status) Settle(paid, total decimal.Decimal) Status {
	if s == StatusCancelled || s == StatusDeleted || !paid.IsPositive() {
		return s
	}
	if paid.GreaterThanOrEqual(total) {
		return StatusPaid
	}
	return StatusPartiallyPaid
}

// SampleCustomerName is printed when a quotation has no customer.
const SampleCustomerName = "Sample Quotation"

// Document is one immutable version of a quotation. Only the share,
// payment, view and latest-flag columns change after insert.
type Document struct {
	ID        uuid.UUID  `json:"id"`
	Number    string     `json:"doc_number"`
	Version   int        `json:"version"`
	RootID    uuid.UUID  `json:"root_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	IsLatest  bool       `json:"is_latest"`
	Status    Status     `json:"status"`
	CreatedBy string     `json:"created_by"`
	AgentID   string     `json:"agent_id,omitempty"`

	TotalAmount decimal.Decimal `json:"total_amount"`

	CustomerID      *int64 `json:"customer_id,omitempty"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	CustomerAddress string `json:"customer_address,omitempty"`

	PackageID   string `json:"package_id"`
	PackageName string `json:"package_name"`
	TemplateID  string `json:"template_id,omitempty"`

	// Calculator inputs, kept so a revision can start from them.
	AgentMarkup       decimal.Decimal `json:"agent_markup"`
	DiscountGiven     string          `json:"discount_given,omitempty"`
	DiscountFixed     decimal.Decimal `json:"discount_fixed"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"`
	VoucherCodes      []string        `json:"voucher_codes"`
	ApplySST          bool            `json:"apply_sst"`
	EPPFeeAmount      decimal.Decimal `json:"epp_fee_amount"`
	EPPFeeDescription string          `json:"epp_fee_description,omitempty"`
	PaymentNotice     string          `json:"payment_notice,omitempty"`

	CustomerNotes string `json:"customer_notes,omitempty"`
	InternalNotes string `json:"internal_notes,omitempty"`

	LineItemIDs []uuid.UUID `json:"line_item_ids"`

	ShareToken       string     `json:"share_token,omitempty"`
	ShareEnabled     bool       `json:"share_enabled"`
	ShareExpiresAt   *time.Time `json:"share_expires_at,omitempty"`
	ShareAccessCount int        `json:"share_access_count"`
	ViewedAt         *time.Time `json:"viewed_at,omitempty"`

	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Shared reports whether the public link is live at t.
func (d *Document) Shared(t time.Time) bool {
	if !d.ShareEnabled || d.ShareToken == "" {
		return false
	}
	return d.ShareExpiresAt == nil || t.Before(*d.ShareExpiresAt)
}

// Resolved is a document with its ordered line items and rendering context.
type Resolved struct {
	Document
	LineItems []pricing.LineItem `json:"line_items"`
	Summary   pricing.Summary    `json:"summary"`
	Template  *catalog.Template  `json:"template,omitempty"`
}

// ListFilter selects latest documents for a listing.
type ListFilter struct {
	// Owners matches created_by against every identity of the actor.
	Owners  []string
	AgentID string
	Status  Status
	Limit   int
	Offset  int
}

// ShareState is the share columns written by UpdateShare.
type ShareState struct {
	Token     string
	Enabled   bool
	ExpiresAt *time.Time
}

// Public strips the fields only the owner may see.
func (r Resolved) Public() Resolved {
	out := r
	out.CreatedBy = ""
	out.AgentID = ""
	out.AgentMarkup = decimal.Zero
	out.InternalNotes = ""
	out.CustomerID = nil
	return out
}
