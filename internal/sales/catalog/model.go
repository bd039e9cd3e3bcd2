// Package catalog reads packages and invoice templates.
package catalog

import "github.com/shopspring/decimal"

// Package is a sellable solar package.
type Package struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	InvoiceDescription string          `json:"invoice_description,omitempty"`
	Active             bool            `json:"active"`
}

// LineDescription is the text printed on the package line item.
func (p Package) LineDescription() string {
	if p.InvoiceDescription != "" {
		return p.InvoiceDescription
	}
	if p.Name != "" {
		return p.Name
	}
	return "Package " + p.ID
}

// Template carries company and tax registration details for rendering.
type Template struct {
	ID                 string `json:"id"`
	TemplateName       string `json:"template_name"`
	CompanyName        string `json:"company_name"`
	CompanyAddress     string `json:"company_address,omitempty"`
	CompanyPhone       string `json:"company_phone,omitempty"`
	CompanyEmail       string `json:"company_email,omitempty"`
	SSTRegistrationNo  string `json:"sst_registration_no,omitempty"`
	BankName           string `json:"bank_name,omitempty"`
	BankAccountNo      string `json:"bank_account_no,omitempty"`
	BankAccountName    string `json:"bank_account_name,omitempty"`
	TermsAndConditions string `json:"terms_and_conditions,omitempty"`
	ApplySST           bool   `json:"apply_sst"`
	IsDefault          bool   `json:"is_default"`
	Active             bool   `json:"active"`
}

// TaxEnabled combines the requested SST flag with the template's own
// setting. Without a template the request decides.
func TaxEnabled(requested bool, tpl *Template) bool {
	if !requested {
		return false
	}
	return tpl == nil || tpl.ApplySST
}
