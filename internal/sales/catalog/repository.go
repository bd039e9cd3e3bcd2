package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solarcalc/invoicing/internal/platform/db"
	"github.com/solarcalc/invoicing/internal/shared"
)

// Repository reads catalog rows from Postgres.
type Repository struct {
	q db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

// GetPackage returns the package or shared.ErrNotFound.
func (r *Repository) GetPackage(ctx context.Context, id string) (*Package, error) {
	var p Package
	err := r.q.QueryRow(ctx, `
SELECT id, name, price, COALESCE(invoice_description, ''), active
FROM packages WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.Price, &p.InvoiceDescription, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package %s: %w", id, err)
	}
	return &p, nil
}

const templateColumns = `
id, template_name, company_name, COALESCE(company_address, ''), COALESCE(company_phone, ''),
COALESCE(company_email, ''), COALESCE(sst_registration_no, ''), COALESCE(bank_name, ''),
COALESCE(bank_account_no, ''), COALESCE(bank_account_name, ''), COALESCE(terms_and_conditions, ''),
apply_sst, is_default, active`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.TemplateName, &t.CompanyName, &t.CompanyAddress, &t.CompanyPhone,
		&t.CompanyEmail, &t.SSTRegistrationNo, &t.BankName, &t.BankAccountNo, &t.BankAccountName,
		&t.TermsAndConditions, &t.ApplySST, &t.IsDefault, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	return &t, nil
}

// GetTemplate returns an active template by id.
func (r *Repository) GetTemplate(ctx context.Context, id string) (*Template, error) {
	return scanTemplate(r.q.QueryRow(ctx, `SELECT `+templateColumns+` FROM invoice_templates WHERE id = $1 AND active`, id))
}

// FallbackTemplate returns the default active template, or any active one.
func (r *Repository) FallbackTemplate(ctx context.Context) (*Template, error) {
	return scanTemplate(r.q.QueryRow(ctx, `SELECT `+templateColumns+`
FROM invoice_templates
WHERE active
ORDER BY is_default DESC, created_at ASC
LIMIT 1`))
}
