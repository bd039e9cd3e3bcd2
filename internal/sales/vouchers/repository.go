package vouchers

import (
	"context"
	"fmt"
	"time"

	"github.com/solarcalc/invoicing/internal/platform/db"
)

// Repository reads vouchers from Postgres.
type Repository struct {
	q db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

const findActiveSQL = `
SELECT id, code, title, discount_amount, discount_percent,
       COALESCE(invoice_description, ''), valid_from, valid_until, active
FROM vouchers
WHERE UPPER(code) = ANY($1)
  AND active
  AND (valid_from IS NULL OR valid_from <= $2)
  AND (valid_until IS NULL OR valid_until >= $2)`

// FindActive returns active vouchers among codes valid at t.
func (r *Repository) FindActive(ctx context.Context, codes []string, at time.Time) ([]Voucher, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, findActiveSQL, codes, at)
	if err != nil {
		return nil, fmt.Errorf("query vouchers: %w", err)
	}
	defer rows.Close()

	var out []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(&v.ID, &v.Code, &v.Title, &v.DiscountAmount, &v.DiscountPercent,
			&v.InvoiceDescription, &v.ValidFrom, &v.ValidUntil, &v.Active); err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
