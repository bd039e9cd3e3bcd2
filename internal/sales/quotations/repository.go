package quotations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/platform/db"
	"github.com/solarcalc/invoicing/internal/sales/customers"
	"github.com/solarcalc/invoicing/internal/sales/numbering"
	"github.com/solarcalc/invoicing/internal/sales/pricing"
	"github.com/solarcalc/invoicing/internal/shared"
)

// Repository reads documents and runs write transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByShareToken(ctx context.Context, token string) (*Document, error)
	// ListFamily returns every version sharing rootID, oldest first.
	ListFamily(ctx context.Context, rootID uuid.UUID) ([]Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, int, error)
	// LineItems returns a document's items ordered by (sort_order, line_no).
	LineItems(ctx context.Context, docID uuid.UUID) ([]pricing.LineItem, error)
	RecordView(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateShare(ctx context.Context, id uuid.UUID, state ShareState) error
	SoftDeleteFamily(ctx context.Context, rootID uuid.UUID) error
}

// TxRepository is the write surface available inside WithTx.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Document, error)
	InsertDocument(ctx context.Context, doc *Document) error
	InsertLineItems(ctx context.Context, docID uuid.UUID, items []pricing.LineItem) ([]uuid.UUID, error)
	SetLineItemRefs(ctx context.Context, docID uuid.UUID, ids []uuid.UUID) error
	// RetireLatest clears is_latest on id. It fails with shared.ErrConflict
	// when id is no longer the latest member of its family.
	RetireLatest(ctx context.Context, id uuid.UUID) error
	ClearShareToken(ctx context.Context, id uuid.UUID) error
	SetPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status Status, at time.Time) error
	Counters() numbering.Store
	Customers() customers.Repository
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// WithTx runs fn at READ COMMITTED. The counter row lock and the
// conditional latest flip provide the ordering writes need; serialization
// and deadlock aborts are retried, so fn must be safe to re-run.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.RetryTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const documentColumns = `
id, doc_number, version, root_id, parent_id, is_latest, status, created_by, COALESCE(agent_id, ''),
total_amount, customer_id, customer_name, COALESCE(customer_phone, ''), COALESCE(customer_address, ''),
package_id, package_name, COALESCE(template_id, ''),
agent_markup, discount_given, discount_fixed, discount_percent, voucher_codes, apply_sst,
epp_fee_amount, epp_fee_description, payment_notice, customer_notes, internal_notes, line_item_ids,
COALESCE(share_token, ''), share_enabled, share_expires_at, share_access_count, viewed_at,
paid_amount, paid_at, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var status string
	err := row.Scan(
		&d.ID, &d.Number, &d.Version, &d.RootID, &d.ParentID, &d.IsLatest, &status, &d.CreatedBy, &d.AgentID,
		&d.TotalAmount, &d.CustomerID, &d.CustomerName, &d.CustomerPhone, &d.CustomerAddress,
		&d.PackageID, &d.PackageName, &d.TemplateID,
		&d.AgentMarkup, &d.DiscountGiven, &d.DiscountFixed, &d.DiscountPercent, &d.VoucherCodes, &d.ApplySST,
		&d.EPPFeeAmount, &d.EPPFeeDescription, &d.PaymentNotice, &d.CustomerNotes, &d.InternalNotes, &d.LineItemIDs,
		&d.ShareToken, &d.ShareEnabled, &d.ShareExpiresAt, &d.ShareAccessCount, &d.ViewedAt,
		&d.PaidAmount, &d.PaidAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	d.Status = Status(status)
	return &d, nil
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM quotation_documents WHERE id = $1`, id))
}

func (r *repository) GetByShareToken(ctx context.Context, token string) (*Document, error) {
	return scanDocument(r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM quotation_documents WHERE share_token = $1`, token))
}

func (r *repository) ListFamily(ctx context.Context, rootID uuid.UUID) ([]Document, error) {
	rows, err := r.db.Query(ctx, `SELECT `+documentColumns+`
FROM quotation_documents WHERE root_id = $1 ORDER BY version ASC`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query family: %w", err)
	}
	return collectDocuments(rows)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	conditions := []string{"is_latest", "status <> 'deleted'"}
	var args []interface{}
	argPos := 1

	owner := fmt.Sprintf("created_by = ANY($%d)", argPos)
	args = append(args, filter.Owners)
	argPos++
	if filter.AgentID != "" {
		owner = fmt.Sprintf("(%s OR agent_id = $%d)", owner, argPos)
		args = append(args, filter.AgentID)
		argPos++
	}
	conditions = append(conditions, owner)

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM quotation_documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count quotations: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM quotation_documents WHERE %s
ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, documentColumns, where, argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list quotations: %w", err)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *repository) LineItems(ctx context.Context, docID uuid.UUID) ([]pricing.LineItem, error) {
	rows, err := r.db.Query(ctx, `
SELECT line_no, description, qty, unit_price, amount, item_type, sort_order
FROM quotation_line_items WHERE document_id = $1
ORDER BY sort_order ASC, line_no ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var items []pricing.LineItem
	for rows.Next() {
		var item pricing.LineItem
		var typ string
		if err := rows.Scan(&item.LineNo, &item.Description, &item.Qty, &item.UnitPrice, &item.Amount, &typ, &item.SortOrder); err != nil {
			return nil, err
		}
		item.Type = pricing.ItemType(typ)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) RecordView(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
UPDATE quotation_documents
SET share_access_count = share_access_count + 1, viewed_at = $2
WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateShare(ctx context.Context, id uuid.UUID, state ShareState) error {
	tag, err := r.db.Exec(ctx, `
UPDATE quotation_documents
SET share_token = $2, share_enabled = $3, share_expires_at = $4, updated_at = NOW()
WHERE id = $1 AND status <> 'deleted'`, id, nullText(state.Token), state.Enabled, state.ExpiresAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("share token: %w", shared.ErrConflict)
		}
		return fmt.Errorf("update share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SoftDeleteFamily(ctx context.Context, rootID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
UPDATE quotation_documents
SET status = 'deleted', share_enabled = FALSE, updated_at = NOW()
WHERE root_id = $1 AND status <> 'deleted'`, rootID)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Counters() numbering.Store {
	return numbering.NewPGStore(r.tx)
}

func (r *txRepository) Customers() customers.Repository {
	return customers.NewRepository(r.tx)
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM quotation_documents WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) InsertDocument(ctx context.Context, d *Document) error {
	codes := d.VoucherCodes
	if codes == nil {
		codes = []string{}
	}
	row := r.tx.QueryRow(ctx, `
INSERT INTO quotation_documents (
    id, doc_number, version, root_id, parent_id, is_latest, status, created_by, agent_id,
    total_amount, customer_id, customer_name, customer_phone, customer_address,
    package_id, package_name, template_id,
    agent_markup, discount_given, discount_fixed, discount_percent, voucher_codes, apply_sst,
    epp_fee_amount, epp_fee_description, payment_notice, customer_notes, internal_notes,
    share_token, share_enabled, share_expires_at, share_access_count, viewed_at,
    paid_amount, paid_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35)
RETURNING created_at, updated_at`,
		d.ID, d.Number, d.Version, d.RootID, d.ParentID, d.IsLatest, string(d.Status), d.CreatedBy, nullText(d.AgentID),
		d.TotalAmount, d.CustomerID, d.CustomerName, nullText(d.CustomerPhone), nullText(d.CustomerAddress),
		d.PackageID, d.PackageName, nullText(d.TemplateID),
		d.AgentMarkup, d.DiscountGiven, d.DiscountFixed, d.DiscountPercent, codes, d.ApplySST,
		d.EPPFeeAmount, d.EPPFeeDescription, d.PaymentNotice, d.CustomerNotes, d.InternalNotes,
		nullText(d.ShareToken), d.ShareEnabled, d.ShareExpiresAt, d.ShareAccessCount, d.ViewedAt,
		d.PaidAmount, d.PaidAt,
	)
	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("insert document (%s): %w", db.ConstraintName(err), shared.ErrConflict)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *txRepository) InsertLineItems(ctx context.Context, docID uuid.UUID, items []pricing.LineItem) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		id := uuid.New()
		if _, err := r.tx.Exec(ctx, `
INSERT INTO quotation_line_items (id, document_id, line_no, description, qty, unit_price, amount, item_type, sort_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			id, docID, item.LineNo, item.Description, item.Qty, item.UnitPrice, item.Amount, string(item.Type), item.SortOrder); err != nil {
			return nil, fmt.Errorf("insert line item %d: %w", item.LineNo, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *txRepository) SetLineItemRefs(ctx context.Context, docID uuid.UUID, ids []uuid.UUID) error {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	_, err := r.tx.Exec(ctx, `UPDATE quotation_documents SET line_item_ids = $2 WHERE id = $1`, docID, ids)
	if err != nil {
		return fmt.Errorf("set line item refs: %w", err)
	}
	return nil
}

func (r *txRepository) RetireLatest(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE quotation_documents SET is_latest = FALSE, updated_at = NOW()
WHERE id = $1 AND is_latest`, id)
	if err != nil {
		return fmt.Errorf("retire latest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s is not the latest version: %w", id, shared.ErrConflict)
	}
	return nil
}

func (r *txRepository) ClearShareToken(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `
UPDATE quotation_documents SET share_token = NULL, share_enabled = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear share token: %w", err)
	}
	return nil
}

func (r *txRepository) SetPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status Status, at time.Time) error {
	_, err := r.tx.Exec(ctx, `
UPDATE quotation_documents SET paid_amount = $2, status = $3, paid_at = $4, updated_at = NOW()
WHERE id = $1`, id, paid, string(status), at)
	if err != nil {
		return fmt.Errorf("set payment: %w", err)
	}
	return nil
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
