package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solarcalc/invoicing/internal/platform/db"
	"github.com/solarcalc/invoicing/internal/shared"
)

// Repository persists customers and their history.
type Repository interface {
	Get(ctx context.Context, id int64) (*Customer, error)
	FindByName(ctx context.Context, name string) (*Customer, error)
	// LockName serializes concurrent resolution of the same name until the
	// surrounding transaction ends.
	LockName(ctx context.Context, name string) error
	Create(ctx context.Context, c *Customer) error
	Update(ctx context.Context, c *Customer) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context, customerID int64) ([]HistoryEntry, error)
}

// QuotationLinks reports whether a live quotation created by one of owners,
// or assigned to agentID, is billed to the customer.
type QuotationLinks interface {
	Linked(ctx context.Context, customerID int64, owners []string, agentID string) (bool, error)
}

type pgRepository struct {
	q db.DBTX
}

// NewRepository binds a repository to a pool or transaction.
func NewRepository(q db.DBTX) Repository {
	return &pgRepository{q: q}
}

const customerColumns = `
id, customer_code, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, ''),
COALESCE(profile_image_url, ''), version, created_by, COALESCE(updated_by, ''), created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.Email, &c.Address,
		&c.ProfileImageURL, &c.Version, &c.CreatedBy, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &c, nil
}

func (r *pgRepository) Get(ctx context.Context, id int64) (*Customer, error) {
	return scanCustomer(r.q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (r *pgRepository) FindByName(ctx context.Context, name string) (*Customer, error) {
	return scanCustomer(r.q.QueryRow(ctx, `SELECT `+customerColumns+`
FROM customers WHERE name = $1 ORDER BY id ASC LIMIT 1`, name))
}

func (r *pgRepository) LockName(ctx context.Context, name string) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('customer:' || $1))`, name)
	if err != nil {
		return fmt.Errorf("lock customer name: %w", err)
	}
	return nil
}

func (r *pgRepository) Create(ctx context.Context, c *Customer) error {
	err := r.q.QueryRow(ctx, `
INSERT INTO customers (customer_code, name, phone, email, address, profile_image_url, version, created_by)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), 1, $7)
ON CONFLICT (customer_code) DO NOTHING
RETURNING id, version, created_at, updated_at`,
		c.Code, c.Name, c.Phone, c.Email, c.Address, c.ProfileImageURL, c.CreatedBy,
	).Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	// A code collision returns no row instead of aborting the transaction.
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("customer code %s: %w", c.Code, shared.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (r *pgRepository) Update(ctx context.Context, c *Customer) error {
	err := r.q.QueryRow(ctx, `
UPDATE customers
SET phone = NULLIF($2, ''), email = NULLIF($3, ''), address = NULLIF($4, ''),
    profile_image_url = NULLIF($5, ''), version = version + 1, updated_by = $6, updated_at = NOW()
WHERE id = $1
RETURNING version, updated_at`,
		c.ID, c.Phone, c.Email, c.Address, c.ProfileImageURL, c.UpdatedBy,
	).Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update customer %d: %w", c.ID, err)
	}
	return nil
}

func (r *pgRepository) InsertHistory(ctx context.Context, e HistoryEntry) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO customer_history (customer_id, name, phone, email, address, profile_image_url, version, changed_by)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		e.CustomerID, e.Name, e.Phone, e.Email, e.Address, e.ProfileImageURL, e.Version, e.ChangedBy)
	if err != nil {
		return fmt.Errorf("insert customer history: %w", err)
	}
	return nil
}

func (r *pgRepository) History(ctx context.Context, customerID int64) ([]HistoryEntry, error) {
	rows, err := r.q.Query(ctx, `
SELECT id, customer_id, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(address, ''),
       COALESCE(profile_image_url, ''), version, changed_by, changed_at
FROM customer_history
WHERE customer_id = $1
ORDER BY changed_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query customer history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Name, &e.Phone, &e.Email, &e.Address,
			&e.ProfileImageURL, &e.Version, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan customer history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgLinks struct {
	q db.DBTX
}

// NewQuotationLinks checks customer links against quotation_documents.
func NewQuotationLinks(q db.DBTX) QuotationLinks {
	return &pgLinks{q: q}
}

func (l *pgLinks) Linked(ctx context.Context, customerID int64, owners []string, agentID string) (bool, error) {
	var linked bool
	err := l.q.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM quotation_documents
    WHERE customer_id = $1 AND status <> 'deleted'
      AND (created_by = ANY($2) OR ($3 <> '' AND agent_id = $3))
)`, customerID, owners, agentID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("query customer links: %w", err)
	}
	return linked, nil
}
