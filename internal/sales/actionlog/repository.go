package actionlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/solarcalc/invoicing/internal/platform/db"
	"github.com/solarcalc/invoicing/internal/shared"
)

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	// ListFamily returns entries for every document sharing docID's root,
	// newest first, with snapshots stripped from Details.
	ListFamily(ctx context.Context, docID uuid.UUID) ([]Entry, error)
	Get(ctx context.Context, id int64) (*Entry, error)
}

// Repository is the Postgres Store.
type Repository struct {
	q db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

func (r *Repository) Insert(ctx context.Context, e Entry) error {
	_, err := r.q.Exec(ctx, `
INSERT INTO quotation_actions (document_id, action_type, actor_id, details)
VALUES ($1, $2, $3, $4)`, e.DocumentID, e.ActionType, e.ActorID, []byte(e.Details))
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

const listFamilySQL = `
SELECT a.id, a.document_id, a.action_type, a.actor_id,
       a.details - 'snapshot', a.details ? 'snapshot', a.created_at
FROM quotation_actions a
JOIN quotation_documents d ON d.id = a.document_id
WHERE d.root_id = (SELECT root_id FROM quotation_documents WHERE id = $1)
ORDER BY a.created_at DESC, a.id DESC`

func (r *Repository) ListFamily(ctx context.Context, docID uuid.UUID) ([]Entry, error) {
	rows, err := r.q.Query(ctx, listFamilySQL, docID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.ActionType, &e.ActorID, &details, &e.HasSnapshot, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		e.Details = details
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	var details []byte
	err := r.q.QueryRow(ctx, `
SELECT id, document_id, action_type, actor_id, details, details ? 'snapshot', created_at
FROM quotation_actions WHERE id = $1`, id).
		Scan(&e.ID, &e.DocumentID, &e.ActionType, &e.ActorID, &details, &e.HasSnapshot, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action %d: %w", id, err)
	}
	e.Details = details
	return &e, nil
}
