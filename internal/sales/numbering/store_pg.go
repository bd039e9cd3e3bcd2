package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solarcalc/invoicing/internal/platform/db"
)

// PGStore keeps the counter in sequence_counters.
type PGStore struct {
	q db.DBTX
}

// NewPGStore binds the store to a pool or transaction.
func NewPGStore(q db.DBTX) *PGStore {
	return &PGStore{q: q}
}

const incrementSQL = `
UPDATE sequence_counters
SET current_value = current_value + 1, updated_at = NOW()
WHERE name = $1
RETURNING current_value`

// Increment bumps the counter in one statement. The row lock serializes
// concurrent callers.
func (s *PGStore) Increment(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.q.QueryRow(ctx, incrementSQL, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCounterMissing
	}
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", name, err)
	}
	return value, nil
}

// MaxIssued scans quotation_documents for the highest numeric base value.
func (s *PGStore) MaxIssued(ctx context.Context, prefix string) (int64, error) {
	rows, err := s.q.Query(ctx, `SELECT doc_number FROM quotation_documents WHERE doc_number LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("scan numbers: %w", err)
	}
	defer rows.Close()

	var maxValue int64
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return 0, err
		}
		if v, ok := ParseValue(number, prefix); ok && v > maxValue {
			maxValue = v
		}
	}
	return maxValue, rows.Err()
}

// Init inserts the counter row unless another caller already did.
func (s *PGStore) Init(ctx context.Context, name string, value int64) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO sequence_counters (name, current_value)
VALUES ($1, $2)
ON CONFLICT (name) DO NOTHING`, name, value)
	if err != nil {
		return fmt.Errorf("insert counter %s: %w", name, err)
	}
	return nil
}
