package ownership

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solarcalc/invoicing/internal/platform/db"
	"github.com/solarcalc/invoicing/internal/shared"
)

// Repository reads actor_aliases and agent_profiles.
type Repository struct {
	q db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(q db.DBTX) *Repository {
	return &Repository{q: q}
}

func (r *Repository) CanonicalID(ctx context.Context, alias string) (string, error) {
	var id string
	err := r.q.QueryRow(ctx, `SELECT actor_id FROM actor_aliases WHERE alias = $1`, alias).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query alias: %w", err)
	}
	return id, nil
}

func (r *Repository) Aliases(ctx context.Context, canonicalID string) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT alias FROM actor_aliases WHERE actor_id = $1 ORDER BY alias`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) AgentProfile(ctx context.Context, canonicalID string) (string, error) {
	var agent string
	err := r.q.QueryRow(ctx, `SELECT agent_id FROM agent_profiles WHERE actor_id = $1`, canonicalID).Scan(&agent)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query agent profile: %w", err)
	}
	return agent, nil
}
