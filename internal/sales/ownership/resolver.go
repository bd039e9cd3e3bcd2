// Package ownership decides whether an actor may read or mutate a
// quotation. Actors have carried several id schemes over time; every alias
// maps to one canonical actor id.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solarcalc/invoicing/internal/shared"
)

// AliasStore resolves identities. Lookups return shared.ErrNotFound when
// no row exists.
type AliasStore interface {
	CanonicalID(ctx context.Context, alias string) (string, error)
	Aliases(ctx context.Context, canonicalID string) ([]string, error)
	AgentProfile(ctx context.Context, canonicalID string) (string, error)
}

// Identities is everything an actor may appear as on a document.
type Identities struct {
	Canonical string
	IDs       []string
	AgentID   string
}

// Resolver answers ownership questions. Every lookup failure denies.
type Resolver struct {
	store  AliasStore
	logger *slog.Logger
}

// NewResolver constructs a resolver.
func NewResolver(store AliasStore, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Canonical maps id to its canonical actor id. Unknown ids are their own
// canonical id.
func (r *Resolver) Canonical(ctx context.Context, id string) (string, error) {
	canonical, err := r.store.CanonicalID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("ownership: canonical %s: %w", id, err)
	}
	return canonical, nil
}

// IsOwner checks, in order: a direct match, a match through aliases, and
// the actor's agent profile against the creator or assigned agent.
func (r *Resolver) IsOwner(ctx context.Context, actorID, creatorID, assignedAgentID string) bool {
	if actorID == "" {
		return false
	}
	if actorID == creatorID {
		return true
	}

	actor, err := r.Canonical(ctx, actorID)
	if err != nil {
		r.deny(actorID, err)
		return false
	}
	if creatorID != "" {
		creator, err := r.Canonical(ctx, creatorID)
		if err != nil {
			r.deny(actorID, err)
			return false
		}
		if actor == creator {
			return true
		}
	}

	agent, err := r.store.AgentProfile(ctx, actor)
	if errors.Is(err, shared.ErrNotFound) {
		return false
	}
	if err != nil {
		r.deny(actorID, err)
		return false
	}
	return agent != "" && (agent == creatorID || agent == assignedAgentID)
}

// Identities lists the canonical id, its aliases, and the agent profile.
func (r *Resolver) Identities(ctx context.Context, actorID string) (Identities, error) {
	canonical, err := r.Canonical(ctx, actorID)
	if err != nil {
		return Identities{}, err
	}
	aliases, err := r.store.Aliases(ctx, canonical)
	if err != nil {
		return Identities{}, fmt.Errorf("ownership: aliases: %w", err)
	}
	ids := []string{canonical}
	seen := map[string]struct{}{canonical: {}}
	for _, id := range append([]string{actorID}, aliases...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	out := Identities{Canonical: canonical, IDs: ids}
	agent, err := r.store.AgentProfile(ctx, canonical)
	switch {
	case err == nil:
		out.AgentID = agent
	case !errors.Is(err, shared.ErrNotFound):
		return Identities{}, fmt.Errorf("ownership: agent profile: %w", err)
	}
	return out, nil
}

func (r *Resolver) deny(actorID string, err error) {
	if r.logger != nil {
		r.logger.Warn("ownership lookup failed; denying", slog.String("actor_id", actorID), slog.Any("error", err))
	}
}
