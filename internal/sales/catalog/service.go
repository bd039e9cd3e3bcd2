package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/solarcalc/invoicing/internal/shared"
)

// Store is the read surface the service needs.
type Store interface {
	GetPackage(ctx context.Context, id string) (*Package, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
	FallbackTemplate(ctx context.Context) (*Template, error)
}

// Service resolves catalog dependencies for quotations.
type Service struct {
	store Store
}

// NewService constructs a catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Package returns an active package. Unknown or inactive packages are
// reported as shared.ErrNotFound.
func (s *Service) Package(ctx context.Context, id string) (*Package, error) {
	p, err := s.store.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("package %s inactive: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

// Template resolves the explicit template. An unknown or inactive id is
// shared.ErrNotFound. Without an id it falls back to the default active
// template and then to any active template; a nil template with a nil
// error means none is configured.
func (s *Service) Template(ctx context.Context, id string) (*Template, error) {
	if id != "" {
		t, err := s.store.GetTemplate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", id, err)
		}
		return t, nil
	}
	t, err := s.store.FallbackTemplate(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return t, err
}
