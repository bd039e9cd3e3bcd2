package customers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/solarcalc/invoicing/internal/sales/ownership"
	"github.com/solarcalc/invoicing/internal/shared"
)

const codeAttempts = 3

// Service is the customer directory. Bind it to a transaction-scoped
// repository when resolving customers for a document write.
type Service struct {
	repo    Repository
	access  *Access
	newCode func() (string, error)
}

// Access gates directory reads. An actor sees a customer it created, or
// one billed on a live quotation it owns.
type Access struct {
	Owners *ownership.Resolver
	Links  QuotationLinks
}

// NewService constructs a directory over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, newCode: randomCode}
}

// WithAccess returns a copy of s whose reads are checked against a.
// Without it only a customer's creator may read it.
func (s *Service) WithAccess(a Access) *Service {
	out := *s
	out.access = &a
	return &out
}

// Get returns a customer the actor may see. Others get not-found.
func (s *Service) Get(ctx context.Context, id int64, actor string) (*Customer, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.visible(ctx, c, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, shared.ErrNotFound)
	}
	return c, nil
}

// History returns snapshots newest first.
func (s *Service) History(ctx context.Context, id int64, actor string) ([]HistoryEntry, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

func (s *Service) visible(ctx context.Context, c *Customer, actor string) (bool, error) {
	if actor == "" {
		return false, nil
	}
	if s.access == nil || s.access.Owners == nil {
		return actor == c.CreatedBy, nil
	}
	if s.access.Owners.IsOwner(ctx, actor, c.CreatedBy, "") {
		return true, nil
	}
	if s.access.Links == nil {
		return false, nil
	}
	ids, err := s.access.Owners.Identities(ctx, actor)
	if err != nil {
		return false, err
	}
	owners := ids.IDs
	if ids.AgentID != "" {
		owners = append(owners, ids.AgentID)
	}
	linked, err := s.access.Links.Linked(ctx, c.ID, owners, ids.AgentID)
	if err != nil {
		return false, fmt.Errorf("customer %d links: %w", c.ID, err)
	}
	return linked, nil
}

// Resolve matches in.Name exactly. A match with changed details is updated
// after its current state is written to history; a miss creates a new
// customer. An empty name resolves to nil.
func (s *Service) Resolve(ctx context.Context, in Input, actor string) (*Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil
	}
	if err := s.repo.LockName(ctx, name); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByName(ctx, name)
	switch {
	case err == nil:
		return s.refresh(ctx, existing, in, actor)
	case errors.Is(err, shared.ErrNotFound):
		return s.create(ctx, name, in, actor)
	default:
		return nil, fmt.Errorf("find customer: %w", err)
	}
}

func (s *Service) refresh(ctx context.Context, c *Customer, in Input, actor string) (*Customer, error) {
	before := snapshot(c, actor)
	if !apply(c, in) {
		return c, nil
	}
	if err := s.repo.InsertHistory(ctx, before); err != nil {
		return nil, err
	}
	c.UpdatedBy = actor
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) create(ctx context.Context, name string, in Input, actor string) (*Customer, error) {
	c := &Customer{
		Name:            name,
		Phone:           in.Phone,
		Email:           in.Email,
		Address:         in.Address,
		ProfileImageURL: in.ProfileImageURL,
		CreatedBy:       actor,
	}
	var err error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		if c.Code, err = s.newCode(); err != nil {
			return nil, fmt.Errorf("customer code: %w", err)
		}
		err = s.repo.Create(ctx, c)
		if !errors.Is(err, shared.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return c, nil
}

func randomCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cust_" + hex.EncodeToString(buf), nil
}
