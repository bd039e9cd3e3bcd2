package customers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcalc/invoicing/internal/platform/httpx"
	"github.com/solarcalc/invoicing/internal/sales/ownership"
	"github.com/solarcalc/invoicing/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	customers map[int64]*Customer
	history   []HistoryEntry
	calls     []string
	nextID    int64
	takenCode map[string]bool
	findErr   error
}

func newMockRepository() *mockRepository {
	return &mockRepository{customers: make(map[int64]*Customer), takenCode: make(map[string]bool), nextID: 1}
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepository) FindByName(ctx context.Context, name string) (*Customer, error) {
	m.calls = append(m.calls, "find")
	if m.findErr != nil {
		return nil, m.findErr
	}
	for id := int64(1); id < m.nextID; id++ {
		if c, ok := m.customers[id]; ok && c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) LockName(ctx context.Context, name string) error {
	m.calls = append(m.calls, "lock")
	return nil
}

func (m *mockRepository) Create(ctx context.Context, c *Customer) error {
	m.calls = append(m.calls, "create")
	if m.takenCode[c.Code] {
		return fmt.Errorf("customer code %s: %w", c.Code, shared.ErrDuplicate)
	}
	m.takenCode[c.Code] = true
	c.ID = m.nextID
	c.Version = 1
	m.nextID++
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *mockRepository) Update(ctx context.Context, c *Customer) error {
	m.calls = append(m.calls, "update")
	c.Version++
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *mockRepository) InsertHistory(ctx context.Context, e HistoryEntry) error {
	m.calls = append(m.calls, "history")
	e.ID = int64(len(m.history) + 1)
	m.history = append(m.history, e)
	return nil
}

func (m *mockRepository) History(ctx context.Context, customerID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].CustomerID == customerID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

type stubAliases struct {
	canonical map[string]string
	agents    map[string]string
}

func (s *stubAliases) CanonicalID(ctx context.Context, alias string) (string, error) {
	if c, ok := s.canonical[alias]; ok {
		return c, nil
	}
	return "", shared.ErrNotFound
}

func (s *stubAliases) Aliases(ctx context.Context, canonicalID string) ([]string, error) {
	return nil, nil
}

func (s *stubAliases) AgentProfile(ctx context.Context, canonicalID string) (string, error) {
	if a, ok := s.agents[canonicalID]; ok {
		return a, nil
	}
	return "", shared.ErrNotFound
}

// stubLinks bills customers to quotations by owner id.
type stubLinks struct {
	byOwner map[string][]int64
	err     error
}

func (s *stubLinks) Linked(ctx context.Context, customerID int64, owners []string, agentID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, o := range owners {
		for _, id := range s.byOwner[o] {
			if id == customerID {
				return true, nil
			}
		}
	}
	return false, nil
}

func newAccess(links *stubLinks) Access {
	aliases := &stubAliases{
		canonical: map[string]string{"legacy_a": "agent_A"},
		agents:    map[string]string{"sales_C": "agent-7"},
	}
	return Access{
		Owners: ownership.NewResolver(aliases, slog.New(slog.NewTextHandler(io.Discard, nil))),
		Links:  links,
	}
}

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(httpx.RequireActor)
	h.MountRoutes(r)
	return r
}

func getAs(router http.Handler, path, actor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(httpx.ActorHeader, actor)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// ============================================================================
// SERVICE TESTS
// ============================================================================

func TestResolveCreatesCustomerOnMiss(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	c, err := svc.Resolve(context.Background(), Input{Name: " Aisyah Rahman ", Phone: "0123"}, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "Aisyah Rahman", c.Name)
	assert.Regexp(t, `^cust_[0-9a-f]{8}$`, c.Code)
	assert.Equal(t, "user_1", c.CreatedBy)
	assert.Equal(t, []string{"lock", "find", "create"}, repo.calls)
	assert.Empty(t, repo.history)
}

func TestResolveLogsHistoryBeforeUpdate(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, Input{Name: "Tan Wei", Phone: "0111", Address: "Old Road"}, "user_1")
	require.NoError(t, err)
	repo.calls = nil

	updated, err := svc.Resolve(ctx, Input{Name: "Tan Wei", Address: "New Road"}, "user_2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, "New Road", updated.Address)
	assert.Equal(t, "0111", updated.Phone)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, []string{"lock", "find", "history", "update"}, repo.calls)

	require.Len(t, repo.history, 1)
	assert.Equal(t, "Old Road", repo.history[0].Address)
	assert.Equal(t, 1, repo.history[0].Version)
	assert.Equal(t, "user_2", repo.history[0].ChangedBy)
}

func TestResolveUnchangedMatchWritesNothing(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, Input{Name: "Lim", Phone: "0199"}, "user_1")
	require.NoError(t, err)
	repo.calls = nil

	_, err = svc.Resolve(ctx, Input{Name: "Lim", Phone: "0199"}, "user_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lock", "find"}, repo.calls)
}

func TestResolveEmptyNameReturnsNil(t *testing.T) {
	repo := newMockRepository()
	c, err := NewService(repo).Resolve(context.Background(), Input{Phone: "0123"}, "user_1")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, repo.calls)
}

func TestResolveRetriesCodeCollision(t *testing.T) {
	repo := newMockRepository()
	repo.takenCode["cust_00000001"] = true
	svc := NewService(repo)
	codes := []string{"cust_00000001", "cust_00000002"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	c, err := svc.Resolve(context.Background(), Input{Name: "Kumar"}, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cust_00000002", c.Code)
}

func TestResolvePropagatesLookupFailure(t *testing.T) {
	repo := newMockRepository()
	repo.findErr = errors.New("connection reset")
	_, err := NewService(repo).Resolve(context.Background(), Input{Name: "X"}, "user_1")
	require.Error(t, err)
}

// ============================================================================
// HANDLER TESTS
// ============================================================================

func TestHistoryHandler(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	c, err := svc.Resolve(ctx, Input{Name: "Siti", Phone: "1"}, "user_1")
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, Input{Name: "Siti", Phone: "2"}, "user_1")
	require.NoError(t, err)

	r := newTestRouter(svc)

	rr := getAs(r, fmt.Sprintf("/customers/%d/history", c.ID), "user_1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"phone":"1"`)

	rr = getAs(r, "/customers/999", "user_1")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = getAs(r, "/customers/abc", "user_1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCustomerReadsAreScopedToOwners(t *testing.T) {
	repo := newMockRepository()
	links := &stubLinks{byOwner: map[string][]int64{"agent-7": {1}}}
	svc := NewService(repo).WithAccess(newAccess(links))
	c, err := svc.Resolve(context.Background(), Input{Name: "Siti", Phone: "012-999", Address: "Jalan 1"}, "agent_A")
	require.NoError(t, err)
	require.Equal(t, int64(1), c.ID)
	r := newTestRouter(svc)

	rr := getAs(r, "/customers/1", "agent_A")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = getAs(r, "/customers/1", "legacy_a")
	assert.Equal(t, http.StatusOK, rr.Code, "aliases of the creator may read")

	rr = getAs(r, "/customers/1", "sales_C")
	assert.Equal(t, http.StatusOK, rr.Code, "owners of a billed quotation may read")

	for _, path := range []string{"/customers/1", "/customers/1/history"} {
		rr = getAs(r, path, "unrelated_agent_B")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.NotContains(t, rr.Body.String(), "012-999", path)
	}
}

func TestCustomerReadWithoutAccessAllowsCreatorOnly(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()
	c, err := svc.Resolve(ctx, Input{Name: "Lim"}, "user_1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, c.ID, "user_1")
	require.NoError(t, err)
	_, err = svc.Get(ctx, c.ID, "user_2")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.History(ctx, c.ID, "")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCustomerReadPropagatesLinkFailure(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo).WithAccess(newAccess(&stubLinks{err: errors.New("connection reset")}))
	c, err := svc.Resolve(context.Background(), Input{Name: "Lim"}, "user_1")
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), c.ID, "user_2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrNotFound)
}
