package quotations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solarcalc/invoicing/internal/observability"
	"github.com/solarcalc/invoicing/internal/sales/actionlog"
	"github.com/solarcalc/invoicing/internal/sales/catalog"
	"github.com/solarcalc/invoicing/internal/sales/customers"
	"github.com/solarcalc/invoicing/internal/sales/numbering"
	"github.com/solarcalc/invoicing/internal/sales/ownership"
	"github.com/solarcalc/invoicing/internal/sales/pricing"
	"github.com/solarcalc/invoicing/internal/sales/vouchers"
	"github.com/solarcalc/invoicing/internal/shared"
)

// ============================================================================
// IN-MEMORY REPOSITORY
// ============================================================================

type memState struct {
	docs         map[uuid.UUID]Document
	items        map[uuid.UUID][]pricing.LineItem
	counter      int64
	counterReady bool
	customers    map[int64]customers.Customer
	history      []customers.HistoryEntry
	nextCustomer int64
}

func (s *memState) clone() *memState {
	out := &memState{
		docs:         make(map[uuid.UUID]Document, len(s.docs)),
		items:        make(map[uuid.UUID][]pricing.LineItem, len(s.items)),
		counter:      s.counter,
		counterReady: s.counterReady,
		customers:    make(map[int64]customers.Customer, len(s.customers)),
		history:      append([]customers.HistoryEntry(nil), s.history...),
		nextCustomer: s.nextCustomer,
	}
	for k, v := range s.docs {
		out.docs[k] = v
	}
	for k, v := range s.items {
		out.items[k] = append([]pricing.LineItem(nil), v...)
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	return out
}

// memRepo commits a transaction by swapping in the mutated clone, so a
// failing transaction leaves no trace.
type memRepo struct {
	mu      sync.Mutex
	state   *memState
	txCount int

	// beforeTx runs ahead of every transaction, outside the lock.
	beforeTx func()
	// failOn makes the named tx step fail.
	failOn string
}

func newMemRepo() *memRepo {
	return &memRepo{state: &memState{
		docs:         make(map[uuid.UUID]Document),
		items:        make(map[uuid.UUID][]pricing.LineItem),
		customers:    make(map[int64]customers.Customer),
		nextCustomer: 1,
	}}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.beforeTx != nil {
		m.beforeTx()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	work := m.state.clone()
	if err := fn(ctx, &memTx{state: work, failOn: m.failOn}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.docs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &d, nil
}

func (m *memRepo) GetByShareToken(ctx context.Context, token string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.state.docs {
		if d.ShareToken != "" && d.ShareToken == token {
			return &d, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memRepo) ListFamily(ctx context.Context, rootID uuid.UUID) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, d := range m.state.docs {
		if d.RootID == rootID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memRepo) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners := make(map[string]bool, len(filter.Owners))
	for _, o := range filter.Owners {
		owners[o] = true
	}
	var out []Document
	for _, d := range m.state.docs {
		if !d.IsLatest || d.Status == StatusDeleted {
			continue
		}
		if !owners[d.CreatedBy] && (filter.AgentID == "" || d.AgentID != filter.AgentID) {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	total := len(out)
	if filter.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *memRepo) LineItems(ctx context.Context, docID uuid.UUID) ([]pricing.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := append([]pricing.LineItem(nil), m.state.items[docID]...)
	pricing.Sort(items)
	return items, nil
}

func (m *memRepo) RecordView(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.docs[id]
	if !ok {
		return shared.ErrNotFound
	}
	d.ShareAccessCount++
	d.ViewedAt = &at
	m.state.docs[id] = d
	return nil
}

func (m *memRepo) UpdateShare(ctx context.Context, id uuid.UUID, state ShareState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.docs[id]
	if !ok || d.Status == StatusDeleted {
		return shared.ErrNotFound
	}
	d.ShareToken = state.Token
	d.ShareEnabled = state.Enabled
	d.ShareExpiresAt = state.ExpiresAt
	m.state.docs[id] = d
	return nil
}

func (m *memRepo) SoftDeleteFamily(ctx context.Context, rootID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, d := range m.state.docs {
		if d.RootID == rootID && d.Status != StatusDeleted {
			d.Status = StatusDeleted
			d.ShareEnabled = false
			m.state.docs[id] = d
			n++
		}
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// latestCount reports how many members of root's family are latest.
func (m *memRepo) latestCount(root uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.state.docs {
		if d.RootID == root && d.IsLatest {
			n++
		}
	}
	return n
}

func (m *memRepo) docCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.docs)
}

type memTx struct {
	state  *memState
	failOn string
}

func (t *memTx) fail(step string) error {
	if t.failOn == step {
		return fmt.Errorf("injected %s failure", step)
	}
	return nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, ok := t.state.docs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &d, nil
}

// InsertDocument enforces the same uniqueness rules as the schema.
func (t *memTx) InsertDocument(ctx context.Context, doc *Document) error {
	if err := t.fail("insert_document"); err != nil {
		return err
	}
	for _, d := range t.state.docs {
		switch {
		case doc.IsLatest && d.IsLatest && d.RootID == doc.RootID:
			return fmt.Errorf("one latest per family: %w", shared.ErrConflict)
		case doc.IsLatest && d.IsLatest && d.Number == doc.Number:
			return fmt.Errorf("latest number %s: %w", doc.Number, shared.ErrConflict)
		case d.RootID == doc.RootID && d.Version == doc.Version:
			return fmt.Errorf("family version: %w", shared.ErrConflict)
		case doc.ShareToken != "" && d.ShareToken == doc.ShareToken:
			return fmt.Errorf("share token: %w", shared.ErrConflict)
		}
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	t.state.docs[doc.ID] = *doc
	return nil
}

func (t *memTx) InsertLineItems(ctx context.Context, docID uuid.UUID, items []pricing.LineItem) ([]uuid.UUID, error) {
	if err := t.fail("insert_items"); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		if (item.Type == pricing.ItemDiscount || item.Type == pricing.ItemVoucher) && item.Amount.IsPositive() {
			return nil, fmt.Errorf("positive deduction on line %d", item.LineNo)
		}
		ids[i] = uuid.New()
	}
	t.state.items[docID] = append([]pricing.LineItem(nil), items...)
	return ids, nil
}

func (t *memTx) SetLineItemRefs(ctx context.Context, docID uuid.UUID, ids []uuid.UUID) error {
	d := t.state.docs[docID]
	d.LineItemIDs = ids
	t.state.docs[docID] = d
	return nil
}

func (t *memTx) RetireLatest(ctx context.Context, id uuid.UUID) error {
	d, ok := t.state.docs[id]
	if !ok || !d.IsLatest {
		return fmt.Errorf("document %s is not the latest version: %w", id, shared.ErrConflict)
	}
	d.IsLatest = false
	t.state.docs[id] = d
	return nil
}

func (t *memTx) ClearShareToken(ctx context.Context, id uuid.UUID) error {
	d := t.state.docs[id]
	d.ShareToken = ""
	d.ShareEnabled = false
	t.state.docs[id] = d
	return nil
}

func (t *memTx) SetPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status Status, at time.Time) error {
	d := t.state.docs[id]
	d.PaidAmount = paid
	d.Status = status
	d.PaidAt = &at
	t.state.docs[id] = d
	return nil
}

func (t *memTx) Counters() numbering.Store { return (*memCounters)(t) }

func (t *memTx) Customers() customers.Repository { return (*memCustomers)(t) }

type memCounters memTx

func (c *memCounters) Increment(ctx context.Context, name string) (int64, error) {
	if c.failOn == "counter" {
		return 0, fmt.Errorf("injected counter failure")
	}
	if !c.state.counterReady {
		return 0, numbering.ErrCounterMissing
	}
	c.state.counter++
	return c.state.counter, nil
}

func (c *memCounters) MaxIssued(ctx context.Context, prefix string) (int64, error) {
	var max int64
	for _, d := range c.state.docs {
		if v, ok := numbering.ParseValue(d.Number, prefix); ok && v > max {
			max = v
		}
	}
	return max, nil
}

func (c *memCounters) Init(ctx context.Context, name string, value int64) error {
	if !c.state.counterReady {
		c.state.counterReady = true
		c.state.counter = value
	}
	return nil
}

type memCustomers memTx

func (c *memCustomers) Get(ctx context.Context, id int64) (*customers.Customer, error) {
	cust, ok := c.state.customers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &cust, nil
}

func (c *memCustomers) FindByName(ctx context.Context, name string) (*customers.Customer, error) {
	for _, cust := range c.state.customers {
		if cust.Name == name {
			found := cust
			return &found, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (c *memCustomers) LockName(ctx context.Context, name string) error { return nil }

func (c *memCustomers) Create(ctx context.Context, cust *customers.Customer) error {
	cust.ID = c.state.nextCustomer
	cust.Version = 1
	c.state.nextCustomer++
	c.state.customers[cust.ID] = *cust
	return nil
}

func (c *memCustomers) Update(ctx context.Context, cust *customers.Customer) error {
	cust.Version++
	c.state.customers[cust.ID] = *cust
	return nil
}

func (c *memCustomers) InsertHistory(ctx context.Context, e customers.HistoryEntry) error {
	c.state.history = append(c.state.history, e)
	return nil
}

func (c *memCustomers) History(ctx context.Context, customerID int64) ([]customers.HistoryEntry, error) {
	var out []customers.HistoryEntry
	for _, e := range c.state.history {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ============================================================================
// ACTION LOG STORE
// ============================================================================

type memActions struct {
	mu      sync.Mutex
	repo    *memRepo
	entries []actionlog.Entry
}

func (a *memActions) Insert(ctx context.Context, e actionlog.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e.ID = int64(len(a.entries) + 1)
	e.CreatedAt = time.Now()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memActions) ListFamily(ctx context.Context, docID uuid.UUID) ([]actionlog.Entry, error) {
	doc, err := a.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	family, _ := a.repo.ListFamily(ctx, doc.RootID)
	members := make(map[uuid.UUID]bool, len(family))
	for _, d := range family {
		members[d.ID] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []actionlog.Entry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if !members[e.DocumentID] {
			continue
		}
		var details map[string]json.RawMessage
		_ = json.Unmarshal(e.Details, &details)
		if _, ok := details[actionlog.SnapshotKey]; ok {
			e.HasSnapshot = true
			delete(details, actionlog.SnapshotKey)
			e.Details, _ = json.Marshal(details)
		}
		out = append(out, e)
	}
	return out, nil
}

func (a *memActions) Get(ctx context.Context, id int64) (*actionlog.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 1 || int(id) > len(a.entries) {
		return nil, shared.ErrNotFound
	}
	e := a.entries[id-1]
	return &e, nil
}

func (a *memActions) types(docID uuid.UUID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.DocumentID == docID {
			out = append(out, e.ActionType)
		}
	}
	return out
}

// ============================================================================
// CATALOG, VOUCHER AND IDENTITY STUBS
// ============================================================================

type stubCatalog struct {
	packages  map[string]*catalog.Package
	templates map[string]*catalog.Template
}

func (s *stubCatalog) GetPackage(ctx context.Context, id string) (*catalog.Package, error) {
	p, ok := s.packages[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

func (s *stubCatalog) GetTemplate(ctx context.Context, id string) (*catalog.Template, error) {
	t, ok := s.templates[id]
	if !ok || !t.Active {
		return nil, shared.ErrNotFound
	}
	return t, nil
}

func (s *stubCatalog) FallbackTemplate(ctx context.Context) (*catalog.Template, error) {
	for _, t := range s.templates {
		if t.Active && t.IsDefault {
			return t, nil
		}
	}
	return nil, shared.ErrNotFound
}

type stubVouchers struct {
	vouchers []vouchers.Voucher
}

func (s *stubVouchers) FindActive(ctx context.Context, codes []string, at time.Time) ([]vouchers.Voucher, error) {
	return s.vouchers, nil
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
	var out []string
	for alias, c := range s.canonical {
		if c == canonicalID && alias != canonicalID {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *stubAliases) AgentProfile(ctx context.Context, canonicalID string) (string, error) {
	if a, ok := s.agents[canonicalID]; ok {
		return a, nil
	}
	return "", shared.ErrNotFound
}

type recordingJobs struct {
	mu         sync.Mutex
	downstream []uuid.UUID
	views      []uuid.UUID
	err        error
}

func (r *recordingJobs) EnqueueDownstream(ctx context.Context, docID uuid.UUID, customerID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.downstream = append(r.downstream, docID)
	return nil
}

func (r *recordingJobs) EnqueueView(ctx context.Context, docID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.views = append(r.views, docID)
	return nil
}

// ============================================================================
// FIXTURE
// ============================================================================

const (
	owner    = "user-1"
	stranger = "user-9"
)

type fixture struct {
	repo    *memRepo
	actions *memActions
	jobs    *recordingJobs
	metrics *observability.Metrics
	svc     *Service
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	actions := &memActions{repo: repo}
	jobs := &recordingJobs{}
	metrics := observability.NewMetrics()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat := &stubCatalog{
		packages: map[string]*catalog.Package{
			"PKG-10K": {ID: "PKG-10K", Name: "10kWp Package", Price: decimal.NewFromInt(10000), Active: true},
			"PKG-8K":  {ID: "PKG-8K", Name: "8kWp Package", Price: decimal.NewFromInt(8000), InvoiceDescription: "8kWp Solar System (20 panels)", Active: true},
			"PKG-OLD": {ID: "PKG-OLD", Name: "Retired", Price: decimal.NewFromInt(5000), Active: false},
		},
		templates: map[string]*catalog.Template{
			"TPL-SST":   {ID: "TPL-SST", TemplateName: "Default", ApplySST: true, IsDefault: true, Active: true},
			"TPL-NOSST": {ID: "TPL-NOSST", TemplateName: "Exempt", ApplySST: false, Active: true},
		},
	}
	vs := &stubVouchers{vouchers: []vouchers.Voucher{
		{Code: "FLAT200", DiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(200)), Active: true},
		{Code: "SAVE15", DiscountPercent: decimal.NewNullDecimal(decimal.NewFromInt(15)), Active: true},
	}}
	aliases := &stubAliases{
		canonical: map[string]string{"legacy-1": owner},
		agents:    map[string]string{"agent-user": "agent-7"},
	}

	svc := NewService(repo, Dependencies{
		Catalog:  catalog.NewService(cat),
		Vouchers: vouchers.NewResolver(vs),
		Owners:   ownership.NewResolver(aliases, logger),
		Actions:  actionlog.NewLog(actions, logger, metrics.ActionLogFailures()),
		Jobs:     jobs,
		Metrics:  metrics,
		Logger:   logger,
	}, Options{})

	f := &fixture{repo: repo, actions: actions, jobs: jobs, metrics: metrics, svc: svc,
		clock: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.clock }
	return f
}

// scenarioA is price 10000, markup 500, one extra of -300, 10% discount, a
// 200 voucher and SST.
func scenarioA() CreateRequest {
	return CreateRequest{
		PackageID:     "PKG-10K",
		Customer:      &customers.Input{Name: "Aisyah Rahman", Phone: "012-3456789"},
		AgentMarkup:   decimal.NewFromInt(500),
		DiscountGiven: "10%",
		VoucherCodes:  []string{"flat200"},
		ExtraItems: []pricing.ExtraItem{
			{Description: "Roof discount", Qty: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(-300)},
		},
		ApplySST: true,
	}
}

func mustCreate(t *testing.T, f *fixture, req CreateRequest) *Resolved {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), req, owner)
	require.NoError(t, err)
	return doc
}

func strPtr(s string) *string { return &s }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
