package quotations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcalc/invoicing/internal/observability"
	"github.com/solarcalc/invoicing/internal/sales/actionlog"
	"github.com/solarcalc/invoicing/internal/sales/catalog"
	"github.com/solarcalc/invoicing/internal/sales/ownership"
	"github.com/solarcalc/invoicing/internal/sales/vouchers"
	"github.com/solarcalc/invoicing/internal/shared"
	"github.com/solarcalc/invoicing/internal/testing/pgtest"
)

const pgSeed = `
INSERT INTO packages (id, name, price) VALUES ('PKG-10K', '10kWp Package', 10000);
INSERT INTO invoice_templates (id, template_name, company_name, apply_sst, is_default)
	VALUES ('TPL-SST', 'Default', 'Sunrise Solar Sdn Bhd', TRUE, TRUE);
INSERT INTO vouchers (code, title, discount_amount) VALUES ('FLAT200', 'RM200 off', 200);
`

func newPGService(t *testing.T) (*Service, *pgxpool.Pool) {
	t.Helper()
	pool := pgtest.Pool(t)
	_, err := pool.Exec(context.Background(), pgSeed)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	svc := NewService(NewRepository(pool), Dependencies{
		Catalog:  catalog.NewService(catalog.NewRepository(pool)),
		Vouchers: vouchers.NewResolver(vouchers.NewRepository(pool)),
		Owners:   ownership.NewResolver(ownership.NewRepository(pool), logger),
		Actions:  actionlog.NewLog(actionlog.NewRepository(pool), logger, metrics.ActionLogFailures()),
		Metrics:  metrics,
		Logger:   logger,
	}, Options{})
	return svc, pool
}

func TestPGCreateRoundTrip(t *testing.T) {
	svc, _ := newPGService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, scenarioA(), owner)
	require.NoError(t, err)
	assert.Equal(t, "INV-000001", created.Number)
	assert.True(t, created.TotalAmount.Equal(decimal.NewFromInt(9540)))
	require.NotNil(t, created.CustomerID)

	got, err := svc.Get(ctx, created.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, created.LineItemIDs, got.LineItemIDs)
	require.Len(t, got.LineItems, len(created.LineItems))
	for i := range got.LineItems {
		assert.Equal(t, created.LineItems[i].Type, got.LineItems[i].Type)
		assert.True(t, created.LineItems[i].Amount.Equal(got.LineItems[i].Amount))
	}
	assert.Equal(t, []string{"FLAT200"}, got.VoucherCodes)
	assert.Equal(t, "TPL-SST", got.TemplateID)

	byToken, err := svc.PublicView(ctx, created.ShareToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byToken.ID)
}

func TestPGConcurrentRevisionsKeepOneLatest(t *testing.T) {
	svc, pool := newPGService(t)
	ctx := context.Background()
	v1, err := svc.Create(ctx, scenarioA(), owner)
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Revise(ctx, v1.ID, ReviseRequest{AgentMarkup: decPtr(700)}, owner)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, shared.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected revise error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, writers-1, conflicts)

	var latest int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM quotation_documents WHERE root_id = $1 AND is_latest`, v1.RootID).Scan(&latest))
	assert.Equal(t, 1, latest)
}

func TestPGConcurrentCreatesAreGapless(t *testing.T) {
	svc, _ := newPGService(t)
	ctx := context.Background()
	const callers = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := scenarioA()
			req.Customer = nil
			doc, err := svc.Create(ctx, req, owner)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers[doc.Number] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, numbers, callers)
	assert.True(t, numbers["INV-000001"])
	assert.True(t, numbers["INV-000020"])
}

func TestPGSilentRevisionMovesShareToken(t *testing.T) {
	svc, pool := newPGService(t)
	ctx := context.Background()
	v1, err := svc.Create(ctx, scenarioA(), owner)
	require.NoError(t, err)

	v2, err := svc.Revise(ctx, v1.ID, ReviseRequest{CustomerNotes: strPtr("updated"), Silent: true}, owner)
	require.NoError(t, err)
	assert.Equal(t, v1.ShareToken, v2.ShareToken)
	assert.Equal(t, v1.Number, v2.Number)

	var oldToken *string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT share_token FROM quotation_documents WHERE id = $1`, v1.ID).Scan(&oldToken))
	assert.Nil(t, oldToken)

	history, err := svc.History(ctx, v2.ID, owner)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, actionlog.ActionSilentRevision, history[0].ActionType)
}
