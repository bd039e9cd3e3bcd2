package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/solarcalc/invoicing/internal/observability"
	"github.com/solarcalc/invoicing/internal/sales/actionlog"
	"github.com/solarcalc/invoicing/internal/sales/catalog"
	"github.com/solarcalc/invoicing/internal/sales/customers"
	"github.com/solarcalc/invoicing/internal/sales/numbering"
	"github.com/solarcalc/invoicing/internal/sales/ownership"
	"github.com/solarcalc/invoicing/internal/sales/quotations"
	"github.com/solarcalc/invoicing/internal/sales/vouchers"
)

// ServiceParams carries the shared infrastructure domain services are built on.
type ServiceParams struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Jobs    quotations.Enqueuer
	Metrics *observability.Metrics
}

// Services are the domain services shared by the API and the worker.
type Services struct {
	Quotations *quotations.Service
	Customers  *customers.Service
}

// NewServices wires repositories and services over one pool. A nil Redis
// client disables the public view cache.
func NewServices(p ServiceParams) *Services {
	cfg := p.Config
	if cfg == nil {
		cfg = &Config{}
	}

	var shareCache *quotations.ShareCache
	if p.Redis != nil {
		shareCache = quotations.NewShareCache(p.Redis, cfg.ShareCacheTTL)
	}

	owners := ownership.NewResolver(ownership.NewRepository(p.Pool), p.Logger)
	quotationSvc := quotations.NewService(quotations.NewRepository(p.Pool), quotations.Dependencies{
		Catalog:  catalog.NewService(catalog.NewRepository(p.Pool)),
		Vouchers: vouchers.NewResolver(vouchers.NewRepository(p.Pool)),
		Owners:   owners,
		Actions:  actionlog.NewLog(actionlog.NewRepository(p.Pool), p.Logger, p.Metrics.ActionLogFailures()),
		Jobs:     p.Jobs,
		Cache:    shareCache,
		Metrics:  p.Metrics,
		Logger:   p.Logger,
	}, quotations.Options{
		Numbering: numbering.Options{
			Prefix: cfg.InvoiceNumberPrefix,
			Width:  cfg.InvoiceNumberWidth,
		},
		ShareTTL:      cfg.ShareLinkTTL,
		PublicBaseURL: cfg.PublicBaseURL,
	})

	customerSvc := customers.NewService(customers.NewRepository(p.Pool)).WithAccess(customers.Access{
		Owners: owners,
		Links:  customers.NewQuotationLinks(p.Pool),
	})

	return &Services{
		Quotations: quotationSvc,
		Customers:  customerSvc,
	}
}
