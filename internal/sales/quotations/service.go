package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/observability"
	"github.com/solarcalc/invoicing/internal/sales/actionlog"
	"github.com/solarcalc/invoicing/internal/sales/catalog"
	"github.com/solarcalc/invoicing/internal/sales/customers"
	"github.com/solarcalc/invoicing/internal/sales/numbering"
	"github.com/solarcalc/invoicing/internal/sales/ownership"
	"github.com/solarcalc/invoicing/internal/sales/pricing"
	salesshared "github.com/solarcalc/invoicing/internal/sales/shared"
	"github.com/solarcalc/invoicing/internal/sales/vouchers"
	"github.com/solarcalc/invoicing/internal/shared"
)

// Enqueuer hands follow-up work to the background queue.
type Enqueuer interface {
	EnqueueDownstream(ctx context.Context, docID uuid.UUID, customerID *int64) error
	EnqueueView(ctx context.Context, docID uuid.UUID, at time.Time) error
}

// Dependencies are the collaborators of a Service. Jobs, Cache and Metrics
// are optional.
type Dependencies struct {
	Catalog  *catalog.Service
	Vouchers *vouchers.Resolver
	Owners   *ownership.Resolver
	Actions  *actionlog.Log
	Jobs     Enqueuer
	Cache    *ShareCache
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Options tune numbering and sharing.
type Options struct {
	Numbering numbering.Options
	ShareTTL  time.Duration

	// PublicBaseURL prefixes /view/{token} in share responses.
	PublicBaseURL string
}

// Service is the version chain manager.
type Service struct {
	repo      Repository
	catalog   *catalog.Service
	vouchers  *vouchers.Resolver
	owners    *ownership.Resolver
	actions   *actionlog.Log
	jobs      Enqueuer
	cache     *ShareCache
	metrics   *observability.Metrics
	logger    *slog.Logger
	validate  *validator.Validate
	numbering numbering.Options
	shareTTL  time.Duration
	baseURL   string
	now       func() time.Time
	newToken  func() (string, error)
}

// NewService wires a Service.
func NewService(repo Repository, deps Dependencies, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.ShareTTL
	if ttl <= 0 {
		ttl = DefaultShareTTL
	}
	return &Service{
		repo:      repo,
		catalog:   deps.Catalog,
		vouchers:  deps.Vouchers,
		owners:    deps.Owners,
		actions:   deps.Actions,
		jobs:      deps.Jobs,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    logger,
		validate:  shared.NewValidator(),
		numbering: opts.Numbering,
		shareTTL:  ttl,
		baseURL:   strings.TrimRight(opts.PublicBaseURL, "/"),
		now:       time.Now,
		newToken:  newShareToken,
	}
}

func requireActor(actor string) error {
	if actor != "" {
		return nil
	}
	verr := &shared.ValidationError{}
	verr.Add("actor_id", "is required")
	return verr
}

// Preview prices req exactly as Create would, without writing anything.
func (s *Service) Preview(ctx context.Context, req CreateRequest, actor string) (*Preview, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	a, err := s.assemble(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.preview(), nil
}

// Create writes version 1 of a new quotation family.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor string) (*Resolved, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	a, err := s.assemble(ctx, req)
	if err != nil {
		return nil, err
	}

	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc = a.document()
		doc.ID = uuid.New()
		doc.RootID = doc.ID
		doc.Version = 1
		doc.IsLatest = true
		doc.CreatedBy = actor

		if err := s.applyCustomer(ctx, tx, &doc, a.req.Customer, actor); err != nil {
			return err
		}
		number, err := numbering.NewAuthority(tx.Counters(), s.numbering).IssueNext(ctx)
		if err != nil {
			return err
		}
		doc.Number = number
		if err := s.freshShare(&doc); err != nil {
			return err
		}
		return s.persist(ctx, tx, &doc, a.items)
	})
	if err != nil {
		return nil, fmt.Errorf("create quotation: %w", err)
	}
	return s.afterWrite(ctx, &doc, a, observability.ModeCreate, actionlog.ActionCreated, actor), nil
}

// Revise appends a new version derived from the family's latest member.
// A visible revision gets the next -R number and its own share link. A
// silent revision keeps the predecessor's number and takes over its link.
// Either way the predecessor stays in history.
func (s *Service) Revise(ctx context.Context, sourceID uuid.UUID, req ReviseRequest, actor string) (*Resolved, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	source, err := s.mutable(ctx, sourceID, actor)
	if err != nil {
		return nil, err
	}
	if !source.IsLatest {
		return nil, fmt.Errorf("document %s is not the latest version: %w", source.ID, shared.ErrConflict)
	}
	items, err := s.repo.LineItems(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("load source items: %w", err)
	}

	merged := req.apply(requestFrom(source, items))
	a, err := s.assemble(ctx, merged)
	if err != nil {
		return nil, err
	}

	mode, action := observability.ModeVersion, actionlog.ActionVersionCreated
	if req.Silent {
		mode, action = observability.ModeSilent, actionlog.ActionSilentRevision
	}

	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc = a.document()
		doc.ID = uuid.New()
		doc.RootID = source.RootID
		parent := source.ID
		doc.ParentID = &parent
		doc.Version = source.Version + 1
		doc.IsLatest = true
		doc.CreatedBy = source.CreatedBy
		doc.PaidAmount = source.PaidAmount
		doc.PaidAt = source.PaidAt
		doc.Status = source.Status.Settle(doc.PaidAmount, doc.TotalAmount)

		if merged.Customer == nil {
			doc.CustomerID = source.CustomerID
			doc.CustomerName = source.CustomerName
			doc.CustomerPhone = source.CustomerPhone
			doc.CustomerAddress = source.CustomerAddress
		} else if err := s.applyCustomer(ctx, tx, &doc, merged.Customer, actor); err != nil {
			return err
		}

		if err := tx.RetireLatest(ctx, source.ID); err != nil {
			return err
		}
		if req.Silent {
			if err := tx.ClearShareToken(ctx, source.ID); err != nil {
				return err
			}
			doc.Number = source.Number
			doc.ShareToken = source.ShareToken
			doc.ShareEnabled = source.ShareEnabled
			doc.ShareExpiresAt = source.ShareExpiresAt
			doc.ShareAccessCount = source.ShareAccessCount
			doc.ViewedAt = source.ViewedAt
		} else {
			doc.Number = numbering.NextRevision(source.Number)
			if err := s.freshShare(&doc); err != nil {
				return err
			}
		}
		return s.persist(ctx, tx, &doc, a.items)
	})
	if err != nil {
		return nil, fmt.Errorf("revise quotation: %w", err)
	}

	s.invalidate(ctx, source.ShareToken, source.ID.String())
	return s.afterWrite(ctx, &doc, a, mode, action, actor), nil
}

func (s *Service) applyCustomer(ctx context.Context, tx TxRepository, doc *Document, in *customers.Input, actor string) error {
	doc.CustomerID = nil
	doc.CustomerName = SampleCustomerName
	doc.CustomerPhone = ""
	doc.CustomerAddress = ""
	if in == nil {
		return nil
	}
	// A nameless customer keeps its contact details on the document only.
	doc.CustomerPhone = strings.TrimSpace(in.Phone)
	doc.CustomerAddress = strings.TrimSpace(in.Address)
	c, err := customers.NewService(tx.Customers()).Resolve(ctx, *in, actor)
	if err != nil {
		return fmt.Errorf("resolve customer: %w", err)
	}
	if c == nil {
		return nil
	}
	id := c.ID
	doc.CustomerID = &id
	doc.CustomerName = c.Name
	doc.CustomerPhone = c.Phone
	doc.CustomerAddress = c.Address
	return nil
}

func (s *Service) freshShare(doc *Document) error {
	token, err := s.newToken()
	if err != nil {
		return err
	}
	exp := s.now().Add(s.shareTTL)
	doc.ShareToken = token
	doc.ShareEnabled = true
	doc.ShareExpiresAt = &exp
	doc.ShareAccessCount = 0
	doc.ViewedAt = nil
	return nil
}

// persist writes the header, then its items, then the header's item refs.
func (s *Service) persist(ctx context.Context, tx TxRepository, doc *Document, items []pricing.LineItem) error {
	if err := tx.InsertDocument(ctx, doc); err != nil {
		return err
	}
	ids, err := tx.InsertLineItems(ctx, doc.ID, items)
	if err != nil {
		return err
	}
	if err := tx.SetLineItemRefs(ctx, doc.ID, ids); err != nil {
		return err
	}
	doc.LineItemIDs = ids
	return nil
}

// afterWrite runs the best-effort side effects of a committed write.
func (s *Service) afterWrite(ctx context.Context, doc *Document, a *assembly, mode, action, actor string) *Resolved {
	s.metrics.QuotationWritten(mode)

	items := append([]pricing.LineItem(nil), a.items...)
	pricing.Sort(items)
	res := &Resolved{
		Document:  *doc,
		LineItems: items,
		Summary:   pricing.Summarize(items),
		Template:  a.tpl,
	}

	details := actionlog.Details{
		"doc_number":   doc.Number,
		"version":      doc.Version,
		"total_amount": doc.TotalAmount.StringFixed(2),
	}
	if doc.ParentID != nil {
		details["parent_id"] = doc.ParentID.String()
	}
	details[actionlog.SnapshotKey] = res
	s.actions.Append(ctx, doc.ID, action, actor, details)

	if s.jobs != nil {
		if err := s.jobs.EnqueueDownstream(ctx, doc.ID, doc.CustomerID); err != nil {
			s.logger.Warn("enqueue downstream failed", "document_id", doc.ID, "error", err)
		}
	}
	return res
}

// readable loads a document the actor may see. Non-owners get not-found.
func (s *Service) readable(ctx context.Context, id uuid.UUID, actor string) (*Document, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusDeleted || !s.owners.IsOwner(ctx, actor, doc.CreatedBy, doc.AgentID) {
		return nil, fmt.Errorf("quotation %s: %w", id, shared.ErrNotFound)
	}
	return doc, nil
}

// mutable loads a document the actor may change. Missing documents are
// not-found; non-owners are forbidden.
func (s *Service) mutable(ctx context.Context, id uuid.UUID, actor string) (*Document, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusDeleted {
		return nil, fmt.Errorf("quotation %s: %w", id, shared.ErrNotFound)
	}
	if !s.owners.IsOwner(ctx, actor, doc.CreatedBy, doc.AgentID) {
		return nil, fmt.Errorf("quotation %s: %w", id, shared.ErrForbidden)
	}
	return doc, nil
}

func (s *Service) resolve(ctx context.Context, doc *Document) (*Resolved, error) {
	items, err := s.repo.LineItems(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	pricing.Sort(items)
	res := &Resolved{Document: *doc, LineItems: items, Summary: pricing.Summarize(items)}
	if doc.TemplateID != "" {
		tpl, err := s.catalog.Template(ctx, doc.TemplateID)
		if err != nil {
			s.logger.Warn("load template failed", "template_id", doc.TemplateID, "error", err)
		}
		res.Template = tpl
	}
	return res, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("share cache invalidation failed", "error", err)
	}
}

// Get returns a document with its line items.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor string) (*Resolved, error) {
	doc, err := s.readable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, doc)
}

// List pages through the latest documents owned by any of the actor's
// identities.
func (s *Service) List(ctx context.Context, actor string, status Status, limit, offset int) (*ListResponse, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		verr := &shared.ValidationError{}
		verr.Add("status", "must be one of draft sent partially_paid paid cancelled")
		return nil, verr
	}
	ids, err := s.owners.Identities(ctx, actor)
	if err != nil {
		return nil, err
	}
	owners := ids.IDs
	if ids.AgentID != "" {
		owners = append(owners, ids.AgentID)
	}
	docs, total, err := s.repo.List(ctx, ListFilter{
		Owners:  owners,
		AgentID: ids.AgentID,
		Status:  status,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return &ListResponse{Items: docs, Total: total, Limit: limit, Offset: offset}, nil
}

// Versions returns the document's family, oldest first.
func (s *Service) Versions(ctx context.Context, id uuid.UUID, actor string) ([]Document, error) {
	doc, err := s.readable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFamily(ctx, doc.RootID)
}

// History returns the actions of the whole family, newest first.
func (s *Service) History(ctx context.Context, id uuid.UUID, actor string) ([]actionlog.Entry, error) {
	doc, err := s.readable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.actions.History(ctx, doc.ID)
}

// Snapshot returns the document payload stored with an action of the
// family.
func (s *Service) Snapshot(ctx context.Context, id uuid.UUID, actionID int64, actor string) (*actionlog.Entry, json.RawMessage, error) {
	doc, err := s.readable(ctx, id, actor)
	if err != nil {
		return nil, nil, err
	}
	entry, snap, err := s.actions.Snapshot(ctx, actionID)
	if err != nil {
		return nil, nil, err
	}
	family, err := s.repo.ListFamily(ctx, doc.RootID)
	if err != nil {
		return nil, nil, err
	}
	for _, member := range family {
		if member.ID == entry.DocumentID {
			return entry, snap, nil
		}
	}
	return nil, nil, fmt.Errorf("action %d: %w", actionID, shared.ErrNotFound)
}

// RecordPayment adds amount to the latest version's paid total and moves
// its status to partially_paid or paid.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, actor string) (*Document, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		verr := &shared.ValidationError{}
		verr.Add("amount", "must be greater than 0")
		return nil, verr
	}
	doc, err := s.mutable(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	var updated Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetForUpdate(ctx, doc.ID)
		if err != nil {
			return err
		}
		if !cur.IsLatest {
			return fmt.Errorf("payments are only accepted on the latest version: %w", shared.ErrConflict)
		}
		if !cur.Status.Payable() {
			return fmt.Errorf("document is %s: %w", cur.Status, shared.ErrConflict)
		}
		paid := cur.PaidAmount.Add(salesshared.Round2(amount))
		status := cur.Status.Settle(paid, cur.TotalAmount)
		at := s.now()
		if err := tx.SetPayment(ctx, cur.ID, paid, status, at); err != nil {
			return err
		}
		updated = *cur
		updated.PaidAmount = paid
		updated.Status = status
		updated.PaidAt = &at
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.invalidate(ctx, updated.ShareToken, updated.ID.String())
	s.actions.Append(ctx, updated.ID, actionlog.ActionPaymentRecorded, actor, actionlog.Details{
		"amount":      salesshared.Round2(amount).StringFixed(2),
		"paid_amount": updated.PaidAmount.StringFixed(2),
		"status":      string(updated.Status),
	})
	return &updated, nil
}

// Delete soft-deletes the whole family.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	doc, err := s.mutable(ctx, id, actor)
	if err != nil {
		return err
	}
	family, err := s.repo.ListFamily(ctx, doc.RootID)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDeleteFamily(ctx, doc.RootID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("quotation %s: %w", id, err)
		}
		return fmt.Errorf("delete quotation: %w", err)
	}

	keys := make([]string, 0, 2*len(family))
	for _, member := range family {
		keys = append(keys, member.ShareToken, member.ID.String())
	}
	s.invalidate(ctx, keys...)
	s.actions.Append(ctx, doc.ID, actionlog.ActionDeleted, actor, actionlog.Details{"doc_number": doc.Number})
	return nil
}
