package quotations

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/solarcalc/invoicing/internal/sales/catalog"
	"github.com/solarcalc/invoicing/internal/sales/discount"
	"github.com/solarcalc/invoicing/internal/sales/pricing"
	salesshared "github.com/solarcalc/invoicing/internal/sales/shared"
	"github.com/solarcalc/invoicing/internal/sales/vouchers"
	"github.com/solarcalc/invoicing/internal/shared"
)

// negativeExtrasCap bounds the sum of negative extra items, as a percent of
// the package price.
var negativeExtrasCap = decimal.NewFromInt(5)

// assembly is a fully priced request. Preview returns it; writes persist it.
type assembly struct {
	req        CreateRequest
	pkg        *catalog.Package
	tpl        *catalog.Template
	discount   discount.Expression
	vouchers   vouchers.Resolution
	quote      pricing.Quote
	breakdown  pricing.Breakdown
	items      []pricing.LineItem
	taxEnabled bool
}

// assemble validates req, resolves its catalog dependencies, and prices it.
// Every validation problem is reported in one ValidationError before any
// write happens.
func (s *Service) assemble(ctx context.Context, req CreateRequest) (*assembly, error) {
	verr := &shared.ValidationError{}
	shared.Validate(s.validate, req, verr)

	expr := discount.Parse(req.DiscountGiven)
	checkAmounts(req, expr, verr)

	var (
		pkg        *catalog.Package
		pkgMissing bool
		tpl        *catalog.Template
		tplMissing bool
		candidates vouchers.Candidates
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.PackageID != "" {
		g.Go(func() error {
			p, err := s.catalog.Package(gctx, req.PackageID)
			if errors.Is(err, shared.ErrNotFound) {
				pkgMissing = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("load package: %w", err)
			}
			pkg = p
			return nil
		})
	}
	g.Go(func() error {
		t, err := s.catalog.Template(gctx, req.TemplateID)
		if errors.Is(err, shared.ErrNotFound) {
			tplMissing = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("load template: %w", err)
		}
		tpl = t
		return nil
	})
	g.Go(func() error {
		c, err := s.vouchers.Fetch(gctx, req.VoucherCodes)
		if err != nil {
			return err
		}
		candidates = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if pkgMissing {
		verr.Add("package_id", "unknown package")
	}
	if tplMissing {
		verr.Add("template_id", "unknown template")
	}
	if pkg != nil {
		checkNegativeExtras(req.ExtraItems, pkg.Price, verr)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	res := candidates.Price(pkg.Price)
	a := &assembly{
		req:        req,
		pkg:        pkg,
		tpl:        tpl,
		discount:   expr,
		vouchers:   res,
		taxEnabled: catalog.TaxEnabled(req.ApplySST, tpl),
	}
	a.quote = pricing.Quote{
		PackageDescription:      pkg.LineDescription(),
		PackagePrice:            pkg.Price,
		Markup:                  req.AgentMarkup,
		Extras:                  req.ExtraItems,
		FixedDiscount:           expr.Fixed,
		PercentDiscount:         expr.Percent,
		Vouchers:                res.Lines,
		TaxEnabled:              a.taxEnabled,
		FinancingFee:            req.EPPFeeAmount,
		FinancingFeeDescription: req.EPPFeeDescription,
		PaymentNotice:           req.PaymentNotice,
	}
	a.breakdown, a.items = pricing.Price(a.quote)
	return a, nil
}

func checkAmounts(req CreateRequest, expr discount.Expression, verr *shared.ValidationError) {
	if req.AgentMarkup.IsNegative() {
		verr.Add("agent_markup", "must not be negative")
	}
	if req.EPPFeeAmount.IsNegative() {
		verr.Add("epp_fee_amount", "must not be negative")
	}
	if expr.Fixed.IsNegative() {
		verr.Add("discount_given", "fixed discount must not be negative")
	}
	if expr.Percent.IsNegative() || expr.Percent.GreaterThan(decimal.NewFromInt(100)) {
		verr.Add("discount_given", "percent discount must be between 0 and 100")
	}
	// Stored discount columns hold two decimal places.
	if !expr.Percent.Equal(expr.Percent.Round(2)) || !expr.Fixed.Equal(expr.Fixed.Round(2)) {
		verr.Add("discount_given", "discount must have at most 2 decimal places")
	}
	for i, extra := range req.ExtraItems {
		if !extra.Qty.IsPositive() {
			verr.Add(fmt.Sprintf("extra_items[%d].qty", i), "must be greater than 0")
		}
	}
}

func checkNegativeExtras(extras []pricing.ExtraItem, packagePrice decimal.Decimal, verr *shared.ValidationError) {
	negative := decimal.Zero
	for _, extra := range extras {
		if amount := extra.Amount(); amount.IsNegative() {
			negative = negative.Add(amount.Neg())
		}
	}
	limit := salesshared.PercentOf(packagePrice, negativeExtrasCap)
	if negative.GreaterThan(limit) {
		verr.Add("extra_items", fmt.Sprintf("negative items total %s exceeds the limit of %s (5%% of package price)",
			salesshared.FormatMoney(negative), salesshared.FormatMoney(limit)))
	}
}

func (a *assembly) preview() *Preview {
	p := &Preview{
		PackageID:       a.pkg.ID,
		PackageName:     a.pkg.Name,
		TaxEnabled:      a.taxEnabled,
		Discount:        a.discount.String(),
		AppliedVouchers: a.vouchers.Applied,
		Breakdown:       a.breakdown,
		LineItems:       a.items,
		Summary:         pricing.Summarize(a.items),
	}
	if p.AppliedVouchers == nil {
		p.AppliedVouchers = []string{}
	}
	if a.tpl != nil {
		p.TemplateID = a.tpl.ID
	}
	return p
}

// document fills the priced columns of a new version. Identity, chain,
// customer and share fields are set by the caller.
func (a *assembly) document() Document {
	d := Document{
		AgentID:           a.req.AgentID,
		Status:            StatusDraft,
		TotalAmount:       a.breakdown.FinalTotal,
		PackageID:         a.pkg.ID,
		PackageName:       a.pkg.Name,
		AgentMarkup:       salesshared.Round2(a.req.AgentMarkup),
		DiscountGiven:     a.discount.String(),
		DiscountFixed:     a.discount.Fixed,
		DiscountPercent:   a.discount.Percent,
		VoucherCodes:      append([]string{}, a.vouchers.Applied...),
		ApplySST:          a.req.ApplySST,
		EPPFeeAmount:      salesshared.Round2(a.req.EPPFeeAmount),
		EPPFeeDescription: a.req.EPPFeeDescription,
		PaymentNotice:     a.req.PaymentNotice,
		CustomerNotes:     a.req.CustomerNotes,
		InternalNotes:     a.req.InternalNotes,
		PaidAmount:        decimal.Zero,
	}
	if a.tpl != nil {
		d.TemplateID = a.tpl.ID
	}
	return d
}
