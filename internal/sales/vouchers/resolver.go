// Package vouchers validates voucher codes and prices them.
package vouchers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarcalc/invoicing/internal/sales/pricing"
)

// Lookup finds vouchers by code.
type Lookup interface {
	FindActive(ctx context.Context, codes []string, at time.Time) ([]Voucher, error)
}

// Resolution is the priced outcome for a set of codes.
type Resolution struct {
	Total   decimal.Decimal       `json:"total"`
	Lines   []pricing.VoucherLine `json:"lines"`
	Applied []string              `json:"applied"`
}

// Resolver turns codes into voucher lines.
type Resolver struct {
	lookup Lookup
	now    func() time.Time
}

// NewResolver constructs a resolver.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup, now: time.Now}
}

// Resolve prices every usable code against packagePrice. Unknown, inactive,
// expired, and zero-valued codes are dropped silently.
func (r *Resolver) Resolve(ctx context.Context, codes []string, packagePrice decimal.Decimal) (Resolution, error) {
	c, err := r.Fetch(ctx, codes)
	if err != nil {
		return Resolution{Total: decimal.Zero}, err
	}
	return c.Price(packagePrice), nil
}

// Candidates are looked-up vouchers that have not been priced yet. Fetch
// does not need the package price, so it can run alongside the package read.
type Candidates struct {
	codes  []string
	byCode map[string]Voucher
	at     time.Time
}

// Fetch loads the vouchers for codes.
func (r *Resolver) Fetch(ctx context.Context, codes []string) (Candidates, error) {
	c := Candidates{codes: Normalize(codes), at: r.now()}
	if len(c.codes) == 0 {
		return c, nil
	}
	found, err := r.lookup.FindActive(ctx, c.codes, c.at)
	if err != nil {
		return Candidates{}, fmt.Errorf("vouchers: lookup: %w", err)
	}
	c.byCode = make(map[string]Voucher, len(found))
	for _, v := range found {
		c.byCode[strings.ToUpper(v.Code)] = v
	}
	return c, nil
}

// Price values the candidates against packagePrice in request order.
func (c Candidates) Price(packagePrice decimal.Decimal) Resolution {
	res := Resolution{Total: decimal.Zero}
	for _, code := range c.codes {
		v, ok := c.byCode[code]
		if !ok || !v.ValidAt(c.at) {
			continue
		}
		amount := v.AmountFor(packagePrice)
		if !amount.IsPositive() {
			continue
		}
		res.Total = res.Total.Add(amount)
		res.Lines = append(res.Lines, pricing.VoucherLine{
			Code:        code,
			Description: v.Description(),
			Amount:      amount,
		})
		res.Applied = append(res.Applied, code)
	}
	return res
}

// Normalize trims, upper-cases, and deduplicates codes in first-seen order.
func Normalize(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
