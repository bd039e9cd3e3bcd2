// Package numbering issues human-facing quotation numbers from a single
// shared counter row.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrCounterMissing is returned by a Store when the counter row does not exist.
var ErrCounterMissing = errors.New("numbering: counter missing")

const (
	DefaultPrefix = "INV"
	DefaultWidth  = 6
	CounterName   = "quotation_number"
)

// Store is the persistence primitive behind the authority. Increment must be
// a single atomic read-modify-write.
type Store interface {
	Increment(ctx context.Context, name string) (int64, error)
	// MaxIssued returns the highest base value among numbers with prefix.
	MaxIssued(ctx context.Context, prefix string) (int64, error)
	// Init creates the counter at value unless it already exists.
	Init(ctx context.Context, name string, value int64) error
}

// Options controls number formatting.
type Options struct {
	Prefix string
	Width  int
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	return o
}

// Authority mints numbers such as INV-000042.
type Authority struct {
	store Store
	opts  Options
}

// NewAuthority binds an authority to a store. Build one per transaction
// so the increment commits or rolls back with the document it numbers.
func NewAuthority(store Store, opts Options) *Authority {
	return &Authority{store: store, opts: opts.withDefaults()}
}

// IssueNext increments the counter and formats the new value.
func (a *Authority) IssueNext(ctx context.Context) (string, error) {
	value, err := a.store.Increment(ctx, CounterName)
	if errors.Is(err, ErrCounterMissing) {
		value, err = a.bootstrap(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("numbering: issue next: %w", err)
	}
	return a.Format(value), nil
}

// bootstrap seeds the counter from already issued numbers and retries the
// increment. Concurrent bootstrappers race on Init; the loser's insert is a
// no-op and both then increment the same row.
func (a *Authority) bootstrap(ctx context.Context) (int64, error) {
	current, err := a.store.MaxIssued(ctx, a.opts.Prefix+"-")
	if err != nil {
		return 0, fmt.Errorf("scan issued numbers: %w", err)
	}
	if err := a.store.Init(ctx, CounterName, current); err != nil {
		return 0, fmt.Errorf("init counter: %w", err)
	}
	return a.store.Increment(ctx, CounterName)
}

// Format renders value with the configured prefix and padding.
func (a *Authority) Format(value int64) string {
	return fmt.Sprintf("%s-%0*d", a.opts.Prefix, a.opts.Width, value)
}

var revisionSuffix = regexp.MustCompile(`-R(\d+)$`)

// NextRevision appends "-R1" or increments an existing "-R<n>" suffix.
func NextRevision(number string) string {
	m := revisionSuffix.FindStringSubmatchIndex(number)
	if m == nil {
		return number + "-R1"
	}
	n, err := strconv.Atoi(number[m[2]:m[3]])
	if err != nil {
		return number + "-R1"
	}
	return number[:m[0]] + "-R" + strconv.Itoa(n+1)
}

// Base strips any revision suffix.
func Base(number string) string {
	if m := revisionSuffix.FindStringIndex(number); m != nil {
		return number[:m[0]]
	}
	return number
}

// ParseValue extracts the counter value from a number with prefix, ignoring
// any revision suffix.
func ParseValue(number, prefix string) (int64, bool) {
	base := Base(number)
	if !strings.HasPrefix(base, prefix) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(base, prefix), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
