package currency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hako/durafmt"
	"golang.org/x/sync/singleflight"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

// Amount is a value in a given currency.
type Amount struct {
	Value    float64
	Currency string
}

// Engine converts amounts with the current rate table. Conversions never wait
// on a refresh.
type Engine struct {
	table  atomic.Pointer[RateTable]
	base   string
	source RateSource
	group  singleflight.Group
	logger *log.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource sets where Refresh fetches tables from.
func WithSource(src RateSource) Option {
	return func(e *Engine) { e.source = src }
}

// WithBase expresses the starting table relative to base. Unknown bases
// keep the fallback table as is.
func WithBase(base string) Option {
	return func(e *Engine) { e.base = core.NormalizeCurrency(base) }
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent(log.ComponentCurrency) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine seeds an engine with the fallback table.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Discard()
	}
	table := FallbackTable()
	if e.base != "" && e.base != table.Base {
		rebased, err := table.Rebase(e.base)
		if err != nil {
			e.logger.Warn("Keeping fallback rate base", log.FieldRatesBase, e.base, log.FieldError, err)
		} else {
			table = rebased
		}
	}
	e.table.Store(table)
	return e
}

// Table returns the current rate table.
func (e *Engine) Table() *RateTable {
	return e.table.Load()
}

// Convert returns amount expressed in to. When from and to are equal the
// amount is returned untouched.
func (e *Engine) Convert(amount float64, from, to string) (float64, error) {
	from, to = core.NormalizeCurrency(from), core.NormalizeCurrency(to)
	if from == to {
		return amount, nil
	}
	t := e.table.Load()
	rf, ok := t.Rate(from)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}
	rt, ok := t.Rate(to)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}
	return amount * (rt / rf), nil
}

// Sum converts every amount into to and adds them without rounding. All
// conversions use the same table even if a refresh lands mid-sum.
func (e *Engine) Sum(amounts []Amount, to string) (float64, error) {
	to = core.NormalizeCurrency(to)
	t := e.table.Load()
	rt, ok := t.Rate(to)
	var total float64
	for _, a := range amounts {
		from := core.NormalizeCurrency(a.Currency)
		if from == to {
			total += a.Value
			continue
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
		}
		rf, found := t.Rate(from)
		if !found {
			return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
		}
		total += a.Value * (rt / rf)
	}
	return total, nil
}

// Refresh fetches a new table and swaps it in wholesale. Concurrent callers
// share a single in-flight fetch. On failure the previous table and its
// timestamp stay in place.
func (e *Engine) Refresh(ctx context.Context) (*RateTable, error) {
	if e.source == nil {
		return nil, fmt.Errorf("refresh rates: no rate source configured")
	}
	// The flight outlives any single caller; each caller stops waiting on its
	// own context.
	flight := context.WithoutCancel(ctx)
	ch := e.group.DoChan("refresh", func() (any, error) {
		return e.refresh(flight)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			e.logger.Debug("Joined in-flight rate refresh")
		}
		return res.Val.(*RateTable), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("refresh rates: %w", ctx.Err())
	}
}

func (e *Engine) refresh(ctx context.Context) (*RateTable, error) {
	current := e.table.Load()
	fetched, err := e.source.Fetch(ctx)
	if err != nil {
		e.logger.Warn("Rate refresh failed, keeping previous table",
			log.FieldOperation, log.OpRefresh,
			log.FieldError, err,
			log.FieldStaleness, e.StalenessText())
		return nil, fmt.Errorf("refresh rates: %w", err)
	}
	if err := fetched.Validate(); err != nil {
		return nil, fmt.Errorf("refresh rates: %w", err)
	}
	next, err := fetched.Rebase(current.Base)
	if err != nil {
		return nil, fmt.Errorf("refresh rates: %w", err)
	}
	if next == fetched {
		cp := *fetched
		next = &cp
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = e.now()
	}
	e.table.Store(next)
	e.logger.Info("Rate table refreshed",
		log.FieldRatesBase, next.Base,
		"currencies", len(next.Rates))
	return next, nil
}

// LastRefreshed returns when the current table was produced; zero for the
// fallback table.
func (e *Engine) LastRefreshed() time.Time {
	return e.table.Load().UpdatedAt
}

// Staleness is the age of the current table, or zero if it was never refreshed.
func (e *Engine) Staleness() time.Duration {
	at := e.LastRefreshed()
	if at.IsZero() {
		return 0
	}
	return e.now().Sub(at)
}

// StalenessText renders Staleness for humans ("2h 5m"); "never refreshed"
// for the fallback table.
func (e *Engine) StalenessText() string {
	if e.LastRefreshed().IsZero() {
		return "never refreshed"
	}
	return durafmt.ParseShort(e.Staleness().Truncate(time.Second)).String()
}
