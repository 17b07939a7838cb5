// Package currency converts amounts between currencies using a single,
// wholesale-replaced rate table.
package currency

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"spendlog/internal/core"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidTable    = errors.New("invalid rate table")
)

// RateTable maps currency codes to multipliers relative to Base. A published
// table is never modified.
type RateTable struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// fallbackRates are EUR-based and seed every engine at startup.
var fallbackRates = map[string]float64{
	"EUR": 1,
	"USD": 1.08,
	"GBP": 0.85,
	"THB": 39.50,
	"VND": 27500,
	"KHR": 4400,
	"LAK": 23500,
	"MYR": 5.10,
	"SGD": 1.46,
	"IDR": 17500,
	"PHP": 63.50,
	"JPY": 168.0,
	"KRW": 1480,
	"CNY": 7.80,
}

// FallbackTable returns the static table used until the first refresh. Its
// timestamp is zero, meaning it was never refreshed.
func FallbackTable() *RateTable {
	return &RateTable{Base: "EUR", Rates: maps.Clone(fallbackRates)}
}

// Rate returns the multiplier of code relative to the base.
func (t *RateTable) Rate(code string) (float64, bool) {
	r, ok := t.Rates[code]
	return r, ok
}

// Codes lists the currencies the table can convert.
func (t *RateTable) Codes() []string {
	out := make([]string, 0, len(t.Rates))
	for c := range t.Rates {
		out = append(out, c)
	}
	return out
}

// Validate checks that the base is present with a positive rate and that no
// rate is zero or negative.
func (t *RateTable) Validate() error {
	if t == nil || len(t.Rates) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidTable)
	}
	if r, ok := t.Rates[t.Base]; !ok || r <= 0 {
		return fmt.Errorf("%w: base %q missing", ErrInvalidTable, t.Base)
	}
	for code, r := range t.Rates {
		if r <= 0 {
			return fmt.Errorf("%w: rate for %s is %v", ErrInvalidTable, code, r)
		}
	}
	return nil
}

// Rebase expresses the table relative to base. The receiver is left as is.
func (t *RateTable) Rebase(base string) (*RateTable, error) {
	base = core.NormalizeCurrency(base)
	if t.Base == base {
		return t, nil
	}
	pivot, ok := t.Rates[base]
	if !ok || pivot <= 0 {
		return nil, fmt.Errorf("%w: cannot rebase to %s", ErrUnknownCurrency, base)
	}
	rates := make(map[string]float64, len(t.Rates))
	for code, r := range t.Rates {
		rates[code] = r / pivot
	}
	rates[base] = 1
	return &RateTable{Base: base, Rates: rates, UpdatedAt: t.UpdatedAt}, nil
}
