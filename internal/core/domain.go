// Package core defines the trip ledger document, its defaults and the
// validation rules shared by every mutation.
package core

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	colorful "github.com/lucasb-eyer/go-colorful"
)

type (
	// Ledger is the per-user aggregate persisted as one JSON document.
	Ledger struct {
		Name          string     `json:"name"`
		Email         string     `json:"email"`
		TravelDate    string     `json:"dataviaggio"`
		Trips         []Trip     `json:"trips"`
		Categories    []Category `json:"categories"`
		DefaultTripID *string    `json:"defaultTripId"`
	}

	Trip struct {
		ID                    string            `json:"id"`
		Name                  string            `json:"name"`
		StartDate             time.Time         `json:"startDate"`
		EndDate               time.Time         `json:"endDate"`
		TotalBudget           float64           `json:"totalBudget"`
		Countries             []string          `json:"countries"`
		PreferredCurrencies   []string          `json:"preferredCurrencies"`
		MainCurrency          string            `json:"mainCurrency"`
		Expenses              []Expense         `json:"expenses"`
		Color                 string            `json:"color"`
		EnableCategoryBudgets bool              `json:"enableCategoryBudgets"`
		CategoryBudgets       []CategoryBudget  `json:"categoryBudgets,omitempty"`
		FrequentExpenses      []FrequentExpense `json:"frequentExpenses,omitempty"`
	}

	Expense struct {
		ID       string    `json:"id"`
		Amount   float64   `json:"amount"`
		Currency string    `json:"currency"`
		Category string    `json:"category"` // Category name, not id
		Date     time.Time `json:"date"`
		Country  string    `json:"country,omitempty"`
	}

	Category struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Color string `json:"color"`
	}

	// CategoryBudget allocates part of a trip budget to one category.
	CategoryBudget struct {
		CategoryName string  `json:"categoryName"`
		Amount       float64 `json:"amount"`
	}

	// FrequentExpense is a one-tap template for a recurring purchase.
	FrequentExpense struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Icon     string  `json:"icon"`
		Category string  `json:"category"`
		Amount   float64 `json:"amount"`
	}
)

type (
	// TripInput carries the caller-supplied fields of a trip; id and
	// expenses are owned by the mutation pipeline.
	TripInput struct {
		Name                  string            `json:"name"`
		StartDate             time.Time         `json:"startDate"`
		EndDate               time.Time         `json:"endDate"`
		TotalBudget           float64           `json:"totalBudget"`
		Countries             []string          `json:"countries"`
		PreferredCurrencies   []string          `json:"preferredCurrencies"`
		MainCurrency          string            `json:"mainCurrency"`
		Color                 string            `json:"color"`
		EnableCategoryBudgets bool              `json:"enableCategoryBudgets"`
		CategoryBudgets       []CategoryBudget  `json:"categoryBudgets"`
		FrequentExpenses      []FrequentExpense `json:"frequentExpenses"`
	}

	ExpenseInput struct {
		Amount   float64   `json:"amount"`
		Currency string    `json:"currency"`
		Category string    `json:"category"`
		Date     time.Time `json:"date"`
		Country  string    `json:"country,omitempty"`
	}

	CategoryInput struct {
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Color string `json:"color"`
	}
)

// ErrValidation is the root of every input validation failure. Mutations
// that fail with an error matching it leave the ledger untouched.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidBudget      = fmt.Errorf("%w: budget must be positive", ErrValidation)
	ErrEmptyName          = fmt.Errorf("%w: name is required", ErrValidation)
	ErrEmptyCategory      = fmt.Errorf("%w: category is required", ErrValidation)
	ErrMissingDate        = fmt.Errorf("%w: date is required", ErrValidation)
	ErrInvalidDateRange   = fmt.Errorf("%w: end date before start date", ErrValidation)
	ErrInvalidCurrency    = fmt.Errorf("%w: unknown currency code", ErrValidation)
	ErrCurrencyNotAllowed = fmt.Errorf("%w: currency not among the trip's preferred currencies", ErrValidation)
	ErrUnknownCategory    = fmt.Errorf("%w: category does not exist", ErrValidation)
	ErrDuplicateCategory  = fmt.Errorf("%w: category name already in use", ErrValidation)
	ErrProtectedCategory  = fmt.Errorf("%w: default categories cannot be deleted", ErrValidation)
	ErrFallbackMissing    = fmt.Errorf("%w: fallback category not found", ErrValidation)
	ErrInvalidColor       = fmt.Errorf("%w: color must be a hex value", ErrValidation)
	ErrTripNotFound       = fmt.Errorf("%w: trip not found", ErrValidation)
	ErrExpenseNotFound    = fmt.Errorf("%w: expense not found", ErrValidation)
	ErrCategoryNotFound   = fmt.Errorf("%w: category not found", ErrValidation)
)

// IsNotFound reports whether err refers to a missing trip, expense or category.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTripNotFound) ||
		errors.Is(err, ErrExpenseNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency reports whether code is a known ISO 4217 currency.
func ValidCurrency(code string) bool {
	return code != "" && money.GetCurrency(code) != nil
}

// SupportedCurrency reports whether code is one of the trip currencies the
// rate engine can always convert.
func SupportedCurrency(code string) bool {
	return slices.Contains(AllCurrencies(), NormalizeCurrency(code))
}

// positive rejects zero, negatives, NaN and infinities.
func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}

func validColor(c string) bool {
	if c == "" {
		return true
	}
	_, err := colorful.Hex(c)
	return err == nil
}

func (in TripInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrEmptyName
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return ErrMissingDate
	}
	if in.EndDate.Before(in.StartDate) {
		return ErrInvalidDateRange
	}
	if !positive(in.TotalBudget) {
		return ErrInvalidBudget
	}
	if !SupportedCurrency(in.MainCurrency) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, in.MainCurrency)
	}
	for _, c := range in.PreferredCurrencies {
		if !SupportedCurrency(c) {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
		}
	}
	if !validColor(in.Color) {
		return ErrInvalidColor
	}
	for _, b := range in.CategoryBudgets {
		if strings.TrimSpace(b.CategoryName) == "" {
			return ErrEmptyCategory
		}
		if !nonNegative(b.Amount) {
			return fmt.Errorf("%w: category budget for %q must be a non-negative number", ErrValidation, b.CategoryName)
		}
	}
	for _, f := range in.FrequentExpenses {
		if strings.TrimSpace(f.Name) == "" {
			return ErrEmptyName
		}
		if !positive(f.Amount) {
			return ErrInvalidAmount
		}
		if strings.TrimSpace(f.Category) == "" {
			return ErrEmptyCategory
		}
	}
	return nil
}

func (in ExpenseInput) Validate() error {
	if !positive(in.Amount) {
		return ErrInvalidAmount
	}
	if !ValidCurrency(NormalizeCurrency(in.Currency)) {
		return ErrInvalidCurrency
	}
	if strings.TrimSpace(in.Category) == "" {
		return ErrEmptyCategory
	}
	if in.Date.IsZero() {
		return ErrMissingDate
	}
	return nil
}

func (in CategoryInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrEmptyName
	}
	if !validColor(in.Color) {
		return ErrInvalidColor
	}
	return nil
}

// PreferredSet returns the deduplicated preferred currencies of a trip with
// the main currency always first.
func PreferredSet(main string, preferred []string) []string {
	main = NormalizeCurrency(main)
	out := make([]string, 0, len(preferred)+1)
	seen := map[string]struct{}{}
	if main != "" {
		out = append(out, main)
		seen[main] = struct{}{}
	}
	for _, c := range preferred {
		c = NormalizeCurrency(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AllowsCurrency reports whether code is among the trip's preferred currencies.
func (t Trip) AllowsCurrency(code string) bool {
	code = NormalizeCurrency(code)
	if code == t.MainCurrency {
		return true
	}
	for _, c := range t.PreferredCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

// FindExpense returns the index of the expense with id, or -1.
func (t Trip) FindExpense(id string) int {
	for i := range t.Expenses {
		if t.Expenses[i].ID == id {
			return i
		}
	}
	return -1
}

// FindTrip returns the index of the trip with id, or -1.
func (l *Ledger) FindTrip(id string) int {
	for i := range l.Trips {
		if l.Trips[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCategory returns the index of the category with id, or -1.
func (l *Ledger) FindCategory(id string) int {
	for i := range l.Categories {
		if l.Categories[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCategoryByName returns the index of the category named name, or -1.
func (l *Ledger) FindCategoryByName(name string) int {
	for i := range l.Categories {
		if l.Categories[i].Name == name {
			return i
		}
	}
	return -1
}

func (l *Ledger) HasCategoryName(name string) bool {
	return l.FindCategoryByName(name) >= 0
}

// CategoryNames lists category names in ledger order.
func (l *Ledger) CategoryNames() []string {
	names := make([]string, len(l.Categories))
	for i, c := range l.Categories {
		names[i] = c.Name
	}
	return names
}

// DefaultTrip returns the id of the default trip, or "" when unset.
func (l *Ledger) DefaultTrip() string {
	if l.DefaultTripID == nil {
		return ""
	}
	return *l.DefaultTripID
}
