package core

import "slices"

// FallbackCategoryID identifies the category that inherits the expenses of
// deleted categories.
const FallbackCategoryID = "cat-8"

// CustomCategoryPrefix prefixes the ids of user-created categories.
const CustomCategoryPrefix = "custom-cat-"

var defaultCategories = []Category{
	{ID: "cat-1", Name: "Cibo", Icon: "🍔", Color: "#FF9800"},
	{ID: "cat-2", Name: "Alloggio", Icon: "🏠", Color: "#795548"},
	{ID: "cat-3", Name: "Trasporti", Icon: "🚆", Color: "#2196F3"},
	{ID: "cat-4", Name: "Attività", Icon: "🏞️", Color: "#4CAF50"},
	{ID: "cat-5", Name: "Shopping", Icon: "🛍️", Color: "#E91E63"},
	{ID: "cat-6", Name: "Visti", Icon: "🛂", Color: "#607D8B"},
	{ID: "cat-7", Name: "Assicurazione", Icon: "🛡️", Color: "#00BCD4"},
	{ID: FallbackCategoryID, Name: "Varie", Icon: "📦", Color: "#9E9E9E"},
}

// DefaultCategories returns a fresh copy of the protected categories.
func DefaultCategories() []Category {
	return slices.Clone(defaultCategories)
}

// IsProtectedCategory reports whether id belongs to a default category.
func IsProtectedCategory(id string) bool {
	for _, c := range defaultCategories {
		if c.ID == id {
			return true
		}
	}
	return false
}

// DefaultLedger returns the hollow ledger adopted by new users and by
// degraded listeners.
func DefaultLedger() *Ledger {
	return &Ledger{
		Trips:      []Trip{},
		Categories: DefaultCategories(),
	}
}

// Normalize repairs a loaded document in place and returns it. A nil ledger
// yields the hollow default.
func Normalize(l *Ledger) *Ledger {
	if l == nil {
		return DefaultLedger()
	}
	l.Categories = normalizeCategories(l.Categories)
	if l.Trips == nil {
		l.Trips = []Trip{}
	}
	for i := range l.Trips {
		t := &l.Trips[i]
		t.MainCurrency = NormalizeCurrency(t.MainCurrency)
		t.PreferredCurrencies = PreferredSet(t.MainCurrency, t.PreferredCurrencies)
		if t.Expenses == nil {
			t.Expenses = []Expense{}
		}
		if t.Countries == nil {
			t.Countries = []string{}
		}
	}
	if l.DefaultTripID != nil && *l.DefaultTripID == "" {
		l.DefaultTripID = nil
	}
	return l
}

func normalizeCategories(cats []Category) []Category {
	if len(cats) == 0 {
		return DefaultCategories()
	}
	missing := false
	for _, d := range defaultCategories {
		if !slices.ContainsFunc(cats, func(c Category) bool { return c.ID == d.ID }) {
			missing = true
			break
		}
	}
	if !missing {
		return cats
	}
	out := DefaultCategories()
	for _, c := range cats {
		if !IsProtectedCategory(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy of the ledger. Snapshots handed to observers are
// never mutated; every mutation starts from a clone.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	out := *l
	out.Categories = slices.Clone(l.Categories)
	out.Trips = make([]Trip, len(l.Trips))
	for i, t := range l.Trips {
		out.Trips[i] = t.Clone()
	}
	if l.DefaultTripID != nil {
		id := *l.DefaultTripID
		out.DefaultTripID = &id
	}
	return &out
}

func (t Trip) Clone() Trip {
	t.Countries = slices.Clone(t.Countries)
	t.PreferredCurrencies = slices.Clone(t.PreferredCurrencies)
	t.Expenses = slices.Clone(t.Expenses)
	t.CategoryBudgets = slices.Clone(t.CategoryBudgets)
	t.FrequentExpenses = slices.Clone(t.FrequentExpenses)
	return t
}

// RenameCategory rewrites every reference to oldName across trips.
func (l *Ledger) RenameCategory(oldName, newName string) {
	if oldName == newName {
		return
	}
	for i := range l.Trips {
		t := &l.Trips[i]
		for j := range t.Expenses {
			if t.Expenses[j].Category == oldName {
				t.Expenses[j].Category = newName
			}
		}
		for j := range t.CategoryBudgets {
			if t.CategoryBudgets[j].CategoryName == oldName {
				t.CategoryBudgets[j].CategoryName = newName
			}
		}
		for j := range t.FrequentExpenses {
			if t.FrequentExpenses[j].Category == oldName {
				t.FrequentExpenses[j].Category = newName
			}
		}
	}
}

// ReassignCategory moves every expense and template from name to fallback and
// drops the budget allocation of name.
func (l *Ledger) ReassignCategory(name, fallback string) {
	for i := range l.Trips {
		t := &l.Trips[i]
		t.CategoryBudgets = slices.DeleteFunc(t.CategoryBudgets, func(b CategoryBudget) bool {
			return b.CategoryName == name
		})
		for j := range t.Expenses {
			if t.Expenses[j].Category == name {
				t.Expenses[j].Category = fallback
			}
		}
		for j := range t.FrequentExpenses {
			if t.FrequentExpenses[j].Category == name {
				t.FrequentExpenses[j].Category = fallback
			}
		}
	}
}
