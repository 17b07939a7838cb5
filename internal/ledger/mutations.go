package ledger

import (
	"errors"
	"slices"
	"strings"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/notify"
)

// AddTrip creates a trip with no expenses.
func (s *Store) AddTrip(in core.TripInput) (core.Trip, error) {
	if err := in.Validate(); err != nil {
		return core.Trip{}, err
	}
	var created core.Trip
	err := s.mutate(log.OpCreate, MsgTripCreated, func(l *core.Ledger) error {
		if err := checkCategoryRefs(l, in); err != nil {
			return err
		}
		t := s.buildTrip(s.ids.Next(tripIDTaken(l)), in)
		if t.Color == "" {
			t.Color = core.TripColor(len(l.Trips))
		}
		t.Expenses = []core.Expense{}
		l.Trips = append(l.Trips, t)
		created = t.Clone()
		return nil
	})
	return created, err
}

// UpdateTrip replaces the editable fields of a trip. Its expenses are kept.
func (s *Store) UpdateTrip(id string, in core.TripInput) (core.Trip, error) {
	if err := in.Validate(); err != nil {
		return core.Trip{}, err
	}
	var updated core.Trip
	err := s.mutate(log.OpUpdate, MsgTripUpdated, func(l *core.Ledger) error {
		idx := l.FindTrip(id)
		if idx < 0 {
			return core.ErrTripNotFound
		}
		if err := checkCategoryRefs(l, in); err != nil {
			return err
		}
		old := l.Trips[idx]
		t := s.buildTrip(id, in)
		if t.Color == "" {
			t.Color = old.Color
		}
		t.Expenses = old.Expenses
		l.Trips[idx] = t
		updated = t.Clone()
		return nil
	})
	return updated, err
}

// DeleteTrip removes a trip and clears the default reference if it pointed
// at it.
func (s *Store) DeleteTrip(id string) error {
	return s.mutate(log.OpDelete, MsgTripDeleted, func(l *core.Ledger) error {
		idx := l.FindTrip(id)
		if idx < 0 {
			return core.ErrTripNotFound
		}
		l.Trips = slices.Delete(l.Trips, idx, idx+1)
		if l.DefaultTrip() == id {
			l.DefaultTripID = nil
		}
		return nil
	})
}

// AddExpense records an expense on a trip. The currency must be one of the
// trip's preferred currencies and the category must exist.
func (s *Store) AddExpense(tripID string, in core.ExpenseInput) (core.Expense, error) {
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}
	var created core.Expense
	err := s.mutate(log.OpCreate, MsgExpenseAdded, func(l *core.Ledger) error {
		idx := l.FindTrip(tripID)
		if idx < 0 {
			return core.ErrTripNotFound
		}
		t := &l.Trips[idx]
		e, err := buildExpense(l, t, s.ids.Next(expenseIDTaken(t)), in)
		if err != nil {
			return err
		}
		t.Expenses = append(t.Expenses, e)
		created = e
		return nil
	})
	return created, err
}

func (s *Store) UpdateExpense(tripID, expenseID string, in core.ExpenseInput) (core.Expense, error) {
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}
	var updated core.Expense
	err := s.mutate(log.OpUpdate, MsgExpenseUpdated, func(l *core.Ledger) error {
		idx := l.FindTrip(tripID)
		if idx < 0 {
			return core.ErrTripNotFound
		}
		t := &l.Trips[idx]
		eidx := t.FindExpense(expenseID)
		if eidx < 0 {
			return core.ErrExpenseNotFound
		}
		e, err := buildExpense(l, t, expenseID, in)
		if err != nil {
			return err
		}
		t.Expenses[eidx] = e
		updated = e
		return nil
	})
	return updated, err
}

func (s *Store) DeleteExpense(tripID, expenseID string) error {
	return s.mutate(log.OpDelete, MsgExpenseDeleted, func(l *core.Ledger) error {
		idx := l.FindTrip(tripID)
		if idx < 0 {
			return core.ErrTripNotFound
		}
		t := &l.Trips[idx]
		eidx := t.FindExpense(expenseID)
		if eidx < 0 {
			return core.ErrExpenseNotFound
		}
		t.Expenses = slices.Delete(t.Expenses, eidx, eidx+1)
		return nil
	})
}

// AddCategory creates a custom category. Names are unique.
func (s *Store) AddCategory(in core.CategoryInput) (core.Category, error) {
	if err := in.Validate(); err != nil {
		return core.Category{}, err
	}
	name := strings.TrimSpace(in.Name)
	var created core.Category
	err := s.mutate(log.OpCreate, MsgCategoryCreated, func(l *core.Ledger) error {
		if l.HasCategoryName(name) {
			return core.ErrDuplicateCategory
		}
		c := core.Category{ID: s.ids.CategoryID(l), Name: name, Icon: in.Icon, Color: in.Color}
		l.Categories = append(l.Categories, c)
		created = c
		return nil
	})
	return created, err
}

// UpdateCategory edits a category. A rename rewrites every expense, budget
// allocation and template that referenced the old name in the same
// snapshot.
func (s *Store) UpdateCategory(id string, in core.CategoryInput) (core.Category, error) {
	if err := in.Validate(); err != nil {
		return core.Category{}, err
	}
	name := strings.TrimSpace(in.Name)
	var updated core.Category
	err := s.mutate(log.OpUpdate, MsgCategoryUpdated, func(l *core.Ledger) error {
		idx := l.FindCategory(id)
		if idx < 0 {
			return core.ErrCategoryNotFound
		}
		if other := l.FindCategoryByName(name); other >= 0 && other != idx {
			return core.ErrDuplicateCategory
		}
		oldName := l.Categories[idx].Name
		c := core.Category{ID: id, Name: name, Icon: in.Icon, Color: in.Color}
		l.Categories[idx] = c
		l.RenameCategory(oldName, name)
		updated = c
		return nil
	})
	return updated, err
}

// DeleteCategory removes a custom category. Its expenses and templates move
// to the fallback category and its budget allocations are dropped. Default
// categories cannot be deleted.
func (s *Store) DeleteCategory(id string) error {
	if core.IsProtectedCategory(id) {
		s.notifier.Notify(notify.LevelError, MsgProtectedCategory)
		return core.ErrProtectedCategory
	}
	err := s.mutate(log.OpDelete, MsgCategoryDeleted, func(l *core.Ledger) error {
		idx := l.FindCategory(id)
		if idx < 0 {
			return core.ErrCategoryNotFound
		}
		fb := l.FindCategory(core.FallbackCategoryID)
		if fb < 0 {
			return core.ErrFallbackMissing
		}
		l.ReassignCategory(l.Categories[idx].Name, l.Categories[fb].Name)
		l.Categories = slices.Delete(l.Categories, idx, idx+1)
		return nil
	})
	if errors.Is(err, core.ErrFallbackMissing) {
		s.notifier.Notify(notify.LevelError, MsgFallbackMissing)
	}
	return err
}

// SetDefaultTrip marks a trip as the default one. An empty id clears it.
func (s *Store) SetDefaultTrip(tripID string) error {
	return s.mutate(log.OpUpdate, MsgDefaultTripSet, func(l *core.Ledger) error {
		if tripID == "" {
			l.DefaultTripID = nil
			return nil
		}
		if l.FindTrip(tripID) < 0 {
			return core.ErrTripNotFound
		}
		id := tripID
		l.DefaultTripID = &id
		return nil
	})
}

func (s *Store) buildTrip(id string, in core.TripInput) core.Trip {
	main := core.NormalizeCurrency(in.MainCurrency)
	t := core.Trip{
		ID:                    id,
		Name:                  strings.TrimSpace(in.Name),
		StartDate:             in.StartDate,
		EndDate:               in.EndDate,
		TotalBudget:           in.TotalBudget,
		Countries:             slices.Clone(in.Countries),
		PreferredCurrencies:   core.PreferredSet(main, in.PreferredCurrencies),
		MainCurrency:          main,
		Color:                 in.Color,
		EnableCategoryBudgets: in.EnableCategoryBudgets,
		CategoryBudgets:       slices.Clone(in.CategoryBudgets),
		FrequentExpenses:      slices.Clone(in.FrequentExpenses),
	}
	if t.Countries == nil {
		t.Countries = []string{}
	}
	for i := range t.FrequentExpenses {
		if t.FrequentExpenses[i].ID == "" {
			t.FrequentExpenses[i].ID = "fe-" + s.ids.Next(nil)
		}
	}
	return t
}

func buildExpense(l *core.Ledger, t *core.Trip, id string, in core.ExpenseInput) (core.Expense, error) {
	currency := core.NormalizeCurrency(in.Currency)
	if !t.AllowsCurrency(currency) {
		return core.Expense{}, core.ErrCurrencyNotAllowed
	}
	category := strings.TrimSpace(in.Category)
	if !l.HasCategoryName(category) {
		return core.Expense{}, core.ErrUnknownCategory
	}
	country := strings.TrimSpace(in.Country)
	if country == "" {
		country = core.CountryForCurrency(currency)
	}
	return core.Expense{
		ID:       id,
		Amount:   in.Amount,
		Currency: currency,
		Category: category,
		Date:     in.Date,
		Country:  country,
	}, nil
}

// checkCategoryRefs rejects budget allocations and templates naming unknown
// categories.
func checkCategoryRefs(l *core.Ledger, in core.TripInput) error {
	for _, b := range in.CategoryBudgets {
		if !l.HasCategoryName(strings.TrimSpace(b.CategoryName)) {
			return core.ErrUnknownCategory
		}
	}
	for _, f := range in.FrequentExpenses {
		if !l.HasCategoryName(strings.TrimSpace(f.Category)) {
			return core.ErrUnknownCategory
		}
	}
	return nil
}
