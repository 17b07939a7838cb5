// Package budget derives spending statistics for a trip. Amounts are summed
// unrounded in the trip's main currency; rounding happens only in Format.
package budget

import (
	"fmt"
	"math"
	"sort"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/currency"
)

// Converter converts between currency codes.
type Converter interface {
	Convert(amount float64, from, to string) (float64, error)
}

type CategoryStat struct {
	Category  string  `json:"category"`
	Spent     float64 `json:"spent"`
	Budget    float64 `json:"budget,omitempty"`
	HasBudget bool    `json:"hasBudget"`
	Remaining float64 `json:"remaining,omitempty"`
	Over      bool    `json:"over"`
}

type Stats struct {
	TripID       string         `json:"tripId"`
	Currency     string         `json:"currency"`
	Budget       float64        `json:"budget"`
	Spent        float64        `json:"spent"`
	Remaining    float64        `json:"remaining"`
	Progress     float64        `json:"progress"`
	TripDays     int            `json:"tripDays"`
	DaysElapsed  int            `json:"daysElapsed"`
	DailyAverage float64        `json:"dailyAverage"`
	DailyBudget  float64        `json:"dailyBudget"`
	TodaySpent   float64        `json:"todaySpent"`
	ExpenseCount int            `json:"expenseCount"`
	Categories   []CategoryStat `json:"categories"`
}

const day = 24 * time.Hour

// Compute converts every expense of t into its main currency and aggregates.
func Compute(t core.Trip, conv Converter, now time.Time) (Stats, error) {
	s := Stats{
		TripID:       t.ID,
		Currency:     t.MainCurrency,
		Budget:       t.TotalBudget,
		TripDays:     TripDays(t),
		DaysElapsed:  DaysElapsed(t, now),
		ExpenseCount: len(t.Expenses),
	}

	byCategory := map[string]*CategoryStat{}
	stat := func(name string) *CategoryStat {
		c, ok := byCategory[name]
		if !ok {
			c = &CategoryStat{Category: name}
			byCategory[name] = c
		}
		return c
	}

	ny, nm, nd := now.Date()
	for _, e := range t.Expenses {
		v, err := conv.Convert(e.Amount, e.Currency, t.MainCurrency)
		if err != nil {
			return Stats{}, fmt.Errorf("convert expense %s: %w", e.ID, err)
		}
		s.Spent += v
		stat(e.Category).Spent += v
		if y, m, d := e.Date.UTC().Date(); y == ny && m == nm && d == nd {
			s.TodaySpent += v
		}
	}

	if t.EnableCategoryBudgets {
		for _, b := range t.CategoryBudgets {
			c := stat(b.CategoryName)
			c.HasBudget = true
			c.Budget = b.Amount
			c.Remaining = b.Amount - c.Spent
			c.Over = c.Spent > b.Amount
		}
	}

	s.Remaining = s.Budget - s.Spent
	if s.Budget > 0 {
		s.Progress = s.Spent / s.Budget
	}
	s.DailyAverage = s.Spent / float64(s.DaysElapsed)
	if s.TripDays > 0 {
		s.DailyBudget = s.Budget / float64(s.TripDays)
	}

	s.Categories = make([]CategoryStat, 0, len(byCategory))
	for _, c := range byCategory {
		s.Categories = append(s.Categories, *c)
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		a, b := s.Categories[i], s.Categories[j]
		if a.Spent != b.Spent {
			return a.Spent > b.Spent
		}
		return a.Category < b.Category
	})
	return s, nil
}

// TripDays counts calendar days from start to end, both included.
func TripDays(t core.Trip) int {
	return int(math.Round(t.EndDate.Sub(t.StartDate).Hours()/24)) + 1
}

// DaysElapsed is the number of started days of the trip at now, clamped to
// the trip span and never below one.
func DaysElapsed(t core.Trip, now time.Time) int {
	var elapsed time.Duration
	switch {
	case now.Before(t.StartDate):
		elapsed = 0
	case now.After(t.EndDate):
		elapsed = t.EndDate.Sub(t.StartDate)
	default:
		elapsed = now.Sub(t.StartDate)
	}
	days := int(math.Ceil(float64(elapsed) / float64(day)))
	return max(1, days)
}

// Summary is Stats rendered for display.
type Summary struct {
	Budget       string `json:"budget"`
	Spent        string `json:"spent"`
	Remaining    string `json:"remaining"`
	DailyAverage string `json:"dailyAverage"`
	DailyBudget  string `json:"dailyBudget"`
	TodaySpent   string `json:"todaySpent"`
}

func (s Stats) Format() Summary {
	return Summary{
		Budget:       currency.Format(s.Budget, s.Currency),
		Spent:        currency.Format(s.Spent, s.Currency),
		Remaining:    currency.Format(s.Remaining, s.Currency),
		DailyAverage: currency.Format(s.DailyAverage, s.Currency),
		DailyBudget:  currency.Format(s.DailyBudget, s.Currency),
		TodaySpent:   currency.Format(s.TodaySpent, s.Currency),
	}
}
