package core

import "time"

// DemoLedger returns the sample document served to local-mock users.
func DemoLedger() *Ledger {
	day := func(m time.Month, d int) time.Time {
		return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
	}
	tripID := "mock-trip-1"
	return &Ledger{
		Name:       "Utente Demo",
		Email:      "demo@spendilog.com",
		TravelDate: "",
		Categories: DefaultCategories(),
		Trips: []Trip{{
			ID:                  tripID,
			Name:                "Sud-est Asiatico",
			StartDate:           day(time.August, 1),
			EndDate:             day(time.August, 30),
			TotalBudget:         3000,
			Countries:           []string{"Thailandia", "Vietnam", "Cambogia"},
			PreferredCurrencies: []string{"EUR", "THB", "VND"},
			MainCurrency:        "EUR",
			Color:               TripColors[0],
			Expenses: []Expense{
				{ID: "exp4", Amount: 25, Currency: "EUR", Category: "Trasporti", Date: day(time.August, 4)},
				{ID: "exp3", Amount: 500000, Currency: "VND", Category: "Attività", Date: day(time.August, 3), Country: "Vietnam"},
				{ID: "exp2", Amount: 1200, Currency: "THB", Category: "Alloggio", Date: day(time.August, 2), Country: "Thailandia"},
				{ID: "exp1", Amount: 15, Currency: "EUR", Category: "Cibo", Date: day(time.August, 1)},
			},
			EnableCategoryBudgets: true,
			CategoryBudgets: []CategoryBudget{
				{CategoryName: "Cibo", Amount: 1000},
				{CategoryName: "Alloggio", Amount: 1200},
			},
			FrequentExpenses: []FrequentExpense{
				{ID: "freq-1", Name: "Pranzo", Icon: "🍽️", Category: "Cibo", Amount: 10},
				{ID: "freq-2", Name: "Grab Bike", Icon: "🛵", Category: "Trasporti", Amount: 2},
			},
		}},
		DefaultTripID: &tripID,
	}
}
