package core

type countryCurrency struct {
	Country  string
	Currency string
}

// Ordered so that the first country listed for a currency wins the reverse
// lookup.
var countryCurrencies = []countryCurrency{
	{"Thailandia", "THB"},
	{"Vietnam", "VND"},
	{"Cambogia", "KHR"},
	{"Laos", "LAK"},
	{"Malesia", "MYR"},
	{"Singapore", "SGD"},
	{"Indonesia", "IDR"},
	{"Filippine", "PHP"},
	{"Giappone", "JPY"},
	{"Corea del Sud", "KRW"},
	{"Cina", "CNY"},
	{"Stati Uniti", "USD"},
	{"Area Euro", "EUR"},
	{"Regno Unito", "GBP"},
}

// TripColors is the palette new trips pick their display color from.
var TripColors = []string{
	"#3B82F6", "#705574", "#10B981", "#F59E0B",
	"#8B5CF6", "#EC4899", "#EF4444", "#06B6D4",
}

// CountryCurrencies maps known country names to their currency code.
func CountryCurrencies() map[string]string {
	m := make(map[string]string, len(countryCurrencies))
	for _, cc := range countryCurrencies {
		m[cc.Country] = cc.Currency
	}
	return m
}

// CountryForCurrency returns the country associated with code, or "" when
// the currency is not tied to a known country.
func CountryForCurrency(code string) string {
	code = NormalizeCurrency(code)
	for _, cc := range countryCurrencies {
		if cc.Currency == code {
			return cc.Country
		}
	}
	return ""
}

// AllCurrencies lists the currency codes of the known countries, in table order.
func AllCurrencies() []string {
	out := make([]string, 0, len(countryCurrencies))
	for _, cc := range countryCurrencies {
		out = append(out, cc.Currency)
	}
	return out
}

// TripColor picks the palette color for the n-th trip.
func TripColor(n int) string {
	if n < 0 {
		n = -n
	}
	return TripColors[n%len(TripColors)]
}
