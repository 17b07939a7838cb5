package currency

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"spendlog/internal/core"
)

// fraction returns the minor-unit digits of code, two when unknown.
func fraction(code string) int {
	if cur := money.GetCurrency(core.NormalizeCurrency(code)); cur != nil {
		return cur.Fraction
	}
	return 2
}

// Round rounds amount half away from zero to the display precision of code.
// Only call it on final values; sums must stay unrounded.
func Round(amount float64, code string) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(int32(fraction(code))).Float64()
	return f
}

// Format renders amount with the symbol and precision of code, e.g. "€1,234.50".
func Format(amount float64, code string) string {
	code = core.NormalizeCurrency(code)
	if money.GetCurrency(code) == nil {
		return decimal.NewFromFloat(amount).StringFixed(2) + " " + code
	}
	minor := decimal.NewFromFloat(amount).Round(int32(fraction(code))).Shift(int32(fraction(code))).IntPart()
	return money.New(minor, code).Display()
}
