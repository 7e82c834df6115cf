package domain

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
)

const defaultCurrency = "USD"

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "$",
	"AUD": "$",
	"NZD": "$",
	"MXN": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
	"BRL": "R$",
	"SEK": "kr",
	"NOK": "kr",
	"DKK": "kr",
	"CHF": "CHF",
}

// ComputeTotals derives cart totals from the given state. Totals are always
// computed from the items that produced them, never maintained incrementally,
// so they cannot drift.
func ComputeTotals(state CartState, currencyCode string) CartTotals {
	code := normaliseCurrency(currencyCode)

	var subtotal, retailSubtotal, recurring int64
	for _, item := range state.Items {
		qty := int64(item.Quantity)
		if qty < 0 {
			qty = 0
		}

		lineTotal := item.Price * qty
		if item.PriceTotal != nil {
			lineTotal = *item.PriceTotal
		}
		subtotal += lineTotal

		retailUnit := item.Price
		if item.RetailPrice != nil {
			retailUnit = *item.RetailPrice
		}
		retailSubtotal += retailUnit * qty

		if item.IsRecurring && item.PriceRecurring != nil {
			recurring += *item.PriceRecurring * qty
		}
	}

	// Savings stay signed; a catalog pricing above retail reports negative
	// savings rather than hiding the difference.
	savings := retailSubtotal - subtotal
	var savingsPct float64
	if retailSubtotal > 0 {
		savingsPct = roundPct(float64(savings) / float64(retailSubtotal) * 100)
	}

	var shipping int64
	if state.ShippingMethod != nil {
		shipping = state.ShippingMethod.Price
	}

	// Tax is reserved; the commerce API computes it server-side today.
	var tax int64

	return CartTotals{
		Subtotal:          subtotal,
		RetailSubtotal:    retailSubtotal,
		Savings:           savings,
		SavingsPercentage: savingsPct,
		Shipping:          shipping,
		Tax:               tax,
		Total:             subtotal + shipping + tax,
		RecurringTotal:    recurring,
		Currency:          code,
		CurrencySymbol:    CurrencySymbol(code),
	}
}

// CurrencySymbol resolves the display symbol for an ISO 4217 code, falling
// back to the code itself when no symbol is known.
func CurrencySymbol(code string) string {
	normalised := normaliseCurrency(code)
	if symbol, ok := currencySymbols[normalised]; ok {
		return symbol
	}
	return normalised
}

func normaliseCurrency(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return defaultCurrency
	}
	if _, err := currency.ParseISO(trimmed); err != nil {
		return defaultCurrency
	}
	return trimmed
}

func roundPct(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
