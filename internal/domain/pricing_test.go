package domain

import "testing"

func int64Ptr(v int64) *int64 { return &v }

func TestComputeTotalsSubtotalAndSavings(t *testing.T) {
	state := CartState{
		Items: []CartItem{
			{ID: "42", Price: 50, RetailPrice: int64Ptr(80), Quantity: 2},
		},
	}

	totals := ComputeTotals(state, "USD")

	if totals.Subtotal != 100 {
		t.Fatalf("expected subtotal 100, got %d", totals.Subtotal)
	}
	if totals.RetailSubtotal != 160 {
		t.Fatalf("expected retail subtotal 160, got %d", totals.RetailSubtotal)
	}
	if totals.Savings != 60 {
		t.Fatalf("expected savings 60, got %d", totals.Savings)
	}
	if totals.SavingsPercentage != 37.5 {
		t.Fatalf("expected savings percentage 37.5, got %v", totals.SavingsPercentage)
	}
	if totals.Total != 100 {
		t.Fatalf("expected total 100, got %d", totals.Total)
	}
	if totals.CurrencySymbol != "$" {
		t.Fatalf("expected currency symbol $, got %q", totals.CurrencySymbol)
	}
}

func TestComputeTotalsSavingsStaySignedWhenRetailIsBelowPrice(t *testing.T) {
	state := CartState{
		Items: []CartItem{
			{ID: "1", Price: 120, RetailPrice: int64Ptr(100), Quantity: 1},
		},
	}

	totals := ComputeTotals(state, "USD")
	if totals.Savings != -20 {
		t.Fatalf("expected savings -20, got %d", totals.Savings)
	}
	if totals.SavingsPercentage != -20 {
		t.Fatalf("expected savings percentage -20, got %v", totals.SavingsPercentage)
	}
}

func TestComputeTotalsZeroRetailSubtotalHasZeroPercentage(t *testing.T) {
	totals := ComputeTotals(CartState{}, "USD")
	if totals.SavingsPercentage != 0 {
		t.Fatalf("expected 0 savings percentage on empty cart, got %v", totals.SavingsPercentage)
	}

	free := CartState{Items: []CartItem{{ID: "1", Price: 0, Quantity: 3}}}
	totals = ComputeTotals(free, "USD")
	if totals.SavingsPercentage != 0 {
		t.Fatalf("expected 0 savings percentage for zero retail subtotal, got %v", totals.SavingsPercentage)
	}
}

func TestComputeTotalsUsesLineTotalOverride(t *testing.T) {
	state := CartState{
		Items: []CartItem{
			{ID: "1", Price: 500, Quantity: 2, PriceTotal: int64Ptr(900)},
			{ID: "2", Price: 100, Quantity: 1},
		},
	}

	totals := ComputeTotals(state, "USD")
	if totals.Subtotal != 1000 {
		t.Fatalf("expected subtotal 1000 with override, got %d", totals.Subtotal)
	}
}

func TestComputeTotalsIncludesShippingInTotal(t *testing.T) {
	state := CartState{
		Items:          []CartItem{{ID: "1", Price: 1000, Quantity: 1}},
		ShippingMethod: &ShippingMethod{RefID: 2, Price: 495},
	}

	totals := ComputeTotals(state, "USD")
	if totals.Shipping != 495 {
		t.Fatalf("expected shipping 495, got %d", totals.Shipping)
	}
	if totals.Total != totals.Subtotal+totals.Shipping+totals.Tax {
		t.Fatalf("total %d does not equal subtotal %d + shipping %d + tax %d", totals.Total, totals.Subtotal, totals.Shipping, totals.Tax)
	}
}

func TestComputeTotalsRecurring(t *testing.T) {
	state := CartState{
		Items: []CartItem{
			{ID: "1", Price: 2000, Quantity: 2, IsRecurring: true, PriceRecurring: int64Ptr(1500), Interval: "month", IntervalCount: 1},
			{ID: "2", Price: 500, Quantity: 1},
		},
	}

	totals := ComputeTotals(state, "USD")
	if totals.RecurringTotal != 3000 {
		t.Fatalf("expected recurring total 3000, got %d", totals.RecurringTotal)
	}
}

func TestCurrencySymbolFallsBackToCode(t *testing.T) {
	if got := CurrencySymbol("PLN"); got != "PLN" {
		t.Fatalf("expected code fallback PLN, got %q", got)
	}
	if got := CurrencySymbol("EUR"); got != "€" {
		t.Fatalf("expected euro symbol, got %q", got)
	}
}
