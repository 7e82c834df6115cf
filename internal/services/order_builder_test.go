package services

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/campaignkit/checkout/internal/domain"
)

func TestBuildOrderPayloadBillingFollowsShipping(t *testing.T) {
	cart := domain.CartState{Items: []domain.CartItem{{ID: "1", Name: "Starter", Price: 5000, Quantity: 1, PackageID: 1}}}
	form := domain.FormSnapshot{
		ShippingAddress: domain.Address{FirstName: "Ana", Line1: "1 Main St", Line4: "Lisbon", Country: "PT", PostCode: "1000"},
		BillingAddress:  domain.Address{FirstName: "Other", Line1: "9 Side St"},
		BillingSame:     true,
	}

	payload, err := BuildOrderPayload(cart, domain.UserProfile{}, form, BuildOptions{})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.BillingAddress != form.ShippingAddress {
		t.Fatalf("expected billing to mirror shipping, got %+v", payload.BillingAddress)
	}

	form.BillingSame = false
	payload, err = BuildOrderPayload(cart, domain.UserProfile{}, form, BuildOptions{})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.BillingAddress != form.BillingAddress {
		t.Fatalf("expected distinct billing address, got %+v", payload.BillingAddress)
	}
}

func TestBuildOrderPayloadShippingMethodCoercion(t *testing.T) {
	cart := domain.CartState{Items: []domain.CartItem{{ID: "1", Name: "Starter", Price: 5000, Quantity: 1, PackageID: 1}}}

	payload, err := BuildOrderPayload(cart, domain.UserProfile{}, domain.FormSnapshot{ShippingMethod: "2"}, BuildOptions{})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.ShippingMethod != 2 {
		t.Fatalf("expected method 2, got %d", payload.ShippingMethod)
	}

	cart.ShippingMethod = &domain.ShippingMethod{RefID: 3}
	payload, err = BuildOrderPayload(cart, domain.UserProfile{}, domain.FormSnapshot{}, BuildOptions{})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.ShippingMethod != 3 {
		t.Fatalf("expected cart selection 3, got %d", payload.ShippingMethod)
	}

	cart.ShippingMethod = nil
	payload, err = BuildOrderPayload(cart, domain.UserProfile{}, domain.FormSnapshot{ShippingMethod: "not-a-number"}, BuildOptions{})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.ShippingMethod != 1 {
		t.Fatalf("expected default method 1, got %d", payload.ShippingMethod)
	}
}

func TestBuildOrderPayloadResolvesPackageIDs(t *testing.T) {
	cart := domain.CartState{Items: []domain.CartItem{
		{ID: "a", Name: "Direct", Price: 100, Quantity: 1, PackageID: 7},
		{ID: "b", Name: "External", Price: 100, Quantity: 2, ExternalID: 12},
		{ID: "c", Name: "Fallback", Price: 100, Quantity: 1},
	}}

	payload, err := BuildOrderPayload(cart, domain.UserProfile{}, domain.FormSnapshot{}, BuildOptions{PackageIDFallback: 99})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	got := []int{payload.Lines[0].PackageID, payload.Lines[1].PackageID, payload.Lines[2].PackageID}
	want := []int{7, 12, 99}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected package %d, got %d", i, want[i], got[i])
		}
	}
}

func TestBuildOrderPayloadNamesUnresolvableLine(t *testing.T) {
	cart := domain.CartState{Items: []domain.CartItem{{ID: "x", Name: "Mystery Box", Price: 100, Quantity: 1}}}

	_, err := BuildOrderPayload(cart, domain.UserProfile{}, domain.FormSnapshot{}, BuildOptions{})
	if !errors.Is(err, ErrInvalidLineItem) {
		t.Fatalf("expected ErrInvalidLineItem, got %v", err)
	}
	if !strings.Contains(err.Error(), "Mystery Box") {
		t.Fatalf("expected item name in error, got %q", err.Error())
	}
}

func TestBuildOrderPayloadMergesUserProfile(t *testing.T) {
	cart := domain.CartState{Items: []domain.CartItem{{ID: "1", Name: "Starter", Price: 100, Quantity: 1, PackageID: 1}}}
	stored := domain.UserProfile{Email: "stored@example.com", FirstName: "Stored"}
	form := domain.FormSnapshot{User: domain.UserProfile{FirstName: "Form", LastName: "Entry"}}

	payload, err := BuildOrderPayload(cart, stored, form, BuildOptions{})
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.User.Email != "stored@example.com" {
		t.Fatalf("expected stored email kept, got %q", payload.User.Email)
	}
	if payload.User.FirstName != "Form" || payload.User.LastName != "Entry" {
		t.Fatalf("expected form values to win, got %+v", payload.User)
	}
}
