package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	domain "github.com/campaignkit/checkout/internal/domain"
)

// ErrInvalidLineItem indicates a cart line whose package id could not be
// resolved for order creation.
var ErrInvalidLineItem = errors.New("order builder: unresolvable package id")

// BuildOptions parameterises order payload assembly with page-level config.
type BuildOptions struct {
	// PackageIDFallback resolves lines that carry no package or external id.
	PackageIDFallback int
	// SuccessURL is injected when the form supplies none.
	SuccessURL string
	// PaymentFailURL is the return-trip destination for redirect payments.
	PaymentFailURL string
}

// BuildOrderPayload assembles the order creation request from the cart and a
// form snapshot. The payment detail is left empty; the orchestrator fills it
// after tokenization or method selection.
func BuildOrderPayload(cart domain.CartState, user domain.UserProfile, form domain.FormSnapshot, opts BuildOptions) (domain.OrderPayload, error) {
	lines, err := resolveLines(cart.Items, opts.PackageIDFallback)
	if err != nil {
		return domain.OrderPayload{}, err
	}

	billing := form.BillingAddress
	if form.BillingSame {
		billing = form.ShippingAddress
	}

	payload := domain.OrderPayload{
		User:            mergeUser(user, form.User),
		ShippingAddress: form.ShippingAddress,
		BillingAddress:  billing,
		ShippingMethod:  coerceShippingMethod(form.ShippingMethod, cart.ShippingMethod),
		Attribution:     cart.Attribution,
		Lines:           lines,
		VoucherCode:     cart.CouponCode,
		SuccessURL:      opts.SuccessURL,
		PaymentFailURL:  opts.PaymentFailURL,
	}
	return payload, nil
}

// resolveLines maps cart items to order lines: package id, then external id,
// then the page fallback. A line resolving to zero is rejected by name so the
// failure is actionable.
func resolveLines(items []domain.CartItem, fallback int) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		packageID := item.PackageID
		if packageID == 0 {
			packageID = item.ExternalID
		}
		if packageID == 0 {
			packageID = fallback
		}
		if packageID == 0 {
			name := item.Name
			if name == "" {
				name = item.ID
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidLineItem, name)
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		lines = append(lines, domain.OrderLine{
			PackageID: packageID,
			Quantity:  quantity,
			IsUpsell:  item.IsUpsell,
		})
	}
	return lines, nil
}

// coerceShippingMethod prefers the form's selection, falls back to the cart's
// stored method, then to the first offered method's conventional ref of 1.
func coerceShippingMethod(formValue string, selected *domain.ShippingMethod) int {
	if trimmed := strings.TrimSpace(formValue); trimmed != "" {
		if ref, err := strconv.Atoi(trimmed); err == nil && ref > 0 {
			return ref
		}
	}
	if selected != nil && selected.RefID > 0 {
		return selected.RefID
	}
	return 1
}

// mergeUser fills profile gaps from the form snapshot; explicit form values
// win over the stored profile.
func mergeUser(stored domain.UserProfile, form domain.UserProfile) domain.UserProfile {
	merged := stored
	if v := strings.TrimSpace(form.Email); v != "" {
		merged.Email = v
	}
	if v := strings.TrimSpace(form.FirstName); v != "" {
		merged.FirstName = v
	}
	if v := strings.TrimSpace(form.LastName); v != "" {
		merged.LastName = v
	}
	if v := strings.TrimSpace(form.Phone); v != "" {
		merged.Phone = v
	}
	return merged
}
