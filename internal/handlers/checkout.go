package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/platform/api"
	"github.com/campaignkit/checkout/internal/platform/httpx"
	"github.com/campaignkit/checkout/internal/services"
)

// CheckoutHandlers exposes the payment orchestrator over HTTP.
type CheckoutHandlers struct {
	orchestrator services.CheckoutOrchestrator
}

// NewCheckoutHandlers constructs handlers over the orchestrator.
func NewCheckoutHandlers(orchestrator services.CheckoutOrchestrator) *CheckoutHandlers {
	return &CheckoutHandlers{orchestrator: orchestrator}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/process", h.process)
	r.Post("/express", h.express)
	r.Post("/upsell", h.upsell)
	r.Get("/state", h.state)
}

type cardRequest struct {
	FullName string `json:"full_name"`
	Month    string `json:"month"`
	Year     string `json:"year"`
}

type processRequest struct {
	User            domain.UserProfile `json:"user"`
	ShippingAddress domain.Address     `json:"shipping_address"`
	BillingAddress  domain.Address     `json:"billing_address"`
	BillingSame     bool               `json:"billing_same_as_shipping"`
	ShippingMethod  string             `json:"shipping_method"`
	PaymentMethod   string             `json:"payment_method"`
	Card            cardRequest        `json:"card"`
	TestMode        bool               `json:"test_mode"`
}

type redirectResponse struct {
	RedirectURL string       `json:"redirect_url"`
	Order       domain.Order `json:"order"`
}

func (h *CheckoutHandlers) process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	form := domain.FormSnapshot{
		User:            req.User,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		BillingSame:     req.BillingSame,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		Card: domain.CardInput{
			FullName: req.Card.FullName,
			Month:    req.Card.Month,
			Year:     req.Card.Year,
		},
		TestMode: req.TestMode,
	}

	redirect, err := h.orchestrator.ProcessPayment(ctx, form)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, redirectResponse{RedirectURL: redirect.URL, Order: redirect.Order})
}

type expressRequest struct {
	Method string `json:"method"`
}

func (h *CheckoutHandlers) express(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req expressRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	redirect, err := h.orchestrator.ProcessExpressCheckout(ctx, req.Method)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, redirectResponse{RedirectURL: redirect.URL, Order: redirect.Order})
}

type upsellRequest struct {
	RefID     string `json:"ref_id"`
	PackageID int    `json:"package_id"`
	Quantity  int    `json:"quantity"`
}

func (h *CheckoutHandlers) upsell(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req upsellRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.RefID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ref_id is required", http.StatusBadRequest))
		return
	}

	redirect, err := h.orchestrator.ProcessUpsell(ctx, req.RefID, domain.OrderLine{
		PackageID: req.PackageID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, redirectResponse{RedirectURL: redirect.URL, Order: redirect.Order})
}

func (h *CheckoutHandlers) state(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"state": h.orchestrator.State().String(),
	})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAlreadyProcessing):
		httpx.WriteError(ctx, w, httpx.NewError("payment_in_progress", "a payment is already processing", http.StatusConflict))
	case errors.Is(err, services.ErrValidationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "form validation failed", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrEmptyCart), errors.Is(err, services.ErrInvalidLineItem):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrTokenizerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("tokenizer_unavailable", "card payments are not configured", http.StatusServiceUnavailable))
	case errors.Is(err, api.ErrAPIKeyMissing):
		httpx.WriteError(ctx, w, httpx.NewError("api_key_missing", "commerce api key is not configured", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", services.MessageForPaymentError(err), http.StatusPaymentRequired))
	}
}
