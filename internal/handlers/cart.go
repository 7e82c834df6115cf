package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/platform/httpx"
	"github.com/campaignkit/checkout/internal/services"
)

const maxBodySize = 16 * 1024

var errBodyTooLarge = errors.New("request body too large")

// CartHandlers exposes the cart engine over HTTP for embedding collaborators.
type CartHandlers struct {
	engine services.CartEngine
}

// NewCartHandlers constructs handlers over the cart engine.
func NewCartHandlers(engine services.CartEngine) *CartHandlers {
	return &CartHandlers{engine: engine}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Put("/shipping-method", h.setShippingMethod)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Post("/sync", h.syncCart)
}

type cartResponse struct {
	Cart   domain.CartState   `json:"cart"`
	Totals domain.CartTotals  `json:"totals"`
	User   domain.UserProfile `json:"user"`
}

func (h *CartHandlers) writeCart(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusOK, cartResponse{
		Cart:   h.engine.CurrentCart(),
		Totals: h.engine.Totals(),
		User:   h.engine.CurrentUser(),
	})
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var item domain.CartItem
	if err := decodeBody(r, &item); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := h.engine.AddToCart(ctx, item); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

type updateItemRequest struct {
	Quantity *int    `json:"quantity,omitempty"`
	Price    *int64  `json:"price,omitempty"`
	Name     *string `json:"name,omitempty"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	err := h.engine.UpdateCartItem(ctx, chi.URLParam(r, "itemID"), services.UpdateCartItem{
		Quantity: req.Quantity,
		Price:    req.Price,
		Name:     req.Name,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.engine.RemoveFromCart(ctx, chi.URLParam(r, "itemID")); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.engine.ClearCart(ctx); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

func (h *CartHandlers) setShippingMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var method domain.ShippingMethod
	if err := decodeBody(r, &method); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := h.engine.SetShippingMethod(ctx, method); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req couponRequest
	if err := decodeBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if err := h.engine.ApplyCoupon(ctx, req.Code); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.engine.RemoveCoupon(ctx); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w)
}

func (h *CartHandlers) syncCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.engine.SyncCartWithAPI(ctx); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_sync_failed", "cart could not be synced", http.StatusBadGateway))
		return
	}
	h.writeCart(w)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidItem):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_item", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidCoupon):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnknownShippingMethod):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_shipping_method", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func decodeBody(r *http.Request, target any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return err
	}
	if len(body) > maxBodySize {
		return errBodyTooLarge
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	return json.Unmarshal(body, target)
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
