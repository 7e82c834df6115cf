package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/platform/api"
	"github.com/campaignkit/checkout/internal/services"
)

type fakeCommerce struct{}

func (fakeCommerce) GetCampaign(context.Context) (domain.Campaign, error) {
	return domain.Campaign{}, nil
}

func (fakeCommerce) CreateCart(context.Context, domain.CartPayload) (api.ProspectCart, error) {
	return api.ProspectCart{RefID: "cart_1"}, nil
}

func (fakeCommerce) CreateOrder(context.Context, domain.OrderPayload) (domain.Order, error) {
	return domain.Order{RefID: "order_1"}, nil
}

func (fakeCommerce) CreateOrderUpsell(_ context.Context, refID string, _ api.UpsellPayload) (domain.Order, error) {
	return domain.Order{RefID: refID}, nil
}

func (fakeCommerce) GetOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}

func newCartServer(t *testing.T) *httptest.Server {
	t.Helper()
	retail := int64(8000)
	engine, err := services.NewEngine(context.Background(), services.EngineDeps{
		API: fakeCommerce{},
		Campaign: domain.Campaign{
			Name:     "Test Funnel",
			Currency: "USD",
			Packages: []domain.Package{
				{RefID: 1, Name: "Starter Pack", Price: 5000, RetailPrice: &retail},
			},
			ShippingMethods: []domain.ShippingMethod{
				{RefID: 1, Name: "Standard", Price: 0},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	router := NewRouter(WithCartRoutes(NewCartHandlers(engine).Routes))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestCartAddAndReadRoundTrip(t *testing.T) {
	server := newCartServer(t)

	resp, err := http.Post(server.URL+"/api/v1/cart/items", "application/json", strings.NewReader(`{"package_id":1,"quantity":2}`))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Cart   domain.CartState  `json:"cart"`
		Totals domain.CartTotals `json:"totals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Cart.Items) != 1 || payload.Cart.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart: %+v", payload.Cart)
	}
	if payload.Totals.Subtotal != 10000 {
		t.Fatalf("expected subtotal 10000, got %d", payload.Totals.Subtotal)
	}
}

func TestCartAddRejectsUnknownItem(t *testing.T) {
	server := newCartServer(t)

	resp, err := http.Post(server.URL+"/api/v1/cart/items", "application/json", strings.NewReader(`{"id":"mystery"}`))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var envelope map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope["error"] != "invalid_item" {
		t.Fatalf("expected invalid_item code, got %v", envelope["error"])
	}
}

func TestCartUpdateMissingItemReturns404(t *testing.T) {
	server := newCartServer(t)

	req, err := http.NewRequest(http.MethodPatch, server.URL+"/api/v1/cart/items/nope", strings.NewReader(`{"quantity":3}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRouterUnknownRouteEnvelope(t *testing.T) {
	server := newCartServer(t)

	resp, err := http.Get(server.URL + "/api/v1/nowhere")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var envelope map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found, got %v", envelope["error"])
	}
}
