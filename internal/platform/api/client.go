// Package api is the network adapter for the commerce service: campaigns,
// prospect carts, orders, and post-purchase upsells as JSON over HTTPS.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/campaignkit/checkout/internal/domain"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultBreakerInterval = time.Minute
	defaultBreakerTimeout  = 30 * time.Second
)

var tracer = otel.Tracer("github.com/campaignkit/checkout/internal/platform/api")

// Logger receives structured client diagnostics.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ClientConfig configures the commerce API client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     Logger
	// BreakerDisabled turns off the outbound circuit breaker (tests).
	BreakerDisabled bool
}

// Client calls the commerce API. A zero API key makes cart and order calls
// fail fast with ErrAPIKeyMissing while campaign reads return a fixed mock
// payload so pages keep rendering during local development.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	logger    Logger
	sanitizer *bluemonday.Policy
}

// ProspectCart is the response to a prospect cart creation.
type ProspectCart struct {
	RefID string             `json:"ref_id"`
	User  domain.UserProfile `json:"user"`
}

// UpsellPayload adds lines to an existing order post-purchase.
type UpsellPayload struct {
	Lines         []domain.OrderLine    `json:"lines"`
	PaymentDetail *domain.PaymentDetail `json:"payment_detail,omitempty"`
}

// NewClient constructs a commerce API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("api: base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base url: %w", err)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	client := &Client{
		baseURL:   parsed,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		http:      httpClient,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}

	if !cfg.BreakerDisabled {
		client.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:     "commerce-api",
			Interval: defaultBreakerInterval,
			Timeout:  defaultBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				var apiErr *Error
				// Client-side rejections (4xx) are not backend outages.
				return errors.As(err, &apiErr) && !apiErr.IsServerError()
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger(context.Background(), "api.breaker_state", map[string]any{
					"name": name,
					"from": from.String(),
					"to":   to.String(),
				})
			},
		})
	}

	return client, nil
}

// HasAPIKey reports whether authorised calls are possible.
func (c *Client) HasAPIKey() bool {
	return c != nil && c.apiKey != ""
}

// GetCampaign fetches the funnel campaign definition, with content fields
// sanitised before exposure to page collaborators.
func (c *Client) GetCampaign(ctx context.Context) (domain.Campaign, error) {
	if !c.HasAPIKey() {
		c.logger(ctx, "api.campaign_mock", map[string]any{"reason": "missing api key"})
		return mockCampaign(), nil
	}

	var campaign domain.Campaign
	if err := c.call(ctx, http.MethodGet, "campaigns/", nil, &campaign); err != nil {
		return domain.Campaign{}, err
	}
	c.sanitizeCampaign(&campaign)
	return campaign, nil
}

// CreateCart creates a server-side prospect cart capturing partial intent.
func (c *Client) CreateCart(ctx context.Context, payload domain.CartPayload) (ProspectCart, error) {
	if !c.HasAPIKey() {
		return ProspectCart{}, ErrAPIKeyMissing
	}
	var cart ProspectCart
	if err := c.call(ctx, http.MethodPost, "carts/", payload, &cart); err != nil {
		return ProspectCart{}, err
	}
	return cart, nil
}

// CreateOrder submits the finalised order payload.
func (c *Client) CreateOrder(ctx context.Context, payload domain.OrderPayload) (domain.Order, error) {
	if !c.HasAPIKey() {
		return domain.Order{}, ErrAPIKeyMissing
	}
	var order domain.Order
	if err := c.call(ctx, http.MethodPost, "orders/", payload, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// GetOrder fetches an order by reference.
func (c *Client) GetOrder(ctx context.Context, refID string) (domain.Order, error) {
	if !c.HasAPIKey() {
		return domain.Order{}, ErrAPIKeyMissing
	}
	ref := url.PathEscape(strings.TrimSpace(refID))
	if ref == "" {
		return domain.Order{}, errors.New("api: order ref is required")
	}
	var order domain.Order
	if err := c.call(ctx, http.MethodGet, "orders/"+ref+"/", nil, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CreateOrderUpsell appends upsell lines to an existing order.
func (c *Client) CreateOrderUpsell(ctx context.Context, refID string, payload UpsellPayload) (domain.Order, error) {
	if !c.HasAPIKey() {
		return domain.Order{}, ErrAPIKeyMissing
	}
	ref := url.PathEscape(strings.TrimSpace(refID))
	if ref == "" {
		return domain.Order{}, errors.New("api: order ref is required")
	}
	var order domain.Order
	if err := c.call(ctx, http.MethodPost, "orders/"+ref+"/upsells/", payload, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload any, out any) error {
	ctx, span := tracer.Start(ctx, "commerce."+strings.Trim(path, "/"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		))
	defer span.End()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("api: marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	target := c.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("api: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.execute(req, method, path)
	if err != nil {
		span.SetAttributes(attribute.String("error", err.Error()))
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := NewError(method+" "+path, resp.StatusCode, data)
		c.logger(ctx, "api.request_failed", map[string]any{
			"path":   path,
			"status": resp.StatusCode,
			"code":   apiErr.PaymentResponseCode(),
		})
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", path, err)
	}
	return nil
}

// execute runs the request, routing through the breaker when enabled. Non-2xx
// responses are returned (not errors) so call can parse the payload; the
// breaker only counts transport failures and 5xx responses.
func (c *Client) execute(req *http.Request, method, path string) (*http.Response, error) {
	do := func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				data = nil
			}
			return nil, NewError(method+" "+path, resp.StatusCode, data)
		}
		return resp, nil
	}

	if c.breaker == nil {
		return do()
	}
	return c.breaker.Execute(do)
}

func (c *Client) sanitizeCampaign(campaign *domain.Campaign) {
	if campaign == nil {
		return
	}
	campaign.Name = c.sanitize(campaign.Name)
	for i := range campaign.Packages {
		campaign.Packages[i].Name = c.sanitize(campaign.Packages[i].Name)
	}
	for i := range campaign.ShippingMethods {
		campaign.ShippingMethods[i].Name = c.sanitize(campaign.ShippingMethods[i].Name)
	}
}

func (c *Client) sanitize(value string) string {
	return strings.TrimSpace(c.sanitizer.Sanitize(value))
}

// mockCampaign is served when no API key is configured so local pages can
// exercise the funnel without credentials.
func mockCampaign() domain.Campaign {
	retail := int64(9900)
	return domain.Campaign{
		Name:     "Development Campaign",
		Currency: "USD",
		Packages: []domain.Package{
			{RefID: 1, Name: "Sample Package", Price: 4900, RetailPrice: &retail},
			{RefID: 2, Name: "Sample Package x2", Price: 8900, RetailPrice: &retail},
		},
		ShippingMethods: []domain.ShippingMethod{
			{RefID: 1, Code: "standard", Name: "Standard Shipping", Price: 0},
			{RefID: 2, Code: "express", Name: "Express Shipping", Price: 995},
		},
	}
}
