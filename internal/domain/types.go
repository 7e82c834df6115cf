package domain

import "time"

// Money amounts are int64 minor units (cents). Percentages are float64.

// CartItem is a single purchasable line held in the cart. Price and Quantity
// are always present; IsUpsell defaults to false.
type CartItem struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	PriceTotal     *int64 `json:"price_total,omitempty"`
	Quantity       int    `json:"quantity"`
	RetailPrice    *int64 `json:"retail_price,omitempty"`
	PriceRecurring *int64 `json:"price_recurring,omitempty"`
	IsRecurring    bool   `json:"is_recurring"`
	Interval       string `json:"interval,omitempty"`
	IntervalCount  int    `json:"interval_count,omitempty"`
	IsUpsell       bool   `json:"is_upsell"`
	PackageID      int    `json:"package_id,omitempty"`
	ExternalID     int    `json:"external_id,omitempty"`
	Image          string `json:"image,omitempty"`
}

// CartTotals is derived from the items on every read, never stored.
type CartTotals struct {
	Subtotal          int64   `json:"subtotal"`
	RetailSubtotal    int64   `json:"retail_subtotal"`
	Savings           int64   `json:"savings"`
	SavingsPercentage float64 `json:"savings_percentage"`
	Shipping          int64   `json:"shipping"`
	Tax               int64   `json:"tax"`
	Total             int64   `json:"total"`
	RecurringTotal    int64   `json:"recurring_total"`
	Currency          string  `json:"currency"`
	CurrencySymbol    string  `json:"currency_symbol"`
}

// ShippingMethod is a campaign-provided delivery option.
type ShippingMethod struct {
	RefID int    `json:"ref_id"`
	Code  string `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
	Price int64  `json:"price"`
}

// Attribution carries marketing metadata attached to carts and orders.
type Attribution struct {
	UTMSource   string            `json:"utm_source,omitempty"`
	UTMMedium   string            `json:"utm_medium,omitempty"`
	UTMCampaign string            `json:"utm_campaign,omitempty"`
	UTMTerm     string            `json:"utm_term,omitempty"`
	UTMContent  string            `json:"utm_content,omitempty"`
	Funnel      string            `json:"funnel,omitempty"`
	Gclid       string            `json:"gclid,omitempty"`
	AffiliateID string            `json:"affid,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Domain      string            `json:"domain,omitempty"`
	DeviceType  string            `json:"device,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FirstSeenAt time.Time         `json:"first_seen_at,omitempty"`
}

// UserProfile is owned by the cart engine and filled opportunistically as the
// customer completes the form.
type UserProfile struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// CartState is the authoritative cart snapshot held by the engine.
type CartState struct {
	Items          []CartItem      `json:"items"`
	ShippingMethod *ShippingMethod `json:"shipping_method,omitempty"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	Attribution    Attribution     `json:"attribution"`
}

// Address mirrors the commerce API address shape.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	Line4     string `json:"line4"` // city
	State     string `json:"state"`
	PostCode  string `json:"postcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone_number,omitempty"`
}

// OrderLine is a single line in an order creation request.
type OrderLine struct {
	PackageID int  `json:"package_id"`
	Quantity  int  `json:"quantity"`
	IsUpsell  bool `json:"is_upsell,omitempty"`
}

// PaymentDetail selects the payment method and, for card payments, the token
// the card-capture bridge issued.
type PaymentDetail struct {
	PaymentMethod string `json:"payment_method"`
	CardToken     string `json:"card_token,omitempty"`
}

// OrderPayload is the order creation request. Built fresh per submission from
// cart state and a form snapshot, never persisted.
type OrderPayload struct {
	User            UserProfile   `json:"user"`
	ShippingAddress Address       `json:"shipping_address"`
	BillingAddress  Address       `json:"billing_address"`
	ShippingMethod  int           `json:"shipping_method"`
	Attribution     Attribution   `json:"attribution"`
	Lines           []OrderLine   `json:"lines"`
	PaymentDetail   PaymentDetail `json:"payment_detail"`
	VoucherCode     string        `json:"vouchers,omitempty"`
	SuccessURL      string        `json:"success_url,omitempty"`
	PaymentFailURL  string        `json:"payment_failed_url,omitempty"`
}

// CartPayload is the prospect-cart creation request.
type CartPayload struct {
	User        UserProfile `json:"user"`
	Lines       []OrderLine `json:"lines"`
	Attribution Attribution `json:"attribution"`
}

// Order is the commerce API order resource, as much of it as this client reads.
type Order struct {
	RefID              string      `json:"ref_id"`
	Number             string      `json:"number,omitempty"`
	Currency           string      `json:"currency,omitempty"`
	Total              string      `json:"total_incl_tax,omitempty"`
	PaymentCompleteURL string      `json:"payment_complete_url,omitempty"`
	OrderStatusURL     string      `json:"order_status_url,omitempty"`
	SupportsUpsells    bool        `json:"supports_post_purchase_upsells,omitempty"`
	Lines              []OrderLine `json:"lines,omitempty"`
}

// Package is a purchasable catalog entry from the campaign, distinct from a
// cart line item.
type Package struct {
	RefID          int    `json:"ref_id"`
	ExternalID     int    `json:"external_id,omitempty"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	PriceTotal     *int64 `json:"price_total,omitempty"`
	RetailPrice    *int64 `json:"price_retail,omitempty"`
	PriceRecurring *int64 `json:"price_recurring,omitempty"`
	IsRecurring    bool   `json:"is_recurring"`
	Interval       string `json:"interval,omitempty"`
	IntervalCount  int    `json:"interval_count,omitempty"`
	Image          string `json:"image,omitempty"`
}

// Campaign is the funnel definition the page runs under.
type Campaign struct {
	Name            string           `json:"name"`
	Currency        string           `json:"currency"`
	Language        string           `json:"language,omitempty"`
	PaymentEnvKey   string           `json:"payment_env_key,omitempty"`
	Packages        []Package        `json:"packages"`
	ShippingMethods []ShippingMethod `json:"shipping_methods"`
}

// FormSnapshot captures every form value the orchestrator needs, read once at
// submission start so the rest of the pipeline never touches live page state.
type FormSnapshot struct {
	User            UserProfile
	ShippingAddress Address
	BillingAddress  Address
	BillingSame     bool
	ShippingMethod  string
	PaymentMethod   string
	Card            CardInput
	TestMode        bool
}

// CardInput is the raw card data handed to the tokenization session. It never
// appears in any commerce API request.
type CardInput struct {
	FullName string
	Month    string
	Year     string
}
