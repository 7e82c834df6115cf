package services

import (
	"context"
	"fmt"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/payments"
	"github.com/campaignkit/checkout/internal/platform/api"
	"github.com/campaignkit/checkout/internal/platform/events"
)

// CommerceAPI is the network boundary the services call. Implemented by
// api.Client; stubbed in tests.
type CommerceAPI interface {
	GetCampaign(ctx context.Context) (domain.Campaign, error)
	CreateCart(ctx context.Context, payload domain.CartPayload) (api.ProspectCart, error)
	CreateOrder(ctx context.Context, payload domain.OrderPayload) (domain.Order, error)
	CreateOrderUpsell(ctx context.Context, refID string, payload api.UpsellPayload) (domain.Order, error)
	GetOrder(ctx context.Context, refID string) (domain.Order, error)
}

// FieldValidator is the external form-validation collaborator, specified at
// its interface boundary only.
type FieldValidator interface {
	ValidateAllFields(paymentMethod string) bool
	ValidateCreditCard() bool
	IsSameAsShipping() bool
}

// FormController is the presentation-side collaborator the orchestrator
// drives: submission affordances, error display, wallet buttons. All methods
// must be safe no-ops when nothing is rendered.
type FormController interface {
	DisableSubmission()
	EnableSubmission()
	// ShowPaymentError displays a message; an empty field targets the
	// page-level banner, otherwise the named field's inline slot.
	ShowPaymentError(field string, message string)
	ClearPaymentErrors()
	DisableExpressButton(method string)
	ShowExpressError(method string, message string)
}

// NoopFormController satisfies FormController without any page attached.
type NoopFormController struct{}

func (NoopFormController) DisableSubmission()              {}
func (NoopFormController) EnableSubmission()               {}
func (NoopFormController) ShowPaymentError(string, string) {}
func (NoopFormController) ClearPaymentErrors()             {}
func (NoopFormController) DisableExpressButton(string)     {}
func (NoopFormController) ShowExpressError(string, string) {}

// Tokenizer is the slice of the tokenization session the orchestrator needs.
type Tokenizer interface {
	RegisterHandlers(handlers payments.Handlers)
	TokenizeCard(ctx context.Context, card domain.CardInput) error
}

// Navigator performs the outbound full-page redirect on success.
type Navigator interface {
	Navigate(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(url string) { f(url) }

// EventEmitter is the slice of events.Bus the services use.
type EventEmitter interface {
	Emit(ctx context.Context, name string, payload any) events.Event
}

// UpdateCartItem carries a partial line update; nil fields are left alone.
type UpdateCartItem struct {
	Quantity *int
	Price    *int64
	Name     *string
}

// ProcessingState is the orchestrator's payment state machine position.
type ProcessingState int

const (
	// StateIdle accepts a new submission.
	StateIdle ProcessingState = iota
	// StateValidating runs field validation.
	StateValidating
	// StateAwaitingToken waits for the card bridge callback.
	StateAwaitingToken
	// StateCreatingOrder has the order request in flight.
	StateCreatingOrder
	// StateRedirecting resolved a destination and is handing off to
	// navigation.
	StateRedirecting
	// StateFailed is transient; the orchestrator displays the error and
	// returns to StateIdle.
	StateFailed
)

// String implements fmt.Stringer.
func (s ProcessingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateAwaitingToken:
		return "awaiting_token"
	case StateCreatingOrder:
		return "creating_order"
	case StateRedirecting:
		return "redirecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Redirect is the resolved post-purchase destination.
type Redirect struct {
	URL   string
	Order domain.Order
}

// FailureNotice is a replayed payment failure detected on a return-trip URL.
type FailureNotice struct {
	Method string
	// Banner selects the top-of-page banner (wallet methods); false means the
	// inline card-field slot.
	Banner  bool
	Message string
}

// CartEngine is the single authoritative store for cart contents, selection,
// and attribution metadata.
type CartEngine interface {
	GetState(path string) (any, bool)
	SetState(path string, value any, notify bool)
	Subscribe(path string, fn func(value any)) func()

	CurrentCart() domain.CartState
	CurrentUser() domain.UserProfile
	Totals() domain.CartTotals

	AddToCart(ctx context.Context, item domain.CartItem) error
	UpdateCartItem(ctx context.Context, id string, updates UpdateCartItem) error
	RemoveFromCart(ctx context.Context, id string) error
	ClearCart(ctx context.Context) error
	SetShippingMethod(ctx context.Context, method domain.ShippingMethod) error
	ApplyCoupon(ctx context.Context, code string) error
	RemoveCoupon(ctx context.Context) error
	SyncCartWithAPI(ctx context.Context) error
	ScheduleSync(ctx context.Context)
}

// CheckoutOrchestrator is the payment-processing state machine.
type CheckoutOrchestrator interface {
	State() ProcessingState
	ProcessPayment(ctx context.Context, form domain.FormSnapshot) (Redirect, error)
	ProcessExpressCheckout(ctx context.Context, method string) (Redirect, error)
	ProcessUpsell(ctx context.Context, refID string, line domain.OrderLine) (Redirect, error)
	HandleReturnFailure(rawURL string) (*FailureNotice, string)
}
