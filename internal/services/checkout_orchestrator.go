package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/payments"
	"github.com/campaignkit/checkout/internal/platform/api"
	"github.com/campaignkit/checkout/internal/platform/config"
)

var (
	// ErrAlreadyProcessing rejects a submission while another is in flight.
	// The rejected call is a no-op; the in-flight submission is untouched.
	ErrAlreadyProcessing = errors.New("checkout: payment already processing")
	// ErrValidationFailed indicates field validation stopped the submission
	// before any network traffic.
	ErrValidationFailed = errors.New("checkout: validation failed")
	// ErrEmptyCart rejects order creation with no lines.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrTokenizationTimeout indicates the card bridge never called back
	// within the configured window.
	ErrTokenizationTimeout = errors.New("checkout: tokenization timed out")
	// ErrTokenizerUnavailable rejects stored-card submissions when no
	// tokenizer is wired; deployments without a card bridge only take
	// redirect methods.
	ErrTokenizerUnavailable = errors.New("checkout: card tokenizer is unavailable")
)

// methodCard is the stored-card payment method; everything else redirects to
// an external approval flow.
const methodCard = "card"

// testCardToken is the synthetic token test-mode submissions carry instead of
// tokenizing.
const testCardToken = "test_card"

// TokenizationError carries the bridge's failure messages for card-field
// display.
type TokenizationError struct {
	Messages []string
}

// Error implements the error interface.
func (e *TokenizationError) Error() string {
	return "checkout: tokenization failed: " + strings.Join(e.Messages, "; ")
}

// CartSource is the slice of the cart engine the orchestrator reads.
type CartSource interface {
	CurrentCart() domain.CartState
	CurrentUser() domain.UserProfile
}

// OrchestratorDeps wires the checkout orchestrator.
type OrchestratorDeps struct {
	API       CommerceAPI
	Cart      CartSource
	Validator FieldValidator
	Form      FormController
	Tokenizer Tokenizer
	Bus       EventEmitter
	Ledger    *PurchaseLedger
	Navigator Navigator

	// NextPageURL is the page-level redirect target injected as success_url
	// and used as the second redirect priority.
	NextPageURL string
	// CurrentURL is where failed redirect payments return to.
	CurrentURL string
	// PackageIDFallback resolves lines without a package id.
	PackageIDFallback int
	// TestMode skips validation and tokenization with synthetic data.
	TestMode bool
	// TokenizeTimeout bounds the wait for the bridge callback; zero waits
	// indefinitely (until the context ends).
	TokenizeTimeout time.Duration

	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Orchestrator drives a checkout submission through validation, tokenization,
// and order creation as an explicit state machine. One submission at a time.
type Orchestrator struct {
	api       CommerceAPI
	cart      CartSource
	validator FieldValidator
	form      FormController
	tokenizer Tokenizer
	bus       EventEmitter
	ledger    *PurchaseLedger
	navigator Navigator

	nextPageURL     string
	currentURL      string
	packageFallback int
	testMode        bool
	tokenizeTimeout time.Duration
	logger          func(ctx context.Context, event string, fields map[string]any)

	mu    sync.Mutex
	state ProcessingState
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.API == nil {
		return nil, errors.New("checkout: commerce api is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("checkout: cart source is required")
	}
	form := deps.Form
	if form == nil {
		form = NoopFormController{}
	}
	navigator := deps.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(string) {})
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Orchestrator{
		api:             deps.API,
		cart:            deps.Cart,
		validator:       deps.Validator,
		form:            form,
		tokenizer:       deps.Tokenizer,
		bus:             deps.Bus,
		ledger:          deps.Ledger,
		navigator:       navigator,
		nextPageURL:     strings.TrimSpace(deps.NextPageURL),
		currentURL:      strings.TrimSpace(deps.CurrentURL),
		packageFallback: deps.PackageIDFallback,
		testMode:        deps.TestMode,
		tokenizeTimeout: deps.TokenizeTimeout,
		logger:          logger,
		state:           StateIdle,
	}, nil
}

// State reports the current state machine position.
func (o *Orchestrator) State() ProcessingState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns the machine to idle. Intended for pages that cancel a
// resolved redirect and let the customer retry.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
}

// ProcessPayment runs a full checkout submission from a form snapshot.
func (o *Orchestrator) ProcessPayment(ctx context.Context, form domain.FormSnapshot) (Redirect, error) {
	if err := o.begin(); err != nil {
		return Redirect{}, err
	}

	o.form.ClearPaymentErrors()
	o.form.DisableSubmission()

	testMode := o.testMode || form.TestMode
	if testMode {
		form = syntheticForm(form)
	}
	method := strings.TrimSpace(form.PaymentMethod)
	if method == "" {
		method = methodCard
	}

	if !testMode && o.validator != nil && !o.validator.ValidateAllFields(method) {
		o.failToIdle(ctx, "checkout.validation_failed", nil)
		return Redirect{}, ErrValidationFailed
	}

	payload, err := BuildOrderPayload(o.cart.CurrentCart(), o.cart.CurrentUser(), form, BuildOptions{
		PackageIDFallback: o.packageFallback,
		SuccessURL:        o.nextPageURL,
		PaymentFailURL:    failureReturnURL(o.currentURL, method),
	})
	if err != nil {
		o.form.ShowPaymentError("", orderAssemblyMessage(err))
		o.failToIdle(ctx, "checkout.payload_invalid", err)
		return Redirect{}, err
	}
	if len(payload.Lines) == 0 {
		o.form.ShowPaymentError("", fallbackPaymentMessage)
		o.failToIdle(ctx, "checkout.empty_cart", ErrEmptyCart)
		return Redirect{}, ErrEmptyCart
	}

	switch {
	case method == methodCard && testMode:
		payload.PaymentDetail = domain.PaymentDetail{PaymentMethod: methodCard, CardToken: testCardToken}
	case method == methodCard:
		if o.tokenizer == nil {
			o.form.ShowPaymentError(methodCard, fallbackPaymentMessage)
			o.failToIdle(ctx, "checkout.tokenizer_missing", ErrTokenizerUnavailable)
			return Redirect{}, ErrTokenizerUnavailable
		}
		o.setState(StateAwaitingToken)
		token, err := o.awaitToken(ctx, form.Card)
		if err != nil {
			for _, message := range tokenizationMessages(err) {
				o.form.ShowPaymentError(methodCard, message)
			}
			o.failToIdle(ctx, "checkout.tokenization_failed", err)
			return Redirect{}, err
		}
		payload.PaymentDetail = domain.PaymentDetail{PaymentMethod: methodCard, CardToken: token}
	default:
		payload.PaymentDetail = domain.PaymentDetail{PaymentMethod: method}
	}

	o.setState(StateCreatingOrder)
	order, err := o.api.CreateOrder(ctx, payload)
	if err != nil {
		field := ""
		if method == methodCard {
			field = methodCard
		}
		o.form.ShowPaymentError(field, MessageForPaymentError(err))
		o.failToIdle(ctx, "checkout.order_failed", err)
		return Redirect{}, fmt.Errorf("checkout: create order: %w", err)
	}

	return o.completeRedirect(ctx, order), nil
}

// ProcessExpressCheckout creates an order straight from the cart for a wallet
// method. Validation and tokenization are skipped; the wallet approves
// payment on its own page, reached via the response redirect.
func (o *Orchestrator) ProcessExpressCheckout(ctx context.Context, method string) (Redirect, error) {
	if err := o.begin(); err != nil {
		return Redirect{}, err
	}

	method = strings.TrimSpace(method)
	cart := o.cart.CurrentCart()
	lines, err := resolveLines(cart.Items, o.packageFallback)
	if err != nil {
		o.form.ShowExpressError(method, orderAssemblyMessage(err))
		o.failToIdle(ctx, "checkout.express_payload_invalid", err)
		return Redirect{}, err
	}
	if len(lines) == 0 {
		o.form.ShowExpressError(method, fallbackPaymentMessage)
		o.failToIdle(ctx, "checkout.express_empty_cart", ErrEmptyCart)
		return Redirect{}, ErrEmptyCart
	}

	payload := domain.OrderPayload{
		User:           o.cart.CurrentUser(),
		Attribution:    cart.Attribution,
		Lines:          lines,
		VoucherCode:    cart.CouponCode,
		PaymentDetail:  domain.PaymentDetail{PaymentMethod: method},
		SuccessURL:     o.nextPageURL,
		PaymentFailURL: failureReturnURL(o.currentURL, method),
	}

	o.setState(StateCreatingOrder)
	order, err := o.api.CreateOrder(ctx, payload)
	if err != nil {
		o.form.DisableExpressButton(method)
		o.form.ShowExpressError(method, MessageForPaymentError(err))
		o.failToIdle(ctx, "checkout.express_failed", err)
		return Redirect{}, fmt.Errorf("checkout: express order: %w", err)
	}

	return o.completeRedirect(ctx, order), nil
}

// ProcessUpsell adds a post-purchase line to an existing order and resolves
// the next redirect.
func (o *Orchestrator) ProcessUpsell(ctx context.Context, refID string, line domain.OrderLine) (Redirect, error) {
	if err := o.begin(); err != nil {
		return Redirect{}, err
	}

	line.IsUpsell = true
	if line.Quantity <= 0 {
		line.Quantity = 1
	}
	if line.PackageID == 0 {
		line.PackageID = o.packageFallback
	}
	if line.PackageID == 0 {
		o.failToIdle(ctx, "checkout.upsell_invalid", ErrInvalidLineItem)
		return Redirect{}, ErrInvalidLineItem
	}

	o.setState(StateCreatingOrder)
	order, err := o.api.CreateOrderUpsell(ctx, refID, api.UpsellPayload{Lines: []domain.OrderLine{line}})
	if err != nil {
		o.form.ShowPaymentError("", MessageForPaymentError(err))
		o.failToIdle(ctx, "checkout.upsell_failed", err)
		return Redirect{}, fmt.Errorf("checkout: upsell: %w", err)
	}

	return o.completeRedirect(ctx, order), nil
}

// HandleReturnFailure inspects a landing URL for a replayed payment failure.
// It displays the mapped message, returns the notice, and returns the URL
// with the failure markers stripped. URLs without markers pass through.
func (o *Orchestrator) HandleReturnFailure(rawURL string) (*FailureNotice, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, rawURL
	}
	query := parsed.Query()
	if query.Get("payment_failed") != "true" {
		return nil, rawURL
	}

	method := strings.TrimSpace(query.Get("payment_method"))
	if method == "" {
		method = methodCard
	}
	notice := &FailureNotice{
		Method:  method,
		Banner:  method != methodCard,
		Message: fallbackPaymentMessage,
	}
	if notice.Banner {
		o.form.ShowPaymentError("", notice.Message)
	} else {
		o.form.ShowPaymentError(methodCard, notice.Message)
	}

	query.Del("payment_failed")
	query.Del("payment_method")
	parsed.RawQuery = query.Encode()
	return notice, parsed.String()
}

// begin transitions Idle to Validating or rejects the submission.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrAlreadyProcessing
	}
	o.state = StateValidating
	return nil
}

func (o *Orchestrator) setState(next ProcessingState) {
	o.mu.Lock()
	o.state = next
	o.mu.Unlock()
}

// failToIdle passes through Failed, re-enables the form, and returns to Idle
// so the customer can retry.
func (o *Orchestrator) failToIdle(ctx context.Context, event string, err error) {
	o.setState(StateFailed)
	fields := map[string]any{}
	if err != nil {
		fields["error"] = err.Error()
	}
	o.logger(ctx, event, fields)
	o.form.EnableSubmission()
	o.setState(StateIdle)
}

// completeRedirect resolves the destination, emits the purchase event at most
// once per ref, and hands off to navigation. The machine stays in Redirecting
// until the page actually leaves (or Reset is called).
func (o *Orchestrator) completeRedirect(ctx context.Context, order domain.Order) Redirect {
	o.setState(StateRedirecting)
	o.emitOrderCreated(ctx, order)
	destination := o.resolveRedirect(order)
	o.navigator.Navigate(destination)
	return Redirect{URL: destination, Order: order}
}

func (o *Orchestrator) emitOrderCreated(ctx context.Context, order domain.Order) {
	if o.ledger != nil {
		first, err := o.ledger.MarkFired(ctx, order.RefID)
		if err != nil {
			o.logger(ctx, "checkout.ledger_write_failed", map[string]any{
				"ref_id": order.RefID,
				"error":  err.Error(),
			})
		}
		if !first {
			return
		}
	}
	if o.bus != nil {
		o.bus.Emit(ctx, "order.created", order)
	}
}

// resolveRedirect picks the post-purchase destination: the response's
// payment_complete_url, then the configured next page with the ref appended,
// then the response's order_status_url, then the default confirmation path.
func (o *Orchestrator) resolveRedirect(order domain.Order) string {
	if order.PaymentCompleteURL != "" {
		return order.PaymentCompleteURL
	}
	if o.nextPageURL != "" {
		return appendRefID(o.nextPageURL, order.RefID)
	}
	if order.OrderStatusURL != "" {
		return order.OrderStatusURL
	}
	return config.DefaultConfirmationPath(order.RefID)
}

// awaitToken registers completion handlers, issues the tokenize command, and
// blocks until the bridge calls back, the context ends, or the optional
// timeout fires.
func (o *Orchestrator) awaitToken(ctx context.Context, card domain.CardInput) (string, error) {
	result := make(chan string, 1)
	failure := make(chan []string, 1)
	o.tokenizer.RegisterHandlers(payments.Handlers{
		OnPaymentMethod: func(token string) {
			select {
			case result <- token:
			default:
			}
		},
		OnError: func(messages []string) {
			select {
			case failure <- messages:
			default:
			}
		},
	})

	if err := o.tokenizer.TokenizeCard(ctx, card); err != nil {
		return "", err
	}

	var timeout <-chan time.Time
	if o.tokenizeTimeout > 0 {
		timer := time.NewTimer(o.tokenizeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case token := <-result:
		return token, nil
	case messages := <-failure:
		return "", &TokenizationError{Messages: messages}
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timeout:
		return "", ErrTokenizationTimeout
	}
}

// tokenizationMessages extracts per-field display messages from a tokenize
// failure.
func tokenizationMessages(err error) []string {
	var input *payments.CardInputError
	if errors.As(err, &input) {
		return input.Messages
	}
	var tok *TokenizationError
	if errors.As(err, &tok) {
		return tok.Messages
	}
	if errors.Is(err, ErrTokenizationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return []string{"Card verification took too long. Please try again."}
	}
	return []string{fallbackPaymentMessage}
}

// failureReturnURL marks the current URL so a failed redirect payment can be
// recognised on the way back.
func failureReturnURL(currentURL, method string) string {
	if currentURL == "" {
		return ""
	}
	parsed, err := url.Parse(currentURL)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	query.Set("payment_failed", "true")
	query.Set("payment_method", method)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func appendRefID(target, refID string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := parsed.Query()
	query.Set("ref_id", refID)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// syntheticForm substitutes fixed test data so test-mode orders exercise the
// full pipeline without a real customer.
func syntheticForm(form domain.FormSnapshot) domain.FormSnapshot {
	form.User = domain.UserProfile{
		Email:     "test@test.com",
		FirstName: "Test",
		LastName:  "Order",
		Phone:     "+14155551234",
	}
	form.ShippingAddress = domain.Address{
		FirstName: "Test",
		LastName:  "Order",
		Line1:     "123 Test Street",
		Line4:     "Tempe",
		State:     "AZ",
		PostCode:  "85001",
		Country:   "US",
	}
	form.BillingSame = true
	form.TestMode = true
	return form
}
