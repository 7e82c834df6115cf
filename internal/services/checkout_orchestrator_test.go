package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/payments"
	"github.com/campaignkit/checkout/internal/platform/api"
	"github.com/campaignkit/checkout/internal/platform/storage"
)

type fixedCart struct {
	cart domain.CartState
	user domain.UserProfile
}

func (f fixedCart) CurrentCart() domain.CartState   { return f.cart }
func (f fixedCart) CurrentUser() domain.UserProfile { return f.user }

type stubValidator struct {
	ok    bool
	calls int
}

func (v *stubValidator) ValidateAllFields(string) bool { v.calls++; return v.ok }
func (v *stubValidator) ValidateCreditCard() bool      { return v.ok }
func (v *stubValidator) IsSameAsShipping() bool        { return true }

type recordingForm struct {
	disabled        bool
	enabled         bool
	cleared         int
	paymentErrors   []string
	paymentFields   []string
	expressDisabled []string
	expressErrors   []string
}

func (f *recordingForm) DisableSubmission()  { f.disabled = true }
func (f *recordingForm) EnableSubmission()   { f.enabled = true }
func (f *recordingForm) ClearPaymentErrors() { f.cleared++ }
func (f *recordingForm) ShowPaymentError(field, message string) {
	f.paymentFields = append(f.paymentFields, field)
	f.paymentErrors = append(f.paymentErrors, message)
}
func (f *recordingForm) DisableExpressButton(method string) {
	f.expressDisabled = append(f.expressDisabled, method)
}
func (f *recordingForm) ShowExpressError(method, message string) {
	f.expressErrors = append(f.expressErrors, message)
}

type stubTokenizer struct {
	handlers payments.Handlers
	token    string
	messages []string
	inputErr error
	commands int
}

func (s *stubTokenizer) RegisterHandlers(handlers payments.Handlers) { s.handlers = handlers }

func (s *stubTokenizer) TokenizeCard(context.Context, domain.CardInput) error {
	s.commands++
	if s.inputErr != nil {
		return s.inputErr
	}
	if len(s.messages) > 0 {
		s.handlers.OnError(s.messages)
		return nil
	}
	s.handlers.OnPaymentMethod(s.token)
	return nil
}

func orchestratorCart() fixedCart {
	return fixedCart{
		cart: domain.CartState{Items: []domain.CartItem{
			{ID: "1", Name: "Starter Pack", Price: 5000, Quantity: 1, PackageID: 1},
		}},
		user: domain.UserProfile{Email: "ana@example.com"},
	}
}

func cardForm() domain.FormSnapshot {
	return domain.FormSnapshot{
		PaymentMethod: "card",
		Card:          domain.CardInput{FullName: "Ana Example", Month: "12", Year: "2028"},
		ShippingAddress: domain.Address{
			FirstName: "Ana", Line1: "1 Main St", Line4: "Lisbon", Country: "PT", PostCode: "1000",
		},
		BillingSame: true,
	}
}

func newTestOrchestrator(t *testing.T, deps OrchestratorDeps) *Orchestrator {
	t.Helper()
	if deps.API == nil {
		deps.API = &stubAPI{}
	}
	if deps.Cart == nil {
		deps.Cart = orchestratorCart()
	}
	orch, err := NewOrchestrator(deps)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch
}

func TestProcessPaymentCardFlow(t *testing.T) {
	var captured domain.OrderPayload
	stub := &stubAPI{createOrderFn: func(_ context.Context, payload domain.OrderPayload) (domain.Order, error) {
		captured = payload
		return domain.Order{RefID: "ref_1", PaymentCompleteURL: "https://pay.example.com/complete"}, nil
	}}
	tokenizer := &stubTokenizer{token: "tok_visa"}
	var navigated string
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:         stub,
		Validator:   &stubValidator{ok: true},
		Tokenizer:   tokenizer,
		Navigator:   NavigatorFunc(func(url string) { navigated = url }),
		NextPageURL: "https://shop.example.com/upsell",
		CurrentURL:  "https://shop.example.com/checkout",
	})

	redirect, err := orch.ProcessPayment(context.Background(), cardForm())
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if redirect.URL != "https://pay.example.com/complete" {
		t.Fatalf("expected payment_complete_url, got %q", redirect.URL)
	}
	if navigated != redirect.URL {
		t.Fatalf("expected navigation to %q, got %q", redirect.URL, navigated)
	}
	if captured.PaymentDetail.CardToken != "tok_visa" {
		t.Fatalf("expected card token, got %+v", captured.PaymentDetail)
	}
	if captured.SuccessURL != "https://shop.example.com/upsell" {
		t.Fatalf("expected injected success_url, got %q", captured.SuccessURL)
	}
	if !strings.Contains(captured.PaymentFailURL, "payment_failed=true") {
		t.Fatalf("expected failure marker in %q", captured.PaymentFailURL)
	}
	if tokenizer.commands != 1 {
		t.Fatalf("expected one tokenize command, got %d", tokenizer.commands)
	}
	if got := orch.State(); got != StateRedirecting {
		t.Fatalf("expected redirecting, got %v", got)
	}
}

func TestProcessPaymentRejectsReentry(t *testing.T) {
	stub := &stubAPI{createOrderFn: func(context.Context, domain.OrderPayload) (domain.Order, error) {
		return domain.Order{RefID: "ref_1", PaymentCompleteURL: "https://pay.example.com"}, nil
	}}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Validator: &stubValidator{ok: true},
		Tokenizer: &stubTokenizer{token: "tok_1"},
	})

	if _, err := orch.ProcessPayment(context.Background(), cardForm()); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	_, err := orch.ProcessPayment(context.Background(), cardForm())
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if calls := stub.orderCalls.Load(); calls != 1 {
		t.Fatalf("expected a single order call, got %d", calls)
	}
}

func TestProcessPaymentValidationFailureSkipsNetwork(t *testing.T) {
	stub := &stubAPI{}
	validator := &stubValidator{ok: false}
	orch := newTestOrchestrator(t, OrchestratorDeps{API: stub, Validator: validator})

	_, err := orch.ProcessPayment(context.Background(), cardForm())
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if validator.calls != 1 {
		t.Fatalf("expected validator call, got %d", validator.calls)
	}
	if stub.orderCalls.Load() != 0 {
		t.Fatal("expected no order call after validation failure")
	}
	if got := orch.State(); got != StateIdle {
		t.Fatalf("expected idle after failure, got %v", got)
	}
}

func TestProcessPaymentDeclineShowsMappedMessage(t *testing.T) {
	declineBody := []byte(`{"payment_response_code":"3008","message":"do not honor"}`)
	stub := &stubAPI{createOrderFn: func(context.Context, domain.OrderPayload) (domain.Order, error) {
		return domain.Order{}, api.NewError("orders", 400, declineBody)
	}}
	form := &recordingForm{}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Validator: &stubValidator{ok: true},
		Tokenizer: &stubTokenizer{token: "tok_1"},
		Form:      form,
	})

	_, err := orch.ProcessPayment(context.Background(), cardForm())
	if err == nil {
		t.Fatal("expected decline error")
	}
	want := "The card has been declined. Please try another payment method."
	if len(form.paymentErrors) != 1 || form.paymentErrors[0] != want {
		t.Fatalf("expected mapped decline message, got %v", form.paymentErrors)
	}
	if form.paymentFields[0] != "card" {
		t.Fatalf("expected card field target, got %q", form.paymentFields[0])
	}
	if !form.enabled {
		t.Fatal("expected form re-enabled after failure")
	}
	if got := orch.State(); got != StateIdle {
		t.Fatalf("expected idle after decline, got %v", got)
	}
}

func TestProcessPaymentTokenizationFailure(t *testing.T) {
	stub := &stubAPI{}
	form := &recordingForm{}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Validator: &stubValidator{ok: true},
		Tokenizer: &stubTokenizer{messages: []string{"Please enter a valid credit card number"}},
		Form:      form,
	})

	_, err := orch.ProcessPayment(context.Background(), cardForm())
	var tokErr *TokenizationError
	if !errors.As(err, &tokErr) {
		t.Fatalf("expected TokenizationError, got %v", err)
	}
	if stub.orderCalls.Load() != 0 {
		t.Fatal("expected no order call after tokenization failure")
	}
	if len(form.paymentErrors) != 1 || form.paymentErrors[0] != "Please enter a valid credit card number" {
		t.Fatalf("expected bridge message displayed, got %v", form.paymentErrors)
	}
}

func TestProcessPaymentCardWithoutTokenizerFailsCleanly(t *testing.T) {
	stub := &stubAPI{}
	form := &recordingForm{}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Validator: &stubValidator{ok: true},
		Form:      form,
	})

	// An empty method defaults to card, so this must fail the same way.
	submission := cardForm()
	submission.PaymentMethod = ""

	_, err := orch.ProcessPayment(context.Background(), submission)
	if !errors.Is(err, ErrTokenizerUnavailable) {
		t.Fatalf("expected ErrTokenizerUnavailable, got %v", err)
	}
	if stub.orderCalls.Load() != 0 {
		t.Fatal("expected no order call without a tokenizer")
	}
	if len(form.paymentErrors) != 1 {
		t.Fatalf("expected one payment error, got %v", form.paymentErrors)
	}
	if !form.enabled {
		t.Fatal("expected form re-enabled after failure")
	}
	if got := orch.State(); got != StateIdle {
		t.Fatalf("expected idle, got %v", got)
	}
}

func TestProcessPaymentAssemblyFailureShowsSpecificMessage(t *testing.T) {
	stub := &stubAPI{}
	form := &recordingForm{}
	cart := fixedCart{cart: domain.CartState{Items: []domain.CartItem{
		{ID: "mystery", Name: "Mystery Box", Price: 100, Quantity: 1},
	}}}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Cart:      cart,
		Validator: &stubValidator{ok: true},
		Form:      form,
	})

	_, err := orch.ProcessPayment(context.Background(), cardForm())
	if !errors.Is(err, ErrInvalidLineItem) {
		t.Fatalf("expected ErrInvalidLineItem, got %v", err)
	}
	want := "An item in your cart could not be ordered. Please remove it and try again."
	if len(form.paymentErrors) != 1 || form.paymentErrors[0] != want {
		t.Fatalf("expected assembly message, got %v", form.paymentErrors)
	}
	if stub.orderCalls.Load() != 0 {
		t.Fatal("expected no order call after assembly failure")
	}
}

func TestProcessPaymentTestModeSkipsValidationAndTokenization(t *testing.T) {
	var captured domain.OrderPayload
	stub := &stubAPI{createOrderFn: func(_ context.Context, payload domain.OrderPayload) (domain.Order, error) {
		captured = payload
		return domain.Order{RefID: "ref_t"}, nil
	}}
	validator := &stubValidator{ok: false}
	tokenizer := &stubTokenizer{token: "tok_never"}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Validator: validator,
		Tokenizer: tokenizer,
		TestMode:  true,
	})

	if _, err := orch.ProcessPayment(context.Background(), domain.FormSnapshot{PaymentMethod: "card"}); err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if validator.calls != 0 {
		t.Fatal("expected validation skipped in test mode")
	}
	if tokenizer.commands != 0 {
		t.Fatal("expected tokenization skipped in test mode")
	}
	if captured.PaymentDetail.CardToken != "test_card" {
		t.Fatalf("expected synthetic token, got %q", captured.PaymentDetail.CardToken)
	}
	if captured.User.Email != "test@test.com" {
		t.Fatalf("expected synthetic user, got %+v", captured.User)
	}
}

func TestRedirectPriorities(t *testing.T) {
	cases := []struct {
		name        string
		order       domain.Order
		nextPageURL string
		want        string
	}{
		{
			name:        "payment complete url wins",
			order:       domain.Order{RefID: "r1", PaymentCompleteURL: "https://pay.example.com", OrderStatusURL: "https://status.example.com"},
			nextPageURL: "https://shop.example.com/next",
			want:        "https://pay.example.com",
		},
		{
			name:        "next page with ref",
			order:       domain.Order{RefID: "r2", OrderStatusURL: "https://status.example.com"},
			nextPageURL: "https://shop.example.com/next",
			want:        "https://shop.example.com/next?ref_id=r2",
		},
		{
			name:  "order status url",
			order: domain.Order{RefID: "r3", OrderStatusURL: "https://status.example.com"},
			want:  "https://status.example.com",
		},
		{
			name:  "default confirmation path",
			order: domain.Order{RefID: "r4"},
			want:  "/checkout/confirmation/?ref_id=r4",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := newTestOrchestrator(t, OrchestratorDeps{NextPageURL: tc.nextPageURL})
			if got := orch.resolveRedirect(tc.order); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestExpressFailureTouchesOnlyWalletSurface(t *testing.T) {
	stub := &stubAPI{createOrderFn: func(context.Context, domain.OrderPayload) (domain.Order, error) {
		return domain.Order{}, api.NewError("orders", 400, []byte(`{"payment_response_code":"3008"}`))
	}}
	form := &recordingForm{}
	orch := newTestOrchestrator(t, OrchestratorDeps{API: stub, Form: form})

	_, err := orch.ProcessExpressCheckout(context.Background(), "paypal")
	if err == nil {
		t.Fatal("expected express failure")
	}
	if len(form.expressDisabled) != 1 || form.expressDisabled[0] != "paypal" {
		t.Fatalf("expected wallet button disabled, got %v", form.expressDisabled)
	}
	if len(form.expressErrors) != 1 {
		t.Fatalf("expected one express error, got %v", form.expressErrors)
	}
	if len(form.paymentErrors) != 0 {
		t.Fatalf("expected form-level errors untouched, got %v", form.paymentErrors)
	}
	if got := orch.State(); got != StateIdle {
		t.Fatalf("expected idle, got %v", got)
	}
}

func TestExpressSuccessRedirects(t *testing.T) {
	var captured domain.OrderPayload
	stub := &stubAPI{createOrderFn: func(_ context.Context, payload domain.OrderPayload) (domain.Order, error) {
		captured = payload
		return domain.Order{RefID: "ref_e", PaymentCompleteURL: "https://paypal.example.com/approve"}, nil
	}}
	orch := newTestOrchestrator(t, OrchestratorDeps{API: stub})

	redirect, err := orch.ProcessExpressCheckout(context.Background(), "paypal")
	if err != nil {
		t.Fatalf("express: %v", err)
	}
	if redirect.URL != "https://paypal.example.com/approve" {
		t.Fatalf("expected wallet approval url, got %q", redirect.URL)
	}
	if captured.PaymentDetail.PaymentMethod != "paypal" {
		t.Fatalf("expected paypal method, got %+v", captured.PaymentDetail)
	}
	if captured.PaymentDetail.CardToken != "" {
		t.Fatal("expected no card token on express orders")
	}
}

func TestHandleReturnFailureStripsMarkers(t *testing.T) {
	form := &recordingForm{}
	orch := newTestOrchestrator(t, OrchestratorDeps{Form: form})

	notice, cleaned := orch.HandleReturnFailure("https://shop.example.com/checkout?payment_failed=true&payment_method=paypal&utm_source=x")
	if notice == nil {
		t.Fatal("expected failure notice")
	}
	if !notice.Banner {
		t.Fatal("expected banner display for wallet method")
	}
	if strings.Contains(cleaned, "payment_failed") || strings.Contains(cleaned, "payment_method") {
		t.Fatalf("expected markers stripped, got %q", cleaned)
	}
	if !strings.Contains(cleaned, "utm_source=x") {
		t.Fatalf("expected unrelated params kept, got %q", cleaned)
	}
	if len(form.paymentFields) != 1 || form.paymentFields[0] != "" {
		t.Fatalf("expected banner target, got %v", form.paymentFields)
	}

	notice, passthrough := orch.HandleReturnFailure("https://shop.example.com/checkout?utm_source=x")
	if notice != nil {
		t.Fatalf("expected no notice without marker, got %+v", notice)
	}
	if passthrough != "https://shop.example.com/checkout?utm_source=x" {
		t.Fatalf("expected passthrough, got %q", passthrough)
	}
}

func TestHandleReturnFailureCardTargetsField(t *testing.T) {
	form := &recordingForm{}
	orch := newTestOrchestrator(t, OrchestratorDeps{Form: form})

	notice, _ := orch.HandleReturnFailure("https://shop.example.com/checkout?payment_failed=true&payment_method=card")
	if notice == nil || notice.Banner {
		t.Fatalf("expected inline card notice, got %+v", notice)
	}
	if len(form.paymentFields) != 1 || form.paymentFields[0] != "card" {
		t.Fatalf("expected card field target, got %v", form.paymentFields)
	}
}

func TestPurchaseEventFiresOncePerRef(t *testing.T) {
	bus := &recordBus{}
	snapshots := storage.NewMemoryStore()
	ledger, err := NewPurchaseLedger(context.Background(), snapshots)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	stub := &stubAPI{createOrderFn: func(context.Context, domain.OrderPayload) (domain.Order, error) {
		return domain.Order{RefID: "ref_same", PaymentCompleteURL: "https://pay.example.com"}, nil
	}}
	orch := newTestOrchestrator(t, OrchestratorDeps{
		API:       stub,
		Validator: &stubValidator{ok: true},
		Tokenizer: &stubTokenizer{token: "tok_1"},
		Bus:       bus,
		Ledger:    ledger,
	})

	if _, err := orch.ProcessPayment(context.Background(), cardForm()); err != nil {
		t.Fatalf("first: %v", err)
	}
	orch.Reset()
	if _, err := orch.ProcessPayment(context.Background(), cardForm()); err != nil {
		t.Fatalf("second: %v", err)
	}

	count := 0
	for _, name := range bus.names() {
		if name == "order.created" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one order.created, got %d", count)
	}

	// A fresh ledger over the same persisted slot still suppresses the ref.
	reloaded, err := NewPurchaseLedger(context.Background(), snapshots)
	if err != nil {
		t.Fatalf("reload ledger: %v", err)
	}
	first, err := reloaded.MarkFired(context.Background(), "ref_same")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if first {
		t.Fatal("expected dedupe to survive ledger reload")
	}
}
