package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/campaignkit/checkout/internal/domain"
)

type stripeTokenAPI interface {
	New(params *stripe.TokenParams) (*stripe.Token, error)
}

// StripeBridgeConfig configures the Stripe-backed card bridge.
type StripeBridgeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   func(ctx context.Context, event string, fields map[string]any)
	// Tokens overrides the Stripe token API (tests).
	Tokens stripeTokenAPI
}

// StripeBridge implements CardBridge against the Stripe token API. The raw
// card number and CVV are fed to the bridge by the page-side capture widget
// through SetCapturedCard; they never reach the rest of the engine.
type StripeBridge struct {
	tokens stripeTokenAPI
	logger func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	handlers BridgeHandlers
	number   string
	cvv      string
}

// NewStripeBridge constructs the Stripe card bridge.
func NewStripeBridge(cfg StripeBridgeConfig) (*StripeBridge, error) {
	tokens := cfg.Tokens
	if tokens == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe bridge: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		tokens = sc.Tokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeBridge{
		tokens: tokens,
		logger: logger,
	}, nil
}

// Mount registers the callback surface and reports ready immediately; the
// Stripe token API needs no asynchronous boot.
func (b *StripeBridge) Mount(handlers BridgeHandlers) error {
	b.mu.Lock()
	b.handlers = handlers
	b.mu.Unlock()
	if handlers.OnReady != nil {
		handlers.OnReady()
	}
	return nil
}

// SetCapturedCard stores the sensitive fields the capture widget collected.
func (b *StripeBridge) SetCapturedCard(number, cvv string) {
	b.mu.Lock()
	b.number = strings.TrimSpace(number)
	b.cvv = strings.TrimSpace(cvv)
	b.mu.Unlock()
}

// Tokenize exchanges the captured card for a token asynchronously; the result
// arrives through the mounted handlers.
func (b *StripeBridge) Tokenize(ctx context.Context, card domain.CardInput) error {
	b.mu.Lock()
	handlers := b.handlers
	number := b.number
	cvv := b.cvv
	b.mu.Unlock()

	if handlers.OnPaymentMethod == nil && handlers.OnError == nil {
		return errors.New("stripe bridge: not mounted")
	}

	go b.tokenize(ctx, handlers, card, number, cvv)
	return nil
}

func (b *StripeBridge) tokenize(ctx context.Context, handlers BridgeHandlers, card domain.CardInput, number, cvv string) {
	started := time.Now()
	tok, err := b.tokens.New(&stripe.TokenParams{
		Card: &stripe.CardParams{
			Name:     stripe.String(card.FullName),
			Number:   stripe.String(number),
			ExpMonth: stripe.String(card.Month),
			ExpYear:  stripe.String(card.Year),
			CVC:      stripe.String(cvv),
		},
	})
	if err != nil {
		b.logger(ctx, "stripe.tokenize_failed", map[string]any{
			"elapsed": time.Since(started).String(),
			"error":   err.Error(),
		})
		b.deliverError(handlers, err)
		return
	}

	if handlers.OnPaymentMethod != nil {
		handlers.OnPaymentMethod(tok.ID)
	}
}

// deliverError translates Stripe error codes into field events the session
// understands, falling back to a plain error callback.
func (b *StripeBridge) deliverError(handlers BridgeHandlers, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if field := fieldForStripeCode(stripeErr.Code); field != "" && handlers.OnFieldEvent != nil {
			handlers.OnFieldEvent(FieldEvent{Field: field, Valid: false, Code: string(stripeErr.Code)})
		}
		if handlers.OnError != nil {
			message := strings.TrimSpace(stripeErr.Msg)
			if message == "" {
				message = "Card could not be tokenized"
			}
			handlers.OnError([]string{message})
		}
		return
	}
	if handlers.OnError != nil {
		handlers.OnError([]string{"Card could not be tokenized"})
	}
}

func fieldForStripeCode(code stripe.ErrorCode) string {
	switch code {
	case stripe.ErrorCodeInvalidNumber, stripe.ErrorCodeIncorrectNumber:
		return FieldNumber
	case stripe.ErrorCodeInvalidCVC, stripe.ErrorCodeIncorrectCVC:
		return FieldCVV
	}
	return ""
}
