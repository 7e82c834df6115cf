// Package payments wraps the card-capture bridge: an embedded widget that
// holds the raw card number and CVV, communicates through registered
// callbacks, and exchanges card data for an opaque payment token so raw card
// numbers never transit the engine's own network calls.
package payments

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/campaignkit/checkout/internal/domain"
)

// Card sub-fields validated independently by the bridge.
const (
	FieldNumber = "number"
	FieldCVV    = "cvv"
)

// FieldEvent is a bridge-side validation event for a single card sub-field.
type FieldEvent struct {
	Field string
	Valid bool
	Code  string
}

// BridgeHandlers is the callback surface the session registers with the
// bridge. The bridge cannot be awaited; everything arrives through these.
type BridgeHandlers struct {
	OnReady         func()
	OnFieldEvent    func(event FieldEvent)
	OnPaymentMethod func(token string)
	OnError         func(messages []string)
}

// CardBridge abstracts the embedded card-capture widget.
type CardBridge interface {
	// Mount initialises the widget and begins delivering callbacks.
	Mount(handlers BridgeHandlers) error
	// Tokenize issues the capture command; the result arrives via the
	// handlers registered at Mount, never as a return value.
	Tokenize(ctx context.Context, card domain.CardInput) error
}

// fieldMessages is the fixed human-readable translation table for bridge
// validation events.
var fieldMessages = map[string]string{
	FieldNumber: "Please enter a valid credit card number",
	FieldCVV:    "Please enter a valid CVV",
}

// FieldMessage translates a failed validation event into the user-facing
// sentence for its field, with a generic fallback for unrecognised fields.
func FieldMessage(field string) string {
	normalised := strings.ToLower(strings.TrimSpace(field))
	if message, ok := fieldMessages[normalised]; ok {
		return message
	}
	label := normalised
	if label == "" {
		label = "card field"
	}
	return fmt.Sprintf("Invalid %s", label)
}
