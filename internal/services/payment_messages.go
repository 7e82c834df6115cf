package services

import (
	"errors"

	"github.com/campaignkit/checkout/internal/platform/api"
)

// fallbackPaymentMessage covers declines the gateway reports without a code
// this client recognises.
const fallbackPaymentMessage = "Your payment could not be processed. Please try again or use another payment method."

// paymentResponseMessages maps gateway payment response codes to customer
// wording. Codes not listed here fall back to the generic decline message.
var paymentResponseMessages = map[string]string{
	"3004": "The card number is invalid. Please check it and try again.",
	"3005": "The card's security code is incorrect. Please check it and try again.",
	"3006": "The card has expired. Please use a different card.",
	"3008": "The card has been declined. Please try another payment method.",
	"3009": "The card has insufficient funds. Please try another payment method.",
}

// orderAssemblyMessage describes an order that could not be assembled from
// the cart, as opposed to a gateway decline.
func orderAssemblyMessage(err error) string {
	if errors.Is(err, ErrInvalidLineItem) {
		return "An item in your cart could not be ordered. Please remove it and try again."
	}
	return fallbackPaymentMessage
}

// MessageForPaymentError translates an order creation failure into customer
// wording. Server faults get the generic message too; raw gateway text is
// never shown.
func MessageForPaymentError(err error) string {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return fallbackPaymentMessage
	}
	if code := apiErr.PaymentResponseCode(); code != "" {
		if message, ok := paymentResponseMessages[code]; ok {
			return message
		}
	}
	return fallbackPaymentMessage
}
