package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrAPIKeyMissing indicates a cart or order call was attempted without a
// configured API key. Campaign reads fall back to the mock payload instead.
var ErrAPIKeyMissing = errors.New("api: key is missing")

// Error carries the HTTP status and the raw server payload so callers can map
// payment response codes onto user-facing messages.
type Error struct {
	Status int
	Op     string
	Body   []byte
	Fields map[string]any
}

// NewError builds an Error, parsing the body as JSON when possible.
func NewError(op string, status int, body []byte) *Error {
	apiErr := &Error{
		Status: status,
		Op:     op,
		Body:   body,
	}
	var fields map[string]any
	if len(body) > 0 && json.Unmarshal(body, &fields) == nil {
		apiErr.Fields = fields
	}
	return apiErr
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "api: unknown error"
	}
	if code := e.PaymentResponseCode(); code != "" {
		return fmt.Sprintf("api: %s failed with status %d (payment_response_code %s)", e.Op, e.Status, code)
	}
	return fmt.Sprintf("api: %s failed with status %d", e.Op, e.Status)
}

// PaymentResponseCode extracts the gateway response code from the parsed
// payload, empty when absent.
func (e *Error) PaymentResponseCode() string {
	if e == nil || e.Fields == nil {
		return ""
	}
	switch v := e.Fields["payment_response_code"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// Field returns a top-level string field from the parsed payload.
func (e *Error) Field(name string) string {
	if e == nil || e.Fields == nil {
		return ""
	}
	if v, ok := e.Fields[name].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// IsServerError reports whether the failure was on the commerce API side.
func (e *Error) IsServerError() bool {
	return e != nil && e.Status >= 500
}
