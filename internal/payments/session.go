package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/campaignkit/checkout/internal/domain"
)

// SessionState tracks the bridge lifecycle.
type SessionState int

const (
	// StateUninitialized means Start has not been called.
	StateUninitialized SessionState = iota
	// StateLoading means the bridge is mounting.
	StateLoading
	// StateReady means the bridge accepts tokenize commands.
	StateReady
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrSessionNotReady indicates TokenizeCard was called before the bridge
	// reported ready.
	ErrSessionNotReady = errors.New("tokenization: session not ready")
	// ErrHandlersNotRegistered indicates no completion handlers were
	// registered ahead of a tokenize command.
	ErrHandlersNotRegistered = errors.New("tokenization: handlers must be registered before tokenizing")
	// ErrBridgeRequired indicates the session was constructed without a
	// bridge.
	ErrBridgeRequired = errors.New("tokenization: bridge is required")
)

// CardInputError reports missing card fields, one message per field, without
// the bridge ever being invoked.
type CardInputError struct {
	Messages []string
}

// Error implements the error interface.
func (e *CardInputError) Error() string {
	return "tokenization: " + strings.Join(e.Messages, "; ")
}

// Handlers is the two-phase completion surface: register these, then call
// TokenizeCard. Exactly one of the callbacks fires per tokenize command.
type Handlers struct {
	OnPaymentMethod func(token string)
	OnError         func(messages []string)
}

// FieldObserver is notified when a card sub-field flips between valid and
// invalid, carrying the mapped user-facing message for invalid flips.
type FieldObserver func(field string, valid bool, message string)

// SessionDeps wires the session dependencies.
type SessionDeps struct {
	Bridge        CardBridge
	FieldObserver FieldObserver
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Session owns the bridge lifecycle and per-field validity flags. It is the
// only component allowed to talk to the bridge.
type Session struct {
	mu         sync.Mutex
	state      SessionState
	bridge     CardBridge
	handlers   Handlers
	registered bool
	fieldValid map[string]bool
	observer   FieldObserver
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewSession constructs a tokenization session around the given bridge.
func NewSession(deps SessionDeps) (*Session, error) {
	if deps.Bridge == nil {
		return nil, ErrBridgeRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	observer := deps.FieldObserver
	if observer == nil {
		observer = func(string, bool, string) {}
	}
	return &Session{
		state:      StateUninitialized,
		bridge:     deps.Bridge,
		fieldValid: map[string]bool{},
		observer:   observer,
		logger:     logger,
	}, nil
}

// Start mounts the bridge and moves the session to Loading. The Ready
// transition arrives through the bridge's own callback; no timeout is
// enforced on it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.mu.Unlock()

	err := s.bridge.Mount(BridgeHandlers{
		OnReady:         s.onReady,
		OnFieldEvent:    s.onFieldEvent,
		OnPaymentMethod: s.onPaymentMethod,
		OnError:         s.onError,
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateUninitialized
		s.mu.Unlock()
		s.logger(ctx, "tokenization.mount_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("tokenization: mount bridge: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FieldValid reports the last known validity of a card sub-field; ok is false
// when the bridge has not reported on the field yet.
func (s *Session) FieldValid(field string) (valid bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valid, ok = s.fieldValid[strings.ToLower(strings.TrimSpace(field))]
	return valid, ok
}

// RegisterHandlers installs the completion callbacks for the next tokenize
// command. Callers must register before calling TokenizeCard.
func (s *Session) RegisterHandlers(handlers Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = handlers
	s.registered = handlers.OnPaymentMethod != nil || handlers.OnError != nil
}

// TokenizeCard validates the caller-supplied card data and issues the bridge
// tokenize command. The eventual token or error arrives through the
// registered handlers, never as this call's return value.
func (s *Session) TokenizeCard(ctx context.Context, card domain.CardInput) error {
	var missing []string
	if strings.TrimSpace(card.FullName) == "" {
		missing = append(missing, "Full name is required")
	}
	if strings.TrimSpace(card.Month) == "" {
		missing = append(missing, "Card expiry month is required")
	}
	if strings.TrimSpace(card.Year) == "" {
		missing = append(missing, "Card expiry year is required")
	}
	if len(missing) > 0 {
		return &CardInputError{Messages: missing}
	}

	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		return ErrHandlersNotRegistered
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: bridge is %s", ErrSessionNotReady, state)
	}
	s.mu.Unlock()

	if err := s.bridge.Tokenize(ctx, card); err != nil {
		return fmt.Errorf("tokenization: issue command: %w", err)
	}
	return nil
}

func (s *Session) onReady() {
	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
}

// onFieldEvent updates one field's validity flag and message without touching
// the other field's state.
func (s *Session) onFieldEvent(event FieldEvent) {
	field := strings.ToLower(strings.TrimSpace(event.Field))
	if field == "" {
		return
	}

	s.mu.Lock()
	s.fieldValid[field] = event.Valid
	observer := s.observer
	s.mu.Unlock()

	message := ""
	if !event.Valid {
		message = FieldMessage(field)
	}
	observer(field, event.Valid, message)
}

func (s *Session) onPaymentMethod(token string) {
	s.mu.Lock()
	handler := s.handlers.OnPaymentMethod
	s.mu.Unlock()
	if handler != nil {
		handler(token)
	}
}

func (s *Session) onError(messages []string) {
	s.mu.Lock()
	handler := s.handlers.OnError
	s.mu.Unlock()
	if handler != nil {
		handler(messages)
	}
}
