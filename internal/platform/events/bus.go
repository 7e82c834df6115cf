// Package events distributes the engine's lifecycle events (cart.updated,
// cart.synced, order.created) to in-process analytics collaborators and,
// optionally, to a Pub/Sub topic for downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event names observed by analytics collaborators. These are the only hooks
// external components are expected to consume.
const (
	CartUpdated  = "cart.updated"
	CartSynced   = "cart.synced"
	OrderCreated = "order.created"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

// Event is a single emitted occurrence carrying the current cart or order
// payload.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Handler observes emitted events.
type Handler func(Event)

// RemotePublisher forwards events beyond the process boundary.
type RemotePublisher interface {
	Publish(ctx context.Context, event Event) (string, error)
}

// BusDeps wires optional bus dependencies.
type BusDeps struct {
	Remote      RemotePublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type entry struct {
	id uint64
	fn Handler
}

// Bus fans events out to local handlers synchronously, then to the remote
// publisher best-effort. Local handler panics are recovered and logged so a
// misbehaving analytics collaborator cannot break checkout.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]entry
	nextID   uint64
	remote   RemotePublisher
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewBus constructs a Bus; all deps are optional.
func NewBus(deps BusDeps) *Bus {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Bus{
		handlers: map[string][]entry{},
		remote:   deps.Remote,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event (or Wildcard) and returns
// an unsubscribe function.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], entry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[name]
		for i, candidate := range entries {
			if candidate.id == id {
				b.handlers[name] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// Emit dispatches the event to local handlers and the remote publisher.
// Remote failures are logged, never surfaced to the emitting flow.
func (b *Bus) Emit(ctx context.Context, name string, payload any) Event {
	event := Event{
		ID:         b.newID(),
		Name:       name,
		Payload:    payload,
		OccurredAt: b.now(),
	}

	b.mu.Lock()
	targets := make([]entry, 0, len(b.handlers[name])+len(b.handlers[Wildcard]))
	targets = append(targets, b.handlers[name]...)
	targets = append(targets, b.handlers[Wildcard]...)
	b.mu.Unlock()

	for _, target := range targets {
		b.invoke(ctx, target, event)
	}

	if b.remote != nil {
		if _, err := b.remote.Publish(ctx, event); err != nil {
			b.logger(ctx, "events.remote_publish_failed", map[string]any{
				"event": name,
				"error": err.Error(),
			})
		}
	}
	return event
}

func (b *Bus) invoke(ctx context.Context, target entry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger(ctx, "events.handler_panic", map[string]any{
				"event": event.Name,
				"panic": r,
			})
		}
	}()
	target.fn(event)
}
