// Package storage persists the small, named state slots the checkout engine
// keeps between page loads: the session cart snapshot, the long-lived
// attribution payload, and the purchase-event ledger.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotNotFound indicates the requested slot has never been written.
var ErrSlotNotFound = errors.New("storage: slot not found")

// Well-known slot keys. Writers overwrite these wholesale on every mutation.
const (
	SlotCartSnapshot   = "session_cart"
	SlotAttribution    = "attribution"
	SlotPurchaseLedger = "purchase_events"
)

// SnapshotStore reads and writes opaque snapshot slots keyed by name.
type SnapshotStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the in-process SnapshotStore used by default and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: map[string][]byte{}}
}

// Read returns the stored bytes or ErrSlotNotFound.
func (m *MemoryStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	dup := make([]byte, len(data))
	copy(dup, data)
	return dup, nil
}

// Write replaces the slot contents.
func (m *MemoryStore) Write(_ context.Context, key string, data []byte) error {
	dup := make([]byte, len(data))
	copy(dup, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = dup
	return nil
}

// Delete removes the slot. Deleting an absent slot is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
