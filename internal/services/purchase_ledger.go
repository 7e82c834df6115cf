package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/campaignkit/checkout/internal/platform/storage"
)

// PurchaseLedger remembers which order refs already produced a purchase
// event, so return-trip page reloads cannot fire analytics twice.
type PurchaseLedger struct {
	mu    sync.Mutex
	store storage.SnapshotStore
	refs  map[string]bool
}

// NewPurchaseLedger loads the persisted ledger. A missing slot starts empty.
func NewPurchaseLedger(ctx context.Context, store storage.SnapshotStore) (*PurchaseLedger, error) {
	ledger := &PurchaseLedger{store: store, refs: map[string]bool{}}
	data, err := store.Read(ctx, storage.SlotPurchaseLedger)
	if err != nil {
		if errors.Is(err, storage.ErrSlotNotFound) {
			return ledger, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &ledger.refs); err != nil {
		return nil, err
	}
	return ledger, nil
}

// MarkFired records the ref and reports whether this call was the first one.
// The persisted slot is rewritten wholesale on every new ref.
func (l *PurchaseLedger) MarkFired(ctx context.Context, refID string) (bool, error) {
	if refID == "" {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[refID] {
		return false, nil
	}
	l.refs[refID] = true

	data, err := json.Marshal(l.refs)
	if err != nil {
		return true, err
	}
	if err := l.store.Write(ctx, storage.SlotPurchaseLedger, data); err != nil {
		return true, err
	}
	return true, nil
}

// Fired reports whether the ref already produced a purchase event.
func (l *PurchaseLedger) Fired(refID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs[refID]
}
