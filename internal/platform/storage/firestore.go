package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultSlotCollection = "checkout_sessions"

type slotDocument struct {
	Data      []byte    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore keeps snapshot slots as documents under a per-session
// collection path so the session survives process restarts.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	sessionID  string
	now        func() time.Time
}

// NewFirestoreStore constructs a Firestore-backed SnapshotStore scoped to the
// given session identifier.
func NewFirestoreStore(client *firestore.Client, collection, sessionID string) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore store: client is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("firestore store: session id is required")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultSlotCollection
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
		sessionID:  sessionID,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (f *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(f.sessionID).Collection("slots").Doc(key)
}

// Read fetches the slot bytes, mapping Firestore not-found onto
// ErrSlotNotFound.
func (f *FirestoreStore) Read(ctx context.Context, key string) ([]byte, error) {
	snap, err := f.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	var doc slotDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// Write replaces the slot document.
func (f *FirestoreStore) Write(ctx context.Context, key string, data []byte) error {
	_, err := f.doc(key).Set(ctx, slotDocument{
		Data:      data,
		UpdatedAt: f.now(),
	})
	return err
}

// Delete removes the slot document; deleting an absent slot is not an error.
func (f *FirestoreStore) Delete(ctx context.Context, key string) error {
	_, err := f.doc(key).Delete(ctx)
	if err != nil && status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
