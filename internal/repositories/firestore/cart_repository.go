// Package firestore stores cart snapshots in Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/rise-n-smoke/ordering/internal/cart"
	pfirestore "github.com/rise-n-smoke/ordering/internal/platform/firestore"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

const defaultCartCollection = "carts"

// CartRepository persists one snapshot document per cart session.
type CartRepository struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

type cartDocument struct {
	cart.Snapshot
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(client *firestore.Client, collection string) (*CartRepository, error) {
	if client == nil {
		return nil, errors.New("cart repository requires firestore client")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultCartCollection
	}
	return &CartRepository{client: client, collection: collection, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Load returns the stored snapshot. A missing document is a not-found error.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (cart.Snapshot, error) {
	ref, err := r.doc(sessionID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return cart.Snapshot{}, pfirestore.WrapError("carts.get", err)
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return cart.Snapshot{}, pfirestore.WrapError("carts.decode", err)
	}
	return doc.Snapshot, nil
}

// Save overwrites the snapshot for sessionID.
func (r *CartRepository) Save(ctx context.Context, sessionID string, snapshot cart.Snapshot) error {
	ref, err := r.doc(sessionID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, cartDocument{Snapshot: snapshot, UpdatedAt: r.now()}); err != nil {
		return pfirestore.WrapError("carts.set", err)
	}
	return nil
}

// Delete removes the snapshot. Deleting a missing cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	ref, err := r.doc(sessionID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

func (r *CartRepository) doc(sessionID string) (*firestore.DocumentRef, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.Contains(sessionID, "/") {
		return nil, errors.New("cart repository: invalid session id")
	}
	return r.client.Collection(r.collection).Doc(sessionID), nil
}
