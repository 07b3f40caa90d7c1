package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps keys in a Firestore collection, one document per key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore builds a store. An empty collection uses idempotency_keys.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

type firestoreEntry struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func toFirestore(e Entry) firestoreEntry { return firestoreEntry(e) }

func (d firestoreEntry) entry() Entry { return Entry(d) }

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	ref := s.doc(key)
	var (
		outcome Outcome
		result  Entry
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var stored firestoreEntry
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if now.Before(stored.ExpiresAt) {
				result = stored.entry()
				outcome, err = classify(result, fingerprint)
				return err
			}
		}
		result = newEntry(key, fingerprint, now, ttl)
		outcome = OutcomeFresh
		return tx.Set(ref, toFirestore(result))
	})
	if err != nil {
		return 0, Entry{}, err
	}
	return outcome, result, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref := s.doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		e := newEntry(key, fingerprint, now, ttl)
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var stored firestoreEntry
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			e = stored.entry()
		}
		return tx.Set(ref, toFirestore(completeEntry(e, resp, now, ttl)))
	})
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).Where("expiresAt", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}
