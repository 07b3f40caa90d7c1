// Package mongo archives raw Clover webhook deliveries in MongoDB so failed
// deliveries can be inspected and replayed.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/platform/config"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

const connectTimeout = 10 * time.Second

// Connect dials MongoDB and pings the primary.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo: uri not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, nil
}

// Error carries the repository classification of a MongoDB failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool { return errors.Is(e.Err, mongo.ErrNoDocuments) }

func (e *Error) IsConflict() bool { return mongo.IsDuplicateKeyError(e.Err) }

func (e *Error) IsUnavailable() bool { return mongo.IsNetworkError(e.Err) || mongo.IsTimeout(e.Err) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

type eventDocument struct {
	MerchantID string    `bson:"merchantId"`
	ObjectID   string    `bson:"objectId"`
	Type       string    `bson:"type"`
	Timestamp  time.Time `bson:"ts"`
}

type webhookDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Source      string             `bson:"source"`
	MerchantIDs []string           `bson:"merchantIds"`
	Events      []eventDocument    `bson:"events"`
	Payload     string             `bson:"payload"`
	ReceivedAt  time.Time          `bson:"receivedAt"`
	Processed   bool               `bson:"processed"`
	ProcessedAt *time.Time         `bson:"processedAt,omitempty"`
	Error       string             `bson:"error,omitempty"`
}

// WebhookEventRepository implements repositories.WebhookEventRepository.
type WebhookEventRepository struct {
	collection *mongo.Collection
}

var _ repositories.WebhookEventRepository = (*WebhookEventRepository)(nil)

// NewWebhookEventRepository binds the repository to a collection.
func NewWebhookEventRepository(collection *mongo.Collection) (*WebhookEventRepository, error) {
	if collection == nil {
		return nil, errors.New("webhook event repository requires a collection")
	}
	return &WebhookEventRepository{collection: collection}, nil
}

// EnsureIndexes creates the index used to find unprocessed deliveries.
func (r *WebhookEventRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "processed", Value: 1}, {Key: "receivedAt", Value: 1}},
	})
	return wrap("webhooks.indexes", err)
}

// Archive stores a delivery and returns its id.
func (r *WebhookEventRepository) Archive(ctx context.Context, record repositories.WebhookRecord) (string, error) {
	doc := webhookDocument{
		Source:      record.Source,
		MerchantIDs: record.MerchantIDs,
		Payload:     string(record.Payload),
		ReceivedAt:  record.ReceivedAt.UTC(),
		Error:       record.Error,
	}
	for _, e := range record.Events {
		doc.Events = append(doc.Events, eventDocument{MerchantID: e.MerchantID, ObjectID: e.ObjectID, Type: e.Type, Timestamp: e.Timestamp.UTC()})
	}
	res, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", wrap("webhooks.insert", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		return id.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// MarkProcessed records the processing outcome of a delivery.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string, processedAt time.Time, processingErr error) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return wrap("webhooks.mark_processed", mongo.ErrNoDocuments)
	}
	set := bson.M{"processed": processingErr == nil, "processedAt": processedAt.UTC()}
	if processingErr != nil {
		set["error"] = processingErr.Error()
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return wrap("webhooks.mark_processed", err)
	}
	if res.MatchedCount == 0 {
		return wrap("webhooks.mark_processed", mongo.ErrNoDocuments)
	}
	return nil
}

// ListUnprocessed returns deliveries that have not been processed, oldest first.
func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, limit int) ([]repositories.WebhookRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor, err := r.collection.Find(ctx, bson.M{"processed": false},
		options.Find().SetSort(bson.D{{Key: "receivedAt", Value: 1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, wrap("webhooks.find", err)
	}
	defer cursor.Close(ctx)

	var out []repositories.WebhookRecord
	for cursor.Next(ctx) {
		var doc webhookDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrap("webhooks.decode", err)
		}
		out = append(out, toRecord(doc))
	}
	return out, wrap("webhooks.find", cursor.Err())
}

func toRecord(doc webhookDocument) repositories.WebhookRecord {
	rec := repositories.WebhookRecord{
		ID:          doc.ID.Hex(),
		Source:      doc.Source,
		MerchantIDs: doc.MerchantIDs,
		Payload:     []byte(doc.Payload),
		ReceivedAt:  doc.ReceivedAt,
		ProcessedAt: doc.ProcessedAt,
		Error:       doc.Error,
	}
	for _, e := range doc.Events {
		rec.Events = append(rec.Events, domain.WebhookEvent{MerchantID: e.MerchantID, ObjectID: e.ObjectID, Type: e.Type, Timestamp: e.Timestamp})
	}
	return rec
}
