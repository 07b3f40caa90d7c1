package mongo

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rise-n-smoke/ordering/internal/repositories"
)

func TestErrorClassification(t *testing.T) {
	var repoErr repositories.RepositoryError = &Error{Op: "webhooks.find", Err: mongo.ErrNoDocuments}
	if !repoErr.IsNotFound() || repoErr.IsConflict() {
		t.Fatalf("expected not found classification")
	}
	dup := &Error{Op: "webhooks.insert", Err: mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "dup"}}}}
	if !dup.IsConflict() {
		t.Fatalf("expected duplicate key to be a conflict")
	}
	if wrap("noop", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if !errors.Is(wrap("x", mongo.ErrNoDocuments), mongo.ErrNoDocuments) {
		t.Fatalf("expected unwrap to expose driver error")
	}
}

func TestWebhookDocumentRoundTrip(t *testing.T) {
	received := time.Date(2024, 5, 10, 17, 0, 0, 0, time.UTC)
	doc := webhookDocument{
		ID:          primitive.NewObjectID(),
		Source:      "clover",
		MerchantIDs: []string{"MID1"},
		Events:      []eventDocument{{MerchantID: "MID1", ObjectID: "O:CLV1", Type: "UPDATE", Timestamp: received}},
		Payload:     `{"appId":"app"}`,
		ReceivedAt:  received,
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded webhookDocument
	if err := bson.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rec := toRecord(decoded)
	if rec.ID != doc.ID.Hex() || len(rec.Events) != 1 || rec.Events[0].ObjectID != "O:CLV1" || string(rec.Payload) != doc.Payload {
		t.Fatalf("unexpected record %#v", rec)
	}
	if !rec.ReceivedAt.Equal(received) {
		t.Fatalf("expected receivedAt preserved, got %s", rec.ReceivedAt)
	}
}
