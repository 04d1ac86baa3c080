// Package audit archives raw payment processor exchanges next to the ledger.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	KindPayRequest   = "pay_request"
	KindNotification = "notification"
)

// Entry is one request/response pair exchanged with the processor.
type Entry struct {
	Kind       string    `bson:"kind"`
	OrderID    string    `bson:"order_id"`
	PaymentKey string    `bson:"payment_key,omitempty"`
	Request    string    `bson:"request,omitempty"`
	StatusCode int       `bson:"status_code,omitempty"`
	Response   string    `bson:"response,omitempty"`
	Error      string    `bson:"error,omitempty"`
	RecordedAt time.Time `bson:"recorded_at"`
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Nop drops every entry. Used when no archive is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type MongoSink struct {
	collection *mongo.Collection
}

func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{collection: db.Collection("processor_exchanges")}
}

func (m *MongoSink) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "recorded_at", Value: 1}}},
		{Keys: bson.D{{Key: "payment_key", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (m *MongoSink) Record(ctx context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	if _, err := m.collection.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ForOrder returns an order's exchanges in the order they were recorded.
func (m *MongoSink) ForOrder(ctx context.Context, orderID string) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit entries: %w", err)
	}
	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	return entries, nil
}
