package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestSink(t *testing.T) (*MongoSink, func()) {
	if testing.Short() {
		t.Skip("skipping mongodb container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	sink := NewMongoSink(db)
	require.NoError(t, sink.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return sink, cleanup
}

func TestMongoSink_RecordAndRead(t *testing.T) {
	sink, cleanup := setupTestSink(t)
	defer cleanup()
	ctx := context.Background()
	start := time.Now().UTC()

	require.NoError(t, sink.Record(ctx, Entry{
		Kind:       KindPayRequest,
		OrderID:    "order-1",
		Request:    `{"trackingId":"order-1"}`,
		StatusCode: 200,
		Response:   `{"paymentKey":"AP-1"}`,
		RecordedAt: start,
	}))
	require.NoError(t, sink.Record(ctx, Entry{
		Kind:       KindNotification,
		OrderID:    "order-1",
		PaymentKey: "AP-1",
		Request:    `{"paymentKey":"AP-1","outcome":"COMPLETED"}`,
		RecordedAt: start.Add(time.Second),
	}))
	require.NoError(t, sink.Record(ctx, Entry{Kind: KindPayRequest, OrderID: "order-2"}))

	entries, err := sink.ForOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindPayRequest, entries[0].Kind)
	assert.Equal(t, 200, entries[0].StatusCode)
	assert.Equal(t, "AP-1", entries[1].PaymentKey)
}

func TestNop_Record(t *testing.T) {
	assert.NoError(t, Nop{}.Record(context.Background(), Entry{Kind: KindPayRequest}))
}
