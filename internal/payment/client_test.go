package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/audit"
	"github.com/fjod/go_cart/settlement-service/pkg/logger"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) all() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

func testOrder() *d.Order {
	return &d.Order{
		Header: d.OrderHeader{ID: "order-1"},
		SubOrders: []d.SubOrder{
			{SellerID: "S1", Lines: []d.LineEntry{{ProductID: "productA", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}}},
			{SellerID: "S2", Lines: []d.LineEntry{{ProductID: "productB", Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")}}},
		},
	}
}

func testCommunity() d.Community {
	return d.Community{PayoutAccount: "community@example.com", Currency: "USD"}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) (*Client, *recordingSink, *metrics.SettlementMetrics) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL
	if cfg.RedirectBase == "" {
		cfg.RedirectBase = "https://processor.example.com/webscr"
	}
	if cfg.CallbackBase == "" {
		cfg.CallbackBase = "https://shop.example.com/"
	}
	sink := &recordingSink{}
	m := metrics.NewSettlementMetrics(prometheus.NewRegistry(), "settlement")
	return NewClient(cfg, srv.Client(), sink, m, logger.Discard()), sink, m
}

func TestBuildRequest_Recipients(t *testing.T) {
	c := NewClient(Config{CallbackBase: "https://shop.example.com/"}, nil, nil, nil, logger.Discard())

	req, err := c.BuildRequest(testOrder(), testCommunity(), map[string]string{
		"S1": "wood@example.com",
		"S2": "pots@example.com",
	}, "203.0.113.7")

	require.NoError(t, err)
	assert.Equal(t, "order-1", req.TrackingID)
	assert.Equal(t, Recipient{AccountID: "community@example.com", Amount: "25.00"}, req.PrimaryRecipient)
	assert.Equal(t, []Recipient{
		{AccountID: "wood@example.com", Amount: "20.00"},
		{AccountID: "pots@example.com", Amount: "5.00"},
	}, req.AdditionalRecipients)
	assert.Equal(t, "https://shop.example.com/cancel?payKey=${payKey}", req.CancelURL)
	assert.Equal(t, "https://shop.example.com/return?payKey=${payKey}", req.ReturnURL)
	assert.Equal(t, "https://shop.example.com/ipn?order=order-1", req.NotifyURL)
	assert.Equal(t, "203.0.113.7", req.ClientIP)
}

func TestBuildRequest_MissingPayoutAccount(t *testing.T) {
	c := NewClient(Config{}, nil, nil, nil, logger.Discard())

	_, err := c.BuildRequest(testOrder(), testCommunity(), map[string]string{"S1": "wood@example.com"}, "")

	assert.Error(t, err)
}

func TestBuildRequest_SubCentAmountIsRejected(t *testing.T) {
	c := NewClient(Config{}, nil, nil, nil, logger.Discard())
	order := testOrder()
	order.SubOrders[0].Lines[0] = d.LineEntry{ProductID: "productA", Quantity: 1, UnitPrice: decimal.RequireFromString("0.125")}
	order.SubOrders[1].Lines[0] = d.LineEntry{ProductID: "productB", Quantity: 1, UnitPrice: decimal.RequireFromString("0.125")}

	req, err := c.BuildRequest(order, testCommunity(), map[string]string{"S1": "a", "S2": "b"}, "")

	var rejected *PaymentRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "S1")
	assert.Nil(t, req)
}

func TestBuildRequest_RecipientsSumToPrimary(t *testing.T) {
	c := NewClient(Config{}, nil, nil, nil, logger.Discard())
	order := testOrder()
	order.SubOrders[0].Lines = append(order.SubOrders[0].Lines, d.LineEntry{ProductID: "productC", Quantity: 3, UnitPrice: decimal.RequireFromString("0.33")})

	req, err := c.BuildRequest(order, testCommunity(), map[string]string{"S1": "a", "S2": "b"}, "")
	require.NoError(t, err)

	sum := decimal.Zero
	for _, r := range req.AdditionalRecipients {
		sum = sum.Add(decimal.RequireFromString(r.Amount))
	}
	assert.Equal(t, req.PrimaryRecipient.Amount, sum.StringFixed(2))
	assert.Equal(t, "25.99", req.PrimaryRecipient.Amount)
}

func TestPay_Redirect(t *testing.T) {
	var got PayRequest
	c, sink, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pay", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paymentKey":"AP-123"}`))
	}, Config{})
	req, err := c.BuildRequest(testOrder(), testCommunity(), map[string]string{"S1": "a", "S2": "b"}, "")
	require.NoError(t, err)

	redirect, err := c.Pay(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "AP-123", redirect.PaymentKey)
	assert.Equal(t, "https://processor.example.com/webscr?cmd=_ap-payment&paykey=AP-123", redirect.RedirectURL)
	assert.Len(t, got.AdditionalRecipients, 2)

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.KindPayRequest, entries[0].Kind)
	assert.Equal(t, "AP-123", entries[0].PaymentKey)
	assert.Equal(t, http.StatusOK, entries[0].StatusCode)
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayLatency))
}

func TestPay_RedirectURLFromProcessor(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"paymentKey":"AP-9","redirectUrl":"https://pay.example.com/approve/AP-9"}`))
	}, Config{})

	redirect, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/approve/AP-9", redirect.RedirectURL)
}

func TestPay_Rejected(t *testing.T) {
	c, sink, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"receiver amount is invalid"}}`))
	}, Config{})

	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	var rejected *PaymentRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "receiver amount is invalid", rejected.Reason)
	assert.Equal(t, http.StatusBadRequest, sink.all()[0].StatusCode)
}

func TestPay_RejectedWithoutBody(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}, Config{})

	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	var rejected *PaymentRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "Unprocessable Entity", rejected.Reason)
}

func TestPay_ServerErrorIsUnavailable(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, Config{})

	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPay_MissingPaymentKeyIsUnavailable(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, Config{})

	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPay_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	c, sink, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}, Config{Timeout: 50 * time.Millisecond})
	t.Cleanup(func() { close(release) })

	start := time.Now()
	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotEmpty(t, sink.all()[0].Error)
}

func TestPay_DoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{})

	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPay_OpenBreakerIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, Config{BreakerFailures: 2, BreakerOpen: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})
		require.ErrorIs(t, err, ErrGatewayUnavailable)
	}
	_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPay_RejectionsDoNotOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, Config{BreakerFailures: 1, BreakerOpen: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := c.Pay(context.Background(), &PayRequest{TrackingID: "order-1"})
		var rejected *PaymentRejectedError
		require.True(t, errors.As(err, &rejected))
	}
	assert.Equal(t, int32(3), calls.Load())
}
