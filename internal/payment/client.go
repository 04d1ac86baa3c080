package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/audit"
	"github.com/fjod/go_cart/settlement-service/pkg/circuitbreaker"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
)

// MaxRecipients is the processor's limit on additional recipients.
const MaxRecipients = 5

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type PaymentRejectedError struct {
	Reason string
}

func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("payment rejected: %s", e.Reason)
}

type Recipient struct {
	AccountID string `json:"accountId"`
	Amount    string `json:"amount"`
}

// PayRequest is the single multi-recipient request issued per checkout.
type PayRequest struct {
	TrackingID           string      `json:"trackingId"`
	Currency             string      `json:"currency"`
	PrimaryRecipient     Recipient   `json:"primaryRecipient"`
	AdditionalRecipients []Recipient `json:"additionalRecipients"`
	CancelURL            string      `json:"cancelUrl"`
	ReturnURL            string      `json:"returnUrl"`
	NotifyURL            string      `json:"notifyUrl"`
	ClientIP             string      `json:"clientIp"`
}

type payResponse struct {
	PaymentKey  string `json:"paymentKey"`
	RedirectURL string `json:"redirectUrl"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Redirect is an accepted payment the shopper still has to authorize.
type Redirect struct {
	PaymentKey  string
	RedirectURL string
}

type Config struct {
	Endpoint     string
	RedirectBase string
	CallbackBase string
	Timeout      time.Duration
	// BreakerFailures consecutive unavailable calls open the breaker.
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[*Redirect]
	audit   audit.Sink
	metrics *metrics.SettlementMetrics
	log     *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, sink audit.Sink, m *metrics.SettlementMetrics, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		cb: circuitbreaker.New[*Redirect](circuitbreaker.Config{
			Name:                "payment-processor",
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpen,
			IsSuccessful: func(err error) bool {
				var rejected *PaymentRejectedError
				return err == nil || errors.As(err, &rejected)
			},
		}, log),
		audit:   sink,
		metrics: m,
		log:     log,
	}
}

// BuildRequest describes a whole order as one chained payment: the community
// account is the primary recipient of the order total and every seller receives
// exactly its sub-order subtotal. Amounts are never rounded; a subtotal with
// fractions of a cent is rejected.
func (c *Client) BuildRequest(order *d.Order, community d.Community, payoutAccounts map[string]string, clientIP string) (*PayRequest, error) {
	if len(order.SubOrders) == 0 {
		return nil, errors.New("order has no sub-orders")
	}
	if len(order.SubOrders) > MaxRecipients {
		return nil, &PaymentRejectedError{Reason: fmt.Sprintf("%d recipients exceed the limit of %d", len(order.SubOrders), MaxRecipients)}
	}

	recipients := make([]Recipient, 0, len(order.SubOrders))
	for _, s := range order.SubOrders {
		account, ok := payoutAccounts[s.SellerID]
		if !ok || account == "" {
			return nil, fmt.Errorf("seller %s has no payout account", s.SellerID)
		}
		subtotal := s.Subtotal()
		if !d.IsWholeCents(subtotal) {
			return nil, &PaymentRejectedError{Reason: fmt.Sprintf("amount %s for seller %s is not in whole cents", subtotal, s.SellerID)}
		}
		recipients = append(recipients, Recipient{AccountID: account, Amount: formatAmount(subtotal)})
	}

	base := strings.TrimRight(c.cfg.CallbackBase, "/")
	return &PayRequest{
		TrackingID:           order.Header.ID,
		Currency:             community.Currency,
		PrimaryRecipient:     Recipient{AccountID: community.PayoutAccount, Amount: formatAmount(order.Total())},
		AdditionalRecipients: recipients,
		CancelURL:            base + "/cancel?payKey=${payKey}",
		ReturnURL:            base + "/return?payKey=${payKey}",
		NotifyURL:            base + "/ipn?order=" + url.QueryEscape(order.Header.ID),
		ClientIP:             clientIP,
	}, nil
}

// Pay issues the request once. It never retries: the processor call is not
// known to be idempotent, so a retry is the shopper's decision.
func (c *Client) Pay(ctx context.Context, req *PayRequest) (*Redirect, error) {
	start := time.Now()
	redirect, err := c.cb.Execute(func() (*Redirect, error) {
		return c.pay(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	c.observe(start, err)
	return redirect, err
}

func (c *Client) pay(ctx context.Context, req *PayRequest) (*Redirect, error) {
	payCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal pay request: %w", err)
	}
	entry := audit.Entry{Kind: audit.KindPayRequest, OrderID: req.TrackingID, Request: string(body)}
	defer func() {
		// recorded even when the checkout context is already cancelled
		recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer recordCancel()
		if err := c.audit.Record(recordCtx, entry); err != nil {
			c.log.WarnContext(ctx, "failed to archive processor exchange", "order_id", req.TrackingID, "error", err)
		}
	}()

	httpReq, err := http.NewRequestWithContext(payCtx, http.MethodPost, strings.TrimRight(c.cfg.Endpoint, "/")+"/pay", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build pay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		entry.Error = err.Error()
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	entry.StatusCode = resp.StatusCode
	entry.Response = string(raw)
	if err != nil {
		entry.Error = err.Error()
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	var parsed payResponse
	parseErr := json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: processor status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		reason := http.StatusText(resp.StatusCode)
		if parseErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			reason = parsed.Error.Message
		}
		return nil, &PaymentRejectedError{Reason: reason}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: unexpected processor status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	if parseErr != nil {
		return nil, fmt.Errorf("%w: malformed processor response: %v", ErrGatewayUnavailable, parseErr)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, &PaymentRejectedError{Reason: parsed.Error.Message}
	}
	if parsed.PaymentKey == "" {
		return nil, fmt.Errorf("%w: processor response has no payment key", ErrGatewayUnavailable)
	}

	entry.PaymentKey = parsed.PaymentKey
	redirectURL := parsed.RedirectURL
	if redirectURL == "" {
		redirectURL = c.cfg.RedirectBase + "?cmd=_ap-payment&paykey=" + url.QueryEscape(parsed.PaymentKey)
	}
	return &Redirect{PaymentKey: parsed.PaymentKey, RedirectURL: redirectURL}, nil
}

func (c *Client) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	result := "redirect"
	var rejected *PaymentRejectedError
	switch {
	case errors.As(err, &rejected):
		result = "rejected"
	case err != nil:
		result = "unavailable"
	}
	c.metrics.GatewayLatency.WithLabelValues(result).Observe(float64(time.Since(start).Milliseconds()))
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
