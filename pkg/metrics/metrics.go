package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SettlementMetrics struct {
	Checkouts      *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	GatewayLatency *prometheus.HistogramVec
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
}

// NewSettlementMetrics registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry(); the binary passes prometheus.DefaultRegisterer.
func NewSettlementMetrics(reg prometheus.Registerer, service string) *SettlementMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gocart",
		Subsystem: service,
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gocart",
		Subsystem: service,
		Name:      "notifications_total",
		Help:      "Processor notifications by outcome.",
	}, []string{"outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gocart",
		Subsystem: service,
		Name:      "gateway_request_duration_ms",
		Help:      "Payment processor request latency in milliseconds.",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"result"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gocart",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gocart",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(checkouts, notifications, gateway, requests, latency)
	return &SettlementMetrics{
		Checkouts:      checkouts,
		Notifications:  notifications,
		GatewayLatency: gateway,
		Requests:       requests,
		LatencyMS:      latency,
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
