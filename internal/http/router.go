package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
)

type RouterConfig struct {
	Cart           CartService
	Settlement     Settlement
	Metrics        *metrics.SettlementMetrics
	MetricsHandler http.Handler
	Log            *slog.Logger
	RequestTimeout time.Duration
}

// NewRouter mounts the shopper, processor and maker routes.
func NewRouter(cfg RouterConfig) http.Handler {
	cartHandler := NewCartHandler(cfg.Cart, cfg.RequestTimeout)
	checkoutHandler := NewCheckoutHandler(cfg.Settlement, cfg.RequestTimeout)
	makerHandler := NewMakerHandler(cfg.Settlement, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// processor callbacks
	r.Post("/ipn", checkoutHandler.Notification)
	r.Get("/return", checkoutHandler.Return)
	r.Get("/cancel", checkoutHandler.Cancel)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Post("/items", cartHandler.AddItem)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})
			r.Post("/checkout", checkoutHandler.Checkout)
		})

		r.Get("/orders/{order_id}", makerHandler.GetOrder)
		r.Route("/makers/{seller_id}/suborders", func(r chi.Router) {
			r.Get("/", makerHandler.ListSubOrders)
			r.Put("/{suborder_id}/shipped", makerHandler.SetShipped)
		})
	})

	return otelhttp.NewHandler(r, "settlement-service")
}
