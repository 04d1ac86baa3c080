package settlement

import (
	"context"
	"log/slog"
	"time"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/audit"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
)

type CartStore interface {
	Get(ctx context.Context, sessionID string) ([]d.CartLineItem, error)
	Clear(ctx context.Context, sessionID string) error
}

type Catalog interface {
	ResolveLines(ctx context.Context, items []d.CartLineItem) ([]d.ResolvedLine, error)
}

type InventoryGuard interface {
	Check(lines []d.ResolvedLine) error
	Reserve(ctx context.Context, q storage.DBTX, items []inventory.Item) error
	Confirm(ctx context.Context, q storage.DBTX, items []inventory.Item) error
	Release(ctx context.Context, q storage.DBTX, items []inventory.Item) error
}

type Gateway interface {
	BuildRequest(order *d.Order, community d.Community, payoutAccounts map[string]string, clientIP string) (*payment.PayRequest, error)
	Pay(ctx context.Context, req *payment.PayRequest) (*payment.Redirect, error)
}

// Config carries the community terms and notification settings. Notifications
// are refused while NotifySecret is empty unless AllowUnsignedNotifications is set.
type Config struct {
	Community                  d.Community
	NotifySecret               string
	AllowUnsignedNotifications bool
	ConfirmationTTL            time.Duration
	CartTimeout                time.Duration
}

type Service struct {
	cfg       Config
	cart      *CartHandler
	catalog   Catalog
	inventory InventoryGuard
	ledger    ledger.RepoInterface
	gateway   Gateway
	audit     audit.Sink
	metrics   *metrics.SettlementMetrics
	log       *slog.Logger
	now       func() time.Time
}

type Deps struct {
	Cart      CartStore
	Catalog   Catalog
	Inventory InventoryGuard
	Ledger    ledger.RepoInterface
	Gateway   Gateway
	Audit     audit.Sink
	Metrics   *metrics.SettlementMetrics
	Log       *slog.Logger
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = 3 * time.Hour
	}
	if cfg.CartTimeout <= 0 {
		cfg.CartTimeout = 2 * time.Second
	}
	sink := deps.Audit
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		cfg:       cfg,
		cart:      NewCartHandler(deps.Cart, cfg.CartTimeout),
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		ledger:    deps.Ledger,
		gateway:   deps.Gateway,
		audit:     sink,
		metrics:   deps.Metrics,
		log:       deps.Log,
		now:       time.Now,
	}
}

// CartHandler bounds every call to the session store.
type CartHandler struct {
	store   CartStore
	timeout time.Duration
}

func NewCartHandler(store CartStore, timeout time.Duration) *CartHandler {
	return &CartHandler{
		store:   store,
		timeout: timeout,
	}
}

func (h *CartHandler) get(ctx context.Context, sessionID string) ([]d.CartLineItem, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.store.Get(ctx, sessionID)
}

func (h *CartHandler) clear(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.store.Clear(ctx, sessionID)
}

func (s *Service) countCheckout(err error) {
	if s.metrics == nil {
		return
	}
	result := "redirect"
	if err != nil {
		result = string(KindOf(err))
	}
	s.metrics.Checkouts.WithLabelValues(result).Inc()
}

func (s *Service) countNotification(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Notifications.WithLabelValues(outcome).Inc()
}
