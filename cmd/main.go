package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/audit"
	"github.com/fjod/go_cart/settlement-service/internal/cart"
	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/config"
	h "github.com/fjod/go_cart/settlement-service/internal/http"
	"github.com/fjod/go_cart/settlement-service/internal/inventory"
	"github.com/fjod/go_cart/settlement-service/internal/ledger"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/publisher"
	"github.com/fjod/go_cart/settlement-service/internal/settlement"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
	"github.com/fjod/go_cart/settlement-service/pkg/logger"
	"github.com/fjod/go_cart/settlement-service/pkg/metrics"
)

const serviceName = "settlement-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("settlement service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("settlement service stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	// Database setup
	db, err := storage.Open(&cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations(cfg.DB.MigrationsDirPath); err != nil {
		return err
	}
	log.Info("database migrations completed", "dialect", cfg.DB.Dialect)

	products := catalog.NewRepository(db)
	if err := seedCatalog(ctx, products, cfg.Sellers); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	var sink audit.Sink = audit.Nop{}
	if cfg.MongoURI != "" {
		mongoDB, err := audit.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() { _ = mongoDB.Client().Disconnect(context.Background()) }()
		mongoSink := audit.NewMongoSink(mongoDB)
		if err := mongoSink.CreateIndexes(ctx); err != nil {
			log.Warn("failed to create audit indexes", "error", err)
		}
		sink = mongoSink
		log.Info("processor audit archive enabled", "database", cfg.MongoDatabase)
	}

	m := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer, "settlement")

	carts := cart.NewRedisStore(redisClient, cfg.CartSessionTTL)
	cartService := cart.NewService(carts, products, log)
	ledgerRepo := ledger.NewRepository(db)

	gateway := payment.NewClient(payment.Config{
		Endpoint:     cfg.PaymentEndpoint,
		RedirectBase: cfg.PaymentRedirectBase,
		CallbackBase: cfg.CallbackBase,
		Timeout:      cfg.PaymentTimeout,
	}, &http.Client{}, sink, m, log)

	if cfg.NotifySecret == "" {
		log.Warn("processor notifications are accepted unsigned")
	}
	svc := settlement.NewService(settlement.Config{
		Community:                  cfg.Community,
		NotifySecret:               cfg.NotifySecret,
		AllowUnsignedNotifications: cfg.AllowUnsigned,
		ConfirmationTTL:            cfg.ConfirmationTTL,
	}, settlement.Deps{
		Cart:      carts,
		Catalog:   products,
		Inventory: inventory.NewGuard(),
		Ledger:    ledgerRepo,
		Gateway:   gateway,
		Audit:     sink,
		Metrics:   m,
		Log:       log,
	})

	var writer publisher.MessageWriter
	if len(cfg.KafkaBrokers) > 0 {
		kw := publisher.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...)
		defer kw.Close()
		writer = kw
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events stay unpublished")
	}
	poller := publisher.NewOutboxPoller(ledgerRepo, svc, writer, log)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Cart:           cartService,
			Settlement:     svc,
			Metrics:        m,
			MetricsHandler: metrics.Handler(prometheus.DefaultGatherer),
			Log:            log,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("settlement service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func seedCatalog(ctx context.Context, products *catalog.Repository, sellers []config.SellerSeed) error {
	for _, s := range sellers {
		if err := products.SaveSeller(ctx, &d.Seller{ID: s.ID, Name: s.Name, PayoutAccount: s.PayoutAccount}); err != nil {
			return err
		}
		for _, p := range s.Products {
			// stock of a known product belongs to the ledger, not to the seed file
			if _, _, err := products.ResolveProduct(ctx, p.ID); err == nil {
				continue
			} else if !errors.Is(err, catalog.ErrProductNotFound) {
				return err
			}
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				return err
			}
			err = products.SaveProduct(ctx, &d.Product{
				ID:        p.ID,
				SellerID:  s.ID,
				Name:      p.Name,
				Price:     price,
				Inventory: p.Inventory,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
