// Package config assembles the service configuration from a .env file, the
// environment and the community YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	d "github.com/fjod/go_cart/settlement-service/domain"
	"github.com/fjod/go_cart/settlement-service/internal/storage"
)

type Config struct {
	HTTPPort        string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	DB storage.Credentials

	RedisAddr      string
	RedisPassword  string
	CartSessionTTL time.Duration

	MongoURI      string
	MongoDatabase string

	KafkaBrokers []string
	KafkaTopic   string

	PaymentEndpoint     string
	PaymentRedirectBase string
	CallbackBase        string
	PaymentTimeout      time.Duration
	NotifySecret        string
	AllowUnsigned       bool
	ConfirmationTTL     time.Duration

	Community d.Community
	Sellers   []SellerSeed
}

// SellerSeed is a maker and its products loaded into the catalog on start.
type SellerSeed struct {
	ID            string        `yaml:"id"`
	Name          string        `yaml:"name"`
	PayoutAccount string        `yaml:"payout_account"`
	Products      []ProductSeed `yaml:"products"`
}

type ProductSeed struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Price     string `yaml:"price"`
	Inventory int    `yaml:"inventory"`
}

type communityFile struct {
	Community struct {
		Name          string `yaml:"name"`
		PayoutAccount string `yaml:"payout_account"`
		Currency      string `yaml:"currency"`
		Fees          struct {
			ProcessorPercent string `yaml:"processor_percent"`
			ProcessorMinimum string `yaml:"processor_minimum"`
			PlatformPercent  string `yaml:"platform_percent"`
			PlatformMinimum  string `yaml:"platform_minimum"`
		} `yaml:"fees"`
	} `yaml:"community"`
	Sellers []SellerSeed `yaml:"sellers"`
}

// Load reads .env when present, then the environment, then the community file
// named by COMMUNITY_CONFIG. Fee variables in the environment override the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),

		DB: storage.Credentials{
			Dialect:           getEnv("DB_DIALECT", storage.DialectPostgres),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getInt("DB_PORT", 5432, &errs),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "settlement"),
			SQLitePath:        getEnv("SQLITE_PATH", "settlement.db"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", ""),
		},

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		CartSessionTTL: getDuration("CART_SESSION_TTL", 24*time.Hour, &errs),

		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "settlement"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "settlement-outbox"),

		PaymentEndpoint:     getEnv("PAYMENT_ENDPOINT", "http://localhost:9090"),
		PaymentRedirectBase: getEnv("PAYMENT_REDIRECT_BASE", "https://www.sandbox.paypal.com/webscr"),
		CallbackBase:        getEnv("CALLBACK_BASE", "http://localhost:8080"),
		PaymentTimeout:      getDuration("PAYMENT_TIMEOUT", 10*time.Second, &errs),
		NotifySecret:        getEnv("NOTIFY_SECRET", ""),
		AllowUnsigned:       getBool("ALLOW_UNSIGNED_NOTIFICATIONS", false, &errs),
		ConfirmationTTL:     getDuration("CONFIRMATION_TTL", 3*time.Hour, &errs),
	}
	if cfg.NotifySecret == "" && !cfg.AllowUnsigned {
		errs = append(errs, errors.New("NOTIFY_SECRET is required; set ALLOW_UNSIGNED_NOTIFICATIONS=true only for local development"))
	}
	if cfg.DB.MigrationsDirPath == "" {
		cfg.DB.MigrationsDirPath = "./migrations/" + cfg.DB.Dialect
	}

	if path := getEnv("COMMUNITY_CONFIG", "config/community.yaml"); path != "" {
		if err := cfg.loadCommunity(path); err != nil {
			errs = append(errs, err)
		}
	}
	cfg.applyFeeOverrides(&errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadCommunity(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read community config: %w", err)
	}
	return c.parseCommunity(raw)
}

func (c *Config) parseCommunity(raw []byte) error {
	var f communityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse community config: %w", err)
	}

	var errs []error
	c.Community = d.Community{
		Name:                f.Community.Name,
		PayoutAccount:       f.Community.PayoutAccount,
		Currency:            f.Community.Currency,
		ProcessorFeePercent: parsePercent("fees.processor_percent", f.Community.Fees.ProcessorPercent, &errs),
		ProcessorFeeMinimum: parseMoney("fees.processor_minimum", f.Community.Fees.ProcessorMinimum, &errs),
		PlatformFeePercent:  parsePercent("fees.platform_percent", f.Community.Fees.PlatformPercent, &errs),
		PlatformFeeMinimum:  parseMoney("fees.platform_minimum", f.Community.Fees.PlatformMinimum, &errs),
	}
	c.Sellers = f.Sellers
	for _, s := range c.Sellers {
		for _, p := range s.Products {
			parseMoney("price of "+p.ID, p.Price, &errs)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyFeeOverrides(errs *[]error) {
	if v := os.Getenv("COMMUNITY_PAYOUT_ACCOUNT"); v != "" {
		c.Community.PayoutAccount = v
	}
	if v := os.Getenv("CURRENCY"); v != "" {
		c.Community.Currency = v
	}
	if c.Community.Currency == "" {
		c.Community.Currency = "USD"
	}
	overrides := []struct {
		key    string
		target *decimal.Decimal
		parse  func(name, raw string, errs *[]error) decimal.Decimal
	}{
		{"PROCESSOR_FEE_PERCENT", &c.Community.ProcessorFeePercent, parsePercent},
		{"PROCESSOR_FEE_MINIMUM", &c.Community.ProcessorFeeMinimum, parseMoney},
		{"PLATFORM_FEE_PERCENT", &c.Community.PlatformFeePercent, parsePercent},
		{"PLATFORM_FEE_MINIMUM", &c.Community.PlatformFeeMinimum, parseMoney},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.target = o.parse(o.key, v, errs)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return v
}

func parsePercent(name, raw string, errs *[]error) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", name, err))
		return decimal.Zero
	}
	if v.IsNegative() {
		*errs = append(*errs, fmt.Errorf("invalid %s: must not be negative", name))
		return decimal.Zero
	}
	return v
}

// parseMoney is parsePercent restricted to whole cents.
func parseMoney(name, raw string, errs *[]error) decimal.Decimal {
	v := parsePercent(name, raw, errs)
	if !d.IsWholeCents(v) {
		*errs = append(*errs, fmt.Errorf("invalid %s: more than %d decimal places", name, d.MoneyPlaces))
		return decimal.Zero
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
