package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/scanbill/internal/domain/order"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SCANBILL_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SCANBILL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `env:"API_KEY_PEPPER" usage:"HMAC pepper for API key hashing; staff routes are open when empty" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Checkout     CheckoutConfig
	Reconcile    ReconcileConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig controls the cart cache. The cache is off when both Addr and
// URL are empty.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address host:port"`
	URL      string        `default:"" usage:"Redis URL (SCANBILL_REDIS_URL or REDIS_URL)"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	CartTTL  time.Duration `default:"15m" usage:"Cart cache TTL" flag:"cart-ttl"`
}

// Enabled reports whether a Redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != "" || c.URL != ""
}

// KafkaConfig controls order event publishing. Events are dropped when no
// brokers are set.
type KafkaConfig struct {
	Brokers string `default:"" usage:"Comma separated Kafka brokers"`
	Topic   string `default:"scanbill.orders" usage:"Order events topic"`
}

// CheckoutConfig controls the checkout saga and store pricing policy.
type CheckoutConfig struct {
	Timeout        time.Duration `default:"10s" usage:"Bound on the reserve and persist phases of one checkout"`
	ReleaseTimeout time.Duration `default:"30s" usage:"Bound on compensating release retries" flag:"release-timeout"`
	TaxRate        string        `default:"0" usage:"Tax percentage applied to the discounted subtotal" flag:"tax-rate"`
	DiscountType   string        `default:"" usage:"Store discount: percentage, fixed or empty" flag:"discount-type"`
	DiscountValue  string        `default:"0" usage:"Discount percentage or amount" flag:"discount-value"`
	PaymentMethod  string        `default:"CASH" usage:"Payment method when the request names none" flag:"payment-method"`
	OnlineMethod   string        `default:"RAZORPAY" usage:"Method recorded for online payments" flag:"online-method"`
	Currency       string        `default:"INR" usage:"ISO currency of all amounts"`
}

// ReconcileConfig controls the orphaned reservation sweeper.
type ReconcileConfig struct {
	Enabled  bool          `default:"true" usage:"Release units left SOLD without an order"`
	Lease    time.Duration `default:"2m" usage:"Age after which a SOLD unit without order is released"`
	Interval time.Duration `default:"30s" usage:"Sweep interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix:        "SCANBILL",
		AllowUnknownEnvs: true,
		Files:     []string{"config.yaml", "/etc/scanbill/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SCANBILL_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" && c.Redis.Addr == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	c.Checkout.PaymentMethod = strings.ToUpper(c.Checkout.PaymentMethod)
	c.Checkout.OnlineMethod = strings.ToUpper(c.Checkout.OnlineMethod)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SCANBILL_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}

	if c.Checkout.Timeout <= 0 || c.Checkout.ReleaseTimeout <= 0 {
		return errors.New("checkout timeouts must be positive")
	}
	if !order.PaymentMethod(c.Checkout.PaymentMethod).Valid() {
		return errors.Errorf("unknown payment method %q", c.Checkout.PaymentMethod)
	}
	if m := order.PaymentMethod(c.Checkout.OnlineMethod); !m.Valid() || m.Settled() {
		return errors.Errorf("online method %q must be a known non-cash method", c.Checkout.OnlineMethod)
	}
	if _, err := c.Checkout.Pricer(); err != nil {
		return err
	}

	// A shorter lease would release units of checkouts still in flight.
	if c.Reconcile.Enabled {
		if c.Reconcile.Lease <= c.Checkout.Timeout {
			return errors.Errorf("reconcile lease %s must exceed checkout timeout %s",
				c.Reconcile.Lease, c.Checkout.Timeout)
		}
		if c.Reconcile.Interval <= 0 {
			return errors.New("reconcile interval must be positive")
		}
	}
	return nil
}

// Pricer builds the store pricing policy.
func (c CheckoutConfig) Pricer() (order.FlatRate, error) {
	tax, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return order.FlatRate{}, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	value, err := decimal.NewFromString(c.DiscountValue)
	if err != nil {
		return order.FlatRate{}, errors.Wrapf(err, "parse discount value %q", c.DiscountValue)
	}

	r := order.FlatRate{
		TaxRate:       tax,
		DiscountType:  order.DiscountType(strings.ToLower(c.DiscountType)),
		DiscountValue: value,
	}
	switch r.DiscountType {
	case order.DiscountNone, order.DiscountPercentage, order.DiscountFixed:
	default:
		return order.FlatRate{}, errors.Errorf("unknown discount type %q", c.DiscountType)
	}
	if tax.IsNegative() || value.IsNegative() {
		return order.FlatRate{}, errors.New("pricing rates must not be negative")
	}
	return r, nil
}
