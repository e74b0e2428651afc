package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/backend"
	"github.com/xenking/vetclinic-pos/internal/gateway/stripe"
	"github.com/xenking/vetclinic-pos/internal/storage/redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (VETPOS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (VETPOS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (VETPOS_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Database     DatabaseConfig
	Redis        redis.Config
	Stripe       stripe.Config
	Backend      backend.Config
	Payment      PaymentConfig
	Pricing      PricingConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// DatabaseConfig sizes the PostgreSQL pool.
type DatabaseConfig struct {
	MaxConns int32 `default:"10" usage:"Maximum pool connections"`
	MinConns int32 `default:"2" usage:"Minimum idle pool connections"`
}

// PaymentConfig controls the card confirmation flow.
type PaymentConfig struct {
	ReturnURL       string        `usage:"Gateway return URL, reconciled by GET /api/payments/return"`
	ReturnViewURL   string        `usage:"Page browsers are sent to after a return was reconciled"`
	ConfirmationURL string        `usage:"Page shown after a successful payment"`
	NavigateAfter   time.Duration `default:"1500ms" usage:"Delay before leaving a succeeded payment"`
	GuardTTL        time.Duration `default:"24h" usage:"Lifetime of reconciliation dedupe marks"`
	VerifyReturns   bool          `default:"true" usage:"Verify intent status with the gateway before completing a return"`
}

// PricingConfig holds the tax and currency settings.
type PricingConfig struct {
	TaxRate        string `default:"0.18" usage:"Sales tax rate added on top of subtotals"`
	CurrencySymbol string `default:"S/" usage:"Currency symbol for formatted amounts"`
}

// Rate parses the configured tax rate.
func (c PricingConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse tax rate")
	}
	return rate, nil
}

// RateLimitConfig controls the per-caller fixed window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Shared bool          `default:"true" usage:"Keep rate limit counters in Redis instead of process memory"`
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VETPOS",
		Files:     []string{"config.yaml", "/etc/vetpos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set VETPOS_DATABASE_URL or DATABASE_URL")
	case c.Redis.URL == "":
		return errors.New("redis URL is required: set VETPOS_REDIS_URL or REDIS_URL")
	case c.Backend.BaseURL == "":
		return errors.New("backend URL is required: set VETPOS_BACKEND_BASE_URL")
	case c.Payment.ReturnURL == "":
		return errors.New("payment return URL is required: set VETPOS_PAYMENT_RETURN_URL")
	}
	if _, err := c.Pricing.Rate(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's VETPOS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if c.Stripe.APIKey == "" {
		c.Stripe.APIKey = os.Getenv("STRIPE_SECRET_KEY")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
