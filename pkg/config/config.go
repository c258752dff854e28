package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	EnvProduction  = "production"
	EnvSandbox     = "sandbox"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

const (
	defaultSandboxURL        = "https://sandbox.aggregator.local"
	defaultMembershipDays    = 30
	defaultVATRate           = 16
	defaultSignatureHeader   = "X-Signature"
	defaultSweepInterval     = time.Minute
	defaultSweepStaleAfter   = 2 * time.Minute
	defaultPaymentServiceURL = "http://localhost:8001"
)

type Aggregator struct {
	ProductionURL string
	SandboxURL    string
	ClientID      string
	ClientSecret  string
	APIKey        string
	TillNumber    string
}

type Config struct {
	Env        string
	Aggregator Aggregator

	WebhookSecret          string
	WebhookSignatureHeader string
	CallbackDomain         string

	MembershipDurationDays int
	VATRate                float64
	AccessPasswordKey      string

	MailAPIURL string
	MailAPIKey string
	MailFrom   string

	PaymentServiceAddr  string
	CheckoutServiceAddr string
	AggregatorSimAddr   string
	PaymentServiceURL   string

	SweepInterval   time.Duration
	SweepStaleAfter time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}

	cfg := &Config{
		Env: strings.ToLower(getenv("APP_ENV", EnvDevelopment)),
		Aggregator: Aggregator{
			ProductionURL: os.Getenv("AGGREGATOR_PRODUCTION_URL"),
			SandboxURL:    getenv("AGGREGATOR_SANDBOX_URL", defaultSandboxURL),
			ClientID:      os.Getenv("AGGREGATOR_CLIENT_ID"),
			ClientSecret:  os.Getenv("AGGREGATOR_CLIENT_SECRET"),
			APIKey:        os.Getenv("AGGREGATOR_API_KEY"),
			TillNumber:    os.Getenv("AGGREGATOR_TILL_NUMBER"),
		},
		WebhookSecret:          os.Getenv("WEBHOOK_SECRET"),
		WebhookSignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", defaultSignatureHeader),
		CallbackDomain:         strings.TrimRight(os.Getenv("PUBLIC_CALLBACK_DOMAIN"), "/"),
		MembershipDurationDays: cast.ToInt(getenv("MEMBERSHIP_DURATION_DAYS", "0")),
		AccessPasswordKey:      os.Getenv("ACCESS_PASSWORD_KEY"),
		MailAPIURL:             os.Getenv("MAIL_API_URL"),
		MailAPIKey:             os.Getenv("MAIL_API_KEY"),
		MailFrom:               getenv("MAIL_FROM", "orders@bookstore.local"),
		PaymentServiceAddr:     getenv("PAYMENT_SERVICE_ADDR", ":8001"),
		CheckoutServiceAddr:    getenv("CHECKOUT_SERVICE_ADDR", ":8000"),
		AggregatorSimAddr:      getenv("AGGREGATOR_SIM_ADDR", ":9000"),
		PaymentServiceURL:      getenv("PAYMENT_SERVICE_URL", defaultPaymentServiceURL),
		SweepInterval:          cast.ToDuration(getenv("SWEEP_INTERVAL", defaultSweepInterval.String())),
		SweepStaleAfter:        cast.ToDuration(getenv("SWEEP_STALE_AFTER", defaultSweepStaleAfter.String())),
	}

	if cfg.MembershipDurationDays <= 0 {
		cfg.MembershipDurationDays = defaultMembershipDays
	}
	// Zero is a real rate for zero-rated goods and is kept as given.
	vat, err := cast.ToFloat64E(getenv("VAT_RATE", cast.ToString(defaultVATRate)))
	if err != nil || vat < 0 {
		vat = defaultVATRate
	}
	cfg.VATRate = vat
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SweepStaleAfter <= 0 {
		cfg.SweepStaleAfter = defaultSweepStaleAfter
	}
	if cfg.CallbackDomain == "" {
		cfg.CallbackDomain = cfg.PaymentServiceURL
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// AllowUnsignedWebhooks is the escape hatch for local work. Production never
// gets it; Validate refuses to start there without a secret.
func (c *Config) AllowUnsignedWebhooks() bool {
	return c.WebhookSecret == "" && (c.Env == EnvDevelopment || c.Env == EnvTest)
}

// AggregatorBaseURL picks the endpoint for the configured tier.
func (c *Config) AggregatorBaseURL() string {
	if c.IsProduction() && c.Aggregator.ProductionURL != "" {
		return strings.TrimRight(c.Aggregator.ProductionURL, "/")
	}
	return strings.TrimRight(c.Aggregator.SandboxURL, "/")
}

func (c *Config) HasAggregatorCredentials() bool {
	return len(c.MissingCredentials()) == 0
}

func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Aggregator.ClientID == "" {
		missing = append(missing, "AGGREGATOR_CLIENT_ID")
	}
	if c.Aggregator.ClientSecret == "" {
		missing = append(missing, "AGGREGATOR_CLIENT_SECRET")
	}
	if c.Aggregator.TillNumber == "" {
		missing = append(missing, "AGGREGATOR_TILL_NUMBER")
	}
	return missing
}

func (c *Config) WebhookCallbackURL() string {
	return c.CallbackDomain + "/payments/webhook"
}

func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.WebhookSecret == "" {
			return errors.New("WEBHOOK_SECRET is required in production")
		}
		if c.Aggregator.ProductionURL == "" {
			return errors.New("AGGREGATOR_PRODUCTION_URL is required in production")
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
