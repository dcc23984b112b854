package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	Database    Database
	AdminToken  string `env:"ADMIN_TOKEN"`

	Broker    Broker    `envPrefix:"BROKER_"`
	Orders    Orders    `envPrefix:"ORDER_"`
	Sweeper   Sweeper   `envPrefix:"SWEEPER_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Nats      Nats      `envPrefix:"NATS_"`
	BrainTree Braintree `envPrefix:"BRAINTREE_"`

	// PointPrice is the card price of a single point, in USD.
	PointPrice decimal.Decimal `env:"POINT_PRICE" envDefault:"0.10"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
	URL    string `env:"DATABASE_URL" envDefault:"stockmedia.db"`
}

type Broker struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://nehtw.com/api"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
	RatePerSecond float64       `env:"RATE_PER_SECOND" envDefault:"5"`
	Burst         int           `env:"BURST" envDefault:"10"`
	ResponseType  string        `env:"RESPONSE_TYPE" envDefault:"any"`
	// DefaultAPIKey is used for users that have no key of their own. Empty disables the fallback.
	DefaultAPIKey string `env:"DEFAULT_API_KEY"`
}

type Orders struct {
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"30m"`
	Retention         time.Duration `env:"RETENTION" envDefault:"720h"`
}

type Sweeper struct {
	Enabled            bool          `env:"ENABLED" envDefault:"true"`
	PendingSchedule    string        `env:"PENDING_SCHEDULE" envDefault:"@every 30s"`
	ProcessingSchedule string        `env:"PROCESSING_SCHEDULE" envDefault:"@every 15s"`
	CleanupSchedule    string        `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`
	RefundSchedule     string        `env:"REFUND_SCHEDULE" envDefault:"@every 5m"`
	LockTTL            time.Duration `env:"LOCK_TTL" envDefault:"2m"`
}

type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Nats struct {
	URL     string `env:"URL"`
	Subject string `env:"SUBJECT" envDefault:"orders.status"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT" envDefault:"sandbox"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

// Enabled reports whether Braintree credentials are present.
func (b Braintree) Enabled() bool {
	return b.MerchantID != "" && b.PublicKey != "" && b.PrivateKey != ""
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q, must be sqlite, mysql or postgres", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("missing required env: DATABASE_URL")
	}
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("missing required env: BROKER_BASE_URL")
	}
	if c.Broker.Timeout <= 0 {
		return fmt.Errorf("BROKER_TIMEOUT must be positive")
	}
	if c.Orders.ProcessingTimeout <= 0 {
		return fmt.Errorf("ORDER_PROCESSING_TIMEOUT must be positive")
	}
	if !c.PointPrice.IsPositive() {
		return fmt.Errorf("POINT_PRICE must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return c.HTTP.Host + ":" + c.HTTP.Port
}
