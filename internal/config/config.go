package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var (
	ErrUnknownDriver   = errors.New("unknown storage driver")
	ErrMissingPostgres = errors.New("either POSTGRES_DSN or POSTGRES_USER, POSTGRES_PASSWORD and POSTGRES_DB are required")
	ErrMissingGateway  = errors.New("GATEWAY_BASE_URL is required")
	ErrMissingSecret   = errors.New("WEBHOOK_SECRET is required unless WEBHOOK_ALLOW_UNSIGNED is set")
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Retry    RetryConfig
	Checkout CheckoutConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"localhost"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"5s"`
	CORSOrigins     []string      `envconfig:"SERVER_CORS_ORIGINS"`
}

type LogConfig struct {
	// Format is text or json.
	Format string `envconfig:"LOG_FORMAT" default:"text"`
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
}

type StorageConfig struct {
	Driver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `envconfig:"POSTGRES_DSN"`
	User            string        `envconfig:"POSTGRES_USER"`
	Password        string        `envconfig:"POSTGRES_PASSWORD"`
	Name            string        `envconfig:"POSTGRES_DB"`
	Host            string        `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port            int           `envconfig:"POSTGRES_PORT" default:"5432"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	MaxConns        int32         `envconfig:"POSTGRES_MAX_CONNS" default:"20"`
	MinConns        int32         `envconfig:"POSTGRES_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"POSTGRES_MAX_CONN_LIFETIME" default:"1h"`
	AutoMigrate     bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

// RedisConfig leaves Addr empty to run without Redis: caching, pub/sub,
// rate limiting and idempotency keys are then disabled.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"20"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

type CacheConfig struct {
	EventTTL        time.Duration `envconfig:"CACHE_EVENT_TTL" default:"60s"`
	AvailabilityTTL time.Duration `envconfig:"CACHE_AVAILABILITY_TTL" default:"15s"`
}

type GatewayConfig struct {
	BaseURL         string          `envconfig:"GATEWAY_BASE_URL"`
	APIKey          string          `envconfig:"GATEWAY_API_KEY"`
	Timeout         time.Duration   `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
	Currency        string          `envconfig:"GATEWAY_CURRENCY" default:"LAK"`
	ExchangeRate    decimal.Decimal `envconfig:"GATEWAY_EXCHANGE_RATE" default:"1"`
	MinAmount       decimal.Decimal `envconfig:"GATEWAY_MIN_AMOUNT" default:"0"`
	CallbackURL     string          `envconfig:"GATEWAY_CALLBACK_URL"`
	ReturnURL       string          `envconfig:"GATEWAY_RETURN_URL"`
	BreakerFailures uint32          `envconfig:"GATEWAY_BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration   `envconfig:"GATEWAY_BREAKER_COOLDOWN" default:"30s"`
}

type WebhookConfig struct {
	Secret        string        `envconfig:"WEBHOOK_SECRET"`
	Tolerance     time.Duration `envconfig:"WEBHOOK_TOLERANCE" default:"5m"`
	AllowUnsigned bool          `envconfig:"WEBHOOK_ALLOW_UNSIGNED" default:"false"`
	SessionWindow time.Duration `envconfig:"WEBHOOK_SESSION_WINDOW" default:"30m"`
}

type RetryConfig struct {
	Enabled      bool          `envconfig:"RETRY_ENABLED" default:"true"`
	MaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	BatchSize    int           `envconfig:"RETRY_BATCH_SIZE" default:"10"`
	Workers      int           `envconfig:"RETRY_WORKERS" default:"4"`
	ClaimTTL     time.Duration `envconfig:"RETRY_CLAIM_TTL" default:"5m"`
	Interval     time.Duration `envconfig:"RETRY_INTERVAL" default:"2m"`
	Retention    time.Duration `envconfig:"RETRY_RETENTION" default:"720h"`
	PurgeEvery   time.Duration `envconfig:"RETRY_PURGE_EVERY" default:"24h"`
	InitialDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"5s"`
	Multiplier   float64       `envconfig:"RETRY_MULTIPLIER" default:"2"`
	MaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"300s"`
	JitterFactor float64       `envconfig:"RETRY_JITTER_FACTOR" default:"0.1"`
}

type CheckoutConfig struct {
	MaxQuantity     int           `envconfig:"CHECKOUT_MAX_QUANTITY" default:"10"`
	RateLimit       int           `envconfig:"CHECKOUT_RATE_LIMIT" default:"10"`
	RateLimitWindow time.Duration `envconfig:"CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	IdempotencyTTL  time.Duration `envconfig:"CHECKOUT_IDEMPOTENCY_TTL" default:"2h"`
}

// AdminConfig guards the operator routes. An empty key disables them.
type AdminConfig struct {
	APIKey string `envconfig:"ADMIN_API_KEY"`
}

// New loads .env when present, then reads the process environment.
func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))

	switch c.Storage.Driver {
	case DriverPostgres:
		if err := c.Postgres.ensureDSN(); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Storage.Driver)
	}

	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return ErrMissingGateway
	}

	if c.Webhook.Secret == "" && !c.Webhook.AllowUnsigned {
		return ErrMissingSecret
	}

	return nil
}

func (p *PostgresConfig) ensureDSN() error {
	if p.DSN != "" {
		return nil
	}

	if p.User == "" || p.Password == "" || p.Name == "" {
		return ErrMissingPostgres
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   p.Name,
	}

	if p.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", p.SSLMode)
		u.RawQuery = q.Encode()
	}

	p.DSN = u.String()

	return nil
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
