// Package config holds the booking service settings decoded from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "github.com/md-rashed-zaman/slotbook/libs/config"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// RateLimit is one limiter class: at most Limit requests per Window per client.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	ServiceName string   `envconfig:"SERVICE_NAME" default:"booking-service"`
	BindAddress string   `envconfig:"BIND_ADDRESS" default:":8080"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	StoreDriver string   `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL string   `envconfig:"DATABASE_URL"`
	DBMaxConns  int32    `envconfig:"DB_MAX_CONNS" default:"10"`
	AutoMigrate bool     `envconfig:"AUTO_MIGRATE" default:"false"`
	Timezone    string   `envconfig:"TIMEZONE" default:"UTC"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	TokenSigningKey string        `envconfig:"TOKEN_SIGNING_KEY" required:"true"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"1h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	AdminEmail      string        `envconfig:"ADMIN_EMAIL"`
	AdminPassword   string        `envconfig:"ADMIN_PASSWORD"`

	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	RequestBodyLimit int64         `envconfig:"REQUEST_BODY_LIMIT_BYTES" default:"1048576"`

	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"REDIS_DB" default:"0"`
	RateLimitFailOpen bool   `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	TrustProxyHeaders bool   `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	LoginLimit     int           `envconfig:"RATE_LIMIT_LOGIN" default:"5"`
	LoginWindow    time.Duration `envconfig:"RATE_LIMIT_LOGIN_WINDOW" default:"5m"`
	RegisterLimit  int           `envconfig:"RATE_LIMIT_REGISTER" default:"3"`
	RegisterWindow time.Duration `envconfig:"RATE_LIMIT_REGISTER_WINDOW" default:"10m"`
	BookingLimit   int           `envconfig:"RATE_LIMIT_GUEST_BOOKING" default:"10"`
	BookingWindow  time.Duration `envconfig:"RATE_LIMIT_GUEST_BOOKING_WINDOW" default:"10m"`
	ReadLimit      int           `envconfig:"RATE_LIMIT_READ" default:"100"`
	ReadWindow     time.Duration `envconfig:"RATE_LIMIT_READ_WINDOW" default:"5m"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"appointment-events"`

	EmailEnabled bool   `envconfig:"EMAIL_ENABLED" default:"false"`
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	EmailFrom    string `envconfig:"EMAIL_FROM"`
}

// Load decodes the environment (and an optional .env file) and validates the result.
func Load(files ...string) (Config, error) {
	var cfg Config
	if err := libconfig.Load(&cfg, files...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}
	if len(c.TokenSigningKey) < 16 {
		errs = append(errs, errors.New("TOKEN_SIGNING_KEY must be at least 16 bytes"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	if c.EmailEnabled && (c.SMTPHost == "" || c.EmailFrom == "") {
		errs = append(errs, errors.New("SMTP_HOST and EMAIL_FROM are required when EMAIL_ENABLED"))
	}
	for name, rl := range c.RateLimits() {
		if rl.Limit <= 0 || rl.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate limit %s must have a positive limit and window", name))
		}
	}
	return errors.Join(errs...)
}

// Location returns the operator time zone. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RateLimits returns the limiter classes keyed by name.
func (c Config) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"login":    {Limit: c.LoginLimit, Window: c.LoginWindow},
		"register": {Limit: c.RegisterLimit, Window: c.RegisterWindow},
		"booking":  {Limit: c.BookingLimit, Window: c.BookingWindow},
		"read":     {Limit: c.ReadLimit, Window: c.ReadWindow},
	}
}
