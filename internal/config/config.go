package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Session      SessionConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"authsync"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"127.0.0.1"`
	Port                  string `env:"APP_PORT" envDefault:"8080"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	MigrationsDir  string `env:"POSTGRES_MIGRATIONS_DIR" envDefault:"migrations"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`
}

// RedisConfig holds Redis connection values. An empty Addr selects in-memory stores.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"authsync:"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig defines authentication parameters for the local identity provider.
type AuthConfig struct {
	JWTSecret                string `env:"AUTH_JWT_SECRET" envDefault:"dev-secret"`
	AccessTokenTTLMinutes    int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
	RefreshTokenTTLHours     int    `env:"AUTH_REFRESH_TOKEN_TTL_HOURS" envDefault:"720"`
	AdminTokenTTLMinutes     int    `env:"AUTH_ADMIN_TOKEN_TTL_MINUTES" envDefault:"30"`
	ConfirmationTTLMinutes   int    `env:"AUTH_CONFIRMATION_TTL_MINUTES" envDefault:"1440"`
	BcryptCost               int    `env:"AUTH_BCRYPT_COST" envDefault:"12"`
	RequireEmailConfirmation bool   `env:"AUTH_REQUIRE_EMAIL_CONFIRMATION" envDefault:"true"`
}

// SessionConfig tunes the session reconciler.
type SessionConfig struct {
	RemoteCallTimeout time.Duration `env:"SESSION_REMOTE_CALL_TIMEOUT" envDefault:"10s"`
	StorageKey        string        `env:"SESSION_STORAGE_KEY" envDefault:"default"`
}

// NotificationConfig holds email delivery settings.
type NotificationConfig struct {
	EmailFrom            string `env:"NOTIFY_EMAIL_FROM" envDefault:"noreply@example.com"`
	SupportEmail         string `env:"NOTIFY_SUPPORT_EMAIL" envDefault:"support@example.com"`
	ConfirmURL           string `env:"NOTIFY_CONFIRM_URL" envDefault:"http://127.0.0.1:8080/auth/confirm"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must not be empty"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("AUTH_BCRYPT_COST out of range: %d", c.Auth.BcryptCost))
	}
	if c.Session.RemoteCallTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_REMOTE_CALL_TIMEOUT must be positive"))
	}
	if c.Session.StorageKey == "" {
		errs = append(errs, errors.New("SESSION_STORAGE_KEY must not be empty"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the session access token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return minutes(a.AccessTokenTTLMinutes, 60)
}

// RefreshTokenTTL returns the refresh token lifetime.
func (a AuthConfig) RefreshTokenTTL() time.Duration {
	if a.RefreshTokenTTLHours <= 0 {
		return 720 * time.Hour
	}
	return time.Duration(a.RefreshTokenTTLHours) * time.Hour
}

// ConfirmationTTL returns the email confirmation token lifetime.
func (a AuthConfig) ConfirmationTTL() time.Duration {
	return minutes(a.ConfirmationTTLMinutes, 1440)
}

func minutes(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Minute
}

// AdminTokenTTL returns the admin console token lifetime.
func (a AuthConfig) AdminTokenTTL() time.Duration {
	return minutes(a.AdminTokenTTLMinutes, 30)
}
