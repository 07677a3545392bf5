package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LODGEBOOK_DB_DSN"
	EnvDBHost = "LODGEBOOK_DB_HOST"
	EnvDBUser = "LODGEBOOK_DB_USER"
	EnvDBName = "LODGEBOOK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Webhooks     WebhookConfig
	Billing      BillingConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LODGEBOOK_APP_ENV" required:"true"`
	Port         string `envconfig:"LODGEBOOK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LODGEBOOK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LODGEBOOK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LODGEBOOK_DB_DSN"`
	Driver string `envconfig:"LODGEBOOK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LODGEBOOK_DB_HOST"`
	LegacyPort     int    `envconfig:"LODGEBOOK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LODGEBOOK_DB_USER"`
	LegacyPassword string `envconfig:"LODGEBOOK_DB_PASSWORD"`
	LegacyName     string `envconfig:"LODGEBOOK_DB_NAME"`
	LegacySSLMode  string `envconfig:"LODGEBOOK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LODGEBOOK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LODGEBOOK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LODGEBOOK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LODGEBOOK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LODGEBOOK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LODGEBOOK_REDIS_ADDR"`
	Password     string        `envconfig:"LODGEBOOK_REDIS_PASSWORD"`
	DB           int           `envconfig:"LODGEBOOK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LODGEBOOK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LODGEBOOK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LODGEBOOK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LODGEBOOK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LODGEBOOK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LODGEBOOK_STRIPE_API_KEY"`
	Secret string `envconfig:"LODGEBOOK_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"LODGEBOOK_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"LODGEBOOK_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type BillingConfig struct {
	PortalReturnURL    string        `envconfig:"LODGEBOOK_BILLING_PORTAL_RETURN_URL"`
	CheckoutSessionTTL time.Duration `envconfig:"LODGEBOOK_BILLING_CHECKOUT_SESSION_TTL" default:"24h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"LODGEBOOK_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"LODGEBOOK_CRON_LOCK_TTL" default:"55m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LODGEBOOK_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
