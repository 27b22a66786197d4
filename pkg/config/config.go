package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Sendgrid     SendgridConfig
	Cron         CronConfig
	Webhooks     WebhooksConfig
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
	Env          string `envconfig:"COACHLOOP_APP_ENV" required:"true"`
	Port         string `envconfig:"COACHLOOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COACHLOOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COACHLOOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COACHLOOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COACHLOOP_DB_DSN"`
	Driver string `envconfig:"COACHLOOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COACHLOOP_DB_HOST"`
	LegacyPort     int    `envconfig:"COACHLOOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COACHLOOP_DB_USER"`
	LegacyPassword string `envconfig:"COACHLOOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"COACHLOOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"COACHLOOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COACHLOOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COACHLOOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COACHLOOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COACHLOOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COACHLOOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COACHLOOP_REDIS_ADDR"`
	Password     string        `envconfig:"COACHLOOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"COACHLOOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COACHLOOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COACHLOOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COACHLOOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COACHLOOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COACHLOOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COACHLOOP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COACHLOOP_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COACHLOOP_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COACHLOOP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COACHLOOP_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"COACHLOOP_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"COACHLOOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"COACHLOOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"COACHLOOP_PUBSUB_BILLING_TOPIC" required:"true"`
	BillingSubscription string `envconfig:"COACHLOOP_PUBSUB_BILLING_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COACHLOOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COACHLOOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COACHLOOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey          string   `envconfig:"COACHLOOP_STRIPE_API_KEY"`
	WebhookSecret   string   `envconfig:"COACHLOOP_STRIPE_WEBHOOK_SECRET"`
	Env             string   `envconfig:"COACHLOOP_STRIPE_ENV" default:"test"`
	PremiumPriceIDs []string `envconfig:"COACHLOOP_STRIPE_PREMIUM_PRICE_IDS"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"COACHLOOP_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"COACHLOOP_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"COACHLOOP_SENDGRID_FROM_NAME" default:"CoachLoop"`
}

type CronConfig struct {
	TickInterval       time.Duration `envconfig:"COACHLOOP_CRON_TICK_INTERVAL" default:"1m"`
	LockTTL            time.Duration `envconfig:"COACHLOOP_CRON_LOCK_TTL" default:"5m"`
	ReconcileInterval  time.Duration `envconfig:"COACHLOOP_CRON_RECONCILE_INTERVAL" default:"6h"`
	ReconcileBatchSize int           `envconfig:"COACHLOOP_CRON_RECONCILE_BATCH_SIZE" default:"100"`
	ReconcileLookback  time.Duration `envconfig:"COACHLOOP_CRON_RECONCILE_LOOKBACK" default:"24h"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"COACHLOOP_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PremiumPriceSet returns the configured premium price ids as a lookup set.
func (s StripeConfig) PremiumPriceSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.PremiumPriceIDs))
	for _, id := range s.PremiumPriceIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	return set
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
