package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Mpesa     MpesaConfig
	Payments  PaymentsConfig
	RateLimit RateLimitConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Telegram  TelegramConfig
	Outbox    OutboxConfig
	Cron      CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	cfg.Mpesa.Credentials = CredentialSnapshotFromEnv()
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PUSHPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"PUSHPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PUSHPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PUSHPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PUSHPAY_LOG_FORMAT" default:"json"`
	AutoMigrate  bool   `envconfig:"PUSHPAY_AUTO_MIGRATE" default:"false"`

	// Comma separated; empty keeps the built-in list.
	CORSOrigins []string `envconfig:"PUSHPAY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"PUSHPAY_DB_DSN"`
	Driver string `envconfig:"PUSHPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PUSHPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"PUSHPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PUSHPAY_DB_USER"`
	LegacyPassword string `envconfig:"PUSHPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"PUSHPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"PUSHPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PUSHPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PUSHPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PUSHPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PUSHPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PUSHPAY_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PUSHPAY_REDIS_URL"`
	Address      string        `envconfig:"PUSHPAY_REDIS_ADDR"`
	Password     string        `envconfig:"PUSHPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"PUSHPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PUSHPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PUSHPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PUSHPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PUSHPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PUSHPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig validates access tokens minted by the platform's auth service.
type JWTConfig struct {
	Secret            string `envconfig:"PUSHPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PUSHPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PUSHPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// MpesaConfig holds the non-secret provider settings. Secrets travel in
// Credentials and are only trusted after mpesa.ResolveCredentials validates them.
type MpesaConfig struct {
	Environment      string        `envconfig:"PUSHPAY_MPESA_ENV" default:"sandbox"`
	BaseURL          string        `envconfig:"PUSHPAY_MPESA_BASE_URL"`
	CallbackURL      string        `envconfig:"PUSHPAY_MPESA_CALLBACK_URL" required:"true"`
	CallbackSecret   string        `envconfig:"PUSHPAY_MPESA_CALLBACK_SECRET"`
	AccountReference string        `envconfig:"PUSHPAY_MPESA_ACCOUNT_REFERENCE" default:"DJ Flowerz"`
	RequestTimeout   time.Duration `envconfig:"PUSHPAY_MPESA_REQUEST_TIMEOUT" default:"15s"`

	Credentials CredentialSnapshot `ignored:"true"`
}

// CredentialSnapshot is the raw, unvalidated credential input.
type CredentialSnapshot struct {
	Blob           string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
}

// CredentialSnapshotFromEnv reads the provider's conventional variable names.
func CredentialSnapshotFromEnv() CredentialSnapshot {
	return CredentialSnapshot{
		Blob:           os.Getenv(EnvMpesaCredentials),
		ConsumerKey:    os.Getenv(EnvMpesaConsumerKey),
		ConsumerSecret: os.Getenv(EnvMpesaConsumerSecret),
		Passkey:        os.Getenv(EnvMpesaPasskey),
		Shortcode:      os.Getenv(EnvMpesaShortcode),
	}
}

type PaymentsConfig struct {
	PersistTimeout     time.Duration `envconfig:"PUSHPAY_PAYMENTS_PERSIST_TIMEOUT" default:"10s"`
	PendingWindow      time.Duration `envconfig:"PUSHPAY_PAYMENTS_PENDING_WINDOW" default:"15m"`
	FulfillmentGrace   time.Duration `envconfig:"PUSHPAY_PAYMENTS_FULFILLMENT_GRACE" default:"2m"`
	MaxFulfillAttempts int           `envconfig:"PUSHPAY_PAYMENTS_MAX_FULFILL_ATTEMPTS" default:"10"`
	LedgerTTL          time.Duration `envconfig:"PUSHPAY_PAYMENTS_LEDGER_TTL" default:"720h"`
	UnknownTokenGrace  time.Duration `envconfig:"PUSHPAY_PAYMENTS_UNKNOWN_TOKEN_GRACE" default:"3s"`
	MaxReplayAttempts  int           `envconfig:"PUSHPAY_PAYMENTS_MAX_REPLAY_ATTEMPTS" default:"20"`
}

type RateLimitConfig struct {
	InitiateWindow     time.Duration `envconfig:"PUSHPAY_RATE_LIMIT_INITIATE_WINDOW" default:"1m"`
	InitiateIPLimit    int           `envconfig:"PUSHPAY_RATE_LIMIT_INITIATE_IP_LIMIT" default:"20"`
	InitiatePayerLimit int           `envconfig:"PUSHPAY_RATE_LIMIT_INITIATE_PAYER_LIMIT" default:"3"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PUSHPAY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PaymentsTopic        string `envconfig:"PUSHPAY_PUBSUB_PAYMENTS_TOPIC" default:"pushpay-payment-events"`
	PaymentsSubscription string `envconfig:"PUSHPAY_PUBSUB_PAYMENTS_SUBSCRIPTION" default:"pushpay-payment-notifications"`
}

type TelegramConfig struct {
	BotToken  string `envconfig:"PUSHPAY_TELEGRAM_BOT_TOKEN"`
	ChannelID string `envconfig:"PUSHPAY_TELEGRAM_CHANNEL_ID"`
	BaseURL   string `envconfig:"PUSHPAY_TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PUSHPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PUSHPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PUSHPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"PUSHPAY_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
	Retention      time.Duration `envconfig:"PUSHPAY_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"PUSHPAY_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PUSHPAY_CRON_INTERVAL" default:"1m"`
	LockKey  string        `envconfig:"PUSHPAY_CRON_LOCK_KEY" default:"pp:cron:lock"`
	LockTTL  time.Duration `envconfig:"PUSHPAY_CRON_LOCK_TTL" default:"5m"`
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
