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

	EnvDBDSN  = "STOREHUB_DB_DSN"
	EnvDBHost = "STOREHUB_DB_HOST"
	EnvDBUser = "STOREHUB_DB_USER"
	EnvDBName = "STOREHUB_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Flutterwave  FlutterwaveConfig
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
	Env          string `envconfig:"STOREHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREHUB_DB_DSN"`
	Driver string `envconfig:"STOREHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREHUB_DB_USER"`
	LegacyPassword string `envconfig:"STOREHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREHUB_REDIS_ADDR"`
	Password     string        `envconfig:"STOREHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FlutterwaveConfig struct {
	SecretKey      string        `envconfig:"STOREHUB_FLW_SECRET_KEY"`
	SecretHash     string        `envconfig:"STOREHUB_FLW_SECRET_HASH"`
	BaseURL        string        `envconfig:"STOREHUB_FLW_BASE_URL" default:"https://api.flutterwave.com/v3"`
	RedirectURL    string        `envconfig:"STOREHUB_FLW_REDIRECT_URL"`
	RequestTimeout time.Duration `envconfig:"STOREHUB_FLW_REQUEST_TIMEOUT" default:"15s"`
	MaxRetries     int           `envconfig:"STOREHUB_FLW_MAX_RETRIES" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"STOREHUB_FLW_RETRY_BASE_DELAY" default:"500ms"`
}

type BillingConfig struct {
	GracePeriod        time.Duration `envconfig:"STOREHUB_BILLING_GRACE_PERIOD" default:"72h"`
	PendingPaymentTTL  time.Duration `envconfig:"STOREHUB_BILLING_PENDING_TTL" default:"24h"`
	RenewalLead        time.Duration `envconfig:"STOREHUB_BILLING_RENEWAL_LEAD" default:"24h"`
	WebhookEventTTL    time.Duration `envconfig:"STOREHUB_BILLING_WEBHOOK_EVENT_TTL" default:"720h"`
	UsageMirrorEnabled bool          `envconfig:"STOREHUB_BILLING_USAGE_MIRROR" default:"true"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STOREHUB_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"STOREHUB_CRON_LOCK_TTL" default:"55m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREHUB_AUTO_MIGRATE" default:"false"`
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
