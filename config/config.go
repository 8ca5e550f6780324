package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Casino     CasinoConfig     `mapstructure:"casino"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// GatewayConfig points at the QR payment processor.
type GatewayConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	QRTTL    time.Duration `mapstructure:"qr_ttl"`
	Currency string        `mapstructure:"currency"`
}

// CasinoConfig points at the casino funds-transfer API.
type CasinoConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SourceManager string        `mapstructure:"source_manager"`
	NonceLookup   bool          `mapstructure:"nonce_lookup"`
}

// ReconcilerConfig tunes the background sweep and the transfer retry budget.
type ReconcilerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	LeaderLeaseTTL   time.Duration `mapstructure:"leader_lease_ttl"`
	TransferLeaseTTL time.Duration `mapstructure:"transfer_lease_ttl"`
	QRRetention      time.Duration `mapstructure:"qr_retention"`
}

// WebhookConfig controls inbound gateway callbacks.
type WebhookConfig struct {
	Secret          string        `mapstructure:"secret"` // empty disables signature checks
	SignatureHeader string        `mapstructure:"signature_header"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig caps per-caller request rates on the public API.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled"`
	DepositsPerMinute int64 `mapstructure:"deposits_per_minute"`
	ReadsPerMinute    int64 `mapstructure:"reads_per_minute"`
	OpsPerMinute      int64 `mapstructure:"ops_per_minute"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CEW_ (Casino E-Wallet).
// Nested keys use underscore: CEW_DATABASE_HOST, CEW_CASINO_API_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "casino_ewallet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "casino-ewallet")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("gateway.base_url", "http://localhost:9001")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.qr_ttl", "15m")
	v.SetDefault("gateway.currency", "PHP")
	v.SetDefault("casino.base_url", "http://localhost:9002")
	v.SetDefault("casino.api_key", "")
	v.SetDefault("casino.timeout", "15s")
	v.SetDefault("casino.source_manager", "ewallet")
	v.SetDefault("casino.nonce_lookup", true)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "30s")
	v.SetDefault("reconciler.batch_size", 50)
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.backoff_base", "30s")
	v.SetDefault("reconciler.backoff_max", "30m")
	v.SetDefault("reconciler.leader_lease_ttl", "2m")
	v.SetDefault("reconciler.transfer_lease_ttl", "45s")
	v.SetDefault("reconciler.qr_retention", "72h")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "X-Signature")
	v.SetDefault("webhook.dedup_ttl", "24h")
	v.SetDefault("webhook.max_body_bytes", 1<<20)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.deposits_per_minute", 10)
	v.SetDefault("rate_limit.reads_per_minute", 120)
	v.SetDefault("rate_limit.ops_per_minute", 60)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CEW_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required; env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings that would break the retry budget or lease model.
func (c *Config) Validate() error {
	if c.Reconciler.MaxAttempts < 1 {
		return fmt.Errorf("reconciler.max_attempts must be at least 1")
	}
	if c.Reconciler.BackoffBase <= 0 || c.Reconciler.BackoffMax < c.Reconciler.BackoffBase {
		return fmt.Errorf("reconciler backoff must satisfy 0 < backoff_base <= backoff_max")
	}
	if floor := c.MinTransferLeaseTTL(); c.Reconciler.TransferLeaseTTL <= floor {
		return fmt.Errorf("reconciler.transfer_lease_ttl (%s) must exceed %s for casino.timeout %s (nonce_lookup=%t)",
			c.Reconciler.TransferLeaseTTL, floor, c.Casino.Timeout, c.Casino.NonceLookup)
	}
	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be positive")
	}
	return nil
}

// leaseMargin covers Redis round trips and clock drift between instances.
const leaseMargin = 5 * time.Second

// MinTransferLeaseTTL is the shortest transfer lease that still covers one
// Execute: a history lookup for a stale attempt plus the transfer itself.
func (c *Config) MinTransferLeaseTTL() time.Duration {
	if c.Casino.NonceLookup {
		return 2*c.Casino.Timeout + leaseMargin
	}
	return c.Casino.Timeout
}

// ShutdownTimeout leaves room for a request blocked on a casino transfer to
// finish and persist its outcome.
func (c *Config) ShutdownTimeout() time.Duration {
	return c.MinTransferLeaseTTL() + leaseMargin
}
