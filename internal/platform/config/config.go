// Package config loads typed configuration from the environment (and an optional
// .env file) using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"

	"civicwatch/pkg/platform/secrets"
	liststr "civicwatch/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"SERVER_ADDR"`
	ReadTimeout     time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SERVER_SHUTDOWN_TIMEOUT"`
	// AdminTokenHash is the bcrypt hash of the X-Admin-Token value; empty
	// disables the admin routes.
	AdminTokenHash string `mapstructure:"ADMIN_TOKEN_HASH"`
}

// Database configures the Postgres pool.
type Database struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig configures the latest-audit cache. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// Kafka configures the anchor log. An empty broker list disables anchoring.
type Kafka struct {
	Brokers           string        `mapstructure:"KAFKA_BROKERS"`
	AnchorTopic       string        `mapstructure:"ANCHOR_TOPIC"`
	AnchorPartitions  int32         `mapstructure:"ANCHOR_TOPIC_PARTITIONS"`
	AnchorReplication int16         `mapstructure:"ANCHOR_TOPIC_REPLICATION"`
	PublishTimeout    time.Duration `mapstructure:"ANCHOR_PUBLISH_TIMEOUT"`
}

// Audit configures the engine and its scheduled trigger.
type Audit struct {
	// Schedule is a five-field cron expression; empty disables scheduled runs.
	Schedule string `mapstructure:"AUDIT_SCHEDULE"`
	// Tenants is a comma-separated tenant list for scheduled runs; empty means
	// one platform-wide run.
	Tenants          string        `mapstructure:"AUDIT_TENANTS"`
	StaleAfter       time.Duration `mapstructure:"AUDIT_STALE_AFTER"`
	CollectTimeout   time.Duration `mapstructure:"AUDIT_COLLECT_TIMEOUT"`
	RunTimeout       time.Duration `mapstructure:"AUDIT_RUN_TIMEOUT"`
	LatestCacheTTL   time.Duration `mapstructure:"AUDIT_LATEST_CACHE_TTL"`
	AnchorOnSnapshot bool          `mapstructure:"AUDIT_ANCHOR_ON_SNAPSHOT"`
}

// Votes configures the vote integrity guard.
type Votes struct {
	RateWindow      time.Duration `mapstructure:"VOTE_RATE_WINDOW"`
	RateLimit       int           `mapstructure:"VOTE_RATE_LIMIT"`
	BurstWindow     time.Duration `mapstructure:"VOTE_BURST_WINDOW"`
	BurstThreshold  int           `mapstructure:"VOTE_BURST_THRESHOLD"`
	AnomalyLookback time.Duration `mapstructure:"VOTE_ANOMALY_LOOKBACK"`
}

// Auth configures voter token validation.
type Auth struct {
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
}

// Log configures slog.
type Log struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// Config is the full application configuration.
type Config struct {
	Env      string      `mapstructure:"APP_ENV"`
	Server   Server      `mapstructure:",squash"`
	Database Database    `mapstructure:",squash"`
	Redis    RedisConfig `mapstructure:",squash"`
	Kafka    Kafka       `mapstructure:",squash"`
	Audit    Audit       `mapstructure:",squash"`
	Votes    Votes       `mapstructure:",squash"`
	Auth     Auth        `mapstructure:",squash"`
	Log      Log         `mapstructure:",squash"`
}

// devSigningKey is only accepted outside production.
const devSigningKey = "dev-secret-key-change-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")

	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("SERVER_READ_TIMEOUT", "10s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("ADMIN_TOKEN_HASH", "")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ANCHOR_TOPIC", "governance-audit-anchors")
	v.SetDefault("ANCHOR_TOPIC_PARTITIONS", 1)
	v.SetDefault("ANCHOR_TOPIC_REPLICATION", 1)
	v.SetDefault("ANCHOR_PUBLISH_TIMEOUT", "10s")

	v.SetDefault("AUDIT_SCHEDULE", "*/15 * * * *")
	v.SetDefault("AUDIT_TENANTS", "")
	v.SetDefault("AUDIT_STALE_AFTER", "4320h") // 180 days
	v.SetDefault("AUDIT_COLLECT_TIMEOUT", "5s")
	v.SetDefault("AUDIT_RUN_TIMEOUT", "30s")
	v.SetDefault("AUDIT_LATEST_CACHE_TTL", "24h")
	v.SetDefault("AUDIT_ANCHOR_ON_SNAPSHOT", true)

	v.SetDefault("VOTE_RATE_WINDOW", "10m")
	v.SetDefault("VOTE_RATE_LIMIT", 200)
	v.SetDefault("VOTE_BURST_WINDOW", "1m")
	v.SetDefault("VOTE_BURST_THRESHOLD", 30)
	v.SetDefault("VOTE_ANOMALY_LOOKBACK", "24h")

	v.SetDefault("JWT_SIGNING_KEY", devSigningKey)
	v.SetDefault("JWT_ISSUER", "civicwatch")
	v.SetDefault("JWT_AUDIENCE", "civicwatch-votes")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// missing .env is fine (CI, containers); a malformed one is not
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces cross-field invariants.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: SERVER_ADDR must be set")
	}
	if c.Env == "production" && c.Auth.JWTSigningKey == devSigningKey {
		return errors.New("config: JWT_SIGNING_KEY must be overridden when APP_ENV=production")
	}
	if c.Server.AdminTokenHash != "" {
		if err := secrets.CheckHash(c.Server.AdminTokenHash); err != nil {
			return fmt.Errorf("config: ADMIN_TOKEN_HASH: %w", err)
		}
	}
	if c.Votes.RateLimit <= 0 {
		return errors.New("config: VOTE_RATE_LIMIT must be positive")
	}
	if c.Votes.RateWindow <= 0 || c.Votes.BurstWindow <= 0 || c.Votes.AnomalyLookback <= 0 {
		return errors.New("config: vote windows must be positive durations")
	}
	if c.Votes.BurstThreshold <= 0 {
		return errors.New("config: VOTE_BURST_THRESHOLD must be positive")
	}
	if c.Audit.StaleAfter <= 0 {
		return errors.New("config: AUDIT_STALE_AFTER must be positive")
	}
	return nil
}

// KafkaBrokers returns broker addresses from the comma-separated config.
func (c *Config) KafkaBrokers() []string {
	return liststr.SplitList(c.Kafka.Brokers)
}

// AuditTenants returns the tenants scheduled runs iterate over.
func (c *Config) AuditTenants() []string {
	return liststr.SplitList(c.Audit.Tenants)
}
