// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lock       LockConfig       `mapstructure:"lock"`
	Account    AccountConfig    `mapstructure:"account"`
	Wager      WagerConfig      `mapstructure:"wager"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Content    ContentConfig    `mapstructure:"content"`
	Bot        BotConfig        `mapstructure:"bot"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Whitelist  WhitelistConfig  `mapstructure:"whitelist"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects where accounts, ledgers and predictions live.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "postgres" or "memory"
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockConfig selects the per-user lock backend.
type LockConfig struct {
	Backend string        `mapstructure:"backend"` // "memory" or "redis"
	Timeout time.Duration `mapstructure:"timeout"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// AccountConfig holds account opening configuration.
type AccountConfig struct {
	SignupBonus int64 `mapstructure:"signup_bonus"`
}

// WagerConfig holds stake limits.
type WagerConfig struct {
	MinWager int64 `mapstructure:"min_wager"`
	MaxWager int64 `mapstructure:"max_wager"`
}

// SettlementConfig holds the settlement job configuration.
type SettlementConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	BatchSize       int           `mapstructure:"batch_size"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// ReconcileConfig holds the orphaned-wager reconciliation job configuration.
type ReconcileConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	OrphanAge time.Duration `mapstructure:"orphan_age"`
}

// ContentConfig holds content reward configuration.
type ContentConfig struct {
	ApprovalReward int64 `mapstructure:"approval_reward"`
}

// BotConfig holds Telegram bot configuration. An empty Token disables the bot.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, WAGER_MIN_WAGER, SETTLEMENT_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	if c.Wager.MinWager <= 0 {
		return fmt.Errorf("wager.min_wager must be positive, got %d", c.Wager.MinWager)
	}
	if c.Wager.MaxWager < c.Wager.MinWager {
		return fmt.Errorf("wager.max_wager (%d) must be >= wager.min_wager (%d)", c.Wager.MaxWager, c.Wager.MinWager)
	}
	if c.Settlement.Concurrency < 1 {
		return fmt.Errorf("settlement.concurrency must be >= 1, got %d", c.Settlement.Concurrency)
	}
	switch c.Storage.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("lock.backend=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("storage.backend", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "credits")
	v.SetDefault("database.name", "credits")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.timeout", "5s")
	v.SetDefault("lock.ttl", "30s")

	v.SetDefault("account.signup_bonus", 1000)

	v.SetDefault("wager.min_wager", 50)
	v.SetDefault("wager.max_wager", 500)

	v.SetDefault("settlement.interval", "1m")
	v.SetDefault("settlement.concurrency", 1)
	v.SetDefault("settlement.batch_size", 100)
	v.SetDefault("settlement.initial_interval", "500ms")
	v.SetDefault("settlement.max_interval", "10s")
	v.SetDefault("settlement.max_elapsed_time", "1m")

	v.SetDefault("reconcile.interval", "5m")
	v.SetDefault("reconcile.orphan_age", "2m")

	v.SetDefault("content.approval_reward", 5)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
