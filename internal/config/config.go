package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Actors   []ActorConfig  `mapstructure:"actors"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// LedgerConfig holds lending parameters
type LedgerConfig struct {
	MinAssetValuation           int64  `mapstructure:"min_asset_valuation"`
	MaxLTVPercent               int64  `mapstructure:"max_ltv_percent"`
	LiquidationThresholdPercent int64  `mapstructure:"liquidation_threshold_percent"`
	DefaultTermDays             int    `mapstructure:"default_term_days"`
	ProtocolActor               string `mapstructure:"protocol_actor"`
}

// RatesConfig holds the interest rate curve. Rates and utilization are
// percentages; multipliers are percent of rate per percent of utilization.
type RatesConfig struct {
	BaseRate           float64 `mapstructure:"base_rate"`
	Multiplier         float64 `mapstructure:"multiplier"`
	JumpMultiplier     float64 `mapstructure:"jump_multiplier"`
	OptimalUtilization float64 `mapstructure:"optimal_utilization"`
	ReserveFactor      float64 `mapstructure:"reserve_factor"`
}

// ActorConfig seeds one actor into the role directory
type ActorConfig struct {
	ID   string `mapstructure:"id"`
	Role string `mapstructure:"role"`
}

// MonitorConfig holds loan health monitoring configuration
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	AutoInitiate bool          `mapstructure:"auto_initiate"`
	Actor        string        `mapstructure:"actor"`
	Enabled      bool          `mapstructure:"enabled"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// RedisConfig holds the alert cooldown store configuration
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath              string        `mapstructure:"db_path"`
	ExportPath          string        `mapstructure:"export_path"`
	PersistenceInterval time.Duration `mapstructure:"persistence_interval"`
	Retention           time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("RWA_LEDGER")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Ledger defaults
	v.SetDefault("ledger.min_asset_valuation", 10000)
	v.SetDefault("ledger.max_ltv_percent", 70)
	v.SetDefault("ledger.liquidation_threshold_percent", 75)
	v.SetDefault("ledger.default_term_days", 365)
	v.SetDefault("ledger.protocol_actor", "lending-protocol")

	// Rate curve defaults
	v.SetDefault("rates.base_rate", 2)
	v.SetDefault("rates.multiplier", 0.1)
	v.SetDefault("rates.jump_multiplier", 1)
	v.SetDefault("rates.optimal_utilization", 80)
	v.SetDefault("rates.reserve_factor", 10)

	// Monitor defaults
	v.SetDefault("monitor.interval", "5m")
	v.SetDefault("monitor.cooldown", "1h")
	v.SetDefault("monitor.auto_initiate", false)
	v.SetDefault("monitor.actor", "liquidator-bot")
	v.SetDefault("monitor.enabled", true)

	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "rwaledger:cooldown:")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/rwaledger.db")
	v.SetDefault("storage.export_path", "./data/ledger.json")
	v.SetDefault("storage.persistence_interval", "5m")
	v.SetDefault("storage.retention", "720h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Ledger config
	if c.Ledger.MinAssetValuation < 1 {
		return fmt.Errorf("ledger.min_asset_valuation must be at least 1")
	}
	if c.Ledger.MaxLTVPercent < 1 || c.Ledger.MaxLTVPercent > 100 {
		return fmt.Errorf("ledger.max_ltv_percent must be between 1 and 100")
	}
	if c.Ledger.LiquidationThresholdPercent <= c.Ledger.MaxLTVPercent || c.Ledger.LiquidationThresholdPercent > 100 {
		return fmt.Errorf("ledger.liquidation_threshold_percent must be above max_ltv_percent and at most 100")
	}
	if c.Ledger.DefaultTermDays < 1 {
		return fmt.Errorf("ledger.default_term_days must be at least 1")
	}
	if c.Ledger.ProtocolActor == "" {
		return fmt.Errorf("ledger.protocol_actor is required")
	}

	// Validate Rates config
	if c.Rates.BaseRate < 0 || c.Rates.Multiplier < 0 || c.Rates.JumpMultiplier < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if c.Rates.OptimalUtilization <= 0 || c.Rates.OptimalUtilization > 100 {
		return fmt.Errorf("rates.optimal_utilization must be in (0, 100]")
	}
	if c.Rates.ReserveFactor < 0 || c.Rates.ReserveFactor > 100 {
		return fmt.Errorf("rates.reserve_factor must be between 0 and 100")
	}

	// Validate Actors
	seen := make(map[string]bool, len(c.Actors))
	for i, a := range c.Actors {
		if a.ID == "" {
			return fmt.Errorf("actors[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("actors[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if !validRoles[a.Role] {
			return fmt.Errorf("actors[%d].role must be one of: user, verifier, admin, lending_protocol", i)
		}
	}

	// Validate Monitor config
	if c.Monitor.Enabled {
		if c.Monitor.Interval < 1*time.Second {
			return fmt.Errorf("monitor.interval must be at least 1 second")
		}
		if c.Monitor.Cooldown < 0 {
			return fmt.Errorf("monitor.cooldown must not be negative")
		}
		if c.Monitor.AutoInitiate && c.Monitor.Actor == "" {
			return fmt.Errorf("monitor.actor is required when auto_initiate is enabled")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	// Validate Redis config
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.PersistenceInterval < 1*time.Second {
		return fmt.Errorf("storage.persistence_interval must be at least 1 second")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

var validRoles = map[string]bool{"user": true, "verifier": true, "admin": true, "lending_protocol": true}

var envKeyReplacer = strings.NewReplacer(".", "_")
