package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	content := `
ledger:
  min_asset_valuation: 10000
  max_ltv_percent: 70
  liquidation_threshold_percent: 75
  default_term_days: 180
  protocol_actor: "lending-protocol"

rates:
  base_rate: 3
  multiplier: 0.2
  jump_multiplier: 2
  optimal_utilization: 85

actors:
  - id: "admin-1"
    role: "admin"
  - id: "verifier-1"
    role: "verifier"
  - id: "lending-protocol"
    role: "lending_protocol"

monitor:
  interval: 1m
  cooldown: 30m
  auto_initiate: true
  actor: "admin-1"

telegram:
  bot_token: "test_token"
  chat_id: "-100123"
  enabled: true

redis:
  enabled: true
  addr: "redis:6379"

storage:
  db_path: "./data/test.db"
  export_path: "./data/test.json"
  persistence_interval: 10m

logging:
  level: "debug"
  format: "text"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ledger.DefaultTermDays != 180 {
		t.Errorf("Unexpected default term: %d", cfg.Ledger.DefaultTermDays)
	}
	if cfg.Rates.Multiplier != 0.2 || cfg.Rates.OptimalUtilization != 85 {
		t.Errorf("Unexpected rates: %+v", cfg.Rates)
	}
	if len(cfg.Actors) != 3 || cfg.Actors[2].Role != "lending_protocol" {
		t.Errorf("Unexpected actors: %+v", cfg.Actors)
	}
	if cfg.Monitor.Interval != time.Minute || cfg.Monitor.Cooldown != 30*time.Minute || !cfg.Monitor.AutoInitiate {
		t.Errorf("Unexpected monitor config: %+v", cfg.Monitor)
	}
	if cfg.Storage.PersistenceInterval != 10*time.Minute {
		t.Errorf("Unexpected persistence interval: %v", cfg.Storage.PersistenceInterval)
	}

	// Defaults fill unset keys
	if cfg.Rates.ReserveFactor != 10 {
		t.Errorf("Expected default reserve factor 10, got %v", cfg.Rates.ReserveFactor)
	}
	if cfg.Telegram.MaxRetries != 3 || cfg.Telegram.RetryDelayBase != time.Second {
		t.Errorf("Unexpected telegram retry defaults: %+v", cfg.Telegram)
	}
	if cfg.Redis.KeyPrefix != "rwaledger:cooldown:" {
		t.Errorf("Unexpected redis key prefix: %s", cfg.Redis.KeyPrefix)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.MaxLTVPercent != 70 || cfg.Ledger.LiquidationThresholdPercent != 75 {
		t.Errorf("Unexpected ledger defaults: %+v", cfg.Ledger)
	}
	if cfg.Rates.BaseRate != 2 || cfg.Rates.Multiplier != 0.1 || cfg.Rates.JumpMultiplier != 1 {
		t.Errorf("Unexpected rate defaults: %+v", cfg.Rates)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RWA_LEDGER_LEDGER_MAX_LTV_PERCENT", "60")
	t.Setenv("RWA_LEDGER_TELEGRAM_BOT_TOKEN", "from-env")

	cfg, err := Load(writeConfig(t, "ledger:\n  max_ltv_percent: 70\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Ledger.MaxLTVPercent != 60 {
		t.Errorf("Expected env override 60, got %d", cfg.Ledger.MaxLTVPercent)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("Expected bot token from env, got %q", cfg.Telegram.BotToken)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			MinAssetValuation:           10000,
			MaxLTVPercent:               70,
			LiquidationThresholdPercent: 75,
			DefaultTermDays:             365,
			ProtocolActor:               "lending-protocol",
		},
		Rates: RatesConfig{BaseRate: 2, Multiplier: 0.1, JumpMultiplier: 1, OptimalUtilization: 80, ReserveFactor: 10},
		Actors: []ActorConfig{
			{ID: "admin-1", Role: "admin"},
			{ID: "lending-protocol", Role: "lending_protocol"},
		},
		Monitor: MonitorConfig{Interval: 5 * time.Minute, Cooldown: time.Hour, Actor: "admin-1", Enabled: true},
		Storage: StorageConfig{DBPath: "./data/test.db", PersistenceInterval: 5 * time.Minute},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero min valuation", func(c *Config) { c.Ledger.MinAssetValuation = 0 }, "min_asset_valuation"},
		{"max ltv over 100", func(c *Config) { c.Ledger.MaxLTVPercent = 101 }, "max_ltv_percent"},
		{"threshold below max ltv", func(c *Config) { c.Ledger.LiquidationThresholdPercent = 70 }, "liquidation_threshold_percent"},
		{"zero term", func(c *Config) { c.Ledger.DefaultTermDays = 0 }, "default_term_days"},
		{"missing protocol actor", func(c *Config) { c.Ledger.ProtocolActor = "" }, "protocol_actor"},
		{"negative rate", func(c *Config) { c.Rates.BaseRate = -1 }, "rates"},
		{"zero optimal", func(c *Config) { c.Rates.OptimalUtilization = 0 }, "optimal_utilization"},
		{"reserve factor over 100", func(c *Config) { c.Rates.ReserveFactor = 150 }, "reserve_factor"},
		{"actor without id", func(c *Config) { c.Actors = append(c.Actors, ActorConfig{Role: "user"}) }, "actors[2].id"},
		{"duplicate actor", func(c *Config) { c.Actors = append(c.Actors, ActorConfig{ID: "admin-1", Role: "user"}) }, "duplicate"},
		{"unknown role", func(c *Config) { c.Actors[0].Role = "root" }, "actors[0].role"},
		{"short monitor interval", func(c *Config) { c.Monitor.Interval = time.Millisecond }, "monitor.interval"},
		{"disabled monitor skips checks", func(c *Config) { c.Monitor.Enabled = false; c.Monitor.Interval = 0 }, ""},
		{"auto initiate without actor", func(c *Config) { c.Monitor.AutoInitiate = true; c.Monitor.Actor = "" }, "monitor.actor"},
		{"missing telegram token when enabled", func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: "1", MaxRetries: 3} }, "bot_token"},
		{"missing telegram chat when enabled", func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, BotToken: "x", MaxRetries: 3} }, "chat_id"},
		{"redis without addr", func(c *Config) { c.Redis = RedisConfig{Enabled: true} }, "redis.addr"},
		{"missing db path", func(c *Config) { c.Storage.DBPath = "" }, "db_path"},
		{"short persistence interval", func(c *Config) { c.Storage.PersistenceInterval = 0 }, "persistence_interval"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
