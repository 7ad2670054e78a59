package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/rwaledger/internal/cache"
	"github.com/rewired-gh/rwaledger/internal/config"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/monitor"
	"github.com/rewired-gh/rwaledger/internal/storage"
	"github.com/rewired-gh/rwaledger/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	store, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Initialize cooldown store
	cooldowns, closeCooldowns, err := openCooldowns(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize cooldown store: %v", err)
	}
	defer closeCooldowns()

	// Build the ledger
	l, err := buildLedger(cfg, cooldowns)
	if err != nil {
		logger.Fatal("Failed to build ledger: %v", err)
	}
	logger.Info("Ledger ready (max LTV %d%%, liquidation threshold %d%%, %d actors)",
		cfg.Ledger.MaxLTVPercent, cfg.Ledger.LiquidationThresholdPercent, len(cfg.Actors))

	// Initialize Telegram client
	var notifier monitor.Notifier
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var monitorTick <-chan time.Time
	if cfg.Monitor.Enabled {
		ticker := time.NewTicker(cfg.Monitor.Interval)
		defer ticker.Stop()
		monitorTick = ticker.C
		logger.Info("Starting loan monitor (interval: %v, cooldown: %v, auto_initiate: %v)",
			cfg.Monitor.Interval, cfg.Monitor.Cooldown, cfg.Monitor.AutoInitiate)
	} else {
		logger.Info("Loan monitor disabled")
	}

	persistTicker := time.NewTicker(cfg.Storage.PersistenceInterval)
	defer persistTicker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Monitoring cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err, consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	// Run initial cycle immediately
	if cfg.Monitor.Enabled {
		logger.Debug("Running initial monitoring cycle")
		handleCycleResult(runMonitoringCycle(ctx, l, notifier, cfg.Monitor.Cooldown))
	}

	for {
		select {
		case <-ctx.Done():
			// Persist one last time with a fresh context
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			if err := persistLedger(shutdownCtx, l, store, cfg.Storage); err != nil {
				logger.Error("Failed to persist ledger on shutdown: %v", err)
			}
			done()
			logger.Info("Service stopped")
			return

		case <-monitorTick:
			logger.Debug("Starting scheduled monitoring cycle")
			handleCycleResult(runMonitoringCycle(ctx, l, notifier, cfg.Monitor.Cooldown))

		case <-persistTicker.C:
			if err := persistLedger(ctx, l, store, cfg.Storage); err != nil {
				logger.Warn("Failed to persist ledger: %v", err)
			}
		}
	}
}

func runMonitoringCycle(ctx context.Context, l *ledger, notifier monitor.Notifier, cooldown time.Duration) error {
	startTime := time.Now()
	logger.Info("Starting monitoring cycle")

	res, err := l.monitor.RunCycle(ctx, notifier, cooldown)
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 && len(res.Errors) == len(l.pool.ActiveLoans()) {
		return fmt.Errorf("failed to value all %d active loans: %w", len(res.Errors), res.Errors[0])
	}

	logger.Info("Monitoring cycle completed in %v (%d alerts, %d pending applications)",
		time.Since(startTime), res.Alerts, len(l.workflow.PendingApplications()))
	return nil
}

func persistLedger(ctx context.Context, l *ledger, store *storage.Store, cfg config.StorageConfig) error {
	snap := l.snapshot()
	if err := store.SaveLedger(ctx, snap); err != nil {
		return err
	}
	if cfg.ExportPath != "" {
		if err := store.ExportJSON(cfg.ExportPath, snap); err != nil {
			return err
		}
	}
	if cfg.Retention > 0 {
		n, err := store.Prune(ctx, snap.SavedAt.Add(-cfg.Retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Debug("Pruned %d snapshot rows older than %v", n, cfg.Retention)
		}
	}
	logger.Debug("Persisted ledger: %d assets, %d loans, %d liquidations",
		len(snap.Assets), len(snap.Loans), len(snap.Liquidations))
	return nil
}

// openCooldowns returns the Redis cooldown store when enabled, otherwise an
// in-memory one.
func openCooldowns(cfg config.RedisConfig) (cache.Store, func(), error) {
	if !cfg.Enabled {
		return cache.NewMemory(time.Now), func() {}, nil
	}
	client, err := cache.OpenRedis(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Redis cooldown store connected at %s", cfg.Addr)
	return cache.NewRedis(client, cfg.KeyPrefix), func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close Redis client: %v", err)
		}
	}, nil
}
