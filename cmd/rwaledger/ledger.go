package main

import (
	"fmt"

	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/cache"
	"github.com/rewired-gh/rwaledger/internal/config"
	"github.com/rewired-gh/rwaledger/internal/liquidation"
	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/monitor"
	"github.com/rewired-gh/rwaledger/internal/origination"
	"github.com/rewired-gh/rwaledger/internal/pool"
	"github.com/rewired-gh/rwaledger/internal/registry"
	"github.com/shopspring/decimal"
)

// ledger is the wired set of components sharing one consistency domain.
type ledger struct {
	directory *auth.Directory
	registry  *registry.Registry
	pool      *pool.Pool
	workflow  *origination.Workflow
	engine    *liquidation.Engine
	monitor   *monitor.Monitor
}

func buildLedger(cfg *config.Config, cooldowns cache.Store) (*ledger, error) {
	dir, err := seedDirectory(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(dir, registry.WithMinValuation(cfg.Ledger.MinAssetValuation))
	p := pool.New(reg, dir, cfg.Ledger.ProtocolActor,
		pool.WithRateModel(rateModel(cfg.Rates)),
		pool.WithMaxLTV(cfg.Ledger.MaxLTVPercent),
		pool.WithLiquidationThreshold(cfg.Ledger.LiquidationThresholdPercent),
		pool.WithDefaultTerm(cfg.Ledger.DefaultTermDays),
		pool.WithReserveFactor(decimal.NewFromFloat(cfg.Rates.ReserveFactor)),
	)
	engine := liquidation.New(p, dir)

	var monOpts []monitor.Option
	if cfg.Monitor.AutoInitiate {
		monOpts = append(monOpts, monitor.WithAutoInitiate(engine, cfg.Monitor.Actor))
	}

	return &ledger{
		directory: dir,
		registry:  reg,
		pool:      p,
		workflow:  origination.New(reg, p, dir),
		engine:    engine,
		monitor:   monitor.New(p, cooldowns, monOpts...),
	}, nil
}

// seedDirectory registers the configured actors. The protocol actor is added
// with the lending protocol role when the configuration omits it.
func seedDirectory(cfg *config.Config) (*auth.Directory, error) {
	dir := auth.NewDirectory()
	for _, a := range cfg.Actors {
		role, err := auth.ParseRole(a.Role)
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", a.ID, err)
		}
		if err := dir.Register(a.ID, role); err != nil {
			return nil, fmt.Errorf("failed to register actor %s: %w", a.ID, err)
		}
	}
	if _, ok := dir.Role(cfg.Ledger.ProtocolActor); !ok {
		if err := dir.Register(cfg.Ledger.ProtocolActor, auth.RoleLendingProtocol); err != nil {
			return nil, fmt.Errorf("failed to register protocol actor: %w", err)
		}
	}
	return dir, nil
}

func rateModel(r config.RatesConfig) pool.RateModel {
	return pool.RateModel{
		Base:           decimal.NewFromFloat(r.BaseRate),
		Multiplier:     decimal.NewFromFloat(r.Multiplier),
		JumpMultiplier: decimal.NewFromFloat(r.JumpMultiplier),
		Optimal:        decimal.NewFromFloat(r.OptimalUtilization),
	}
}

// snapshot captures the pool ledger together with the liquidation history.
func (l *ledger) snapshot() models.LedgerSnapshot {
	snap := l.pool.Snapshot()
	snap.Liquidations = l.engine.Events()
	return snap
}
