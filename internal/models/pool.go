package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PoolToken is a lender's share certificate. Amount is in share units.
type PoolToken struct {
	ID               string          `json:"id"`
	Holder           string          `json:"holder"`
	Amount           int64           `json:"amount"`
	PoolSharePercent decimal.Decimal `json:"pool_share_percent"`
	IssuedAt         time.Time       `json:"issued_at"`
}

// Validate checks that the pool token is well formed.
func (p *PoolToken) Validate() error {
	if p.ID == "" {
		return errors.New("pool token ID must not be empty")
	}
	if p.Holder == "" {
		return errors.New("holder must not be empty")
	}
	if p.Amount <= 0 {
		return errors.New("pool token amount must be positive")
	}
	return nil
}

// PoolState is the aggregate ledger of the lending pool.
// InterestRate is the current borrow rate (percent per year) produced by the
// rate curve; it is also the rate used to accrue interest into TotalDeposits.
type PoolState struct {
	TotalDeposits   int64           `json:"total_deposits"`
	TotalBorrows    int64           `json:"total_borrows"`
	TotalPoolTokens int64           `json:"total_pool_tokens"`
	UtilizationRate decimal.Decimal `json:"utilization_rate"`
	InterestRate    decimal.Decimal `json:"base_interest_rate"`
	ReserveFactor   decimal.Decimal `json:"reserve_factor"`
	TotalReserves   int64           `json:"total_reserves"`
	LastUpdateTime  time.Time       `json:"last_update_time"`
}

// Available is the liquidity that can be lent or withdrawn.
func (s *PoolState) Available() int64 {
	return s.TotalDeposits - s.TotalBorrows
}

// Validate checks the aggregate invariants.
func (s *PoolState) Validate() error {
	if s.TotalDeposits < 0 || s.TotalBorrows < 0 || s.TotalPoolTokens < 0 || s.TotalReserves < 0 {
		return errors.New("pool totals must not be negative")
	}
	if s.TotalBorrows > s.TotalDeposits {
		return errors.New("total borrows must not exceed total deposits")
	}
	return nil
}

// Distribution is one holder's share of collateral value distributed by the
// pool ledger's inline liquidation.
type Distribution struct {
	PoolTokenID string `json:"pool_token_id"`
	Holder      string `json:"holder"`
	Amount      int64  `json:"amount"`
}
