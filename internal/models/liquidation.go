package models

import (
	"errors"
	"time"
)

// LiquidationStatus is the lifecycle of a liquidation event.
type LiquidationStatus string

const (
	LiquidationInitiated LiquidationStatus = "initiated"
	LiquidationCompleted LiquidationStatus = "completed"
)

// TriggerType records why a liquidation was started.
type TriggerType string

const (
	TriggerLTVBreach TriggerType = "ltv_breach"
	TriggerOverdue   TriggerType = "overdue"
	TriggerManual    TriggerType = "manual"
	TriggerAutomated TriggerType = "automated"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerLTVBreach, TriggerOverdue, TriggerManual, TriggerAutomated:
		return true
	}
	return false
}

// LiquidationEvent records one liquidation of one loan.
type LiquidationEvent struct {
	ID               string            `json:"id"`
	LoanID           string            `json:"loan_id"`
	Borrower         string            `json:"borrower"`
	Liquidator       string            `json:"liquidator"`
	Status           LiquidationStatus `json:"status"`
	LiquidationRatio int64             `json:"liquidation_ratio"`
	TriggerType      TriggerType       `json:"trigger_type"`
	InitiatedAt      time.Time         `json:"initiated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// LiquidationTrigger is the audit entry written when a liquidation is initiated.
type LiquidationTrigger struct {
	LiquidationID   string      `json:"liquidation_id"`
	LoanID          string      `json:"loan_id"`
	TriggerType     TriggerType `json:"trigger_type"`
	LTV             int64       `json:"ltv"`
	TotalOwed       int64       `json:"total_owed"`
	CollateralValue int64       `json:"collateral_value"`
	TriggeredAt     time.Time   `json:"triggered_at"`
}

// DistributionType is a tranche of the proceeds waterfall.
type DistributionType string

const (
	DistributionDebtRepayment    DistributionType = "debt_repayment"
	DistributionPenalty          DistributionType = "liquidation_penalty"
	DistributionBorrowerResidual DistributionType = "borrower_residual"
)

// ProceedsDistribution is one tranche paid out of seized collateral.
type ProceedsDistribution struct {
	Type      DistributionType `json:"type"`
	Priority  int              `json:"priority"`
	Recipient string           `json:"recipient"`
	Amount    int64            `json:"amount"`
}

// LiquidationProceeds is the allocation of seized collateral value.
type LiquidationProceeds struct {
	LiquidationID string                 `json:"liquidation_id"`
	TotalProceeds int64                  `json:"total_proceeds"`
	Distributions []ProceedsDistribution `json:"distributions"`
}

// Validate checks that the distributions add up to the total.
func (p *LiquidationProceeds) Validate() error {
	var sum int64
	for _, d := range p.Distributions {
		if d.Amount < 0 {
			return errors.New("distribution amount must not be negative")
		}
		sum += d.Amount
	}
	if sum != p.TotalProceeds {
		return errors.New("distributions must sum to total proceeds")
	}
	return nil
}

// PenaltyInterest is the overdue penalty on a loan.
type PenaltyInterest struct {
	LoanID          string `json:"loan_id"`
	DaysOverdue     int64  `json:"days_overdue"`
	BasePenaltyRate int64  `json:"base_penalty_rate"`
	PenaltyAmount   int64  `json:"penalty_amount"`
}

// AlertReason is why the monitor flagged a loan.
type AlertReason string

const (
	AlertLTVBreach AlertReason = "ltv_breach"
	AlertOverdue   AlertReason = "overdue"
)

// LiquidationAlert is produced by the monitor for an at-risk loan.
type LiquidationAlert struct {
	LoanID          string      `json:"loan_id"`
	Borrower        string      `json:"borrower"`
	Reason          AlertReason `json:"reason"`
	LTV             int64       `json:"ltv"`
	Threshold       int64       `json:"threshold"`
	TotalOwed       int64       `json:"total_owed"`
	CollateralValue int64       `json:"collateral_value"`
	DaysOverdue     int64       `json:"days_overdue"`
	PenaltyAmount   int64       `json:"penalty_amount"`
	LiquidationID   string      `json:"liquidation_id,omitempty"`
	DetectedAt      time.Time   `json:"detected_at"`
}

// LedgerSnapshot is a serializable copy of the ledger for downstream settlement.
type LedgerSnapshot struct {
	Version      string             `json:"version"`
	SavedAt      time.Time          `json:"saved_at"`
	Assets       []AssetToken       `json:"assets"`
	Pool         PoolState          `json:"pool"`
	PoolTokens   []PoolToken        `json:"pool_tokens"`
	Loans        []Loan             `json:"loans"`
	Liquidations []LiquidationEvent `json:"liquidations"`
}
