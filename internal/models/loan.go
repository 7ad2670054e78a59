package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan. Every state but Active is terminal.
type LoanStatus string

const (
	LoanActive     LoanStatus = "active"
	LoanRepaid     LoanStatus = "repaid"
	LoanDefaulted  LoanStatus = "defaulted"
	LoanLiquidated LoanStatus = "liquidated"
)

// DefaultLiquidationThreshold is the LTV percentage at which a loan becomes liquidatable.
const DefaultLiquidationThreshold = 75

// Loan is an originated loan collateralized by locked asset tokens.
type Loan struct {
	ID                   string          `json:"id"`
	Borrower             string          `json:"borrower"`
	CollateralTokenIDs   []string        `json:"collateral_token_ids"`
	PrincipalAmount      int64           `json:"principal_amount"`
	InterestRate         decimal.Decimal `json:"interest_rate"`
	CreatedAt            time.Time       `json:"created_at"`
	DueDate              time.Time       `json:"due_date"`
	Status               LoanStatus      `json:"status"`
	RepaidAmount         int64           `json:"repaid_amount"`
	LiquidationThreshold int64           `json:"liquidation_threshold"`
}

// Validate checks that the loan is well formed.
func (l *Loan) Validate() error {
	if l.ID == "" {
		return errors.New("loan ID must not be empty")
	}
	if l.Borrower == "" {
		return errors.New("borrower must not be empty")
	}
	if len(l.CollateralTokenIDs) == 0 {
		return errors.New("loan must have collateral")
	}
	if l.PrincipalAmount <= 0 {
		return errors.New("principal must be positive")
	}
	if l.RepaidAmount < 0 {
		return errors.New("repaid amount must not be negative")
	}
	if l.DueDate.Before(l.CreatedAt) {
		return errors.New("due date must be >= created at")
	}
	return nil
}

// Clone returns a deep copy.
func (l *Loan) Clone() Loan {
	c := *l
	c.CollateralTokenIDs = append([]string(nil), l.CollateralTokenIDs...)
	return c
}

// LoanHealth is a point-in-time view of a loan against its collateral.
type LoanHealth struct {
	LoanID          string `json:"loan_id"`
	TotalOwed       int64  `json:"total_owed"`
	CollateralValue int64  `json:"collateral_value"`
	// LTV is floor(TotalOwed*100/CollateralValue); math.MaxInt64 when collateral is worthless.
	LTV int64 `json:"ltv"`
}

// RepaymentReceipt describes how a repayment was applied.
type RepaymentReceipt struct {
	LoanID          string `json:"loan_id"`
	Applied         int64  `json:"applied"`
	InterestPortion int64  `json:"interest_portion"`
	Remaining       int64  `json:"remaining"`
	FullyRepaid     bool   `json:"fully_repaid"`
}
