package models

import (
	"errors"
	"time"
)

// ApplicationStatus tracks a loan application through review.
type ApplicationStatus string

const (
	ApplicationPending     ApplicationStatus = "pending"
	ApplicationUnderReview ApplicationStatus = "under_review"
	ApplicationApproved    ApplicationStatus = "approved"
	ApplicationRejected    ApplicationStatus = "rejected"
	ApplicationWithdrawn   ApplicationStatus = "withdrawn"
)

// Terminal reports whether no further transition is allowed.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationApproved || s == ApplicationRejected || s == ApplicationWithdrawn
}

// Term bounds in days.
const (
	MinTermDays = 1
	MaxTermDays = 1825
)

// LoanApplication is a borrower's request for a loan.
type LoanApplication struct {
	ID                 string            `json:"id"`
	Borrower           string            `json:"borrower"`
	RequestedAmount    int64             `json:"requested_amount"`
	CollateralTokenIDs []string          `json:"collateral_token_ids"`
	Purpose            string            `json:"purpose"`
	TermDays           int               `json:"term"`
	Status             ApplicationStatus `json:"status"`
	ReviewedBy         string            `json:"reviewed_by,omitempty"`
	ReviewNotes        string            `json:"review_notes,omitempty"`
	LoanID             string            `json:"loan_id,omitempty"`
	SubmittedAt        time.Time         `json:"submitted_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Validate checks the fields supplied at submission.
func (a *LoanApplication) Validate() error {
	if a.Borrower == "" {
		return errors.New("borrower must not be empty")
	}
	if a.RequestedAmount <= 0 {
		return errors.New("requested amount must be positive")
	}
	if a.TermDays < MinTermDays || a.TermDays > MaxTermDays {
		return errors.New("term must be between 1 and 1825 days")
	}
	if len(a.CollateralTokenIDs) == 0 {
		return errors.New("at least one collateral token is required")
	}
	return nil
}

// Clone returns a deep copy.
func (a *LoanApplication) Clone() LoanApplication {
	c := *a
	c.CollateralTokenIDs = append([]string(nil), a.CollateralTokenIDs...)
	return c
}

// Recommendation is the outcome of a risk assessment.
type Recommendation string

const (
	RecommendApprove        Recommendation = "approve"
	RecommendReject         Recommendation = "reject"
	RecommendMoreCollateral Recommendation = "request_more_collateral"
)

// RiskFactor is one scored contributor to a risk score.
type RiskFactor struct {
	Name  string `json:"name"`
	Score int64  `json:"score"`
}

// RiskAssessment is a pure function of an application and current collateral value.
type RiskAssessment struct {
	ApplicationID     string         `json:"application_id"`
	CollateralValue   int64          `json:"collateral_value"`
	LoanToValueRatio  int64          `json:"loan_to_value_ratio"`
	RiskScore         int64          `json:"risk_score"`
	RiskFactors       []RiskFactor   `json:"risk_factors"`
	RecommendedAction Recommendation `json:"recommended_action"`
}

// PaymentType classifies a loan payment for the audit ledger.
type PaymentType string

const (
	PaymentPrincipal     PaymentType = "principal"
	PaymentInterest      PaymentType = "interest"
	PaymentPenalty       PaymentType = "penalty"
	PaymentFullRepayment PaymentType = "full_repayment"
)

// Payment is an audit entry recorded for every loan payment.
type Payment struct {
	ID        string      `json:"id"`
	LoanID    string      `json:"loan_id"`
	Payer     string      `json:"payer"`
	Amount    int64       `json:"amount"`
	Type      PaymentType `json:"type"`
	Remaining int64       `json:"remaining"`
	PaidAt    time.Time   `json:"paid_at"`
}
