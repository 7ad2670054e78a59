package origination

import (
	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/pool"
)

// Risk factor names.
const (
	FactorHighLTV          = "high_ltv"
	FactorModerateLTV      = "moderate_ltv"
	FactorLongTerm         = "long_term"
	FactorSingleCollateral = "single_collateral"
)

const maxRiskScore = 100

// AssessRisk scores an application against the current value of its
// collateral. It has no side effects; equal inputs give equal outputs.
func AssessRisk(app models.LoanApplication, collateralValue int64) models.RiskAssessment {
	ltv := pool.LTV(app.RequestedAmount, collateralValue)

	var factors []models.RiskFactor
	switch {
	case ltv > 80:
		factors = append(factors, models.RiskFactor{Name: FactorHighLTV, Score: 25})
	case ltv > 60:
		factors = append(factors, models.RiskFactor{Name: FactorModerateLTV, Score: 15})
	}
	if app.TermDays > 365 {
		factors = append(factors, models.RiskFactor{Name: FactorLongTerm, Score: 10})
	}
	if len(app.CollateralTokenIDs) == 1 {
		factors = append(factors, models.RiskFactor{Name: FactorSingleCollateral, Score: 12})
	}

	var score int64
	for _, f := range factors {
		score += f.Score
	}
	score += min(max(0, ltv-50), maxRiskScore)
	score = min(score, maxRiskScore)

	action := models.RecommendApprove
	switch {
	case score > 70 || ltv > 85:
		action = models.RecommendReject
	case score > 50 || ltv > 75:
		action = models.RecommendMoreCollateral
	}

	return models.RiskAssessment{
		ApplicationID:     app.ID,
		CollateralValue:   collateralValue,
		LoanToValueRatio:  ltv,
		RiskScore:         score,
		RiskFactors:       factors,
		RecommendedAction: action,
	}
}
