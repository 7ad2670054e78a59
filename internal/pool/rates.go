package pool

import (
	"time"

	"github.com/shopspring/decimal"
)

// Year is the accrual year used for simple interest.
const Year = 365 * 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// RateModel is a kinked borrow-rate curve. All fields are percentages except
// the multipliers, which are percent of rate per percent of utilization.
type RateModel struct {
	Base           decimal.Decimal
	Multiplier     decimal.Decimal
	JumpMultiplier decimal.Decimal
	Optimal        decimal.Decimal
}

// DefaultRateModel is 2% base, 0.1 slope, 1.0 jump slope above 80% utilization.
func DefaultRateModel() RateModel {
	return RateModel{
		Base:           decimal.NewFromInt(2),
		Multiplier:     decimal.RequireFromString("0.1"),
		JumpMultiplier: decimal.NewFromInt(1),
		Optimal:        decimal.NewFromInt(80),
	}
}

// Rate returns the annual borrow rate in percent for a utilization in percent.
func (m RateModel) Rate(utilization decimal.Decimal) decimal.Decimal {
	if utilization.LessThanOrEqual(m.Optimal) {
		return m.Base.Add(utilization.Mul(m.Multiplier))
	}
	kink := m.Base.Add(m.Optimal.Mul(m.Multiplier))
	return kink.Add(utilization.Sub(m.Optimal).Mul(m.JumpMultiplier))
}

// Utilization is borrows/deposits*100, or zero for an empty pool.
func Utilization(borrows, deposits int64) decimal.Decimal {
	if deposits <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(borrows).Mul(hundred).DivRound(decimal.NewFromInt(deposits), 8)
}

// SimpleInterest is floor(amount * ratePercent/100 * elapsed/Year).
// Negative elapsed time accrues nothing.
func SimpleInterest(amount int64, ratePercent decimal.Decimal, elapsed time.Duration) int64 {
	if amount <= 0 || elapsed <= 0 || !ratePercent.IsPositive() {
		return 0
	}
	num := decimal.NewFromInt(amount).Mul(ratePercent).Mul(decimal.NewFromInt(int64(elapsed / time.Second)))
	den := hundred.Mul(decimal.NewFromInt(int64(Year / time.Second)))
	return floorDiv(num, den)
}

// Reserve is floor(interest * factorPercent/100), clamped to [0, interest].
func Reserve(interest int64, factorPercent decimal.Decimal) int64 {
	if interest <= 0 || !factorPercent.IsPositive() {
		return 0
	}
	return min(interest, floorDiv(decimal.NewFromInt(interest).Mul(factorPercent), hundred))
}

// MulDiv is floor(a*b/c) for non-negative operands without int64 overflow.
func MulDiv(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	return floorDiv(decimal.NewFromInt(a).Mul(decimal.NewFromInt(b)), decimal.NewFromInt(c))
}

// LTV is floor(owed*100/collateral); worthless collateral yields the maximum ratio.
func LTV(owed, collateral int64) int64 {
	if collateral <= 0 {
		if owed <= 0 {
			return 0
		}
		return maxRatio
	}
	return MulDiv(owed, 100, collateral)
}

const maxRatio = int64(^uint64(0) >> 1)

func floorDiv(num, den decimal.Decimal) int64 {
	q, _ := num.QuoRem(den, 0)
	return q.IntPart()
}
