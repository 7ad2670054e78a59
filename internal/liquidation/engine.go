// Package liquidation detects undercollateralized loans, records liquidation
// events and settles them through a proceeds waterfall.
package liquidation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/pool"
)

// Waterfall recipients other than the borrower.
const (
	RecipientPool     = "pool"
	RecipientProtocol = "protocol"
)

// BasePenaltyRate is the annual overdue penalty in percent.
const BasePenaltyRate = 20

// Engine records liquidation events and executes them against the pool.
// Lock order is Engine before the registry.
type Engine struct {
	mu sync.Mutex

	pool *pool.Pool
	auth auth.Authorizer
	now  func() time.Time

	events   map[string]*models.LiquidationEvent
	open     map[string]string
	triggers map[string][]models.LiquidationTrigger
	proceeds map[string]models.LiquidationProceeds
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine that settles liquidations in p.
func New(p *pool.Pool, a auth.Authorizer, opts ...Option) *Engine {
	e := &Engine{
		pool:     p,
		auth:     a,
		now:      time.Now,
		events:   make(map[string]*models.LiquidationEvent),
		open:     make(map[string]string),
		triggers: make(map[string][]models.LiquidationTrigger),
		proceeds: make(map[string]models.LiquidationProceeds),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckLiquidationCriteria reports whether an active loan's LTV is at or above
// its liquidation threshold. Unknown or closed loans report false.
func (e *Engine) CheckLiquidationCriteria(loanID string) bool {
	loan, err := e.pool.Loan(loanID)
	if err != nil || loan.Status != models.LoanActive {
		return false
	}
	h, err := e.pool.LoanHealth(loanID)
	if err != nil {
		return false
	}
	return h.LTV >= loan.LiquidationThreshold
}

// InitiateLiquidation opens a liquidation for a loan that meets the criteria.
// An empty trigger defaults to an LTV breach.
func (e *Engine) InitiateLiquidation(loanID, liquidator string, trigger models.TriggerType) (string, error) {
	if !auth.Registered(e.auth, liquidator) {
		return "", models.Errorf(models.ErrNotAuthorized, "unknown liquidator %s", liquidator)
	}
	if trigger == "" {
		trigger = models.TriggerLTVBreach
	}
	if !trigger.Valid() {
		return "", models.Errorf(models.ErrInvalidInput, "unknown trigger type %q", trigger)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	loan, err := e.pool.Loan(loanID)
	if err != nil {
		return "", err
	}
	if loan.Status != models.LoanActive {
		return "", models.Errorf(models.ErrLoanNotActive, "loan %s is %s", loanID, loan.Status)
	}
	if id, ok := e.open[loanID]; ok {
		return "", models.Errorf(models.ErrAlreadyProcessed, "loan %s already has open liquidation %s", loanID, id)
	}
	h, err := e.pool.LoanHealth(loanID)
	if err != nil {
		return "", err
	}
	if h.LTV < loan.LiquidationThreshold {
		return "", models.Errorf(models.ErrLoanNotLiquidatable,
			"loan %s LTV %d%% is below threshold %d%%", loanID, h.LTV, loan.LiquidationThreshold)
	}

	now := e.now()
	ev := &models.LiquidationEvent{
		ID:               uuid.New().String(),
		LoanID:           loanID,
		Borrower:         loan.Borrower,
		Liquidator:       liquidator,
		Status:           models.LiquidationInitiated,
		LiquidationRatio: h.LTV,
		TriggerType:      trigger,
		InitiatedAt:      now,
	}
	e.events[ev.ID] = ev
	e.open[loanID] = ev.ID
	e.triggers[loanID] = append(e.triggers[loanID], models.LiquidationTrigger{
		LiquidationID:   ev.ID,
		LoanID:          loanID,
		TriggerType:     trigger,
		LTV:             h.LTV,
		TotalOwed:       h.TotalOwed,
		CollateralValue: h.CollateralValue,
		TriggeredAt:     now,
	})
	logger.Warn("Liquidation %s initiated on loan %s by %s (%s, LTV %d%%)",
		ev.ID, loanID, liquidator, trigger, h.LTV)
	return ev.ID, nil
}

// ExecuteLiquidation seizes the collateral of an initiated liquidation and
// splits its value: debt first, then the overdue penalty, then the borrower.
// If settlement fails the event stays initiated.
func (e *Engine) ExecuteLiquidation(liquidationID, actor string) (models.LiquidationProceeds, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.events[liquidationID]
	if !ok {
		return models.LiquidationProceeds{}, models.Errorf(models.ErrLiquidationMissing, "liquidation %s", liquidationID)
	}
	if ev.Status != models.LiquidationInitiated {
		return models.LiquidationProceeds{}, models.Errorf(models.ErrAlreadyProcessed, "liquidation %s is %s", liquidationID, ev.Status)
	}
	if actor != ev.Liquidator && !e.auth.HasRole(actor, auth.RoleAdmin) {
		return models.LiquidationProceeds{}, models.Errorf(models.ErrNotAuthorized,
			"actor %s cannot execute liquidation %s", actor, liquidationID)
	}

	loan, err := e.pool.Loan(ev.LoanID)
	if err != nil {
		return models.LiquidationProceeds{}, err
	}
	now := e.now()
	_, penalty := Penalty(loan.PrincipalAmount, loan.DueDate, now)

	h, err := e.pool.SettleLiquidation(ev.LoanID, ev.Liquidator)
	if err != nil {
		logger.Error("Liquidation %s of loan %s failed: %v", liquidationID, ev.LoanID, err)
		return models.LiquidationProceeds{}, err
	}

	// Repayments already made reduce the debt tranche.
	out := models.LiquidationProceeds{
		LiquidationID: liquidationID,
		TotalProceeds: h.CollateralValue,
		Distributions: Waterfall(h.CollateralValue, h.TotalOwed-loan.RepaidAmount, penalty, loan.Borrower),
	}
	ev.Status = models.LiquidationCompleted
	ev.CompletedAt = &now
	delete(e.open, ev.LoanID)
	e.proceeds[liquidationID] = out
	logger.Warn("Liquidation %s completed: %d seized from loan %s", liquidationID, out.TotalProceeds, ev.LoanID)
	return out, nil
}

// CalculatePenaltyInterest returns the overdue penalty on a loan as of now.
func (e *Engine) CalculatePenaltyInterest(loanID string) (models.PenaltyInterest, error) {
	loan, err := e.pool.Loan(loanID)
	if err != nil {
		return models.PenaltyInterest{}, err
	}
	days, amount := Penalty(loan.PrincipalAmount, loan.DueDate, e.now())
	return models.PenaltyInterest{
		LoanID:          loanID,
		DaysOverdue:     days,
		BasePenaltyRate: BasePenaltyRate,
		PenaltyAmount:   amount,
	}, nil
}

// Penalty returns whole days past due and the penalty
// principal * floor(0.20 * days/365 * 1000) / 1000, truncated.
func Penalty(principal int64, due, now time.Time) (days, amount int64) {
	if !now.After(due) {
		return 0, 0
	}
	days = int64(now.Sub(due) / (24 * time.Hour))
	perMille := BasePenaltyRate * 10 * days / 365
	return days, pool.MulDiv(principal, perMille, 1000)
}

// Waterfall splits total proceeds by priority. Empty tranches are omitted and
// the amounts always sum to total.
func Waterfall(total, owed, penalty int64, borrower string) []models.ProceedsDistribution {
	debt := min(total, max(0, owed))
	rest := total - debt
	pen := min(rest, max(0, penalty))
	residual := rest - pen

	var out []models.ProceedsDistribution
	if debt > 0 {
		out = append(out, models.ProceedsDistribution{Type: models.DistributionDebtRepayment, Priority: 1, Recipient: RecipientPool, Amount: debt})
	}
	if pen > 0 {
		out = append(out, models.ProceedsDistribution{Type: models.DistributionPenalty, Priority: 2, Recipient: RecipientProtocol, Amount: pen})
	}
	if residual > 0 {
		out = append(out, models.ProceedsDistribution{Type: models.DistributionBorrowerResidual, Priority: 3, Recipient: borrower, Amount: residual})
	}
	return out
}

// Event returns a copy of a liquidation event.
func (e *Engine) Event(id string) (models.LiquidationEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev, ok := e.events[id]
	if !ok {
		return models.LiquidationEvent{}, models.Errorf(models.ErrLiquidationMissing, "liquidation %s", id)
	}
	return *ev, nil
}

// Events returns copies of all events, oldest first.
func (e *Engine) Events() []models.LiquidationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.LiquidationEvent, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.Before(out[j].InitiatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenLiquidation returns the initiated liquidation of a loan, if any.
func (e *Engine) OpenLiquidation(loanID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.open[loanID]
	return id, ok
}

// Triggers returns the trigger log of a loan.
func (e *Engine) Triggers(loanID string) []models.LiquidationTrigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.LiquidationTrigger(nil), e.triggers[loanID]...)
}

// Proceeds returns the distribution of a completed liquidation.
func (e *Engine) Proceeds(liquidationID string) (models.LiquidationProceeds, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proceeds[liquidationID]
	return p, ok
}
