// Package origination runs loan applications from submission through risk
// review to approval, which originates the loan in the lending pool, and keeps
// the audit ledger of loan payments.
package origination

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/pool"
	"github.com/rewired-gh/rwaledger/internal/registry"
)

// Workflow holds applications, their assessments and the payment ledger.
// Lock order is Workflow before the registry.
type Workflow struct {
	mu sync.Mutex

	reg  *registry.Registry
	pool *pool.Pool
	auth auth.Authorizer
	now  func() time.Time

	apps        map[string]*models.LoanApplication
	assessments map[string]models.RiskAssessment
	payments    map[string][]models.Payment
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// New creates a workflow that originates loans in p.
func New(reg *registry.Registry, p *pool.Pool, a auth.Authorizer, opts ...Option) *Workflow {
	w := &Workflow{
		reg:         reg,
		pool:        p,
		auth:        a,
		now:         time.Now,
		apps:        make(map[string]*models.LoanApplication),
		assessments: make(map[string]models.RiskAssessment),
		payments:    make(map[string][]models.Payment),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SubmitApplication records a pending application after checking that every
// collateral token could back a loan for borrower right now.
func (w *Workflow) SubmitApplication(borrower string, amount int64, collateral []string, purpose string, termDays int) (string, error) {
	if !auth.Registered(w.auth, borrower) {
		return "", models.Errorf(models.ErrNotAuthorized, "unknown borrower %s", borrower)
	}
	if amount <= 0 {
		return "", models.Errorf(models.ErrInvalidAmount, "requested amount must be positive, got %d", amount)
	}
	if termDays < models.MinTermDays || termDays > models.MaxTermDays {
		return "", models.Errorf(models.ErrInvalidTerm, "term must be between %d and %d days, got %d",
			models.MinTermDays, models.MaxTermDays, termDays)
	}
	if len(collateral) == 0 {
		return "", models.Errorf(models.ErrInvalidCollateral, "at least one collateral token is required")
	}
	seen := make(map[string]struct{}, len(collateral))
	for _, id := range collateral {
		if _, dup := seen[id]; dup {
			return "", models.Errorf(models.ErrInvalidCollateral, "token %s listed twice", id)
		}
		seen[id] = struct{}{}
		tok, err := w.reg.GetTokenData(id)
		if err != nil {
			return "", err
		}
		if err := pool.ValidateCollateral(tok, borrower); err != nil {
			return "", err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	app := &models.LoanApplication{
		ID:                 uuid.New().String(),
		Borrower:           borrower,
		RequestedAmount:    amount,
		CollateralTokenIDs: append([]string(nil), collateral...),
		Purpose:            strings.TrimSpace(purpose),
		TermDays:           termDays,
		Status:             models.ApplicationPending,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
	if err := app.Validate(); err != nil {
		return "", models.Errorf(models.ErrInvalidInput, "%v", err)
	}
	w.apps[app.ID] = app
	logger.Info("Loan application %s submitted by %s for %d over %d days", app.ID, borrower, amount, termDays)
	return app.ID, nil
}

// ConductRiskAssessment scores an open application against current collateral
// values and moves it under review.
func (w *Workflow) ConductRiskAssessment(appID, assessor string) (models.RiskAssessment, error) {
	if !auth.HasAny(w.auth, assessor, auth.RoleVerifier, auth.RoleAdmin) {
		return models.RiskAssessment{}, models.Errorf(models.ErrNotAuthorized, "actor %s cannot assess risk", assessor)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	app, err := w.open(appID)
	if err != nil {
		return models.RiskAssessment{}, err
	}
	var value int64
	for _, id := range app.CollateralTokenIDs {
		tok, err := w.reg.GetTokenData(id)
		if err != nil {
			return models.RiskAssessment{}, err
		}
		value += tok.Valuation
	}

	a := AssessRisk(*app, value)
	w.assessments[appID] = a
	app.Status = models.ApplicationUnderReview
	app.ReviewedBy = assessor
	app.UpdatedAt = w.now()
	logger.Info("Application %s assessed by %s: LTV %d%%, score %d, %s",
		appID, assessor, a.LoanToValueRatio, a.RiskScore, a.RecommendedAction)
	return a, nil
}

// ApproveApplication originates the loan for an assessed application. The
// collateral locks and the loan are created together or not at all, and the
// application is only marked approved once the loan exists.
func (w *Workflow) ApproveApplication(appID, approver string) (string, error) {
	if !auth.HasAny(w.auth, approver, auth.RoleAdmin, auth.RoleLendingProtocol) {
		return "", models.Errorf(models.ErrNotAuthorized, "actor %s cannot approve applications", approver)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	app, err := w.open(appID)
	if err != nil {
		return "", err
	}
	a, ok := w.assessments[appID]
	if !ok {
		return "", models.Errorf(models.ErrAssessmentMissing, "application %s has not been assessed", appID)
	}
	if a.RecommendedAction == models.RecommendReject {
		return "", models.Errorf(models.ErrAssessmentRejected, "application %s was assessed as reject", appID)
	}

	loanID, err := w.pool.BorrowForTerm(app.CollateralTokenIDs, app.RequestedAmount, app.Borrower, app.TermDays)
	if err != nil {
		logger.Debug("Approval of application %s failed: %v", appID, err)
		return "", err
	}

	app.Status = models.ApplicationApproved
	app.ReviewedBy = approver
	app.LoanID = loanID
	app.UpdatedAt = w.now()
	logger.Info("Application %s approved by %s as loan %s", appID, approver, loanID)
	return loanID, nil
}

// RejectApplication closes an open application.
func (w *Workflow) RejectApplication(appID, actor, notes string) error {
	if !auth.HasAny(w.auth, actor, auth.RoleAdmin, auth.RoleVerifier) {
		return models.Errorf(models.ErrNotAuthorized, "actor %s cannot reject applications", actor)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	app, err := w.open(appID)
	if err != nil {
		return err
	}
	app.Status = models.ApplicationRejected
	app.ReviewedBy = actor
	app.ReviewNotes = notes
	app.UpdatedAt = w.now()
	logger.Info("Application %s rejected by %s", appID, actor)
	return nil
}

// WithdrawApplication lets the borrower close their own open application.
func (w *Workflow) WithdrawApplication(appID, actor string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	app, err := w.open(appID)
	if err != nil {
		return err
	}
	if app.Borrower != actor {
		return models.Errorf(models.ErrNotOwner, "actor %s did not submit application %s", actor, appID)
	}
	app.Status = models.ApplicationWithdrawn
	app.UpdatedAt = w.now()
	logger.Info("Application %s withdrawn by %s", appID, actor)
	return nil
}

// MakeLoanPayment repays a loan through the pool and records the payment.
func (w *Workflow) MakeLoanPayment(loanID string, amount int64, payer string) (models.Payment, error) {
	loan, err := w.pool.Loan(loanID)
	if err != nil {
		return models.Payment{}, err
	}
	rcpt, err := w.pool.RepayWithReceipt(loanID, amount, payer)
	if err != nil {
		return models.Payment{}, err
	}

	now := w.now()
	pay := models.Payment{
		ID:        uuid.New().String(),
		LoanID:    loanID,
		Payer:     payer,
		Amount:    rcpt.Applied,
		Type:      classify(rcpt, loan.DueDate, now),
		Remaining: rcpt.Remaining,
		PaidAt:    now,
	}

	w.mu.Lock()
	w.payments[loanID] = append(w.payments[loanID], pay)
	w.mu.Unlock()

	logger.Info("Payment %s of %d on loan %s recorded as %s", pay.ID, pay.Amount, loanID, pay.Type)
	return pay, nil
}

func classify(rcpt models.RepaymentReceipt, due, now time.Time) models.PaymentType {
	switch {
	case rcpt.FullyRepaid:
		return models.PaymentFullRepayment
	case now.After(due):
		return models.PaymentPenalty
	case rcpt.Applied <= rcpt.InterestPortion:
		return models.PaymentInterest
	default:
		return models.PaymentPrincipal
	}
}

// Application returns a copy of an application.
func (w *Workflow) Application(id string) (models.LoanApplication, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	app, ok := w.apps[id]
	if !ok {
		return models.LoanApplication{}, models.Errorf(models.ErrApplicationMissing, "application %s", id)
	}
	return app.Clone(), nil
}

// Applications returns copies of a borrower's applications, oldest first.
func (w *Workflow) Applications(borrower string) []models.LoanApplication {
	return w.filter(func(app *models.LoanApplication) bool { return app.Borrower == borrower })
}

// PendingApplications returns copies of every application still awaiting a
// decision, oldest first.
func (w *Workflow) PendingApplications() []models.LoanApplication {
	return w.filter(func(app *models.LoanApplication) bool { return !app.Status.Terminal() })
}

func (w *Workflow) filter(keep func(*models.LoanApplication) bool) []models.LoanApplication {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []models.LoanApplication
	for _, app := range w.apps {
		if keep(app) {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Assessment returns the latest risk assessment of an application.
func (w *Workflow) Assessment(appID string) (models.RiskAssessment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.assessments[appID]
	return a, ok
}

// Payments returns the payment ledger of a loan in payment order.
func (w *Workflow) Payments(loanID string) []models.Payment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.Payment(nil), w.payments[loanID]...)
}

// open returns an application that still accepts transitions.
func (w *Workflow) open(id string) (*models.LoanApplication, error) {
	app, ok := w.apps[id]
	if !ok {
		return nil, models.Errorf(models.ErrApplicationMissing, "application %s", id)
	}
	if app.Status.Terminal() {
		return nil, models.Errorf(models.ErrApplicationClosed, "application %s is %s", id, app.Status)
	}
	return app, nil
}
