// Package monitor periodically values every active loan, raises alerts for
// loans over their liquidation threshold or past due, and suppresses repeats
// within a cooldown.
//
// An LTV alert is re-sent inside the cooldown only when the loan's LTV has
// risen since the last notification. With auto-initiation enabled, LTV
// breaches also open a liquidation with the automated trigger.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/rwaledger/internal/cache"
	"github.com/rewired-gh/rwaledger/internal/liquidation"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/models"
)

// LoanSource exposes the loan book.
type LoanSource interface {
	ActiveLoans() []models.Loan
	LoanHealth(loanID string) (models.LoanHealth, error)
}

// Initiator opens liquidations.
type Initiator interface {
	InitiateLiquidation(loanID, liquidator string, trigger models.TriggerType) (string, error)
	OpenLiquidation(loanID string) (string, bool)
}

// Notifier delivers alerts.
type Notifier interface {
	Send(alerts []models.LiquidationAlert) error
}

// Monitor scans loans and manages alert cooldowns.
type Monitor struct {
	loans     LoanSource
	cooldowns cache.Store
	now       func() time.Time

	initiator Initiator
	actor     string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithAutoInitiate makes RunCycle open liquidations for LTV breaches as actor.
func WithAutoInitiate(i Initiator, actor string) Option {
	return func(m *Monitor) {
		m.initiator = i
		m.actor = actor
	}
}

// New creates a Monitor.
func New(loans LoanSource, cooldowns cache.Store, opts ...Option) *Monitor {
	m := &Monitor{loans: loans, cooldowns: cooldowns, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScanError is a per-loan failure during a scan.
type ScanError struct {
	LoanID string
	Err    error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("scan error for loan %s: %v", e.LoanID, e.Err)
}

// Scan values every active loan. An LTV breach takes precedence over an
// overdue alert for the same loan. Alerts are ordered by LTV, highest first.
func (m *Monitor) Scan() ([]models.LiquidationAlert, []ScanError) {
	now := m.now()
	var alerts []models.LiquidationAlert
	var scanErrors []ScanError
	healthy := 0

	for _, loan := range m.loans.ActiveLoans() {
		h, err := m.loans.LoanHealth(loan.ID)
		if err != nil {
			scanErrors = append(scanErrors, ScanError{LoanID: loan.ID, Err: err})
			continue
		}
		days, penalty := liquidation.Penalty(loan.PrincipalAmount, loan.DueDate, now)

		var reason models.AlertReason
		switch {
		case h.LTV >= loan.LiquidationThreshold:
			reason = models.AlertLTVBreach
		case days > 0:
			reason = models.AlertOverdue
		default:
			healthy++
			continue
		}
		alerts = append(alerts, models.LiquidationAlert{
			LoanID:          loan.ID,
			Borrower:        loan.Borrower,
			Reason:          reason,
			LTV:             h.LTV,
			Threshold:       loan.LiquidationThreshold,
			TotalOwed:       h.TotalOwed,
			CollateralValue: h.CollateralValue,
			DaysOverdue:     days,
			PenaltyAmount:   penalty,
			DetectedAt:      now,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].LTV != alerts[j].LTV {
			return alerts[i].LTV > alerts[j].LTV
		}
		return alerts[i].LoanID < alerts[j].LoanID
	})
	logger.Debug("Scan: healthy=%d, alerts=%d, errors=%d", healthy, len(alerts), len(scanErrors))
	return alerts, scanErrors
}

func cooldownKey(a models.LiquidationAlert) string {
	return a.LoanID + ":" + string(a.Reason)
}

// FilterRecentlySent drops alerts already sent for the same loan and reason
// within cooldown, unless the LTV has risen since. A failing cooldown store
// lets the alert through. Returns a non-nil slice.
func (m *Monitor) FilterRecentlySent(ctx context.Context, alerts []models.LiquidationAlert, cooldown time.Duration) []models.LiquidationAlert {
	now := m.now()
	result := make([]models.LiquidationAlert, 0, len(alerts))
	for _, a := range alerts {
		rec, ok, err := m.cooldowns.Get(ctx, cooldownKey(a))
		if err != nil {
			logger.Warn("Cooldown lookup for loan %s failed: %v", a.LoanID, err)
			result = append(result, a)
			continue
		}
		if ok && now.Sub(rec.SentAt) < cooldown && a.LTV <= rec.LTV {
			continue
		}
		result = append(result, a)
	}
	return result
}

// RecordNotified starts the cooldown for every alert. Call it after a
// successful send.
func (m *Monitor) RecordNotified(ctx context.Context, alerts []models.LiquidationAlert, cooldown time.Duration) error {
	now := m.now()
	for _, a := range alerts {
		if err := m.cooldowns.Put(ctx, cooldownKey(a), cache.Record{LTV: a.LTV, SentAt: now}, cooldown); err != nil {
			return fmt.Errorf("failed to record notification for loan %s: %w", a.LoanID, err)
		}
	}
	return nil
}

// CycleResult summarizes one monitoring cycle.
type CycleResult struct {
	Alerts    int
	Initiated int
	Notified  int
	Errors    []ScanError
}

// RunCycle scans, optionally opens liquidations, then notifies about alerts
// not in cooldown. notifier may be nil, in which case alerts are only logged.
func (m *Monitor) RunCycle(ctx context.Context, notifier Notifier, cooldown time.Duration) (CycleResult, error) {
	alerts, scanErrors := m.Scan()
	res := CycleResult{Alerts: len(alerts), Errors: scanErrors}
	for _, e := range scanErrors {
		logger.Warn("%v", e)
	}

	if m.initiator != nil {
		for i := range alerts {
			if alerts[i].Reason != models.AlertLTVBreach {
				continue
			}
			if id, open := m.initiator.OpenLiquidation(alerts[i].LoanID); open {
				alerts[i].LiquidationID = id
				continue
			}
			id, err := m.initiator.InitiateLiquidation(alerts[i].LoanID, m.actor, models.TriggerAutomated)
			if err != nil {
				logger.Warn("Auto-initiation for loan %s failed: %v", alerts[i].LoanID, err)
				continue
			}
			alerts[i].LiquidationID = id
			res.Initiated++
		}
	}

	toSend := m.FilterRecentlySent(ctx, alerts, cooldown)
	if len(toSend) == 0 {
		logger.Debug("No new alerts after cooldown filter (%d suppressed)", len(alerts))
		return res, nil
	}
	if notifier == nil {
		for _, a := range toSend {
			logger.Warn("Loan %s at risk: %s, LTV %d%%, %d days overdue", a.LoanID, a.Reason, a.LTV, a.DaysOverdue)
		}
	} else if err := notifier.Send(toSend); err != nil {
		return res, fmt.Errorf("failed to send alerts: %w", err)
	}
	if err := m.RecordNotified(ctx, toSend, cooldown); err != nil {
		return res, err
	}
	res.Notified = len(toSend)
	logger.Info("Monitoring cycle: %d alerts, %d notified, %d liquidations initiated", res.Alerts, res.Notified, res.Initiated)
	return res, nil
}
