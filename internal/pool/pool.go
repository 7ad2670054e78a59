// Package pool is the lending pool ledger. It issues pool tokens against
// deposits, originates loans against locked asset tokens and settles them by
// repayment or liquidation.
//
// The pool has no lock of its own. Every operation runs inside the asset
// registry's transaction, so pool and registry state move together, and pool
// fields are written only after the last step that can fail.
package pool

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/registry"
	"github.com/shopspring/decimal"
)

// Defaults for the loan book.
const (
	DefaultMaxLTV          = 70
	DefaultTermDays        = 365
	DefaultProtocolActorID = "lending-protocol"
)

// Pool is the lending pool ledger.
type Pool struct {
	reg      *registry.Registry
	auth     auth.Authorizer
	protocol string

	rates     RateModel
	maxLTV    int64
	threshold int64
	termDays  int
	now       func() time.Time

	state   models.PoolState
	tokens  map[string]*models.PoolToken
	holders map[string]map[string]struct{}
	loans   map[string]*models.Loan
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithRateModel replaces the default kinked rate curve.
func WithRateModel(m RateModel) Option {
	return func(p *Pool) { p.rates = m }
}

// WithMaxLTV sets the origination loan-to-value cap in percent.
func WithMaxLTV(percent int64) Option {
	return func(p *Pool) { p.maxLTV = percent }
}

// WithLiquidationThreshold sets the LTV percent recorded on new loans.
func WithLiquidationThreshold(percent int64) Option {
	return func(p *Pool) { p.threshold = percent }
}

// WithDefaultTerm sets the term used by Borrow.
func WithDefaultTerm(days int) Option {
	return func(p *Pool) { p.termDays = days }
}

// WithReserveFactor sets the percent of accrued interest retained as
// protocol reserves instead of crediting depositors.
func WithReserveFactor(f decimal.Decimal) Option {
	return func(p *Pool) { p.state.ReserveFactor = f }
}

// New creates an empty pool on top of reg. protocolActor must hold the
// lending-protocol role; it is the identity the pool locks collateral with.
func New(reg *registry.Registry, a auth.Authorizer, protocolActor string, opts ...Option) *Pool {
	p := &Pool{
		reg:       reg,
		auth:      a,
		protocol:  protocolActor,
		rates:     DefaultRateModel(),
		maxLTV:    DefaultMaxLTV,
		threshold: models.DefaultLiquidationThreshold,
		termDays:  DefaultTermDays,
		now:       time.Now,
		tokens:    make(map[string]*models.PoolToken),
		holders:   make(map[string]map[string]struct{}),
		loans:     make(map[string]*models.Loan),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state.LastUpdateTime = p.now()
	p.refresh(&p.state)
	return p
}

// Deposit adds liquidity and issues a pool token at the current exchange rate.
func (p *Pool) Deposit(amount int64, depositor string) (string, error) {
	if amount <= 0 {
		return "", models.Errorf(models.ErrInvalidAmount, "deposit must be positive, got %d", amount)
	}
	if depositor == "" {
		return "", models.Errorf(models.ErrInvalidInput, "depositor must not be empty")
	}

	var id string
	err := p.reg.WithinTx(func(tx *registry.Tx) error {
		now := p.now()
		st := p.accrue(now)

		issued := amount
		if st.TotalPoolTokens > 0 && st.TotalDeposits > 0 {
			issued = MulDiv(amount, st.TotalPoolTokens, st.TotalDeposits)
		}
		if issued <= 0 {
			return models.Errorf(models.ErrInvalidAmount, "deposit %d is too small to issue pool tokens", amount)
		}

		st.TotalDeposits += amount
		st.TotalPoolTokens += issued
		p.refresh(&st)

		tok := &models.PoolToken{
			ID:               uuid.New().String(),
			Holder:           depositor,
			Amount:           issued,
			PoolSharePercent: decimal.NewFromInt(issued).Mul(hundred).DivRound(decimal.NewFromInt(st.TotalPoolTokens), 4),
			IssuedAt:         now,
		}
		p.state = st
		p.tokens[tok.ID] = tok
		p.addHolder(depositor, tok.ID)
		id = tok.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Info("Deposit of %d by %s issued pool token %s", amount, depositor, id)
	return id, nil
}

// Withdraw burns a pool token in full and returns its current value.
func (p *Pool) Withdraw(poolTokenID, actor string) (int64, error) {
	var amount int64
	err := p.reg.WithinTx(func(tx *registry.Tx) error {
		tok, ok := p.tokens[poolTokenID]
		if !ok {
			return models.Errorf(models.ErrPoolTokenNotFound, "pool token %s", poolTokenID)
		}
		if tok.Holder != actor {
			return models.Errorf(models.ErrNotOwner, "actor %s does not hold pool token %s", actor, poolTokenID)
		}

		st := p.accrue(p.now())
		amount = MulDiv(tok.Amount, st.TotalDeposits, st.TotalPoolTokens)
		if amount > st.Available() {
			return models.Errorf(models.ErrInsufficientLiquidity,
				"withdrawal of %d exceeds available liquidity %d", amount, st.Available())
		}

		st.TotalDeposits -= amount
		st.TotalPoolTokens -= tok.Amount
		p.refresh(&st)

		p.state = st
		delete(p.tokens, poolTokenID)
		p.removeHolder(tok.Holder, poolTokenID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Info("Pool token %s redeemed by %s for %d", poolTokenID, actor, amount)
	return amount, nil
}

// ValidateCollateral checks that tok can back a new loan for borrower.
func ValidateCollateral(tok models.AssetToken, borrower string) error {
	if tok.Owner != borrower {
		return models.Errorf(models.ErrNotOwner, "borrower %s does not own token %s", borrower, tok.ID)
	}
	if tok.VerificationStatus != models.VerificationApproved {
		return models.Errorf(models.ErrAssetNotVerified, "token %s is %s", tok.ID, tok.VerificationStatus)
	}
	if tok.IsLocked {
		return models.Errorf(models.ErrAssetLocked, "token %s already backs loan %s", tok.ID, tok.LoanID)
	}
	return nil
}

// Borrow originates a loan for the default term.
func (p *Pool) Borrow(collateral []string, amount int64, borrower string) (string, error) {
	return p.BorrowForTerm(collateral, amount, borrower, p.termDays)
}

// BorrowForTerm locks every collateral token and records a loan due after
// termDays. Either all locks and the loan are applied or none are.
func (p *Pool) BorrowForTerm(collateral []string, amount int64, borrower string, termDays int) (string, error) {
	if amount <= 0 {
		return "", models.Errorf(models.ErrInvalidAmount, "loan amount must be positive, got %d", amount)
	}
	if len(collateral) == 0 {
		return "", models.Errorf(models.ErrInvalidCollateral, "at least one collateral token is required")
	}
	if termDays < models.MinTermDays || termDays > models.MaxTermDays {
		return "", models.Errorf(models.ErrInvalidTerm, "term of %d days is out of range", termDays)
	}
	seen := make(map[string]struct{}, len(collateral))
	for _, id := range collateral {
		if _, dup := seen[id]; dup {
			return "", models.Errorf(models.ErrInvalidCollateral, "token %s listed twice", id)
		}
		seen[id] = struct{}{}
	}

	var loan *models.Loan
	err := p.reg.WithinTx(func(tx *registry.Tx) error {
		now := p.now()
		st := p.accrue(now)

		var value int64
		for _, id := range collateral {
			tok, err := tx.Token(id)
			if err != nil {
				return err
			}
			if err := ValidateCollateral(tok, borrower); err != nil {
				return err
			}
			value += tok.Valuation
		}
		maxLoan := MulDiv(value, p.maxLTV, 100)
		if amount > maxLoan {
			return models.Errorf(models.ErrInsufficientCollateral,
				"requested %d exceeds maximum loan %d for collateral worth %d", amount, maxLoan, value)
		}
		if amount > st.Available() {
			return models.Errorf(models.ErrInsufficientLiquidity,
				"requested %d exceeds available liquidity %d", amount, st.Available())
		}

		id := uuid.New().String()
		for _, tokID := range collateral {
			if err := tx.Lock(tokID, id, p.protocol); err != nil {
				return err
			}
		}

		l := &models.Loan{
			ID:                   id,
			Borrower:             borrower,
			CollateralTokenIDs:   append([]string(nil), collateral...),
			PrincipalAmount:      amount,
			InterestRate:         st.InterestRate,
			CreatedAt:            now,
			DueDate:              now.AddDate(0, 0, termDays),
			Status:               models.LoanActive,
			LiquidationThreshold: p.threshold,
		}
		st.TotalBorrows += amount
		p.refresh(&st)

		p.state = st
		p.loans[id] = l
		loan = l
		return nil
	})
	if err != nil {
		logger.Debug("Borrow of %d by %s rejected: %v", amount, borrower, err)
		return "", err
	}
	logger.Info("Loan %s originated for %s: principal %d at %s%%, %d collateral tokens",
		loan.ID, borrower, amount, loan.InterestRate.String(), len(collateral))
	return loan.ID, nil
}

// Repay applies a repayment and reports whether the loan is now closed.
func (p *Pool) Repay(loanID string, amount int64, actor string) (bool, error) {
	rcpt, err := p.RepayWithReceipt(loanID, amount, actor)
	if err != nil {
		return false, err
	}
	return rcpt.FullyRepaid, nil
}

// RepayWithReceipt applies a repayment capped at the amount still owed,
// interest first. Closing the loan unlocks all its collateral.
func (p *Pool) RepayWithReceipt(loanID string, amount int64, actor string) (models.RepaymentReceipt, error) {
	if amount <= 0 {
		return models.RepaymentReceipt{}, models.Errorf(models.ErrInvalidAmount, "repayment must be positive, got %d", amount)
	}

	var rcpt models.RepaymentReceipt
	err := p.reg.WithinTx(func(tx *registry.Tx) error {
		loan, err := p.loan(loanID)
		if err != nil {
			return err
		}
		if loan.Borrower != actor {
			return models.Errorf(models.ErrNotOwner, "actor %s is not the borrower of loan %s", actor, loanID)
		}
		if loan.Status != models.LoanActive {
			return models.Errorf(models.ErrLoanNotActive, "loan %s is %s", loanID, loan.Status)
		}

		now := p.now()
		st := p.accrue(now)
		owed := p.totalOwed(loan, now)
		applied := min(amount, owed-loan.RepaidAmount)
		interestDue := max(0, owed-loan.PrincipalAmount-loan.RepaidAmount)
		repaid := loan.RepaidAmount + applied
		full := repaid >= owed

		if full {
			for _, id := range loan.CollateralTokenIDs {
				if err := tx.Unlock(id, p.protocol); err != nil {
					return err
				}
			}
			st.TotalBorrows -= loan.PrincipalAmount
		}
		p.refresh(&st)

		p.state = st
		loan.RepaidAmount = repaid
		if full {
			loan.Status = models.LoanRepaid
		}
		rcpt = models.RepaymentReceipt{
			LoanID:          loanID,
			Applied:         applied,
			InterestPortion: min(applied, interestDue),
			Remaining:       owed - repaid,
			FullyRepaid:     full,
		}
		return nil
	})
	if err != nil {
		return models.RepaymentReceipt{}, err
	}
	if rcpt.FullyRepaid {
		logger.Info("Loan %s fully repaid by %s", loanID, actor)
	} else {
		logger.Info("Loan %s repayment of %d applied, %d remaining", loanID, rcpt.Applied, rcpt.Remaining)
	}
	return rcpt, nil
}

// Liquidate is the pool's direct liquidation path: an undercollateralized
// loan is closed, its collateral handed to the liquidator, and the collateral
// value distributed pro rata over pool tokens.
func (p *Pool) Liquidate(loanID, liquidator string) ([]models.Distribution, error) {
	if !auth.Registered(p.auth, liquidator) {
		return nil, models.Errorf(models.ErrNotAuthorized, "unknown liquidator %s", liquidator)
	}

	var payouts []models.Distribution
	err := p.reg.WithinTx(func(tx *registry.Tx) error {
		loan, err := p.loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return models.Errorf(models.ErrLoanNotActive, "loan %s is %s", loanID, loan.Status)
		}

		now := p.now()
		st := p.accrue(now)
		health, err := p.health(tx, loan, now)
		if err != nil {
			return err
		}
		if health.LTV < loan.LiquidationThreshold {
			return models.Errorf(models.ErrLiquidationNotWarranted,
				"loan %s LTV %d%% is below threshold %d%%", loanID, health.LTV, loan.LiquidationThreshold)
		}
		for _, id := range loan.CollateralTokenIDs {
			if err := tx.Seize(id, liquidator, p.protocol); err != nil {
				return err
			}
		}

		payouts = p.distribute(health.CollateralValue)
		st.TotalBorrows -= loan.PrincipalAmount
		p.refresh(&st)

		p.state = st
		loan.Status = models.LoanLiquidated
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Warn("Loan %s liquidated by %s, proceeds split over %d pool tokens", loanID, liquidator, len(payouts))
	return payouts, nil
}

// SettleLiquidation closes an active loan on behalf of the liquidation
// engine. Collateral goes to the liquidator; the engine recovers
// min(collateral value, total owed less repayments), and any unrepaid
// principal that recovery does not cover is written off against deposits.
// The health used is returned.
func (p *Pool) SettleLiquidation(loanID, liquidator string) (models.LoanHealth, error) {
	if !auth.Registered(p.auth, liquidator) {
		return models.LoanHealth{}, models.Errorf(models.ErrNotAuthorized, "unknown liquidator %s", liquidator)
	}

	var health models.LoanHealth
	var writeOff int64
	err := p.reg.WithinTx(func(tx *registry.Tx) error {
		loan, err := p.loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return models.Errorf(models.ErrLoanNotActive, "loan %s is %s", loanID, loan.Status)
		}

		now := p.now()
		st := p.accrue(now)
		health, err = p.health(tx, loan, now)
		if err != nil {
			return err
		}
		for _, id := range loan.CollateralTokenIDs {
			if err := tx.Seize(id, liquidator, p.protocol); err != nil {
				return err
			}
		}

		recovered := min(health.CollateralValue, max(0, health.TotalOwed-loan.RepaidAmount))
		writeOff = max(0, loan.PrincipalAmount-loan.RepaidAmount-recovered)
		st.TotalBorrows -= loan.PrincipalAmount
		st.TotalDeposits -= writeOff
		p.refresh(&st)

		p.state = st
		loan.Status = models.LoanLiquidated
		return nil
	})
	if err != nil {
		return models.LoanHealth{}, err
	}
	if writeOff > 0 {
		logger.Warn("Loan %s settled with a principal shortfall of %d written off", loanID, writeOff)
	}
	logger.Info("Loan %s settled by liquidation to %s at LTV %d%%", loanID, liquidator, health.LTV)
	return health, nil
}

// LoanHealth values a loan against its collateral as of now.
func (p *Pool) LoanHealth(loanID string) (models.LoanHealth, error) {
	var h models.LoanHealth
	err := p.reg.View(func(tx *registry.Tx) error {
		loan, err := p.loan(loanID)
		if err != nil {
			return err
		}
		h, err = p.health(tx, loan, p.now())
		return err
	})
	return h, err
}

// Quote returns the amount needed to close a loan now.
func (p *Pool) Quote(loanID string) (int64, error) {
	var remaining int64
	err := p.reg.View(func(tx *registry.Tx) error {
		loan, err := p.loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return nil
		}
		remaining = p.totalOwed(loan, p.now()) - loan.RepaidAmount
		return nil
	})
	return remaining, err
}

// TotalOwed is principal plus simple interest at the loan's rate snapshot.
func TotalOwed(loan models.Loan, now time.Time) int64 {
	return loan.PrincipalAmount + SimpleInterest(loan.PrincipalAmount, loan.InterestRate, now.Sub(loan.CreatedAt))
}

// State returns the aggregate pool state as of the last mutation.
func (p *Pool) State() models.PoolState {
	var st models.PoolState
	_ = p.reg.View(func(*registry.Tx) error {
		st = p.state
		return nil
	})
	return st
}

// PoolToken returns a copy of a pool token.
func (p *Pool) PoolToken(id string) (models.PoolToken, error) {
	var out models.PoolToken
	err := p.reg.View(func(*registry.Tx) error {
		tok, ok := p.tokens[id]
		if !ok {
			return models.Errorf(models.ErrPoolTokenNotFound, "pool token %s", id)
		}
		out = *tok
		return nil
	})
	return out, err
}

// HolderTokens lists the pool token IDs held by holder, sorted.
func (p *Pool) HolderTokens(holder string) []string {
	var ids []string
	_ = p.reg.View(func(*registry.Tx) error {
		for id := range p.holders[holder] {
			ids = append(ids, id)
		}
		return nil
	})
	sort.Strings(ids)
	return ids
}

// PoolTokens returns copies of all outstanding pool tokens ordered by issue time.
func (p *Pool) PoolTokens() []models.PoolToken {
	var out []models.PoolToken
	_ = p.reg.View(func(*registry.Tx) error {
		out = p.poolTokens()
		return nil
	})
	return out
}

// Loan returns a copy of a loan.
func (p *Pool) Loan(id string) (models.Loan, error) {
	var out models.Loan
	err := p.reg.View(func(*registry.Tx) error {
		l, err := p.loan(id)
		if err != nil {
			return err
		}
		out = l.Clone()
		return nil
	})
	return out, err
}

// Loans returns copies of every loan ordered by origination time.
func (p *Pool) Loans() []models.Loan {
	return p.filterLoans(func(*models.Loan) bool { return true })
}

// ActiveLoans returns copies of the loans still open.
func (p *Pool) ActiveLoans() []models.Loan {
	return p.filterLoans(func(l *models.Loan) bool { return l.Status == models.LoanActive })
}

// Snapshot captures assets, pool state, pool tokens and loans under one read lock.
func (p *Pool) Snapshot() models.LedgerSnapshot {
	var snap models.LedgerSnapshot
	_ = p.reg.View(func(tx *registry.Tx) error {
		snap = models.LedgerSnapshot{
			SavedAt:    p.now(),
			Assets:     tx.Tokens(),
			Pool:       p.state,
			PoolTokens: p.poolTokens(),
			Loans:      p.sortedLoans(func(*models.Loan) bool { return true }),
		}
		return nil
	})
	return snap
}

func (p *Pool) filterLoans(keep func(*models.Loan) bool) []models.Loan {
	var out []models.Loan
	_ = p.reg.View(func(*registry.Tx) error {
		out = p.sortedLoans(keep)
		return nil
	})
	return out
}

func (p *Pool) sortedLoans(keep func(*models.Loan) bool) []models.Loan {
	out := make([]models.Loan, 0, len(p.loans))
	for _, l := range p.loans {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *Pool) poolTokens() []models.PoolToken {
	out := make([]models.PoolToken, 0, len(p.tokens))
	for _, tok := range p.tokens {
		out = append(out, *tok)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *Pool) loan(id string) (*models.Loan, error) {
	l, ok := p.loans[id]
	if !ok {
		return nil, models.Errorf(models.ErrLoanNotFound, "loan %s", id)
	}
	return l, nil
}

func (p *Pool) totalOwed(l *models.Loan, now time.Time) int64 {
	return TotalOwed(*l, now)
}

func (p *Pool) health(tx *registry.Tx, l *models.Loan, now time.Time) (models.LoanHealth, error) {
	var value int64
	for _, id := range l.CollateralTokenIDs {
		tok, err := tx.Token(id)
		if err != nil {
			return models.LoanHealth{}, err
		}
		value += tok.Valuation
	}
	owed := p.totalOwed(l, now)
	return models.LoanHealth{
		LoanID:          l.ID,
		TotalOwed:       owed,
		CollateralValue: value,
		LTV:             LTV(owed, value),
	}, nil
}

// accrue returns a copy of the state with interest accrued up to now. The
// reserve factor's share of the interest goes to reserves, the rest to
// deposits.
func (p *Pool) accrue(now time.Time) models.PoolState {
	st := p.state
	if now.After(st.LastUpdateTime) {
		interest := SimpleInterest(st.TotalBorrows, st.InterestRate, now.Sub(st.LastUpdateTime))
		reserve := Reserve(interest, st.ReserveFactor)
		st.TotalDeposits += interest - reserve
		st.TotalReserves += reserve
		st.LastUpdateTime = now
	}
	return st
}

func (p *Pool) refresh(st *models.PoolState) {
	st.UtilizationRate = Utilization(st.TotalBorrows, st.TotalDeposits)
	st.InterestRate = p.rates.Rate(st.UtilizationRate)
}

// distribute splits value over pool tokens by amount. Rounding dust goes to
// the largest token so the payouts sum to value.
func (p *Pool) distribute(value int64) []models.Distribution {
	toks := p.poolTokens()
	if len(toks) == 0 || value <= 0 {
		return nil
	}
	var supply int64
	for _, t := range toks {
		supply += t.Amount
	}

	out := make([]models.Distribution, len(toks))
	largest := 0
	var paid int64
	for i, t := range toks {
		share := MulDiv(value, t.Amount, supply)
		out[i] = models.Distribution{PoolTokenID: t.ID, Holder: t.Holder, Amount: share}
		paid += share
		if t.Amount > toks[largest].Amount {
			largest = i
		}
	}
	out[largest].Amount += value - paid
	return out
}

func (p *Pool) addHolder(holder, id string) {
	set, ok := p.holders[holder]
	if !ok {
		set = make(map[string]struct{})
		p.holders[holder] = set
	}
	set[id] = struct{}{}
}

func (p *Pool) removeHolder(holder, id string) {
	set := p.holders[holder]
	delete(set, id)
	if len(set) == 0 {
		delete(p.holders, holder)
	}
}
