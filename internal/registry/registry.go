// Package registry is the asset registry: it mints tokens for verified
// off-chain assets and tracks their ownership, valuation, verification state
// and collateral locks.
//
// The registry's lock is the consistency domain shared with the lending pool.
// Multi-step work runs inside WithinTx, which replays an undo log if the step
// function fails, so a failed operation leaves no partial state behind.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/models"
)

// DefaultMinValuation is the smallest valuation accepted at tokenization.
const DefaultMinValuation int64 = 10_000

// Registry holds asset tokens and the per-owner index.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]*models.AssetToken
	owners map[string]map[string]struct{}
	paused bool

	auth         auth.Authorizer
	minValuation int64
	now          func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMinValuation overrides the tokenization valuation floor.
func WithMinValuation(v int64) Option {
	return func(r *Registry) { r.minValuation = v }
}

// New creates an empty registry gated by a.
func New(a auth.Authorizer, opts ...Option) *Registry {
	r := &Registry{
		tokens:       make(map[string]*models.AssetToken),
		owners:       make(map[string]map[string]struct{}),
		auth:         a,
		minValuation: DefaultMinValuation,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TokenizeParams describes an asset to mint.
type TokenizeParams struct {
	AssetType  models.AssetType
	Owner      string
	Valuation  int64
	Metadata   models.AssetMetadata
	Compliance models.ComplianceChecks
}

// Verification carries the compliance results behind a status change.
type Verification struct {
	Checks models.ComplianceChecks
	Notes  string
}

// ValuationUpdate replaces an asset's valuation and appraisal metadata.
// A zero AppraisalDate means "now"; DocumentHashes are appended when given.
type ValuationUpdate struct {
	Valuation      int64
	AppraisalDate  time.Time
	DocumentHashes []string
}

// Tokenize mints a token for a verified off-chain asset.
func (r *Registry) Tokenize(p TokenizeParams, verifier string) (models.AssetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		return models.AssetToken{}, models.Errorf(models.ErrSystemPaused, "registry is paused")
	}
	now := r.now()
	if err := p.Metadata.Validate(now); err != nil {
		return models.AssetToken{}, models.Errorf(models.ErrInvalidMetadata, "%v", err)
	}
	if !auth.HasAny(r.auth, verifier, auth.RoleVerifier, auth.RoleAdmin) {
		return models.AssetToken{}, models.Errorf(models.ErrNotAuthorized, "actor %s cannot tokenize assets", verifier)
	}
	if strings.TrimSpace(p.Owner) == "" {
		return models.AssetToken{}, models.Errorf(models.ErrInvalidInput, "owner must not be empty")
	}
	if !p.AssetType.Valid() {
		return models.AssetToken{}, models.Errorf(models.ErrInvalidInput, "unknown asset type %q", p.AssetType)
	}
	if p.Valuation < r.minValuation {
		return models.AssetToken{}, models.Errorf(models.ErrAssetValueTooLow,
			"valuation %d is below minimum %d", p.Valuation, r.minValuation)
	}

	status := models.VerificationPending
	if p.Compliance.Passed() {
		status = models.VerificationApproved
	}

	meta := p.Metadata
	meta.DocumentHashes = append([]string(nil), p.Metadata.DocumentHashes...)
	tok := &models.AssetToken{
		ID:                 uuid.New().String(),
		AssetType:          p.AssetType,
		Owner:              p.Owner,
		Valuation:          p.Valuation,
		VerificationStatus: status,
		Compliance:         p.Compliance,
		Metadata:           meta,
		CreatedAt:          now,
		LastUpdated:        now,
	}
	r.tokens[tok.ID] = tok
	r.addOwner(tok.Owner, tok.ID)

	logger.Info("Minted asset token %s (%s) for %s, valuation %d, status %s",
		tok.ID, tok.AssetType, tok.Owner, tok.Valuation, tok.VerificationStatus)
	return tok.Clone(), nil
}

// UpdateVerificationStatus changes a token's verification state. Approval
// requires all four compliance checks.
func (r *Registry) UpdateVerificationStatus(id string, status models.VerificationStatus, v Verification, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !auth.HasAny(r.auth, actor, auth.RoleVerifier, auth.RoleAdmin) {
		return models.Errorf(models.ErrNotAuthorized, "actor %s cannot update verification", actor)
	}
	if !status.Valid() {
		return models.Errorf(models.ErrInvalidInput, "unknown verification status %q", status)
	}
	tok, err := r.get(id)
	if err != nil {
		return err
	}
	if status == models.VerificationApproved && !v.Checks.Passed() {
		return models.Errorf(models.ErrComplianceCheckFailed, "all compliance checks must pass to approve %s", id)
	}
	if tok.IsLocked && status != models.VerificationApproved {
		return models.Errorf(models.ErrAssetLocked, "token %s backs loan %s", id, tok.LoanID)
	}

	tok.VerificationStatus = status
	tok.Compliance = v.Checks
	tok.LastUpdated = r.now()
	logger.Info("Asset token %s verification set to %s by %s", id, status, actor)
	return nil
}

// Transfer moves a token to a new owner.
func (r *Registry) Transfer(id, to, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused {
		return models.Errorf(models.ErrSystemPaused, "registry is paused")
	}
	tok, err := r.get(id)
	if err != nil {
		return err
	}
	if tok.Owner != actor && !r.auth.HasRole(actor, auth.RoleAdmin) {
		return models.Errorf(models.ErrNotOwner, "actor %s does not own token %s", actor, id)
	}
	if strings.TrimSpace(to) == "" || to == tok.Owner {
		return models.Errorf(models.ErrInvalidInput, "invalid recipient %q", to)
	}
	if tok.VerificationStatus != models.VerificationApproved {
		return models.Errorf(models.ErrAssetNotVerified, "token %s is %s", id, tok.VerificationStatus)
	}
	if tok.IsLocked {
		return models.Errorf(models.ErrAssetLocked, "token %s backs loan %s", id, tok.LoanID)
	}

	from := tok.Owner
	r.moveOwner(tok, to)
	tok.LastUpdated = r.now()
	logger.Info("Asset token %s transferred from %s to %s", id, from, to)
	return nil
}

// UpdateValuation replaces the valuation of an approved token.
func (r *Registry) UpdateValuation(id string, u ValuationUpdate, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !auth.HasAny(r.auth, actor, auth.RoleVerifier, auth.RoleAdmin) {
		return models.Errorf(models.ErrNotAuthorized, "actor %s cannot update valuations", actor)
	}
	if u.Valuation <= 0 {
		return models.Errorf(models.ErrInvalidAmount, "valuation must be positive")
	}
	for _, h := range u.DocumentHashes {
		if !models.IsContentHash(h) {
			return models.Errorf(models.ErrInvalidMetadata, "unrecognized document hash %s", h)
		}
	}
	now := r.now()
	date := u.AppraisalDate
	if date.IsZero() {
		date = now
	}
	if date.After(now) {
		return models.Errorf(models.ErrInvalidMetadata, "appraisal date must not be in the future")
	}
	tok, err := r.get(id)
	if err != nil {
		return err
	}
	if tok.VerificationStatus != models.VerificationApproved {
		return models.Errorf(models.ErrAssetNotVerified, "token %s is %s", id, tok.VerificationStatus)
	}

	old := tok.Valuation
	tok.Valuation = u.Valuation
	tok.Metadata.AppraisalValue = u.Valuation
	tok.Metadata.AppraisalDate = date
	tok.Metadata.DocumentHashes = append(tok.Metadata.DocumentHashes, u.DocumentHashes...)
	tok.LastUpdated = now
	logger.Info("Asset token %s revalued %d -> %d by %s", id, old, u.Valuation, actor)
	return nil
}

// LockForCollateral pledges a token to a loan.
func (r *Registry) LockForCollateral(id, loanID, actor string) error {
	return r.WithinTx(func(tx *Tx) error { return tx.Lock(id, loanID, actor) })
}

// UnlockFromCollateral releases a pledged token.
func (r *Registry) UnlockFromCollateral(id, actor string) error {
	return r.WithinTx(func(tx *Tx) error { return tx.Unlock(id, actor) })
}

// Pause stops minting, transfers and new collateral locks.
func (r *Registry) Pause(actor string) error {
	return r.setPaused(actor, true)
}

// Unpause lifts an emergency pause.
func (r *Registry) Unpause(actor string) error {
	return r.setPaused(actor, false)
}

func (r *Registry) setPaused(actor string, paused bool) error {
	if !r.auth.HasRole(actor, auth.RoleAdmin) {
		return models.Errorf(models.ErrNotAuthorized, "actor %s cannot change pause state", actor)
	}
	r.mu.Lock()
	r.paused = paused
	r.mu.Unlock()
	logger.Warn("Registry paused=%v by %s", paused, actor)
	return nil
}

// Paused reports whether the registry is emergency-paused.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// GetTokenData returns a copy of a token.
func (r *Registry) GetTokenData(id string) (models.AssetToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, err := r.get(id)
	if err != nil {
		return models.AssetToken{}, err
	}
	return tok.Clone(), nil
}

// GetOwnerTokens lists the token IDs held by owner, sorted.
func (r *Registry) GetOwnerTokens(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.owners[owner]))
	for id := range r.owners[owner] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// VerifyOwnership reports whether owner currently holds token id.
func (r *Registry) VerifyOwnership(id, owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[id]
	return ok && tok.Owner == owner
}

// IsTokenLocked reports whether token id is pledged. Unknown tokens are unlocked.
func (r *Registry) IsTokenLocked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[id]
	return ok && tok.IsLocked
}

// Snapshot returns copies of all tokens ordered by creation time.
func (r *Registry) Snapshot() []models.AssetToken {
	var out []models.AssetToken
	_ = r.View(func(tx *Tx) error {
		out = tx.Tokens()
		return nil
	})
	return out
}

func (r *Registry) get(id string) (*models.AssetToken, error) {
	tok, ok := r.tokens[id]
	if !ok {
		return nil, models.Errorf(models.ErrTokenNotFound, "token %s", id)
	}
	return tok, nil
}

func (r *Registry) addOwner(owner, id string) {
	set, ok := r.owners[owner]
	if !ok {
		set = make(map[string]struct{})
		r.owners[owner] = set
	}
	set[id] = struct{}{}
}

func (r *Registry) removeOwner(owner, id string) {
	set := r.owners[owner]
	delete(set, id)
	if len(set) == 0 {
		delete(r.owners, owner)
	}
}

// moveOwner is the only place that changes tok.Owner; it keeps both indexes in step.
func (r *Registry) moveOwner(tok *models.AssetToken, to string) {
	r.removeOwner(tok.Owner, tok.ID)
	tok.Owner = to
	r.addOwner(to, tok.ID)
}
