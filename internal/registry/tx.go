package registry

import (
	"sort"

	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/logger"
	"github.com/rewired-gh/rwaledger/internal/models"
)

// Tx is a unit of work inside the registry's consistency domain. It must not
// escape the function it was handed to.
type Tx struct {
	r        *Registry
	writable bool
	undo     []func()
}

// WithinTx runs fn under the registry's exclusive lock. If fn fails, every
// mutation applied through tx is reverted in reverse order before returning.
// Callers may keep their own state behind this lock as long as they mutate it
// only after the last fallible step.
func (r *Registry) WithinTx(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &Tx{r: r, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// View runs fn under the registry's shared lock. Mutations through tx fail.
func (r *Registry) View(fn func(tx *Tx) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(&Tx{r: r})
}

func (tx *Tx) rollback() {
	if len(tx.undo) == 0 {
		return
	}
	logger.Debug("Rolling back %d registry mutations", len(tx.undo))
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// checkpoint saves tok so a failed transaction restores it, including its owner index entry.
func (tx *Tx) checkpoint(tok *models.AssetToken) {
	prev := tok.Clone()
	r := tx.r
	tx.undo = append(tx.undo, func() {
		if tok.Owner != prev.Owner {
			r.moveOwner(tok, prev.Owner)
		}
		*tok = prev
	})
}

func (tx *Tx) mutable() error {
	if !tx.writable {
		return models.Errorf(models.ErrStateConflict, "read-only transaction")
	}
	return nil
}

// Token returns a copy of token id.
func (tx *Tx) Token(id string) (models.AssetToken, error) {
	tok, err := tx.r.get(id)
	if err != nil {
		return models.AssetToken{}, err
	}
	return tok.Clone(), nil
}

// Tokens returns copies of every token ordered by creation time.
func (tx *Tx) Tokens() []models.AssetToken {
	out := make([]models.AssetToken, 0, len(tx.r.tokens))
	for _, tok := range tx.r.tokens {
		out = append(out, tok.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Paused reports the registry's pause flag.
func (tx *Tx) Paused() bool {
	return tx.r.paused
}

// Lock pledges token id to loanID. Only the lending protocol may lock.
func (tx *Tx) Lock(id, loanID, actor string) error {
	if err := tx.mutable(); err != nil {
		return err
	}
	r := tx.r
	if !r.auth.HasRole(actor, auth.RoleLendingProtocol) {
		return models.Errorf(models.ErrNotAuthorized, "actor %s cannot lock collateral", actor)
	}
	if r.paused {
		return models.Errorf(models.ErrSystemPaused, "registry is paused")
	}
	if loanID == "" {
		return models.Errorf(models.ErrInvalidInput, "loan ID must not be empty")
	}
	tok, err := r.get(id)
	if err != nil {
		return err
	}
	if tok.IsLocked {
		return models.Errorf(models.ErrAssetLocked, "token %s already backs loan %s", id, tok.LoanID)
	}
	if tok.VerificationStatus != models.VerificationApproved {
		return models.Errorf(models.ErrAssetNotVerified, "token %s is %s", id, tok.VerificationStatus)
	}

	tx.checkpoint(tok)
	tok.IsLocked = true
	tok.LoanID = loanID
	tok.LastUpdated = r.now()
	return nil
}

// Unlock releases a pledged token. Only the lending protocol may unlock.
func (tx *Tx) Unlock(id, actor string) error {
	if err := tx.mutable(); err != nil {
		return err
	}
	r := tx.r
	if !r.auth.HasRole(actor, auth.RoleLendingProtocol) {
		return models.Errorf(models.ErrNotAuthorized, "actor %s cannot unlock collateral", actor)
	}
	tok, err := r.get(id)
	if err != nil {
		return err
	}
	if !tok.IsLocked {
		return models.Errorf(models.ErrAssetNotLocked, "token %s is not locked", id)
	}

	tx.checkpoint(tok)
	tok.IsLocked = false
	tok.LoanID = ""
	tok.LastUpdated = r.now()
	return nil
}

// Seize releases a pledged token and hands it to the liquidator.
func (tx *Tx) Seize(id, to, actor string) error {
	if err := tx.mutable(); err != nil {
		return err
	}
	if to == "" {
		return models.Errorf(models.ErrInvalidInput, "seize recipient must not be empty")
	}
	tok, err := tx.r.get(id)
	if err != nil {
		return err
	}
	tx.checkpoint(tok)
	if err := tx.Unlock(id, actor); err != nil {
		return err
	}
	if tok.Owner != to {
		tx.r.moveOwner(tok, to)
	}
	return nil
}
