// Package models defines the ledger entities shared by the registry, the pool,
// the origination workflow and the liquidation engine.
//
// Amounts and valuations are integers in the smallest currency unit. Rates and
// percentages that are not integral are carried as decimals and truncated, never
// rounded, when they are turned back into amounts.
package models

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// AssetType is the class of off-chain asset behind a token.
type AssetType string

const (
	AssetRealEstate  AssetType = "real_estate"
	AssetEquipment   AssetType = "equipment"
	AssetInventory   AssetType = "inventory"
	AssetReceivables AssetType = "receivables"
	AssetCommodity   AssetType = "commodity"
	AssetVehicle     AssetType = "vehicle"
	AssetOther       AssetType = "other"
)

// Valid reports whether t is one of the known asset types.
func (t AssetType) Valid() bool {
	switch t {
	case AssetRealEstate, AssetEquipment, AssetInventory, AssetReceivables,
		AssetCommodity, AssetVehicle, AssetOther:
		return true
	}
	return false
}

// VerificationStatus is the compliance state of an asset token.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	return s == VerificationPending || s == VerificationApproved || s == VerificationRejected
}

// ComplianceChecks are the four gates required for approval.
type ComplianceChecks struct {
	KYC               bool `json:"kyc"`
	Documentation     bool `json:"documentation"`
	ValuationVerified bool `json:"valuation_verified"`
	LegalClearance    bool `json:"legal_clearance"`
}

// Passed is true only when every check is true.
func (c ComplianceChecks) Passed() bool {
	return c.KYC && c.Documentation && c.ValuationVerified && c.LegalClearance
}

// AssetMetadata describes the underlying asset.
type AssetMetadata struct {
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	DocumentHashes []string  `json:"document_hashes"`
	AppraisalValue int64     `json:"appraisal_value"`
	AppraisalDate  time.Time `json:"appraisal_date"`
}

var (
	reCIDv0  = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	reCIDv1  = regexp.MustCompile(`^b[a-z2-7]{50,}$`)
	reSHA256 = regexp.MustCompile(`^(0x)?[a-fA-F0-9]{64}$`)
)

// IsContentHash reports whether ref is a recognized content-addressed document
// reference: an IPFS CIDv0, a base32 CIDv1 or a SHA-256 hex digest.
func IsContentHash(ref string) bool {
	return reCIDv0.MatchString(ref) || reCIDv1.MatchString(ref) || reSHA256.MatchString(ref)
}

// Validate checks metadata against now.
func (m *AssetMetadata) Validate(now time.Time) error {
	if strings.TrimSpace(m.Description) == "" {
		return errors.New("description must not be empty")
	}
	if strings.TrimSpace(m.Location) == "" {
		return errors.New("location must not be empty")
	}
	if len(m.DocumentHashes) == 0 {
		return errors.New("at least one document reference is required")
	}
	for _, h := range m.DocumentHashes {
		if !IsContentHash(h) {
			return errors.New("unrecognized document hash: " + h)
		}
	}
	if m.AppraisalValue <= 0 {
		return errors.New("appraisal value must be positive")
	}
	if m.AppraisalDate.IsZero() {
		return errors.New("appraisal date is required")
	}
	if m.AppraisalDate.After(now) {
		return errors.New("appraisal date must not be in the future")
	}
	return nil
}

// AssetToken is a minted token backed by a verified off-chain asset.
type AssetToken struct {
	ID                 string             `json:"id"`
	AssetType          AssetType          `json:"asset_type"`
	Owner              string             `json:"owner"`
	Valuation          int64              `json:"valuation"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Compliance         ComplianceChecks   `json:"compliance"`
	Metadata           AssetMetadata      `json:"metadata"`
	IsLocked           bool               `json:"is_locked"`
	LoanID             string             `json:"loan_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	LastUpdated        time.Time          `json:"last_updated"`
}

// Validate checks the token's structural invariants.
func (t *AssetToken) Validate() error {
	if t.ID == "" {
		return errors.New("token ID must not be empty")
	}
	if t.Owner == "" {
		return errors.New("owner must not be empty")
	}
	if !t.AssetType.Valid() {
		return errors.New("unknown asset type")
	}
	if !t.VerificationStatus.Valid() {
		return errors.New("unknown verification status")
	}
	if t.Valuation <= 0 {
		return errors.New("valuation must be positive")
	}
	if t.IsLocked && t.LoanID == "" {
		return errors.New("locked token must reference a loan")
	}
	if !t.IsLocked && t.LoanID != "" {
		return errors.New("unlocked token must not reference a loan")
	}
	if t.LastUpdated.Before(t.CreatedAt) {
		return errors.New("last updated must be >= created at")
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers.
func (t *AssetToken) Clone() AssetToken {
	c := *t
	c.Metadata.DocumentHashes = append([]string(nil), t.Metadata.DocumentHashes...)
	return c
}

// Usable reports whether the token can be transferred or pledged.
func (t *AssetToken) Usable() bool {
	return t.VerificationStatus == VerificationApproved && !t.IsLocked
}
