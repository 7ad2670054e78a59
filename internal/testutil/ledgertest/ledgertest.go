// Package ledgertest holds shared fixtures for ledger component tests:
// a controllable clock, a seeded actor directory and minting helpers.
package ledgertest

import (
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/rwaledger/internal/auth"
	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/registry"
)

// Actor IDs registered by Directory.
const (
	Admin      = "admin-1"
	Verifier   = "verifier-1"
	Protocol   = "lending-protocol"
	Alice      = "alice"
	Bob        = "bob"
	Carol      = "carol"
	Liquidator = "liquidator-1"
)

// DocHash is a valid CIDv0 document reference.
const DocHash = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

// Epoch is the default start time of a test clock.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Directory returns a directory with every fixture actor registered.
func Directory(t *testing.T) *auth.Directory {
	t.Helper()
	d := auth.NewDirectory()
	for id, role := range map[string]auth.Role{
		Admin:      auth.RoleAdmin,
		Verifier:   auth.RoleVerifier,
		Protocol:   auth.RoleLendingProtocol,
		Alice:      auth.RoleUser,
		Bob:        auth.RoleUser,
		Carol:      auth.RoleUser,
		Liquidator: auth.RoleUser,
	} {
		if err := d.Register(id, role); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return d
}

// Metadata returns valid metadata appraised a day before now.
func Metadata(now time.Time, value int64) models.AssetMetadata {
	return models.AssetMetadata{
		Description:    "Warehouse unit 4B",
		Location:       "Rotterdam, NL",
		DocumentHashes: []string{DocHash},
		AppraisalValue: value,
		AppraisalDate:  now.Add(-24 * time.Hour),
	}
}

// Passed returns compliance checks that all pass.
func Passed() models.ComplianceChecks {
	return models.ComplianceChecks{KYC: true, Documentation: true, ValuationVerified: true, LegalClearance: true}
}

// Mint tokenizes an approved asset for owner and returns its ID.
func Mint(t *testing.T, reg *registry.Registry, clock *Clock, owner string, valuation int64) string {
	t.Helper()
	return mint(t, reg, clock, owner, valuation, Passed())
}

// MintPending tokenizes an asset whose compliance is incomplete.
func MintPending(t *testing.T, reg *registry.Registry, clock *Clock, owner string, valuation int64) string {
	t.Helper()
	checks := Passed()
	checks.LegalClearance = false
	return mint(t, reg, clock, owner, valuation, checks)
}

func mint(t *testing.T, reg *registry.Registry, clock *Clock, owner string, valuation int64, checks models.ComplianceChecks) string {
	t.Helper()
	tok, err := reg.Tokenize(registry.TokenizeParams{
		AssetType:  models.AssetRealEstate,
		Owner:      owner,
		Valuation:  valuation,
		Metadata:   Metadata(clock.Now(), valuation),
		Compliance: checks,
	}, Verifier)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	return tok.ID
}

// Revalue sets a token's valuation as the fixture verifier.
func Revalue(t *testing.T, reg *registry.Registry, id string, valuation int64) {
	t.Helper()
	if err := reg.UpdateValuation(id, registry.ValuationUpdate{Valuation: valuation}, Verifier); err != nil {
		t.Fatalf("revalue %s: %v", id, err)
	}
}
