package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorIs(t *testing.T) {
	err := Errorf(ErrInsufficientCollateral, "max loan %d", 140000)

	tests := []struct {
		name   string
		target error
		want   bool
	}{
		{"same code", ErrInsufficientCollateral, true},
		{"same kind", ErrInsufficientResource, true},
		{"same kind other code", ErrInsufficientLiquidity, false},
		{"other kind", ErrInvalidInput, false},
		{"plain error", errors.New("INSUFFICIENT_COLLATERAL"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", err, tt.target, got, tt.want)
			}
		})
	}

	wrapped := fmt.Errorf("borrow: %w", err)
	if !errors.Is(wrapped, ErrInsufficientCollateral) {
		t.Error("wrapped error should still match its code")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindNotFound, Code: "LOAN_NOT_FOUND", Msg: "loan x"}, "LOAN_NOT_FOUND: loan x"},
		{&Error{Kind: KindNotFound, Msg: "missing"}, "not_found: missing"},
		{&Error{Kind: KindSystemPaused, Code: "SYSTEM_PAUSED"}, "SYSTEM_PAUSED"},
		{&Error{Kind: Kind(99)}, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsContentHash(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", true},
		{"bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", true},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},
		{"0xe3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},
		{"QmShort", false},
		{"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbd0", false}, // 0 is not base58
		{"e3b0c44298fc1c149afbf4c8996fb924", false},
		{"https://example.com/deed.pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsContentHash(tt.ref); got != tt.want {
			t.Errorf("IsContentHash(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestAssetMetadataValidate(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	valid := func() AssetMetadata {
		return AssetMetadata{
			Description:    "Warehouse",
			Location:       "Rotterdam",
			DocumentHashes: []string{"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"},
			AppraisalValue: 100000,
			AppraisalDate:  now.Add(-time.Hour),
		}
	}

	tests := []struct {
		name    string
		mutate  func(m *AssetMetadata)
		wantErr bool
	}{
		{"valid", func(m *AssetMetadata) {}, false},
		{"appraised now", func(m *AssetMetadata) { m.AppraisalDate = now }, false},
		{"blank description", func(m *AssetMetadata) { m.Description = "  " }, true},
		{"no location", func(m *AssetMetadata) { m.Location = "" }, true},
		{"no documents", func(m *AssetMetadata) { m.DocumentHashes = nil }, true},
		{"bad document", func(m *AssetMetadata) { m.DocumentHashes = append(m.DocumentHashes, "deed.pdf") }, true},
		{"zero appraisal", func(m *AssetMetadata) { m.AppraisalValue = 0 }, true},
		{"missing date", func(m *AssetMetadata) { m.AppraisalDate = time.Time{} }, true},
		{"future date", func(m *AssetMetadata) { m.AppraisalDate = now.Add(time.Second) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			err := m.Validate(now)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssetTokenValidate(t *testing.T) {
	now := time.Now()
	valid := func() AssetToken {
		return AssetToken{
			ID:                 "tok-1",
			AssetType:          AssetEquipment,
			Owner:              "alice",
			Valuation:          50000,
			VerificationStatus: VerificationApproved,
			CreatedAt:          now,
			LastUpdated:        now,
		}
	}

	tests := []struct {
		name    string
		mutate  func(t *AssetToken)
		wantErr bool
	}{
		{"valid", func(t *AssetToken) {}, false},
		{"locked with loan", func(t *AssetToken) { t.IsLocked = true; t.LoanID = "loan-1" }, false},
		{"empty ID", func(t *AssetToken) { t.ID = "" }, true},
		{"no owner", func(t *AssetToken) { t.Owner = "" }, true},
		{"unknown type", func(t *AssetToken) { t.AssetType = "art" }, true},
		{"unknown status", func(t *AssetToken) { t.VerificationStatus = "maybe" }, true},
		{"zero valuation", func(t *AssetToken) { t.Valuation = 0 }, true},
		{"locked without loan", func(t *AssetToken) { t.IsLocked = true }, true},
		{"loan without lock", func(t *AssetToken) { t.LoanID = "loan-1" }, true},
		{"updated before created", func(t *AssetToken) { t.LastUpdated = now.Add(-time.Second) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := valid()
			tt.mutate(&tok)
			err := tok.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssetTokenCloneAndUsable(t *testing.T) {
	tok := AssetToken{
		VerificationStatus: VerificationApproved,
		Metadata:           AssetMetadata{DocumentHashes: []string{"a"}},
	}
	c := tok.Clone()
	c.Metadata.DocumentHashes[0] = "b"
	if tok.Metadata.DocumentHashes[0] != "a" {
		t.Error("Clone shares document hashes")
	}

	if !tok.Usable() {
		t.Error("approved unlocked token should be usable")
	}
	tok.IsLocked = true
	if tok.Usable() {
		t.Error("locked token should not be usable")
	}
	tok.IsLocked = false
	tok.VerificationStatus = VerificationPending
	if tok.Usable() {
		t.Error("pending token should not be usable")
	}
}

func TestComplianceChecksPassed(t *testing.T) {
	all := ComplianceChecks{KYC: true, Documentation: true, ValuationVerified: true, LegalClearance: true}
	if !all.Passed() {
		t.Error("all checks true should pass")
	}
	all.ValuationVerified = false
	if all.Passed() {
		t.Error("one failed check should fail")
	}
}

func TestLoanValidate(t *testing.T) {
	now := time.Now()
	valid := func() Loan {
		return Loan{
			ID:                 "loan-1",
			Borrower:           "alice",
			CollateralTokenIDs: []string{"tok-1"},
			PrincipalAmount:    100000,
			CreatedAt:          now,
			DueDate:            now.AddDate(0, 0, 365),
			Status:             LoanActive,
		}
	}

	tests := []struct {
		name    string
		mutate  func(l *Loan)
		wantErr bool
	}{
		{"valid", func(l *Loan) {}, false},
		{"empty ID", func(l *Loan) { l.ID = "" }, true},
		{"no borrower", func(l *Loan) { l.Borrower = "" }, true},
		{"no collateral", func(l *Loan) { l.CollateralTokenIDs = nil }, true},
		{"zero principal", func(l *Loan) { l.PrincipalAmount = 0 }, true},
		{"negative repaid", func(l *Loan) { l.RepaidAmount = -1 }, true},
		{"due before created", func(l *Loan) { l.DueDate = now.Add(-time.Hour) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid()
			tt.mutate(&l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPoolStateValidate(t *testing.T) {
	tests := []struct {
		name    string
		state   PoolState
		wantErr bool
	}{
		{"empty", PoolState{}, false},
		{"partially lent", PoolState{TotalDeposits: 100, TotalBorrows: 60, TotalPoolTokens: 100}, false},
		{"negative deposits", PoolState{TotalDeposits: -1}, true},
		{"over lent", PoolState{TotalDeposits: 100, TotalBorrows: 101}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	s := PoolState{TotalDeposits: 1000, TotalBorrows: 400}
	if s.Available() != 600 {
		t.Errorf("Available() = %d, want 600", s.Available())
	}
}

func TestLoanApplicationValidate(t *testing.T) {
	valid := func() LoanApplication {
		return LoanApplication{Borrower: "alice", RequestedAmount: 1000, TermDays: 30, CollateralTokenIDs: []string{"tok-1"}}
	}
	tests := []struct {
		name    string
		mutate  func(a *LoanApplication)
		wantErr bool
	}{
		{"valid", func(a *LoanApplication) {}, false},
		{"max term", func(a *LoanApplication) { a.TermDays = MaxTermDays }, false},
		{"no borrower", func(a *LoanApplication) { a.Borrower = "" }, true},
		{"zero amount", func(a *LoanApplication) { a.RequestedAmount = 0 }, true},
		{"zero term", func(a *LoanApplication) { a.TermDays = 0 }, true},
		{"term too long", func(a *LoanApplication) { a.TermDays = MaxTermDays + 1 }, true},
		{"no collateral", func(a *LoanApplication) { a.CollateralTokenIDs = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(&a)
			err := a.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if !ApplicationRejected.Terminal() || ApplicationUnderReview.Terminal() {
		t.Error("Terminal() misclassifies statuses")
	}
}

func TestLiquidationProceedsValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       LiquidationProceeds
		wantErr bool
	}{
		{
			name: "balanced",
			p: LiquidationProceeds{TotalProceeds: 175000, Distributions: []ProceedsDistribution{
				{Type: DistributionDebtRepayment, Priority: 1, Amount: 140000},
				{Type: DistributionBorrowerResidual, Priority: 3, Amount: 35000},
			}},
		},
		{
			name: "short",
			p: LiquidationProceeds{TotalProceeds: 175000, Distributions: []ProceedsDistribution{
				{Type: DistributionDebtRepayment, Priority: 1, Amount: 140000},
			}},
			wantErr: true,
		},
		{
			name: "negative tranche",
			p: LiquidationProceeds{TotalProceeds: 0, Distributions: []ProceedsDistribution{
				{Amount: 10}, {Amount: -10},
			}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
