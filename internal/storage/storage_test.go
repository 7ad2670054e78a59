package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/rwaledger/internal/models"
	"github.com/rewired-gh/rwaledger/internal/pool"
	"github.com/rewired-gh/rwaledger/internal/registry"
	"github.com/rewired-gh/rwaledger/internal/testutil/ledgertest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ledgerSnapshot builds a small live ledger: one lender, one loan.
func ledgerSnapshot(t *testing.T) (models.LedgerSnapshot, *ledgertest.Clock, *pool.Pool, string) {
	t.Helper()
	clock := ledgertest.NewClock(ledgertest.Epoch)
	dir := ledgertest.Directory(t)
	reg := registry.New(dir, registry.WithClock(clock.Now))
	p := pool.New(reg, dir, ledgertest.Protocol, pool.WithClock(clock.Now))
	if _, err := p.Deposit(1_000_000, ledgertest.Bob); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	col := ledgertest.Mint(t, reg, clock, ledgertest.Alice, 200_000)
	loanID, err := p.Borrow([]string{col}, 100_000, ledgertest.Alice)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	snap := p.Snapshot()
	snap.Liquidations = []models.LiquidationEvent{{
		ID: "liq-1", LoanID: loanID, Borrower: ledgertest.Alice, Liquidator: ledgertest.Liquidator,
		Status: models.LiquidationInitiated, LiquidationRatio: 80, TriggerType: models.TriggerLTVBreach,
		InitiatedAt: clock.Now(),
	}}
	return snap, clock, p, loanID
}

func TestSaveLedger_LatestAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	snap, clock, p, loanID := ledgerSnapshot(t)

	if err := s.SaveLedger(ctx, snap); err != nil {
		t.Fatalf("SaveLedger failed: %v", err)
	}

	var loan models.Loan
	if err := s.Latest(ctx, KindLoan, loanID, &loan); err != nil {
		t.Fatalf("Latest loan failed: %v", err)
	}
	if loan.PrincipalAmount != 100_000 || loan.Status != models.LoanActive {
		t.Errorf("loaded loan = %+v", loan)
	}

	var asset models.AssetToken
	if err := s.Latest(ctx, KindAsset, loan.CollateralTokenIDs[0], &asset); err != nil {
		t.Fatalf("Latest asset failed: %v", err)
	}
	if !asset.IsLocked || asset.LoanID != loanID {
		t.Errorf("collateral should be locked to %s, got %+v", loanID, asset)
	}

	var ev models.LiquidationEvent
	if err := s.Latest(ctx, KindLiquidation, "liq-1", &ev); err != nil {
		t.Fatalf("Latest liquidation failed: %v", err)
	}
	if ev.LoanID != loanID {
		t.Errorf("liquidation loan = %s, want %s", ev.LoanID, loanID)
	}

	// Repay and save again: the loan now has two history rows and the
	// latest shows it repaid.
	clock.Advance(30 * 24 * time.Hour)
	quote, err := p.Quote(loanID)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if _, err := p.Repay(loanID, quote, ledgertest.Alice); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	if err := s.SaveLedger(ctx, p.Snapshot()); err != nil {
		t.Fatalf("second SaveLedger failed: %v", err)
	}

	history, err := s.History(ctx, KindLoan, loanID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if !history[0].CapturedAt.Before(history[1].CapturedAt) {
		t.Errorf("history not ordered oldest first")
	}
	if err := s.Latest(ctx, KindLoan, loanID, &loan); err != nil {
		t.Fatalf("Latest loan failed: %v", err)
	}
	if loan.Status != models.LoanRepaid {
		t.Errorf("latest status = %s, want repaid", loan.Status)
	}

	st, err := s.LatestPoolState(ctx)
	if err != nil {
		t.Fatalf("LatestPoolState failed: %v", err)
	}
	if st.TotalBorrows != 0 || st.TotalDeposits <= 1_000_000 {
		t.Errorf("pool state = %+v", st)
	}
}

func TestLatest_NotFound(t *testing.T) {
	s := openTestStore(t)
	var loan models.Loan
	err := s.Latest(context.Background(), KindLoan, "missing", &loan)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLedger_CanceledContext(t *testing.T) {
	s := openTestStore(t)
	snap, _, _, loanID := ledgerSnapshot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SaveLedger(ctx, snap); err == nil {
		t.Fatal("expected error with canceled context")
	}
	history, err := s.History(context.Background(), KindLoan, loanID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no rows after failed save, got %d", len(history))
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveLedger(ctx, models.LedgerSnapshot{SavedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveLedger(ctx, models.LedgerSnapshot{SavedAt: recent}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx, recent)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	history, _ := s.History(ctx, KindPoolState, poolStateID)
	if len(history) != 1 || !history[0].CapturedAt.Equal(recent) {
		t.Errorf("remaining history = %+v", history)
	}
}

func TestExportImportJSON(t *testing.T) {
	s := openTestStore(t)
	snap, _, _, loanID := ledgerSnapshot(t)
	path := filepath.Join(t.TempDir(), "export", "ledger.json")

	if err := s.ExportJSON(path, snap); err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}

	got, err := ImportJSON(path)
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if got.Version != SnapshotVersion {
		t.Errorf("version = %q, want %q", got.Version, SnapshotVersion)
	}
	if len(got.Loans) != 1 || got.Loans[0].ID != loanID {
		t.Errorf("loans = %+v", got.Loans)
	}
	if len(got.Assets) != len(snap.Assets) || len(got.PoolTokens) != len(snap.PoolTokens) {
		t.Errorf("entity counts differ after round trip")
	}
	if got.Pool.TotalBorrows != snap.Pool.TotalBorrows {
		t.Errorf("TotalBorrows = %d, want %d", got.Pool.TotalBorrows, snap.Pool.TotalBorrows)
	}
}

func TestImportJSON_MissingFileAndStaleTemp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path+".tmp", []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := ImportJSON(path)
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if len(snap.Loans) != 0 {
		t.Errorf("expected empty snapshot")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("stale temp file not removed")
	}
}

func TestImportJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ImportJSON(path); err == nil {
		t.Error("expected error for corrupt file")
	}
}
