// Package storage persists ledger snapshots.
//
// Every SaveLedger call appends one row per asset, pool token, loan and
// liquidation, plus one row for the pool aggregate, to a SQLite table inside a
// single transaction. The rows form an audit history that downstream
// settlement can replay. ExportJSON additionally writes the whole snapshot to
// a JSON file with an atomic rename.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/rwaledger/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SnapshotVersion is written into exported snapshots that carry no version.
const SnapshotVersion = "1.0"

// Kind identifies the entity a snapshot row describes.
type Kind string

const (
	KindAsset       Kind = "asset"
	KindPoolToken   Kind = "pool_token"
	KindLoan        Kind = "loan"
	KindLiquidation Kind = "liquidation"
	KindPoolState   Kind = "pool_state"
)

// poolStateID is the entity ID of the single pool aggregate row.
const poolStateID = "pool"

// ErrNotFound is returned when no row exists for an entity.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotRecord is one persisted entity state.
type SnapshotRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Kind       string    `gorm:"size:32;index:idx_kind_entity,priority:1"`
	EntityID   string    `gorm:"size:64;index:idx_kind_entity,priority:2"`
	Payload    string    `gorm:"type:text"`
	CapturedAt time.Time `gorm:"index"`
}

// TableName pins the table name.
func (SnapshotRecord) TableName() string { return "ledger_snapshots" }

// Store is a SQLite-backed snapshot history.
type Store struct {
	db *gorm.DB

	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithPermissions sets the modes used for exported files and their directory.
func WithPermissions(file, dir os.FileMode) Option {
	return func(s *Store) {
		s.filePermissions = file
		s.dirPermissions = dir
	}
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the snapshot table. An empty path uses the OS temp directory.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{filePermissions: 0644, dirPermissions: 0755}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		path = filepath.Join(os.TempDir(), "rwaledger", "ledger.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), s.dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveLedger appends every entity of snap in one transaction. Nothing is
// written if any row fails.
func (s *Store) SaveLedger(ctx context.Context, snap models.LedgerSnapshot) error {
	at := snap.SavedAt
	if at.IsZero() {
		at = time.Now()
	}

	var rows []SnapshotRecord
	add := func(kind Kind, id string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
		}
		rows = append(rows, SnapshotRecord{Kind: string(kind), EntityID: id, Payload: string(payload), CapturedAt: at})
		return nil
	}

	for _, a := range snap.Assets {
		if err := add(KindAsset, a.ID, a); err != nil {
			return err
		}
	}
	for _, t := range snap.PoolTokens {
		if err := add(KindPoolToken, t.ID, t); err != nil {
			return err
		}
	}
	for _, l := range snap.Loans {
		if err := add(KindLoan, l.ID, l); err != nil {
			return err
		}
	}
	for _, ev := range snap.Liquidations {
		if err := add(KindLiquidation, ev.ID, ev); err != nil {
			return err
		}
	}
	if err := add(KindPoolState, poolStateID, snap.Pool); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
			return fmt.Errorf("failed to save ledger snapshot: %w", err)
		}
		return nil
	})
}

// Latest decodes the most recent state of an entity into out.
func (s *Store) Latest(ctx context.Context, kind Kind, entityID string, out any) error {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND entity_id = ?", string(kind), entityID).
		Order("captured_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, entityID)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", kind, entityID, err)
	}
	if err := json.Unmarshal([]byte(rec.Payload), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, entityID, err)
	}
	return nil
}

// LatestPoolState returns the most recently saved pool aggregate.
func (s *Store) LatestPoolState(ctx context.Context) (models.PoolState, error) {
	var st models.PoolState
	err := s.Latest(ctx, KindPoolState, poolStateID, &st)
	return st, err
}

// History returns every saved row for an entity, oldest first.
func (s *Store) History(ctx context.Context, kind Kind, entityID string) ([]SnapshotRecord, error) {
	var recs []SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND entity_id = ?", string(kind), entityID).
		Order("captured_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s %s: %w", kind, entityID, err)
	}
	return recs, nil
}

// Prune deletes rows captured before cutoff and reports how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("captured_at < ?", cutoff).Delete(&SnapshotRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExportJSON writes snap to path atomically.
func (s *Store) ExportJSON(path string, snap models.LedgerSnapshot) error {
	if snap.Version == "" {
		snap.Version = SnapshotVersion
	}

	if err := os.MkdirAll(filepath.Dir(path), s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// ImportJSON reads a snapshot written by ExportJSON. A stale temp file from
// an interrupted export is removed. A missing file yields an empty snapshot.
func ImportJSON(path string) (models.LedgerSnapshot, error) {
	var snap models.LedgerSnapshot

	tempPath := path + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}
