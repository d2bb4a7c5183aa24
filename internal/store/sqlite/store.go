// Package sqlite stores the dataset in a local SQLite file. Every save
// keeps the replaced blob as a snapshot so earlier revisions can be
// restored.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/maintrack/internal/core"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

// DefaultKeepSnapshots is how many replaced datasets are retained.
const DefaultKeepSnapshots = 20

const datasetName = "default"

type DatasetModel struct {
	Name      string `gorm:"primaryKey"`
	Data      []byte
	Size      int
	UpdatedAt time.Time
}

func (DatasetModel) TableName() string { return "datasets" }

type SnapshotModel struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	Data      []byte
	Size      int
	CreatedAt time.Time
}

func (SnapshotModel) TableName() string { return "dataset_snapshots" }

// Open opens the database file at path using the pure-Go driver.
func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

// Store implements core.DatasetStore and core.SnapshotStore.
type Store struct {
	db   *gorm.DB
	keep int
}

// NewStore returns a store on a migrated database. keep <= 0 uses
// DefaultKeepSnapshots.
func NewStore(db *gorm.DB, keep int) *Store {
	if keep <= 0 {
		keep = DefaultKeepSnapshots
	}
	return &Store{db: db, keep: keep}
}

// OpenStore opens path, runs migrations and returns the store.
func OpenStore(ctx context.Context, path string, keep int) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return NewStore(db, keep), nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var m DatasetModel
	err := s.db.WithContext(ctx).Where("name = ?", datasetName).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return m.Data, nil
}

// Save replaces the dataset. The previous blob, if any, becomes a snapshot
// and snapshots beyond the retention count are pruned, all in one
// transaction.
func (s *Store) Save(ctx context.Context, data []byte) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev DatasetModel
		err := tx.Where("name = ?", datasetName).Take(&prev).Error
		switch {
		case err == nil:
			snap := SnapshotModel{Name: datasetName, Data: prev.Data, Size: len(prev.Data), CreatedAt: prev.UpdatedAt}
			if err := tx.Create(&snap).Error; err != nil {
				return fmt.Errorf("snapshot dataset: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("read dataset: %w", err)
		}

		m := DatasetModel{Name: datasetName, Data: data, Size: len(data), UpdatedAt: now}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "size", "updated_at"}),
		}).Create(&m).Error
		if err != nil {
			return fmt.Errorf("save dataset: %w", err)
		}
		return s.prune(tx)
	})
}

func (s *Store) prune(tx *gorm.DB) error {
	keep := tx.Model(&SnapshotModel{}).
		Select("id").
		Where("name = ?", datasetName).
		Order("id DESC").
		Limit(s.keep)
	err := tx.Where("name = ? AND id NOT IN (?)", datasetName, keep).Delete(&SnapshotModel{}).Error
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]core.SnapshotInfo, error) {
	q := s.db.WithContext(ctx).
		Model(&SnapshotModel{}).
		Select("id", "size", "created_at").
		Where("name = ?", datasetName).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows := make([]SnapshotModel, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.SnapshotInfo, 0, len(rows))
	for _, m := range rows {
		out = append(out, core.SnapshotInfo{ID: strconv.FormatUint(uint64(m.ID), 10), Size: m.Size, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// LoadSnapshot returns nil data when id does not name a snapshot.
func (s *Store) LoadSnapshot(ctx context.Context, id string) ([]byte, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	var m SnapshotModel
	err = s.db.WithContext(ctx).Where("name = ? AND id = ?", datasetName, n).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}
