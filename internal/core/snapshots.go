package core

import (
	"context"
	"fmt"
	"time"
)

// SnapshotInfo describes one stored copy of an earlier dataset.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotStore is implemented by dataset stores that keep the blobs they
// replace. Snapshots are listed newest first.
type SnapshotStore interface {
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error)
	LoadSnapshot(ctx context.Context, id string) ([]byte, error)
}

func (s *Service) snapshotStore() (SnapshotStore, error) {
	ss, ok := s.store.(SnapshotStore)
	if !ok {
		return nil, ErrSnapshotsUnsupported
	}
	return ss, nil
}

// ListSnapshots returns up to limit snapshots of earlier datasets.
func (s *Service) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	ss, err := s.snapshotStore()
	if err != nil {
		return nil, err
	}
	out, err := ss.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

// RestoreSnapshot replaces the dataset with a stored snapshot. The restore
// itself is saved as a new revision, so it can be undone the same way.
func (s *Service) RestoreSnapshot(ctx context.Context, id string) (DecodeReport, error) {
	ss, err := s.snapshotStore()
	if err != nil {
		return DecodeReport{}, err
	}
	data, err := ss.LoadSnapshot(ctx, id)
	if err != nil {
		return DecodeReport{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if data == nil {
		return DecodeReport{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return s.replaceDataset(ctx, "snapshot restore", ActionDatasetRestore, "snapshot:"+id, data)
}
