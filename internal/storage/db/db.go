// Package db implements the storage.Backend interface on the gorm
// relational layer. Snapshot writes are synchronous: saves are low
// volume and listings must see them immediately.
package db

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/model"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// Backend persists snapshots through the relational layer. On the
// sqlite fallback the in-memory database is dumped to disk when the
// session ends.
type Backend struct {
	manager *database.Manager

	mu      sync.Mutex
	session *viewstate.SessionInfo
}

// New creates a new database storage backend.
func New(manager *database.Manager) *Backend {
	return &Backend{manager: manager}
}

// Init connects the manager if it is not already connected and
// migrates the schema.
func (b *Backend) Init() error {
	if !b.manager.IsValid {
		if err := b.manager.Connect(); err != nil {
			return fmt.Errorf("failed to connect database: %w", err)
		}
	}
	return b.manager.Setup()
}

// Close closes the underlying SQL connection.
func (b *Backend) Close() error {
	if b.manager.SqlDB != nil {
		return b.manager.SqlDB.Close()
	}
	return nil
}

// BeginSession performs experiment get-or-insert and opens the session.
func (b *Backend) BeginSession(info *viewstate.SessionInfo) error {
	if info.Experiment != "" {
		exp := model.Experiment{Name: info.Experiment}
		if _, err := exp.GetOrInsert(b.manager.DB); err != nil {
			return fmt.Errorf("failed to get or insert experiment: %w", err)
		}
	}

	b.mu.Lock()
	b.session = info
	b.mu.Unlock()
	return nil
}

// EndSession closes the session. On the sqlite fallback it dumps the
// in-memory database to disk so the session survives the process.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.mu.Unlock()

	if session == nil {
		return viewstate.ErrNoSession
	}
	if b.manager.ShouldSaveLocal {
		if err := b.manager.DumpMemoryDBToDisk(""); err != nil {
			return fmt.Errorf("failed to dump database to disk: %w", err)
		}
	}
	return nil
}

// SaveSnapshot upserts the snapshot row, stamped with the session id.
func (b *Backend) SaveSnapshot(s *viewstate.Snapshot) error {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()

	if session == nil {
		return viewstate.ErrNoSession
	}

	record, err := model.FromSnapshot(s, session.ID)
	if err != nil {
		return err
	}
	if err := b.manager.DB.Clauses(clause.OnConflict{UpdateAll: true}).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns metadata for the viewer's snapshots ordered by
// capture time. uuid.Nil lists every viewer's snapshots.
func (b *Backend) ListSnapshots(viewerID uuid.UUID) ([]viewstate.SnapshotMeta, error) {
	var records []model.SnapshotRecord
	q := b.manager.DB.Order("created_at")
	if viewerID != uuid.Nil {
		q = q.Where("viewer_id = ?", viewerID.String())
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	metas := make([]viewstate.SnapshotMeta, 0, len(records))
	for _, r := range records {
		meta, err := r.ToMeta()
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// GetSnapshot rebuilds the stored snapshot from its row.
func (b *Backend) GetSnapshot(id uuid.UUID) (*viewstate.Snapshot, error) {
	var record model.SnapshotRecord
	err := b.manager.DB.Where("id = ?", id.String()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", viewstate.ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return record.ToSnapshot()
}

// DeleteSnapshot soft-deletes the snapshot row.
func (b *Backend) DeleteSnapshot(id uuid.UUID) error {
	res := b.manager.DB.Where("id = ?", id.String()).Delete(&model.SnapshotRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", viewstate.ErrSnapshotNotFound, id)
	}
	return nil
}
