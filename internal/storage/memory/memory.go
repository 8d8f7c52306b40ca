package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// Backend stores snapshots in memory and exports the session to a JSON
// archive when it ends.
type Backend struct {
	cfg     config.MemoryConfig
	session *viewstate.SessionInfo

	snapshots map[uuid.UUID]*viewstate.Snapshot
	order     []uuid.UUID // save order, preserved in listings and exports

	lastExportPath string
	lastExportMeta viewstate.ExportMetadata

	mu sync.RWMutex
}

// New creates a new memory backend.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:       cfg,
		snapshots: make(map[uuid.UUID]*viewstate.Snapshot),
	}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// BeginSession starts a new session and resets all stored snapshots.
func (b *Backend) BeginSession(info *viewstate.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = info
	b.snapshots = make(map[uuid.UUID]*viewstate.Snapshot)
	b.order = nil

	return nil
}

// EndSession exports the session's snapshots and closes the session.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return viewstate.ErrNoSession
	}
	if err := b.exportJSON(); err != nil {
		return err
	}
	b.session = nil
	return nil
}

// SaveSnapshot stores a copy of the snapshot. Saving an existing id
// overwrites the stored record in place.
func (b *Backend) SaveSnapshot(s *viewstate.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return viewstate.ErrNoSession
	}

	cp := *s
	if _, exists := b.snapshots[s.ID]; !exists {
		b.order = append(b.order, s.ID)
	}
	b.snapshots[s.ID] = &cp
	return nil
}

// ListSnapshots returns metadata for the viewer's snapshots in save
// order. uuid.Nil lists every viewer's snapshots.
func (b *Backend) ListSnapshots(viewerID uuid.UUID) ([]viewstate.SnapshotMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	metas := make([]viewstate.SnapshotMeta, 0, len(b.order))
	for _, id := range b.order {
		s := b.snapshots[id]
		if viewerID != uuid.Nil && s.ViewerID != viewerID {
			continue
		}
		metas = append(metas, s.Meta())
	}
	return metas, nil
}

// GetSnapshot returns a copy of the stored snapshot.
func (b *Backend) GetSnapshot(id uuid.UUID) (*viewstate.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", viewstate.ErrSnapshotNotFound, id)
	}
	cp := *s
	return &cp, nil
}

// DeleteSnapshot removes a stored snapshot.
func (b *Backend) DeleteSnapshot(id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.snapshots[id]; !ok {
		return fmt.Errorf("%w: %s", viewstate.ErrSnapshotNotFound, id)
	}
	delete(b.snapshots, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}
