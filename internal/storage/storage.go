package storage

import (
	"github.com/google/uuid"

	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// Backend is the interface all snapshot stores must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	BeginSession(info *viewstate.SessionInfo) error
	EndSession() error

	// Snapshot persistence. ListSnapshots with uuid.Nil lists every
	// viewer's snapshots. GetSnapshot and DeleteSnapshot report missing
	// ids with viewstate.ErrSnapshotNotFound.
	SaveSnapshot(s *viewstate.Snapshot) error
	ListSnapshots(viewerID uuid.UUID) ([]viewstate.SnapshotMeta, error)
	GetSnapshot(id uuid.UUID) (*viewstate.Snapshot, error)
	DeleteSnapshot(id uuid.UUID) error
}

// Exportable is an optional interface for storage backends that produce
// an archive suitable for upload to the TissueMAPS web frontend.
type Exportable interface {
	ExportPath() string
	ExportMetadata() viewstate.ExportMetadata
}
