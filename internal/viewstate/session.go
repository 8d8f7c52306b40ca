package viewstate

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoSession is returned by storage operations outside a session.
	ErrNoSession = errors.New("no active session")
	// ErrSnapshotNotFound is returned when a snapshot id has no stored record.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// SessionInfo identifies a viewing session for storage backends.
type SessionInfo struct {
	ID         uuid.UUID `json:"id"`
	Experiment string    `json:"experiment"`
	Label      string    `json:"label"`
	Host       string    `json:"host"`
	StartedAt  time.Time `json:"startedAt"`
	AppVersion string    `json:"appVersion"`
}

// NewSessionInfo stamps identity, host, and start time for a new session.
func NewSessionInfo(experiment, label, appVersion string) *SessionInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &SessionInfo{
		ID:         uuid.New(),
		Experiment: experiment,
		Label:      label,
		Host:       host,
		StartedAt:  time.Now().UTC(),
		AppVersion: appVersion,
	}
}

// Duration returns the elapsed session time in seconds.
func (s *SessionInfo) Duration() float64 {
	return time.Since(s.StartedAt).Seconds()
}

// SnapshotMeta is the listing view of a stored snapshot.
type SnapshotMeta struct {
	ID        uuid.UUID `json:"id"`
	ViewerID  uuid.UUID `json:"viewerId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// Meta returns the listing view of the snapshot.
func (s *Snapshot) Meta() SnapshotMeta {
	return SnapshotMeta{
		ID:        s.ID,
		ViewerID:  s.ViewerID,
		Label:     s.Label,
		CreatedAt: s.CreatedAt,
	}
}

// ExportMetadata describes an exported session archive for upload.
type ExportMetadata struct {
	Experiment    string  `json:"experiment"`
	SessionLabel  string  `json:"sessionLabel"`
	Duration      float64 `json:"duration"`
	SnapshotCount int     `json:"snapshotCount"`
	Tag           string  `json:"tag,omitempty"`
}
