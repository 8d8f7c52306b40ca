package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jluethi/TissueMAPS/internal/viewstate"
	"github.com/jluethi/TissueMAPS/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams session and snapshot traffic to a remote sync service.
// Saved snapshots are mirrored locally so lookups and restores keep
// working while the remote is the system of record.
type Backend struct {
	conn *connection
	cfg  Config

	mu        sync.RWMutex
	session   *viewstate.SessionInfo
	snapshots map[uuid.UUID]*viewstate.Snapshot
	order     []uuid.UUID
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:      newConnection(logger),
		cfg:       cfg,
		snapshots: make(map[uuid.UUID]*viewstate.Snapshot),
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// BeginSession announces the session and waits for server ack.
func (b *Backend) BeginSession(info *viewstate.SessionInfo) error {
	payload := streaming.SessionStart{
		ID:         info.ID.String(),
		Experiment: info.Experiment,
		Label:      info.Label,
		Host:       info.Host,
		StartedAt:  info.StartedAt,
		AppVersion: info.AppVersion,
	}
	data, err := marshalEnvelope(streaming.TypeSessionStart, payload)
	if err != nil {
		return err
	}

	// Cache for reconnect replay.
	b.conn.mu.Lock()
	b.conn.cachedSessionMsg = data
	b.conn.mu.Unlock()

	if err := b.conn.sendAndWait(data, streaming.TypeSessionStart, ackTimeout); err != nil {
		return err
	}

	b.mu.Lock()
	b.session = info
	b.snapshots = make(map[uuid.UUID]*viewstate.Snapshot)
	b.order = nil
	b.mu.Unlock()
	return nil
}

// EndSession sends session_end and waits for server ack.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	session := b.session
	count := len(b.order)
	b.session = nil
	b.mu.Unlock()

	if session == nil {
		return viewstate.ErrNoSession
	}

	payload := streaming.SessionEnd{
		ID:            session.ID.String(),
		Duration:      session.Duration(),
		SnapshotCount: count,
	}
	data, err := marshalEnvelope(streaming.TypeSessionEnd, payload)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeSessionEnd, ackTimeout)

	// Clear cached replay state regardless of error.
	b.conn.mu.Lock()
	b.conn.cachedSessionMsg = nil
	b.conn.mu.Unlock()

	return err
}

// SaveSnapshot streams the snapshot and mirrors it locally.
func (b *Backend) SaveSnapshot(s *viewstate.Snapshot) error {
	b.mu.Lock()
	if b.session == nil {
		b.mu.Unlock()
		return viewstate.ErrNoSession
	}
	cp := *s
	if _, exists := b.snapshots[s.ID]; !exists {
		b.order = append(b.order, s.ID)
	}
	b.snapshots[s.ID] = &cp
	b.mu.Unlock()

	state, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("marshal view state: %w", err)
	}
	return b.sendEnvelope(streaming.TypeSnapshotSave, streaming.SnapshotSave{
		ID:         s.ID.String(),
		ViewerID:   s.ViewerID.String(),
		Experiment: s.Experiment,
		Label:      s.Label,
		CreatedAt:  s.CreatedAt,
		State:      state,
	})
}

// ListSnapshots returns metadata from the local mirror in save order.
// uuid.Nil lists every viewer's snapshots.
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

// GetSnapshot returns a copy from the local mirror.
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

// DeleteSnapshot streams the deletion and removes the local mirror entry.
func (b *Backend) DeleteSnapshot(id uuid.UUID) error {
	b.mu.Lock()
	if _, ok := b.snapshots[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", viewstate.ErrSnapshotNotFound, id)
	}
	delete(b.snapshots, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	return b.sendEnvelope(streaming.TypeSnapshotDelete, streaming.SnapshotDelete{ID: id.String()})
}
