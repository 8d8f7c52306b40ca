// Package streaming defines the wire protocol between the viewer and a
// remote snapshot sync service. It has no internal dependencies so sync
// services can vendor it as-is.
package streaming

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type constants matching the streaming protocol.
const (
	TypeSessionStart   = "session_start"
	TypeSessionEnd     = "session_end"
	TypeSnapshotSave   = "snapshot_save"
	TypeSnapshotDelete = "snapshot_delete"
	TypeAck            = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Ack is the server's acknowledgement response.
type Ack struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SessionStart announces a new viewing session.
type SessionStart struct {
	ID         string    `json:"id"`
	Experiment string    `json:"experiment"`
	Label      string    `json:"label"`
	Host       string    `json:"host"`
	StartedAt  time.Time `json:"startedAt"`
	AppVersion string    `json:"appVersion"`
}

// SessionEnd closes the session announced by the matching SessionStart.
type SessionEnd struct {
	ID            string  `json:"id"`
	Duration      float64 `json:"duration"`
	SnapshotCount int     `json:"snapshotCount"`
}

// SnapshotSave carries one saved view snapshot. State is the snapshot's
// serialized view state, forwarded verbatim.
type SnapshotSave struct {
	ID         string          `json:"id"`
	ViewerID   string          `json:"viewerId"`
	Experiment string          `json:"experiment"`
	Label      string          `json:"label"`
	CreatedAt  time.Time       `json:"createdAt"`
	State      json.RawMessage `json:"state"`
}

// SnapshotDelete removes a previously saved snapshot.
type SnapshotDelete struct {
	ID string `json:"id"`
}

// NewEnvelope marshals payload and wraps it with the message type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// NewAck builds the acknowledgement for the given message type.
func NewAck(forType string) Ack {
	return Ack{Type: TypeAck, For: forType}
}
