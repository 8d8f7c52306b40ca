package viewstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewSessionInfo(t *testing.T) {
	before := time.Now().UTC()
	info := NewSessionInfo("exp-301", "morning run", "5.1.0")

	assert.NotEqual(t, uuid.Nil, info.ID)
	assert.Equal(t, "exp-301", info.Experiment)
	assert.Equal(t, "morning run", info.Label)
	assert.Equal(t, "5.1.0", info.AppVersion)
	assert.NotEmpty(t, info.Host)
	assert.False(t, info.StartedAt.Before(before))

	other := NewSessionInfo("exp-301", "morning run", "5.1.0")
	assert.NotEqual(t, info.ID, other.ID)
}

func TestSessionInfo_Duration(t *testing.T) {
	info := &SessionInfo{StartedAt: time.Now().Add(-2 * time.Second)}
	assert.InDelta(t, 2.0, info.Duration(), 1.0)
}

func TestSnapshot_Meta(t *testing.T) {
	snap := NewSnapshot(uuid.New(), "exp-301", "before restore", ViewState{})

	meta := snap.Meta()
	assert.Equal(t, snap.ID, meta.ID)
	assert.Equal(t, snap.ViewerID, meta.ViewerID)
	assert.Equal(t, "before restore", meta.Label)
	assert.Equal(t, snap.CreatedAt, meta.CreatedAt)
}
