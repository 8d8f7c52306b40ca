package memory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

func testSnapshot(viewerID uuid.UUID, label string) *viewstate.Snapshot {
	s := viewstate.NewSnapshot(viewerID, "exp-301", label, viewstate.ViewState{
		ChannelLayerOptions: []viewstate.ChannelConfig{
			{Name: "dapi", ImageSize: [2]int{2048, 2048}, Visible: true},
		},
		MapState: viewstate.MapState{Zoom: 2, Center: [2]float64{1024, -768}, Resolution: 1},
	})
	return &s
}

func beginTestSession(t *testing.T, b *Backend) *viewstate.SessionInfo {
	t.Helper()
	info := viewstate.NewSessionInfo("exp-301", "morning screen", "1.4.0")
	require.NoError(t, b.BeginSession(info))
	return info
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})

	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
}

func TestBeginSessionResetsState(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	beginTestSession(t, b)

	require.NoError(t, b.SaveSnapshot(testSnapshot(uuid.New(), "stale")))

	beginTestSession(t, b)

	metas, err := b.ListSnapshots(uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestSaveAndGetSnapshot(t *testing.T) {
	b := New(config.MemoryConfig{})
	beginTestSession(t, b)

	s := testSnapshot(uuid.New(), "lesion overview")
	require.NoError(t, b.SaveSnapshot(s))

	got, err := b.GetSnapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.ViewerID, got.ViewerID)
	assert.Equal(t, "lesion overview", got.Label)
	assert.Equal(t, s.State, got.State)

	// The store hands out copies; mutating one must not leak back.
	got.Label = "mutated"
	again, err := b.GetSnapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "lesion overview", again.Label)
}

func TestSaveOverwritesExistingID(t *testing.T) {
	b := New(config.MemoryConfig{})
	beginTestSession(t, b)

	s := testSnapshot(uuid.New(), "before")
	require.NoError(t, b.SaveSnapshot(s))

	s.Label = "after"
	require.NoError(t, b.SaveSnapshot(s))

	metas, err := b.ListSnapshots(uuid.Nil)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "after", metas[0].Label)
}

func TestSaveWithoutSession(t *testing.T) {
	b := New(config.MemoryConfig{})

	err := b.SaveSnapshot(testSnapshot(uuid.New(), "orphan"))
	assert.ErrorIs(t, err, viewstate.ErrNoSession)
}

func TestListSnapshotsFiltersByViewer(t *testing.T) {
	b := New(config.MemoryConfig{})
	beginTestSession(t, b)

	viewerA := uuid.New()
	viewerB := uuid.New()

	first := testSnapshot(viewerA, "a1")
	second := testSnapshot(viewerB, "b1")
	third := testSnapshot(viewerA, "a2")
	require.NoError(t, b.SaveSnapshot(first))
	require.NoError(t, b.SaveSnapshot(second))
	require.NoError(t, b.SaveSnapshot(third))

	metas, err := b.ListSnapshots(viewerA)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "a1", metas[0].Label)
	assert.Equal(t, "a2", metas[1].Label)

	all, err := b.ListSnapshots(uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGetSnapshotMissing(t *testing.T) {
	b := New(config.MemoryConfig{})
	beginTestSession(t, b)

	_, err := b.GetSnapshot(uuid.New())
	assert.ErrorIs(t, err, viewstate.ErrSnapshotNotFound)
}

func TestDeleteSnapshot(t *testing.T) {
	b := New(config.MemoryConfig{})
	beginTestSession(t, b)

	s := testSnapshot(uuid.New(), "doomed")
	require.NoError(t, b.SaveSnapshot(s))
	require.NoError(t, b.DeleteSnapshot(s.ID))

	_, err := b.GetSnapshot(s.ID)
	assert.ErrorIs(t, err, viewstate.ErrSnapshotNotFound)

	metas, err := b.ListSnapshots(uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, metas)

	assert.ErrorIs(t, b.DeleteSnapshot(s.ID), viewstate.ErrSnapshotNotFound)
}

func TestEndSessionWithoutSession(t *testing.T) {
	b := New(config.MemoryConfig{})

	assert.ErrorIs(t, b.EndSession(), viewstate.ErrNoSession)
}
