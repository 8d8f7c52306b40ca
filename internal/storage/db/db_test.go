package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/model"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	m := database.NewManager(zerolog.Nop())
	gdb, err := m.GetSqliteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	m.DB = gdb
	m.IsValid = true
	require.NoError(t, m.Setup())

	return New(m)
}

func beginTestSession(t *testing.T, b *Backend) *viewstate.SessionInfo {
	t.Helper()
	info := viewstate.NewSessionInfo("exp-301", "screen run", "1.4.0")
	require.NoError(t, b.BeginSession(info))
	return info
}

func testSnapshot(viewerID uuid.UUID, label string) *viewstate.Snapshot {
	s := viewstate.NewSnapshot(viewerID, "exp-301", label, viewstate.ViewState{
		ChannelLayerOptions: []viewstate.ChannelConfig{
			{Name: "dapi", ImageSize: [2]int{2048, 2048}, Visible: true},
			{Name: "gfp", ImageSize: [2]int{2048, 2048}, Visible: false,
				Options: map[string]any{"brightness": 0.6}},
		},
		MapState: viewstate.MapState{Zoom: 3, Center: [2]float64{512, -384}, Resolution: 0.5},
	})
	return &s
}

func TestBeginSessionInsertsExperiment(t *testing.T) {
	b := newTestBackend(t)
	beginTestSession(t, b)

	var exp model.Experiment
	require.NoError(t, b.manager.DB.Where("name = ?", "exp-301").First(&exp).Error)

	// A second session against the same experiment must reuse the row.
	beginTestSession(t, b)
	var count int64
	require.NoError(t, b.manager.DB.Model(&model.Experiment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSaveAndGetSnapshot(t *testing.T) {
	b := newTestBackend(t)
	info := beginTestSession(t, b)

	s := testSnapshot(uuid.New(), "lesion overview")
	require.NoError(t, b.SaveSnapshot(s))

	var record model.SnapshotRecord
	require.NoError(t, b.manager.DB.Where("id = ?", s.ID.String()).First(&record).Error)
	assert.Equal(t, info.ID.String(), record.SessionID)

	got, err := b.GetSnapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "lesion overview", got.Label)
	assert.Equal(t, s.State.MapState, got.State.MapState)
	require.Len(t, got.State.ChannelLayerOptions, 2)
	assert.Equal(t, "gfp", got.State.ChannelLayerOptions[1].Name)
}

func TestSaveSnapshotUpserts(t *testing.T) {
	b := newTestBackend(t)
	beginTestSession(t, b)

	s := testSnapshot(uuid.New(), "before")
	require.NoError(t, b.SaveSnapshot(s))

	s.Label = "after"
	require.NoError(t, b.SaveSnapshot(s))

	var count int64
	require.NoError(t, b.manager.DB.Model(&model.SnapshotRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := b.GetSnapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Label)
}

func TestSaveWithoutSession(t *testing.T) {
	b := newTestBackend(t)

	err := b.SaveSnapshot(testSnapshot(uuid.New(), "orphan"))
	assert.ErrorIs(t, err, viewstate.ErrNoSession)
}

func TestListSnapshotsFiltersByViewer(t *testing.T) {
	b := newTestBackend(t)
	beginTestSession(t, b)

	viewerA := uuid.New()
	viewerB := uuid.New()

	early := testSnapshot(viewerA, "a1")
	early.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, b.SaveSnapshot(early))
	require.NoError(t, b.SaveSnapshot(testSnapshot(viewerB, "b1")))
	require.NoError(t, b.SaveSnapshot(testSnapshot(viewerA, "a2")))

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
	b := newTestBackend(t)
	beginTestSession(t, b)

	_, err := b.GetSnapshot(uuid.New())
	assert.ErrorIs(t, err, viewstate.ErrSnapshotNotFound)
}

func TestDeleteSnapshot(t *testing.T) {
	b := newTestBackend(t)
	beginTestSession(t, b)

	s := testSnapshot(uuid.New(), "doomed")
	require.NoError(t, b.SaveSnapshot(s))
	require.NoError(t, b.DeleteSnapshot(s.ID))

	_, err := b.GetSnapshot(s.ID)
	assert.ErrorIs(t, err, viewstate.ErrSnapshotNotFound)

	assert.ErrorIs(t, b.DeleteSnapshot(s.ID), viewstate.ErrSnapshotNotFound)

	// Soft delete keeps the row for audit.
	var count int64
	require.NoError(t, b.manager.DB.Unscoped().Model(&model.SnapshotRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEndSessionDumpsLocalDB(t *testing.T) {
	b := newTestBackend(t)
	b.manager.ShouldSaveLocal = true
	b.manager.SqliteFilePath = filepath.Join(t.TempDir(), "dump.db")
	beginTestSession(t, b)

	require.NoError(t, b.SaveSnapshot(testSnapshot(uuid.New(), "kept")))
	require.NoError(t, b.EndSession())

	assert.FileExists(t, b.manager.SqliteFilePath)
	assert.ErrorIs(t, b.EndSession(), viewstate.ErrNoSession)
}
