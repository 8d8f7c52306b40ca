package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

func readGzipExport(t *testing.T, path string) SessionExport {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var export SessionExport
	require.NoError(t, json.NewDecoder(gz).Decode(&export))
	return export
}

func TestEndSessionWritesGzipExport(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	info := beginTestSession(t, b)

	viewer := uuid.New()
	first := testSnapshot(viewer, "overview")
	second := testSnapshot(viewer, "detail")
	require.NoError(t, b.SaveSnapshot(first))
	require.NoError(t, b.SaveSnapshot(second))

	require.NoError(t, b.EndSession())

	path := b.ExportPath()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), info.StartedAt.Format("20060102_150405"))
	assert.Equal(t, ".gz", filepath.Ext(path))

	export := readGzipExport(t, path)
	assert.Equal(t, info.ID.String(), export.SessionID)
	assert.Equal(t, "exp-301", export.Experiment)
	assert.Equal(t, "morning screen", export.Label)
	assert.Equal(t, "1.4.0", export.AppVersion)
	require.Len(t, export.Snapshots, 2)
	assert.Equal(t, "overview", export.Snapshots[0].Label)
	assert.Equal(t, "detail", export.Snapshots[1].Label)

	meta := b.ExportMetadata()
	assert.Equal(t, "exp-301", meta.Experiment)
	assert.Equal(t, "morning screen", meta.SessionLabel)
	assert.Equal(t, 2, meta.SnapshotCount)
	assert.GreaterOrEqual(t, meta.Duration, 0.0)
}

func TestEndSessionWritesPlainJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: false})
	beginTestSession(t, b)

	require.NoError(t, b.SaveSnapshot(testSnapshot(uuid.New(), "only")))
	require.NoError(t, b.EndSession())

	path := b.ExportPath()
	require.NotEmpty(t, path)
	assert.Equal(t, ".json", filepath.Ext(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var export SessionExport
	require.NoError(t, json.NewDecoder(f).Decode(&export))
	require.Len(t, export.Snapshots, 1)
	assert.Equal(t, "only", export.Snapshots[0].Label)
}

func TestExportFilenameSanitized(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})

	info := viewstate.NewSessionInfo("exp-301", "Lesion Overview: A", "1.4.0")
	require.NoError(t, b.BeginSession(info))
	require.NoError(t, b.SaveSnapshot(testSnapshot(uuid.New(), "s")))
	require.NoError(t, b.EndSession())

	base := filepath.Base(b.ExportPath())
	assert.NotContains(t, base, " ")
	assert.NotContains(t, base, ":")
	assert.Contains(t, base, "Lesion_Overview__A")
}

func TestExportFallsBackToExperimentName(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})

	info := viewstate.NewSessionInfo("exp-301", "", "1.4.0")
	require.NoError(t, b.BeginSession(info))
	require.NoError(t, b.EndSession())

	assert.Contains(t, filepath.Base(b.ExportPath()), "exp-301")
}

func TestExportCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "exports")
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	beginTestSession(t, b)

	require.NoError(t, b.EndSession())

	_, err := os.Stat(b.ExportPath())
	require.NoError(t, err)
}
