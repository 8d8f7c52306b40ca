package monitor

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jluethi/TissueMAPS/internal/influx"
	"github.com/jluethi/TissueMAPS/internal/logging"
)

type staticSource struct {
	stats Stats
}

func (s staticSource) ViewerCount() int                { return s.stats.ViewerCount }
func (s staticSource) ActiveViewerID() string          { return s.stats.ActiveViewer }
func (s staticSource) PendingOpCounts() map[string]int { return s.stats.PendingOps }

func testLogManager(w io.Writer) *logging.SlogManager {
	lm := logging.NewSlogManager()
	lm.Setup(w, "DEBUG", nil)
	return lm
}

func TestSampleLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(Dependencies{
		Source: staticSource{stats: Stats{
			ViewerCount:  2,
			ActiveViewer: "v-1",
			PendingOps:   map[string]int{"v-1": 3},
		}},
		LogManager: testLogManager(&buf),
		Backend:    "memory",
	})

	report := svc.Sample(context.Background())

	assert.Equal(t, 2, report.ViewerCount)
	assert.Equal(t, "v-1", report.ActiveViewer)
	assert.Equal(t, "memory", report.Backend)
	assert.False(t, report.Time.IsZero())

	logged := buf.String()
	assert.Contains(t, logged, "viewer status")
	assert.Contains(t, logged, `"viewers":2`)
	assert.Contains(t, logged, `"active":"v-1"`)
	assert.Contains(t, logged, `"backend":"memory"`)
}

func TestSampleFeedsInfluxBackup(t *testing.T) {
	var backup bytes.Buffer
	im := influx.NewManager(zerolog.Nop(), "")
	im.BackupWriter = gzip.NewWriter(&backup)

	svc := NewService(Dependencies{
		Source: staticSource{stats: Stats{
			ViewerCount: 1,
			PendingOps:  map[string]int{"v-7": 4},
		}},
		LogManager: testLogManager(io.Discard),
		Influx:     im,
		Backend:    "db",
	})

	svc.Sample(context.Background())
	im.Close()

	r, err := gzip.NewReader(bytes.NewReader(backup.Bytes()))
	require.NoError(t, err)
	lines, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Contains(t, string(lines), "pending_ops")
	assert.Contains(t, string(lines), "viewer=v-7")
	assert.Contains(t, string(lines), "depth=4i")
}

func TestStartWritesStatusFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(Dependencies{
		Source:     staticSource{stats: Stats{ViewerCount: 1, ActiveViewer: "v-1"}},
		LogManager: testLogManager(io.Discard),
		Backend:    "memory",
		StatusDir:  dir,
		Interval:   5 * time.Millisecond,
	})

	require.NoError(t, svc.Start(context.Background()))
	require.True(t, svc.IsRunning())

	statusPath := filepath.Join(dir, "status.json")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(statusPath)
		return err == nil && bytes.Contains(data, []byte(`"viewerCount": 1`))
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	require.Eventually(t, func() bool { return !svc.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestStartTwiceIsNoOp(t *testing.T) {
	svc := NewService(Dependencies{
		Source:     staticSource{},
		LogManager: testLogManager(io.Discard),
		Interval:   time.Hour,
	})

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsRunning())

	svc.Stop()
	require.Eventually(t, func() bool { return !svc.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestContextCancelStopsMonitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(Dependencies{
		Source:     staticSource{},
		LogManager: testLogManager(io.Discard),
		Interval:   time.Hour,
	})

	require.NoError(t, svc.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !svc.IsRunning() }, time.Second, 5*time.Millisecond)
}

func TestStopTwiceDoesNotPanic(t *testing.T) {
	svc := NewService(Dependencies{
		Source:     staticSource{},
		LogManager: testLogManager(io.Discard),
	})

	svc.Stop()
	svc.Stop()
	assert.False(t, svc.IsRunning())
}
