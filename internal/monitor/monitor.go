package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jluethi/TissueMAPS/internal/influx"
	"github.com/jluethi/TissueMAPS/internal/logging"
)

// Stats is one sample of the viewer population.
type Stats struct {
	ViewerCount  int            `json:"viewerCount"`
	ActiveViewer string         `json:"activeViewer,omitempty"`
	PendingOps   map[string]int `json:"pendingOps,omitempty"`
}

// StatsSource supplies the population sample taken each tick. The
// session service is the canonical implementation.
type StatsSource interface {
	ViewerCount() int
	ActiveViewerID() string
	PendingOpCounts() map[string]int
}

// Report is the status document written each tick.
type Report struct {
	Time    time.Time `json:"time"`
	Backend string    `json:"backend"`
	Stats
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source     StatsSource
	LogManager *logging.SlogManager
	Influx     *influx.Manager // nil disables telemetry
	Backend    string          // storage backend kind, reported as-is
	StatusDir  string          // when non-empty, status.json is rewritten every tick
	Interval   time.Duration
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample takes one population sample, logs it, and forwards per-viewer
// queue depths to InfluxDB when a manager is wired.
func (s *Service) Sample(ctx context.Context) Report {
	stats := Stats{
		ViewerCount:  s.deps.Source.ViewerCount(),
		ActiveViewer: s.deps.Source.ActiveViewerID(),
		PendingOps:   s.deps.Source.PendingOpCounts(),
	}
	report := Report{
		Time:    time.Now(),
		Backend: s.deps.Backend,
		Stats:   stats,
	}

	logger := s.deps.LogManager.Logger()
	logger.Debug("viewer status",
		"viewers", stats.ViewerCount,
		"active", stats.ActiveViewer,
		"pendingOps", stats.PendingOps,
		"backend", s.deps.Backend,
	)

	if s.deps.Influx != nil {
		for viewerID, depth := range stats.PendingOps {
			bucket, point := influx.PendingOpsPoint(viewerID, depth)
			if err := s.deps.Influx.WritePoint(ctx, bucket, point); err != nil {
				logger.Warn("write pending-ops point", "viewer", viewerID, "error", err)
			}
		}
	}

	return report
}

// Start starts the status monitor goroutine. It stops when ctx is
// cancelled or Stop is called; a second Start while running is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	go s.run(ctx, stop)
	return nil
}

func (s *Service) run(ctx context.Context, stop <-chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	logger := s.deps.LogManager.Logger()
	logger.Debug("Starting status monitor goroutine", "function", "monitor.run")

	var statusFile *os.File
	if s.deps.StatusDir != "" {
		var err error
		statusFile, err = os.Create(filepath.Join(s.deps.StatusDir, "status.json"))
		if err != nil {
			logger.Error("Error creating status file", "error", err)
		} else {
			defer statusFile.Close()
		}
	}

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			report := s.Sample(ctx)
			if statusFile != nil {
				writeStatusFile(statusFile, report)
			}
		}
	}
}

// writeStatusFile rewrites the status file in place so readers always
// see a complete document.
func writeStatusFile(f *os.File, report Report) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	f.Truncate(0)
	f.Seek(0, 0)
	f.Write(append(data, '\n'))
}

// Stop stops the status monitor. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
}
