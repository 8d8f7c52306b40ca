package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// SessionExport is the root JSON document written when a session ends.
type SessionExport struct {
	AppVersion string               `json:"appVersion"`
	SessionID  string               `json:"sessionId"`
	Experiment string               `json:"experiment"`
	Label      string               `json:"label"`
	Host       string               `json:"host"`
	StartedAt  time.Time            `json:"startedAt"`
	Duration   float64              `json:"duration"`
	Snapshots  []viewstate.Snapshot `json:"snapshots"`
}

// exportJSON writes the session's snapshots to a JSON file. Callers must
// hold b.mu.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := b.session.Label
	if name == "" {
		name = b.session.Experiment
	}
	if name == "" {
		name = "session"
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	timestamp := b.session.StartedAt.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", name, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", name, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	b.lastExportMeta = viewstate.ExportMetadata{
		Experiment:    b.session.Experiment,
		SessionLabel:  b.session.Label,
		Duration:      export.Duration,
		SnapshotCount: len(export.Snapshots),
	}
	return nil
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		AppVersion: b.session.AppVersion,
		SessionID:  b.session.ID.String(),
		Experiment: b.session.Experiment,
		Label:      b.session.Label,
		Host:       b.session.Host,
		StartedAt:  b.session.StartedAt,
		Duration:   b.session.Duration(),
		Snapshots:  make([]viewstate.Snapshot, 0, len(b.order)),
	}

	for _, id := range b.order {
		export.Snapshots = append(export.Snapshots, *b.snapshots[id])
	}
	return export
}

func (b *Backend) writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func (b *Backend) writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}

// ExportPath returns the path of the last written session archive.
func (b *Backend) ExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// ExportMetadata describes the last written session archive.
func (b *Backend) ExportMetadata() viewstate.ExportMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportMeta
}
