package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jluethi/TissueMAPS/internal/api"
	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/dispatcher"
	"github.com/jluethi/TissueMAPS/internal/influx"
	"github.com/jluethi/TissueMAPS/internal/model"
	"github.com/jluethi/TissueMAPS/internal/session"
	"github.com/jluethi/TissueMAPS/internal/storage"
	memstorage "github.com/jluethi/TissueMAPS/internal/storage/memory"
	"github.com/jluethi/TissueMAPS/internal/template"
)

// runCommand handles the one-shot subcommands. The daemon runs only
// when no arguments are given.
func runCommand(args []string) error {
	switch strings.ToLower(args[0]) {
	case "version":
		fmt.Printf("viewerd %s (built %s)\n", Version, BuildDate)
		return nil
	case "demo":
		return runDemo()
	case "export":
		return runExport(args[1:])
	case "check":
		return runCheck()
	default:
		return fmt.Errorf("unknown command %q (expected version, demo, export, or check)", args[0])
	}
}

// dispatchDemoEvent feeds one command through the dispatcher the way
// the host shell would. Every viewer handler answers with a string.
func dispatchDemoEvent(command string, args ...string) (string, error) {
	result, err := EventDispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	})
	if err != nil {
		return "", err
	}
	s, _ := result.(string)
	return s, nil
}

// runDemo drives a scripted session over the dispatcher and leaves a
// session export behind. It exercises every viewer command once.
func runDemo() error {
	Logger.Info("Running demo session", "version", Version)
	demoStart := time.Now()

	if err := startServices(); err != nil {
		return err
	}
	if err := SessionService.BeginSession("demo", "scripted demo session"); err != nil {
		Logger.Error("Failed to begin demo session", "error", err)
	}

	// demo acquisition: one well scan, three stains
	demoWidth, demoHeight := 16384, 12288
	demoChannels := []struct {
		name  string
		color string
		min   int
		max   int
	}{
		{"DAPI", "#0000ff", 120, 3800},
		{"GFP", "#00ff00", 90, 2600},
		{"mCherry", "#ff0000", 150, 4100},
	}
	demoNuclei := "[[[5120,4096],[5196,4090],[5230,4150],[5180,4210],[5110,4170]]," +
		"[[6010,4480],[6090,4475],[6120,4540],[6060,4600],[5995,4555]]," +
		"[[5480,5010],[5575,5005],[5600,5090],[5530,5150],[5460,5095]]]"
	demoCentroids := "[[5167,4143],[6059,4530],[5529,5070]]"
	demoTarget := "[[6010,4480],[6120,4480],[6120,4600],[6010,4600]]"

	viewerID, err := dispatchDemoEvent(session.CmdViewerCreate, "demo")
	if err != nil {
		return fmt.Errorf("viewer create: %w", err)
	}
	Logger.Info("Demo viewer created", "viewerId", viewerID)

	for _, ch := range demoChannels {
		cfg, _ := json.Marshal(map[string]any{
			"name":   ch.name,
			"width":  demoWidth,
			"height": demoHeight,
			"options": map[string]any{
				"color": ch.color,
				"min":   ch.min,
				"max":   ch.max,
			},
		})
		if _, err := dispatchDemoEvent(session.CmdChannelAdd, viewerID, string(cfg)); err != nil {
			return fmt.Errorf("channel %s: %w", ch.name, err)
		}
	}

	if _, err := dispatchDemoEvent(session.CmdObjectsAdd, viewerID, "Nuclei", demoNuclei); err != nil {
		return fmt.Errorf("outline layer: %w", err)
	}
	if _, err := dispatchDemoEvent(session.CmdMarkersAdd, viewerID, "Centroids", demoCentroids); err != nil {
		return fmt.Errorf("marker layer: %w", err)
	}
	if _, err := dispatchDemoEvent(session.CmdGoToObject, viewerID, demoTarget); err != nil {
		return fmt.Errorf("goto object: %w", err)
	}

	snapshotID, err := dispatchDemoEvent(session.CmdStateSave, viewerID, "demo nucleus 2")
	if err != nil {
		return fmt.Errorf("state save: %w", err)
	}
	Logger.Info("Demo view state saved", "snapshotId", snapshotID)

	// a second viewer takes focus, then the first resumes its state
	secondID, err := dispatchDemoEvent(session.CmdViewerCreate, "demo")
	if err != nil {
		return fmt.Errorf("second viewer: %w", err)
	}
	if _, err := dispatchDemoEvent(session.CmdViewerSelect, viewerID); err != nil {
		return fmt.Errorf("viewer select: %w", err)
	}
	if _, err := dispatchDemoEvent(session.CmdStateRestore, viewerID, snapshotID); err != nil {
		return fmt.Errorf("state restore: %w", err)
	}

	if _, err := dispatchDemoEvent(session.CmdVisualRemove, viewerID, "Centroids"); err != nil {
		return fmt.Errorf("visual remove: %w", err)
	}
	if _, err := dispatchDemoEvent(session.CmdChannelRemove, viewerID, "mCherry"); err != nil {
		return fmt.Errorf("channel remove: %w", err)
	}

	states, err := dispatchDemoEvent(session.CmdStateList, viewerID)
	if err != nil {
		return fmt.Errorf("state list: %w", err)
	}
	Logger.Info("Demo view states", "states", states)

	if _, err := dispatchDemoEvent(session.CmdViewerClose, secondID); err != nil {
		return fmt.Errorf("viewer close: %w", err)
	}

	Logger.Info("Demo complete", "durationMs", time.Since(demoStart).Milliseconds())
	shutdown()

	if exportable, ok := StorageBackend.(storage.Exportable); ok && exportable.ExportPath() != "" {
		fmt.Printf("Demo session exported to %s\n", exportable.ExportPath())
	}
	return nil
}

// runExport rebuilds a session archive from rows the db backend stored.
// It talks to Postgres only; an in-memory fallback would have nothing
// to export.
func runExport(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("export expects a session id")
	}
	sessionID := args[0]
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}

	DBManager = database.NewManager(newZerologLogger("database"))
	db, err := DBManager.GetPostgresDB()
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	var records []model.SnapshotRecord
	if err := db.Where("session_id = ?", sessionID).Order("created_at asc").Find(&records).Error; err != nil {
		return fmt.Errorf("query snapshots: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no snapshots stored for session %s", sessionID)
	}

	hostname, _ := os.Hostname()
	export := memstorage.SessionExport{
		AppVersion: Version,
		SessionID:  sessionID,
		Experiment: records[0].Experiment,
		Label:      records[0].Label,
		Host:       hostname,
		StartedAt:  records[0].CreatedAt,
		Duration:   records[len(records)-1].CreatedAt.Sub(records[0].CreatedAt).Seconds(),
	}
	for i := range records {
		snap, serr := records[i].ToSnapshot()
		if serr != nil {
			return fmt.Errorf("rebuild snapshot %s: %w", records[i].ID, serr)
		}
		export.Snapshots = append(export.Snapshots, *snap)
	}

	outputDir := config.GetStorageConfig().Memory.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	os.MkdirAll(outputDir, 0755)
	outPath := filepath.Join(outputDir, fmt.Sprintf("session_%s.json.gz", sessionID))

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}

	Logger.Info("Session exported", "sessionId", sessionID, "snapshots", len(export.Snapshots), "path", outPath)
	fmt.Println(outPath)
	return nil
}

// runCheck validates the configuration against the world: can the
// storage backend come up, do the templates load, do the optional
// services answer.
func runCheck() error {
	failures := 0
	check := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Printf("%-28s FAILED: %v\n", name, err)
			return
		}
		fmt.Printf("%-28s ok\n", name)
	}

	// storage: build the configured backend, initialize it, tear down
	storageCfg := config.GetStorageConfig()
	backend, err := createStorageBackend(storageCfg)
	if err == nil {
		err = backend.Init()
		if err == nil {
			err = backend.Close()
		}
	}
	check(fmt.Sprintf("storage (%s)", storageKind()), err)
	if DBManager != nil && DBManager.ShouldSaveLocal {
		fmt.Println("    note: postgres unreachable, the db backend would run on in-memory sqlite")
	}

	// templates: the embedded set, or the override directory when set
	viewerCfg := config.GetViewerConfig()
	var loader template.Loader = template.Default()
	if viewerCfg.TemplateDir != "" {
		loader = template.NewFSLoader(os.DirFS(viewerCfg.TemplateDir), "")
	}
	_, terr := loader.Load(context.Background(), template.ViewportID)
	check("viewport templates", terr)

	// api: only checked when a key is configured, the client is optional
	apiCfg := config.GetAPIConfig()
	if apiCfg.APIKey != "" {
		client := api.New(apiCfg, Logger)
		check("api server", client.Health())
	}

	// influx: Connect treats a failed ping as a soft failure and diverts
	// writes to a backup file; surface it as a hard one here
	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("viewerd_check_%d.log.gz", os.Getpid()))
		mgr := influx.NewManager(newZerologLogger("influx"), backupPath)
		ierr := mgr.Connect()
		if ierr == nil && !mgr.IsValid {
			ierr = fmt.Errorf("unreachable, writes would divert to the backup file")
		}
		mgr.Close()
		os.Remove(backupPath)
		check("influxdb", ierr)
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	return nil
}
