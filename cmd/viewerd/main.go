// viewerd is the headless viewer engine for TissueMAPS experiments.
// The web shell spawns it and drives viewers over stdin, one command
// per line, reading results back on stdout. Run without arguments it
// is that daemon; the version, demo, export, and check subcommands run
// one task and exit.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/jluethi/TissueMAPS/internal/api"
	"github.com/jluethi/TissueMAPS/internal/config"
	"github.com/jluethi/TissueMAPS/internal/database"
	"github.com/jluethi/TissueMAPS/internal/dispatcher"
	"github.com/jluethi/TissueMAPS/internal/dom"
	"github.com/jluethi/TissueMAPS/internal/geo"
	"github.com/jluethi/TissueMAPS/internal/influx"
	"github.com/jluethi/TissueMAPS/internal/logging"
	"github.com/jluethi/TissueMAPS/internal/monitor"
	intOtel "github.com/jluethi/TissueMAPS/internal/otel"
	"github.com/jluethi/TissueMAPS/internal/session"
	"github.com/jluethi/TissueMAPS/internal/storage"
	"github.com/jluethi/TissueMAPS/internal/surface"
	"github.com/jluethi/TissueMAPS/internal/template"
)

// version defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.3.0"
	BuildDate string = "unknown"
)

// ServiceName prefixes log files and status reports.
const ServiceName = "viewerd"

// global services
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry log export
	OTelProvider *intOtel.Provider

	// DBManager is the relational layer behind the db storage backend
	DBManager *database.Manager

	InfluxManager  *influx.Manager
	StorageBackend storage.Backend

	SessionService  *session.Service
	MonitorService  *monitor.Service
	EventDispatcher *dispatcher.Dispatcher

	SessionStartTime time.Time = time.Now()

	SessionLogPath string
	SessionLogFile *os.File
)

func main() {
	bootstrap()

	args := os.Args[1:]
	if len(args) > 0 {
		if err := runCommand(args); err != nil {
			Logger.Error("Command failed", "command", args[0], "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runDaemon(); err != nil {
		Logger.Error("Daemon exited with error", "error", err)
		os.Exit(1)
	}
}

// bootstrap brings up console logging, loads the config, and re-points
// logging at the session log file with the optional OTel and Graylog
// handlers attached. Runs before any subcommand.
func bootstrap() {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir()); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logCfg := config.GetLogConfig()
	if _, err := os.Stat(logCfg.Dir); os.IsNotExist(err) {
		os.Mkdir(logCfg.Dir, 0755)
	}

	SessionLogPath = logging.LogFilePath(logCfg.Dir, ServiceName, SessionStartTime)
	if _, err := os.Stat(SessionLogPath); err == nil {
		os.Rename(SessionLogPath, SessionLogPath+".old")
	}
	var err error
	SessionLogFile, err = os.OpenFile(SessionLogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", SessionLogPath)
	}

	// OTel provider after the log file exists so its exporter can share it
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var otelWriter io.Writer
		if otelCfg.Stdout || SessionLogFile == nil {
			otelWriter = os.Stdout
		} else {
			otelWriter = SessionLogFile
		}
		OTelProvider, err = intOtel.SetupLoggerProvider(context.Background(), intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    otelWriter,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else if otelCfg.Endpoint != "" {
			Logger.Info("OTel provider initialized", "file", SessionLogPath, "endpoint", otelCfg.Endpoint)
		} else {
			Logger.Info("OTel provider initialized", "file", SessionLogPath)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	var extra []slog.Handler
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		gelfHandler, gerr := logging.NewGelfHandler(graylogCfg.Address, logging.ParseLevel(logCfg.Level))
		if gerr != nil {
			Logger.Error("Failed to connect to Graylog", "error", gerr, "address", graylogCfg.Address)
		} else {
			extra = append(extra, gelfHandler)
		}
	}

	// Re-setup logging with file output and the optional side channels
	var logWriter io.Writer
	if SessionLogFile != nil {
		logWriter = SessionLogFile
	}
	SlogManager.Setup(logWriter, logCfg.Level, otelLogProvider, extra...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", SessionLogPath)
}

// configDir resolves where viewerd.json lives: VIEWERD_CONFIG_DIR when
// set, else the working directory.
func configDir() string {
	if dir := os.Getenv("VIEWERD_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "."
}

// newZerologLogger builds the zerolog logger the relational and influx
// managers keep. It shares the session log file with slog.
func newZerologLogger(component string) zerolog.Logger {
	w := io.Writer(os.Stdout)
	if SessionLogFile != nil {
		w = SessionLogFile
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// runDaemon runs the full engine: services wired onto the dispatcher, a
// session opened for the configured experiment, and the host shell
// serviced over stdin until EOF, :SHUTDOWN:, or a signal.
func runDaemon() error {
	Logger.Info("Starting up...", "version", Version)

	// leave cores for the host shell and the image server
	numCPUs := runtime.NumCPU()
	runtime.GOMAXPROCS(int(math.Max(float64(numCPUs-2), 1)))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if err := startServices(); err != nil {
		return err
	}
	registerLifecycleHandlers(EventDispatcher, cancel)

	experiment := config.GetString("experiment")
	if err := SessionService.BeginSession(experiment, config.GetString("sessionLabel")); err != nil {
		Logger.Error("Failed to begin session", "error", err)
	}

	if err := MonitorService.Start(ctx); err != nil {
		Logger.Warn("Failed to start status monitor", "error", err)
	}

	Logger.Info("Ready", "experiment", experiment, "backend", storageKind())
	commandLoop(ctx)

	shutdown()
	return nil
}

// startServices wires storage, telemetry, the viewer registry, and the
// command dispatcher. The daemon and the demo subcommand share it.
func startServices() error {
	functionName := "startServices"

	// Storage first; everything else hangs snapshots on it. A failed
	// backend degrades the engine to viewing only, save commands report
	// the error per call.
	if err := initStorage(); err != nil {
		Logger.Error("Storage initialization failed", "error", err)
	}

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupDir := influxCfg.BackupDir
		if backupDir == "" {
			backupDir = config.GetLogConfig().Dir
		}
		backupPath := filepath.Join(backupDir,
			fmt.Sprintf("influx_backup_%s.log.gz", SessionStartTime.Format("20060102_150405")))
		InfluxManager = influx.NewManager(newZerologLogger("influx"), backupPath)
		if err := InfluxManager.Connect(); err != nil {
			Logger.Error("InfluxDB initialization failed", "error", err)
			InfluxManager = nil
		}
	}

	viewerCfg := config.GetViewerConfig()
	var loader template.Loader = template.Default()
	if viewerCfg.TemplateDir != "" {
		loader = template.NewFSLoader(os.DirFS(viewerCfg.TemplateDir), "")
		Logger.Info("Using viewport templates from directory", "dir", viewerCfg.TemplateDir)
	}

	SessionService = session.NewService(session.Dependencies{
		Loader:     loader,
		Document:   dom.NewMemoryDocument(),
		Scopes:     dom.NewMemoryScopeFactory(),
		Surfaces:   surface.NewHeadlessFactory(viewerCfg.SurfaceWidth, viewerCfg.SurfaceHeight),
		Backend:    StorageBackend,
		LogManager: SlogManager,
		Influx:     InfluxManager,
		FitPadding: geo.UniformPadding(viewerCfg.FitPadding),
		AppVersion: Version,
	})

	// Stamp the viewer population on every record before the dispatcher
	// captures its logger.
	SlogManager.AttachContext(SessionService.LogContext)
	Logger = SlogManager.Logger()

	var err error
	EventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	Logger.Debug("Registering viewer handlers with dispatcher")
	SessionService.RegisterHandlers(EventDispatcher)
	Logger.Info("Viewer handlers registered with dispatcher")

	MonitorService = monitor.NewService(monitor.Dependencies{
		Source:     SessionService,
		LogManager: SlogManager,
		Influx:     InfluxManager,
		Backend:    storageKind(),
		StatusDir:  config.GetLogConfig().Dir,
	})

	SlogManager.WriteLog(functionName, "Services started successfully", "INFO")
	return nil
}

// registerLifecycleHandlers adds the daemon-level commands next to the
// viewer command surface.
func registerLifecycleHandlers(d *dispatcher.Dispatcher, stop context.CancelFunc) {
	d.Register(":VERSION:", func(e dispatcher.Event) (any, error) {
		return []string{Version, BuildDate}, nil
	})

	d.Register(":SHUTDOWN:", func(e dispatcher.Event) (any, error) {
		Logger.Info("Received :SHUTDOWN: command")
		go stop()
		return "ok", nil
	})
}

// commandLoop services the host shell: one command per line on stdin,
// fields separated by tabs, one OK/ERR line on stdout per command.
func commandLoop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		// JSON outline payloads can run long
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				Logger.Info("Host shell closed stdin")
				return
			}
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			fields := strings.Split(line, "\t")
			result, err := EventDispatcher.Dispatch(dispatcher.Event{
				Command:   fields[0],
				Args:      fields[1:],
				Timestamp: time.Now(),
			})
			writeResult(os.Stdout, result, err)
		}
	}
}

// writeResult answers one command on the host pipe. Results that are
// not already strings go out as JSON.
func writeResult(w io.Writer, result any, err error) {
	if err != nil {
		fmt.Fprintf(w, "ERR\t%v\n", err)
		return
	}
	switch r := result.(type) {
	case nil:
		fmt.Fprintln(w, "OK")
	case string:
		fmt.Fprintf(w, "OK\t%s\n", r)
	default:
		data, merr := json.Marshal(r)
		if merr != nil {
			fmt.Fprintf(w, "ERR\t%v\n", merr)
			return
		}
		fmt.Fprintf(w, "OK\t%s\n", data)
	}
}

// shutdown ends the session, publishes the export, and flushes
// telemetry. Runs when the daemon or the demo winds down.
func shutdown() {
	Logger.Info("Shutting down...")

	if MonitorService != nil {
		MonitorService.Stop()
	}

	if SessionService != nil && SessionService.Session() != nil {
		if err := SessionService.EndSession(); err != nil {
			Logger.Error("Failed to end session", "error", err)
		}
	}

	uploadExport()

	if StorageBackend != nil {
		if err := StorageBackend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
	}

	if InfluxManager != nil {
		InfluxManager.Close()
	}

	// Flush OTel data if the provider is available
	if OTelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := OTelProvider.Flush(ctx); err != nil {
			Logger.Warn("Failed to flush OTel data", "error", err)
		}
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
	}

	if SessionLogFile != nil {
		SessionLogFile.Close()
	}
}

// uploadExport pushes the session archive to the web frontend when the
// backend produced one and an api key is configured.
func uploadExport() {
	exportable, ok := StorageBackend.(storage.Exportable)
	if !ok {
		return
	}
	path := exportable.ExportPath()
	if path == "" {
		return
	}

	apiCfg := config.GetAPIConfig()
	if apiCfg.APIKey == "" {
		Logger.Info("No api key configured, keeping session export local", "path", path)
		return
	}
	client := api.New(apiCfg, Logger)
	if err := client.UploadExport(path, exportable.ExportMetadata()); err != nil {
		Logger.Error("Failed to upload session export", "error", err, "path", path)
	}
}
