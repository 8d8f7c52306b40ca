// Package session manages viewer instances: creation, activation, and
// closing, plus the save/restore flow between each viewport and the
// storage backend. One Service is the registry the host command surface
// drives.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jluethi/TissueMAPS/internal/dom"
	"github.com/jluethi/TissueMAPS/internal/influx"
	"github.com/jluethi/TissueMAPS/internal/layer"
	"github.com/jluethi/TissueMAPS/internal/logging"
	"github.com/jluethi/TissueMAPS/internal/pyramid"
	"github.com/jluethi/TissueMAPS/internal/storage"
	"github.com/jluethi/TissueMAPS/internal/surface"
	"github.com/jluethi/TissueMAPS/internal/template"
	"github.com/jluethi/TissueMAPS/internal/viewport"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// ErrViewerNotFound is returned for operations on an unknown viewer id.
var ErrViewerNotFound = errors.New("viewer not found")

var errNoBackend = errors.New("no storage backend configured")

// Instance is one viewer: an experiment bound to a viewport mounted
// under its own host container.
type Instance struct {
	id         uuid.UUID
	experiment string
	createdAt  time.Time
	viewport   *viewport.Viewport

	mu     sync.Mutex
	active bool
}

// ID returns the viewer identity.
func (i *Instance) ID() uuid.UUID { return i.id }

// ViewerID implements viewport.Owner; the host container is
// "viewer-<ViewerID>".
func (i *Instance) ViewerID() string { return i.id.String() }

// Experiment returns the experiment the viewer displays.
func (i *Instance) Experiment() string { return i.experiment }

// CreatedAt returns the creation time.
func (i *Instance) CreatedAt() time.Time { return i.createdAt }

// Viewport returns the viewer's viewport.
func (i *Instance) Viewport() *viewport.Viewport { return i.viewport }

// Active reports whether the viewer is the visible one.
func (i *Instance) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// Activate shows the viewport and marks the viewer active.
func (i *Instance) Activate() error {
	if err := i.viewport.Show(); err != nil {
		return err
	}
	i.mu.Lock()
	i.active = true
	i.mu.Unlock()
	return nil
}

// Deactivate hides the viewport and clears the active flag.
func (i *Instance) Deactivate() error {
	if err := i.viewport.Hide(); err != nil {
		return err
	}
	i.mu.Lock()
	i.active = false
	i.mu.Unlock()
	return nil
}

// Dependencies holds all dependencies for the session service.
type Dependencies struct {
	Loader     template.Loader
	Document   dom.Document
	Scopes     dom.ScopeFactory
	Surfaces   surface.Factory
	Backend    storage.Backend
	LogManager *logging.SlogManager
	Influx     *influx.Manager // nil disables telemetry
	FitPadding surface.Padding
	AppVersion string

	// TileURL builds the tile route for a channel rebuilt during a
	// view-state restore. Nil uses the image-server default.
	TileURL func(experiment, channel string) string
}

// Service is the registry of viewer instances.
type Service struct {
	deps Dependencies
	log  *slog.Logger

	mu      sync.Mutex
	viewers map[uuid.UUID]*Instance
	order   []uuid.UUID
	active  uuid.UUID
	session *viewstate.SessionInfo
}

// NewService creates a new session service.
func NewService(deps Dependencies) *Service {
	log := slog.Default()
	if deps.LogManager != nil {
		log = deps.LogManager.Logger()
	}
	return &Service{
		deps:    deps,
		log:     log,
		viewers: make(map[uuid.UUID]*Instance),
	}
}

// BeginSession opens the storage session that snapshot saves join.
func (s *Service) BeginSession(experiment, label string) error {
	if s.deps.Backend == nil {
		return errNoBackend
	}
	info := viewstate.NewSessionInfo(experiment, label, s.deps.AppVersion)
	if err := s.deps.Backend.BeginSession(info); err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	s.mu.Lock()
	s.session = info
	s.mu.Unlock()
	s.log.Info("session started", "session", info.ID, "experiment", experiment)
	return nil
}

// EndSession closes the storage session.
func (s *Service) EndSession() error {
	if s.deps.Backend == nil {
		return errNoBackend
	}
	s.mu.Lock()
	info := s.session
	s.session = nil
	s.mu.Unlock()

	if err := s.deps.Backend.EndSession(); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if info != nil {
		s.log.Info("session ended", "session", info.ID, "duration", info.Duration())
	}
	return nil
}

// Session returns the active session info, or nil outside a session.
func (s *Service) Session() *viewstate.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CreateViewer builds a viewer for an experiment, registers its host
// container when the document allows that, and attaches the viewport.
// The first viewer in the registry auto-activates.
func (s *Service) CreateViewer(ctx context.Context, experiment string) (*Instance, error) {
	if experiment == "" {
		return nil, errors.New("create viewer: empty experiment name")
	}

	inst := &Instance{
		id:         uuid.New(),
		experiment: experiment,
		createdAt:  time.Now(),
	}
	inst.viewport = viewport.New(viewport.Dependencies{
		Templates:  s.deps.Loader,
		Document:   s.deps.Document,
		Scopes:     s.deps.Scopes,
		Surfaces:   s.deps.Surfaces,
		FitPadding: s.deps.FitPadding,
		Logger:     s.log.With("viewer", inst.id.String()),
	})

	if reg, ok := s.deps.Document.(dom.ContainerRegistrar); ok {
		reg.AddContainer(dom.ContainerID(inst.ViewerID()))
	}

	start := time.Now()
	if err := inst.viewport.Attach(ctx, inst); err != nil {
		return nil, fmt.Errorf("create viewer: %w", err)
	}
	s.reportAttachLatency(ctx, inst.ViewerID(), time.Since(start))

	s.mu.Lock()
	s.viewers[inst.id] = inst
	s.order = append(s.order, inst.id)
	first := len(s.viewers) == 1
	if first {
		s.active = inst.id
	}
	s.mu.Unlock()

	// Only the active viewer is visible; later viewers start hidden
	// until a select brings them forward.
	if first {
		if err := inst.Activate(); err != nil {
			s.log.Warn("activate first viewer", "viewer", inst.id, "error", err)
		}
	} else if err := inst.Deactivate(); err != nil {
		s.log.Warn("hide new viewer", "viewer", inst.id, "error", err)
	}

	s.log.Info("viewer created", "viewer", inst.id, "experiment", experiment, "active", first)
	return inst, nil
}

// SelectViewer activates one viewer and deactivates the rest.
func (s *Service) SelectViewer(id uuid.UUID) error {
	s.mu.Lock()
	target, ok := s.viewers[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("select viewer %s: %w", id, ErrViewerNotFound)
	}
	others := make([]*Instance, 0, len(s.viewers)-1)
	for vid, inst := range s.viewers {
		if vid != id {
			others = append(others, inst)
		}
	}
	s.active = id
	s.mu.Unlock()

	for _, inst := range others {
		if !inst.Active() {
			continue
		}
		if err := inst.Deactivate(); err != nil {
			s.log.Warn("deactivate viewer", "viewer", inst.id, "error", err)
		}
	}
	if err := target.Activate(); err != nil {
		return fmt.Errorf("select viewer %s: %w", id, err)
	}
	s.log.Info("viewer selected", "viewer", id)
	return nil
}

// CloseViewer destroys the viewer's viewport and drops it from the
// registry. Closing the active viewer activates the most recently
// created survivor.
func (s *Service) CloseViewer(id uuid.UUID) error {
	s.mu.Lock()
	inst, ok := s.viewers[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("close viewer %s: %w", id, ErrViewerNotFound)
	}
	delete(s.viewers, id)
	for i, vid := range s.order {
		if vid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	var next *Instance
	if s.active == id {
		s.active = uuid.Nil
		if n := len(s.order); n > 0 {
			next = s.viewers[s.order[n-1]]
			s.active = next.id
		}
	}
	s.mu.Unlock()

	err := inst.viewport.Destroy()
	if next != nil {
		if aerr := next.Activate(); aerr != nil {
			s.log.Warn("activate surviving viewer", "viewer", next.id, "error", aerr)
		}
	}
	if err != nil {
		return fmt.Errorf("close viewer %s: %w", id, err)
	}
	s.log.Info("viewer closed", "viewer", id, "remaining", s.ViewerCount())
	return nil
}

// Viewer returns the instance registered under id.
func (s *Service) Viewer(id uuid.UUID) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.viewers[id]
	if !ok {
		return nil, fmt.Errorf("viewer %s: %w", id, ErrViewerNotFound)
	}
	return inst, nil
}

// Viewers returns every open viewer in creation order.
func (s *Service) Viewers() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Instance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.viewers[id])
	}
	return out
}

// ActiveViewer returns the active instance, or nil when none is open.
func (s *Service) ActiveViewer() *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == uuid.Nil {
		return nil
	}
	return s.viewers[s.active]
}

// SaveViewState serializes the viewer's viewport and persists it as a
// labeled snapshot through the storage backend.
func (s *Service) SaveViewState(ctx context.Context, id uuid.UUID, label string) (*viewstate.Snapshot, error) {
	inst, err := s.Viewer(id)
	if err != nil {
		return nil, err
	}
	if s.deps.Backend == nil {
		return nil, errNoBackend
	}

	state, err := inst.viewport.Serialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("save view state: %w", err)
	}
	snap := viewstate.NewSnapshot(inst.id, inst.experiment, label, state)
	if err := s.deps.Backend.SaveSnapshot(&snap); err != nil {
		return nil, fmt.Errorf("save view state: %w", err)
	}
	s.reportSnapshotSize(ctx, &snap)

	s.log.Info("view state saved",
		"viewer", id,
		"snapshot", snap.ID,
		"label", label,
		"layers", len(state.ChannelLayerOptions),
	)
	return &snap, nil
}

// RestoreViewState loads a snapshot from the backend and replays it onto
// the viewer's viewport, rebuilding each channel layer over a pyramid
// source reconstructed from its persisted name and size.
func (s *Service) RestoreViewState(ctx context.Context, id, snapshotID uuid.UUID) error {
	inst, err := s.Viewer(id)
	if err != nil {
		return err
	}
	if s.deps.Backend == nil {
		return errNoBackend
	}

	snap, err := s.deps.Backend.GetSnapshot(snapshotID)
	if err != nil {
		return fmt.Errorf("restore view state: %w", err)
	}
	if err := inst.viewport.RestoreViewState(ctx, snap.State, s.rebuildFunc(inst.experiment)); err != nil {
		return fmt.Errorf("restore view state: %w", err)
	}
	s.log.Info("view state restored", "viewer", id, "snapshot", snapshotID)
	return nil
}

// Snapshots lists stored snapshots for one viewer, or every snapshot
// when id is uuid.Nil.
func (s *Service) Snapshots(viewerID uuid.UUID) ([]viewstate.SnapshotMeta, error) {
	if s.deps.Backend == nil {
		return nil, errNoBackend
	}
	return s.deps.Backend.ListSnapshots(viewerID)
}

// rebuildFunc rebuilds channel layers for an experiment during restore.
func (s *Service) rebuildFunc(experiment string) viewport.RebuildFunc {
	return func(cfg viewstate.ChannelConfig) (viewport.ChannelLayer, error) {
		src := &pyramid.Source{
			Name:    cfg.Name,
			BaseURL: s.tileURL(experiment, cfg.Name),
			Width:   cfg.ImageSize[0],
			Height:  cfg.ImageSize[1],
		}
		ch, err := layer.NewChannel(src, cfg.Options)
		if err != nil {
			return nil, err
		}
		ch.SetVisible(cfg.Visible)
		return ch, nil
	}
}

func (s *Service) tileURL(experiment, channel string) string {
	if s.deps.TileURL != nil {
		return s.deps.TileURL(experiment, channel)
	}
	return fmt.Sprintf("/experiments/%s/channels/%s/tiles",
		url.PathEscape(experiment), url.PathEscape(channel))
}

// ViewerCount reports how many viewers are open.
func (s *Service) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// ActiveViewerID reports the active viewer id, empty when none.
func (s *Service) ActiveViewerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == uuid.Nil {
		return ""
	}
	return s.active.String()
}

// PendingOpCounts reports each viewer's queued-operation depth. The
// status monitor polls this.
func (s *Service) PendingOpCounts() map[string]int {
	s.mu.Lock()
	insts := make([]*Instance, 0, len(s.viewers))
	for _, inst := range s.viewers {
		insts = append(insts, inst)
	}
	s.mu.Unlock()

	counts := make(map[string]int, len(insts))
	for _, inst := range insts {
		counts[inst.ViewerID()] = inst.viewport.PendingOps()
	}
	return counts
}

// LogContext returns the dynamic attributes the logging manager stamps
// on every record.
func (s *Service) LogContext() []slog.Attr {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs := []slog.Attr{slog.Int("viewers", len(s.viewers))}
	if s.active != uuid.Nil {
		attrs = append(attrs, slog.String("activeViewer", s.active.String()))
	}
	return attrs
}

func (s *Service) reportAttachLatency(ctx context.Context, viewerID string, d time.Duration) {
	if s.deps.Influx == nil {
		return
	}
	bucket, point := influx.AttachLatencyPoint(viewerID, d)
	if err := s.deps.Influx.WritePoint(ctx, bucket, point); err != nil {
		s.log.Warn("write attach-latency point", "error", err)
	}
}

func (s *Service) reportSnapshotSize(ctx context.Context, snap *viewstate.Snapshot) {
	if s.deps.Influx == nil {
		return
	}
	data, err := json.Marshal(snap.State)
	if err != nil {
		return
	}
	bucket, point := influx.SnapshotSizePoint(snap.Experiment, len(snap.State.ChannelLayerOptions), len(data))
	if err := s.deps.Influx.WritePoint(ctx, bucket, point); err != nil {
		s.log.Warn("write snapshot-size point", "error", err)
	}
}
