// Package viewport implements the interactive viewport of a viewer
// instance: the channel layer stack, the visual layer stack, and the
// camera, orchestrated over a host-supplied document, binding scope,
// and rendering surface.
//
// A viewport starts Unattached. Operations requested before attachment
// queue against the write-once futures for the mounted element, the
// binding scope, and the surface, and replay strictly in request order
// once the future settles. Attach resolves the three futures exactly
// once, in that order.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/deferred"
	"github.com/jluethi/TissueMAPS/internal/dom"
	"github.com/jluethi/TissueMAPS/internal/geo"
	"github.com/jluethi/TissueMAPS/internal/layer"
	"github.com/jluethi/TissueMAPS/internal/surface"
	"github.com/jluethi/TissueMAPS/internal/template"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

var (
	// ErrDestroyed is returned by operations on a destroyed viewport.
	ErrDestroyed = errors.New("viewport destroyed")
	// ErrNotAttached is returned by Destroy before a successful Attach.
	ErrNotAttached = errors.New("viewport not attached")
	// ErrAlreadyAttached is returned by a second or concurrent Attach.
	ErrAlreadyAttached = errors.New("viewport already attached")
	// ErrLayerNotFound is returned when removing a channel layer that is
	// not a member of the viewport.
	ErrLayerNotFound = errors.New("layer not in viewport")
	// ErrViewUndefined is returned when serializing a viewport with no
	// channel layers to define the view.
	ErrViewUndefined = errors.New("view undefined")
)

// DefaultFitPadding is the margin used when framing a map object.
var DefaultFitPadding = geo.UniformPadding(100)

// State is the lifecycle state of a viewport.
type State int

const (
	Unattached State = iota
	Attached
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Owner is the viewer instance a viewport attaches under. The mount
// container is "viewer-<ViewerID>".
type Owner interface {
	ViewerID() string
}

// ChannelLayer is the viewport's view of a channel layer. The concrete
// implementation lives in internal/layer; hosts may supply their own.
type ChannelLayer interface {
	Primitive() surface.Primitive
	ImageSize() [2]int
	Resolutions() []float64
	Serialize(ctx context.Context) (viewstate.ChannelConfig, error)
	Destroy()
}

// VisualLayer is the viewport's view of a vector layer.
type VisualLayer interface {
	ContentType() layer.ContentType
	Primitive() surface.Primitive
	Destroy()
}

// MapObject is anything with a spatial outline the camera can frame.
type MapObject interface {
	Outline() geom.Geometry
}

// RebuildFunc recreates a channel layer from its persisted config
// during a view-state restore.
type RebuildFunc func(cfg viewstate.ChannelConfig) (ChannelLayer, error)

// Dependencies carries the collaborators a viewport drives. All fields
// except FitPadding and Logger are required.
type Dependencies struct {
	Templates  template.Loader
	Document   dom.Document
	Scopes     dom.ScopeFactory
	Surfaces   surface.Factory
	FitPadding surface.Padding
	Logger     *slog.Logger
}

// Viewport is the interactive viewport of one viewer instance.
type Viewport struct {
	id   uuid.UUID
	deps Dependencies
	log  *slog.Logger

	element      *deferred.Value[dom.Node]
	elementScope *deferred.Value[dom.Scope]
	surface      *deferred.Value[surface.Surface]

	mu        sync.Mutex
	state     State
	attaching bool
	viewSet   bool
	channels  []ChannelLayer
	visuals   []VisualLayer
}

// New creates an unattached viewport with a fresh v4 identity.
func New(deps Dependencies) *Viewport {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FitPadding == (surface.Padding{}) {
		deps.FitPadding = DefaultFitPadding
	}
	v := &Viewport{
		id:           uuid.New(),
		deps:         deps,
		element:      deferred.New[dom.Node](),
		elementScope: deferred.New[dom.Scope](),
		surface:      deferred.New[surface.Surface](),
	}
	v.log = deps.Logger.With("viewport", v.id.String())
	return v
}

// ID returns the viewport identity.
func (v *Viewport) ID() uuid.UUID { return v.id }

// State reports the lifecycle state.
func (v *Viewport) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Element is the future of the mounted viewport fragment.
func (v *Viewport) Element() *deferred.Value[dom.Node] { return v.element }

// ElementScope is the future of the viewport's binding scope.
func (v *Viewport) ElementScope() *deferred.Value[dom.Scope] { return v.elementScope }

// Surface is the future of the rendering surface.
func (v *Viewport) Surface() *deferred.Value[surface.Surface] { return v.surface }

// PendingOps reports how many queued operations have not replayed yet.
func (v *Viewport) PendingOps() int {
	return v.element.Pending() + v.elementScope.Pending() + v.surface.Pending()
}

// ChannelLayers returns the channel set in stacking order.
func (v *Viewport) ChannelLayers() []ChannelLayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ChannelLayer, len(v.channels))
	copy(out, v.channels)
	return out
}

// VisualLayers returns the visual set in stacking order.
func (v *Viewport) VisualLayers() []VisualLayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]VisualLayer, len(v.visuals))
	copy(out, v.visuals)
	return out
}

// Attach injects the viewport markup under the owner's container,
// creates the binding scope and the rendering surface, and resolves the
// element, elementScope, and surface futures in that order. On failure
// every artifact created so far is rolled back, no future settles, the
// state stays Unattached, and the step cause is returned wrapped.
func (v *Viewport) Attach(ctx context.Context, owner Owner) error {
	v.mu.Lock()
	switch {
	case v.state == Destroyed:
		v.mu.Unlock()
		return ErrDestroyed
	case v.state == Attached || v.attaching:
		v.mu.Unlock()
		return ErrAlreadyAttached
	}
	v.attaching = true
	v.mu.Unlock()

	node, scope, surf, err := v.buildArtifacts(ctx, owner)
	if err != nil {
		v.mu.Lock()
		v.attaching = false
		v.mu.Unlock()
		v.log.Error("viewport attach failed", "error", err)
		return err
	}

	v.mu.Lock()
	v.state = Attached
	v.attaching = false
	v.mu.Unlock()

	v.element.Resolve(node)
	v.elementScope.Resolve(scope)
	v.surface.Resolve(surf)

	v.log.Info("viewport attached", "container", dom.ContainerID(owner.ViewerID()))
	return nil
}

// buildArtifacts runs the attach sequence and owns its rollback: on any
// step failure the artifacts created by earlier steps are torn down.
func (v *Viewport) buildArtifacts(ctx context.Context, owner Owner) (dom.Node, dom.Scope, surface.Surface, error) {
	markup, err := v.deps.Templates.Load(ctx, template.ViewportID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load viewport template: %w", err)
	}

	container := dom.ContainerID(owner.ViewerID())
	node, err := v.deps.Document.Append(container, markup)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mount viewport under %q: %w", container, err)
	}

	scope := v.deps.Scopes.New(map[string]any{
		"viewport": v,
		"viewer":   owner,
	})

	surf, err := v.deps.Surfaces.CreateSurface(node)
	if err != nil {
		scope.Destroy()
		if rerr := node.Remove(); rerr != nil {
			v.log.Warn("attach rollback: remove mounted node", "error", rerr)
		}
		return nil, nil, nil, fmt.Errorf("create surface: %w", err)
	}
	return node, scope, surf, nil
}

// Destroy tears the viewport down: binding scope first, then the
// mounted node, the surface, and finally the owned layers. Destroy on
// an Unattached viewport fails with ErrNotAttached; a second Destroy is
// a no-op returning nil.
func (v *Viewport) Destroy() error {
	v.mu.Lock()
	switch v.state {
	case Destroyed:
		v.mu.Unlock()
		return nil
	case Unattached:
		v.mu.Unlock()
		return ErrNotAttached
	}
	v.state = Destroyed
	channels := v.channels
	visuals := v.visuals
	v.channels = nil
	v.visuals = nil
	v.mu.Unlock()

	// Destroyed is reachable from Attached only, so the futures are
	// settled and these run inline, in order.
	v.elementScope.Then(func(scope dom.Scope, err error) {
		if err == nil {
			scope.Destroy()
		}
	})
	v.element.Then(func(node dom.Node, err error) {
		if err != nil {
			return
		}
		if rerr := node.Remove(); rerr != nil {
			v.log.Warn("remove viewport node", "error", rerr)
		}
	})
	v.surface.Then(func(s surface.Surface, err error) {
		if err != nil {
			return
		}
		if rerr := s.Release(); rerr != nil {
			v.log.Warn("release surface", "error", rerr)
		}
	})

	for _, l := range channels {
		l.Destroy()
	}
	for _, l := range visuals {
		l.Destroy()
	}

	v.log.Info("viewport destroyed")
	return nil
}

// failFastIfDestroyed is the destroyed-state check shared by every
// queueing operation.
func (v *Viewport) failFastIfDestroyed() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Destroyed {
		return ErrDestroyed
	}
	return nil
}
