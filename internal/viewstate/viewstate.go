// Package viewstate captures and restores the serializable state of a
// viewport: the channel layer configurations plus the camera. The JSON
// layout of these records is the persisted contract; stored snapshots
// from older sessions must keep unmarshalling.
package viewstate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/peterstace/simplefeatures/geom"
	"golang.org/x/sync/errgroup"

	"github.com/jluethi/TissueMAPS/internal/surface"
)

var (
	// ErrNoChannelLayers is returned for states that describe no layers.
	ErrNoChannelLayers = errors.New("view state has no channel layers")
	// ErrInvalidMapState is returned for camera numbers a surface cannot apply.
	ErrInvalidMapState = errors.New("invalid map state")
)

// MapState is the persisted camera.
type MapState struct {
	Zoom       float64    `json:"zoom"`
	Center     [2]float64 `json:"center"`
	Resolution float64    `json:"resolution"`
	Rotation   float64    `json:"rotation"`
}

// ChannelConfig is the persisted configuration of one channel layer.
type ChannelConfig struct {
	Name      string         `json:"name"`
	ImageSize [2]int         `json:"imageSize"`
	Visible   bool           `json:"visible"`
	Options   map[string]any `json:"options,omitempty"`
}

// ViewState is a full viewport capture.
type ViewState struct {
	ChannelLayerOptions []ChannelConfig `json:"channelLayerOptions"`
	MapState            MapState        `json:"mapState"`
}

// Snapshot is one persisted capture with its identity and provenance.
type Snapshot struct {
	ID         uuid.UUID `json:"id"`
	ViewerID   uuid.UUID `json:"viewerId"`
	Experiment string    `json:"experiment"`
	Label      string    `json:"label"`
	CreatedAt  time.Time `json:"createdAt"`
	State      ViewState `json:"state"`
}

// NewSnapshot stamps a view state with a fresh id and capture time.
func NewSnapshot(viewerID uuid.UUID, experiment, label string, state ViewState) Snapshot {
	return Snapshot{
		ID:         uuid.New(),
		ViewerID:   viewerID,
		Experiment: experiment,
		Label:      label,
		CreatedAt:  time.Now().UTC(),
		State:      state,
	}
}

// LayerSerializer is the part of a channel layer the codec needs.
type LayerSerializer interface {
	Serialize(ctx context.Context) (ChannelConfig, error)
}

// Capture serializes every layer concurrently and joins the results with
// the camera. The join is all or nothing: the first layer error cancels
// the remaining serializations and fails the capture. Layer order in the
// result equals input order.
func Capture(ctx context.Context, cam surface.Camera, layers []LayerSerializer) (ViewState, error) {
	configs := make([]ChannelConfig, len(layers))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		g.Go(func() error {
			cfg, err := l.Serialize(gctx)
			if err != nil {
				return fmt.Errorf("serialize channel layer %d: %w", i, err)
			}
			configs[i] = cfg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ViewState{}, err
	}
	return ViewState{
		ChannelLayerOptions: configs,
		MapState:            MapStateFromCamera(cam),
	}, nil
}

// MapStateFromCamera converts a surface camera to its persisted form.
func MapStateFromCamera(cam surface.Camera) MapState {
	return MapState{
		Zoom:       cam.Zoom,
		Center:     [2]float64{cam.Center.X, cam.Center.Y},
		Resolution: cam.Resolution,
		Rotation:   cam.Rotation,
	}
}

// CameraFromMapState converts a persisted map state back to a camera.
func CameraFromMapState(ms MapState) surface.Camera {
	return surface.Camera{
		Zoom:       ms.Zoom,
		Resolution: ms.Resolution,
		Rotation:   ms.Rotation,
		Center:     geom.XY{X: ms.Center[0], Y: ms.Center[1]},
	}
}

// ValidateState rejects states a restore could not apply, so the restore
// fails before any layer is touched.
func ValidateState(vs ViewState) error {
	if len(vs.ChannelLayerOptions) == 0 {
		return ErrNoChannelLayers
	}
	ms := vs.MapState
	for _, v := range [...]float64{ms.Zoom, ms.Center[0], ms.Center[1], ms.Resolution, ms.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite camera value", ErrInvalidMapState)
		}
	}
	if ms.Resolution < 0 {
		return fmt.Errorf("%w: negative resolution %v", ErrInvalidMapState, ms.Resolution)
	}
	return nil
}
