// Package surface defines the contract between the viewport engine and
// the rendering surface that draws it. The engine never renders; it
// drives a surface through this interface and a host supplies the
// implementation.
package surface

import (
	"errors"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/dom"
	"github.com/jluethi/TissueMAPS/internal/geo"
)

var (
	// ErrReleased is returned by operations on a released surface.
	ErrReleased = errors.New("surface released")
	// ErrEmptyGeometry is returned when fitting a geometry without extent.
	ErrEmptyGeometry = errors.New("empty geometry")
)

// Camera is the surface's current pan/zoom/rotation state.
type Camera struct {
	Zoom       float64
	Resolution float64
	Rotation   float64
	Center     geom.XY
}

// Projection is the pixel coordinate system derived from the base image.
type Projection struct {
	Code   string
	Units  string
	Extent [4]float64
}

// View couples a projection with the initial camera placement and the
// resolution ladder of the backing pyramid, coarsest first.
type View struct {
	Projection  Projection
	Center      geom.XY
	Zoom        float64
	Resolutions []float64
}

// Padding is the fit margin in screen pixels.
type Padding = geo.Padding

// Primitive is an opaque engine-level layer handle. Channel layers carry
// tile primitives, visual layers vector primitives.
type Primitive interface {
	Kind() string
}

// Surface is an engine-level rendering surface. Implementations must be
// safe for concurrent use.
type Surface interface {
	// SetView installs the coordinate system and initial camera. Called
	// once, when the first channel layer defines the projection.
	SetView(View) error
	// AttachLayer inserts a primitive into the layer stack at the given
	// index. Negative or out-of-range indexes append.
	AttachLayer(p Primitive, at int) error
	// DetachLayer removes a primitive from the stack. Detaching a
	// primitive that is not attached is a no-op.
	DetachLayer(p Primitive) error
	// Camera reports the current camera state.
	Camera() (Camera, error)
	// FitGeometry frames the camera on a geometry with the given margin.
	FitGeometry(g geom.Geometry, pad Padding) error
	// ApplyCamera moves the camera to an explicit state.
	ApplyCamera(Camera) error
	// Resize recomputes the surface size from its mount point.
	Resize() error
	// Release frees engine resources. Further operations fail with
	// ErrReleased; releasing twice is a no-op.
	Release() error
}

// Factory creates a surface bound to a mounted viewport node. It is
// called at most once per viewport, after the markup is mounted.
type Factory interface {
	CreateSurface(mount dom.Node) (Surface, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(mount dom.Node) (Surface, error)

// CreateSurface calls f.
func (f FactoryFunc) CreateSurface(mount dom.Node) (Surface, error) {
	return f(mount)
}
