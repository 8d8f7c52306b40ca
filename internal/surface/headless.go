package surface

import (
	"errors"
	"sync"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/dom"
	"github.com/jluethi/TissueMAPS/internal/geo"
)

// Headless is an in-memory Surface. It keeps the view, the camera, and
// an ordered primitive stack without rendering anything. It backs the
// test suite and the scripted demo session.
type Headless struct {
	mu       sync.Mutex
	size     [2]float64
	released bool
	hasView  bool
	view     View
	cam      Camera
	stack    []Primitive
	resizes  int
}

// NewHeadless returns a headless surface with the given screen size in
// pixels. Non-positive dimensions fall back to 800x600.
func NewHeadless(width, height float64) *Headless {
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 600
	}
	return &Headless{size: [2]float64{width, height}}
}

func (h *Headless) SetView(v View) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.view = v
	h.hasView = true
	h.cam = Camera{
		Zoom:       v.Zoom,
		Resolution: geo.ResolutionForZoom(h.maxResolutionLocked(), v.Zoom),
		Center:     v.Center,
	}
	return nil
}

func (h *Headless) AttachLayer(p Primitive, at int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if at < 0 || at >= len(h.stack) {
		h.stack = append(h.stack, p)
		return nil
	}
	h.stack = append(h.stack[:at], append([]Primitive{p}, h.stack[at:]...)...)
	return nil
}

func (h *Headless) DetachLayer(p Primitive) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	for i, q := range h.stack {
		if q == p {
			h.stack = append(h.stack[:i], h.stack[i+1:]...)
			return nil
		}
	}
	return nil
}

func (h *Headless) Camera() (Camera, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return Camera{}, ErrReleased
	}
	return h.cam, nil
}

func (h *Headless) FitGeometry(g geom.Geometry, pad Padding) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	center, res, err := geo.FitEnvelope(g.Envelope(), h.size, pad)
	if err != nil {
		if errors.Is(err, geo.ErrEmptyExtent) {
			return ErrEmptyGeometry
		}
		return err
	}
	h.cam.Center = center
	h.cam.Resolution = res
	h.cam.Zoom = geo.ZoomForResolution(h.maxResolutionLocked(), res)
	return nil
}

func (h *Headless) ApplyCamera(c Camera) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	maxRes := h.maxResolutionLocked()
	if c.Resolution <= 0 && maxRes > 0 {
		c.Resolution = geo.ResolutionForZoom(maxRes, c.Zoom)
	}
	if c.Zoom == 0 && c.Resolution > 0 && maxRes > 0 {
		c.Zoom = geo.ZoomForResolution(maxRes, c.Resolution)
	}
	h.cam = c
	return nil
}

func (h *Headless) Resize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.resizes++
	return nil
}

func (h *Headless) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.stack = nil
	return nil
}

// View reports the installed view, if any.
func (h *Headless) View() (View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view, h.hasView
}

// Layers returns a snapshot of the primitive stack, bottom first.
func (h *Headless) Layers() []Primitive {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Primitive, len(h.stack))
	copy(out, h.stack)
	return out
}

// Resizes reports how many times Resize has been called.
func (h *Headless) Resizes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resizes
}

// Released reports whether the surface has been released.
func (h *Headless) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Headless) maxResolutionLocked() float64 {
	if !h.hasView || len(h.view.Resolutions) == 0 {
		return 0
	}
	return h.view.Resolutions[0]
}

// HeadlessFactory creates headless surfaces of a fixed size and records
// the mount node of the last surface it created.
type HeadlessFactory struct {
	Width, Height float64

	mu   sync.Mutex
	last dom.Node
}

// NewHeadlessFactory returns a factory for headless surfaces.
func NewHeadlessFactory(width, height float64) *HeadlessFactory {
	return &HeadlessFactory{Width: width, Height: height}
}

func (f *HeadlessFactory) CreateSurface(mount dom.Node) (Surface, error) {
	f.mu.Lock()
	f.last = mount
	f.mu.Unlock()
	return NewHeadless(f.Width, f.Height), nil
}

// LastMount returns the mount node passed to the most recent
// CreateSurface call.
func (f *HeadlessFactory) LastMount() dom.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
