package viewport

import (
	"fmt"

	"github.com/jluethi/TissueMAPS/internal/deferred"
	"github.com/jluethi/TissueMAPS/internal/geo"
	"github.com/jluethi/TissueMAPS/internal/layer"
	"github.com/jluethi/TissueMAPS/internal/surface"
)

// The surface stack is always [channel layers..., visual layers...].
// Stack indexes are computed against the set snapshot at request time;
// queued calls replay in request order, so the surface agrees with the
// sets when each call runs.

// channelView derives the viewport's spatial frame from a channel
// layer: a pixel projection over the image extent, centered with zoom 0.
func channelView(l ChannelLayer) surface.View {
	size := l.ImageSize()
	w, h := size[0], size[1]
	return surface.View{
		Projection: surface.Projection{
			Code:   fmt.Sprintf("PIXEL:%dx%d", w, h),
			Units:  "pixels",
			Extent: [4]float64{0, 0, float64(w), float64(h)},
		},
		Center:      geo.ImageCenter(w, h),
		Zoom:        0,
		Resolutions: l.Resolutions(),
	}
}

// AddChannelLayer appends l to the channel set and schedules its
// attachment to the surface. The first channel layer ever added defines
// the viewport's projection, center, zoom, and resolutions, exactly
// once; later layers never redefine it. The returned future settles
// with l after the attach call runs, or with the attach error.
func (v *Viewport) AddChannelLayer(l ChannelLayer) (*deferred.Value[ChannelLayer], error) {
	v.mu.Lock()
	if v.state == Destroyed {
		v.mu.Unlock()
		return nil, ErrDestroyed
	}
	at := len(v.channels)
	v.channels = append(v.channels, l)
	first := !v.viewSet
	if first {
		v.viewSet = true
	}
	v.mu.Unlock()

	fut := deferred.New[ChannelLayer]()
	v.surface.Then(func(s surface.Surface, err error) {
		if err != nil {
			fut.Reject(fmt.Errorf("attach channel layer: %w", err))
			return
		}
		if first {
			if verr := s.SetView(channelView(l)); verr != nil {
				v.log.Error("set view from first channel layer", "error", verr)
				fut.Reject(fmt.Errorf("set view: %w", verr))
				return
			}
		}
		if aerr := s.AttachLayer(l.Primitive(), at); aerr != nil {
			fut.Reject(fmt.Errorf("attach channel layer: %w", aerr))
			return
		}
		fut.Resolve(l)
	})
	return fut, nil
}

// RemoveChannelLayer removes l from the channel set, schedules its
// detachment, and destroys it. Removing a layer that is not a member
// fails with ErrLayerNotFound and schedules nothing.
func (v *Viewport) RemoveChannelLayer(l ChannelLayer) error {
	v.mu.Lock()
	if v.state == Destroyed {
		v.mu.Unlock()
		return ErrDestroyed
	}
	idx := -1
	for i, m := range v.channels {
		if m == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		v.mu.Unlock()
		return ErrLayerNotFound
	}
	v.channels = append(v.channels[:idx], v.channels[idx+1:]...)
	v.mu.Unlock()

	v.surface.Then(func(s surface.Surface, err error) {
		if err == nil {
			if derr := s.DetachLayer(l.Primitive()); derr != nil {
				v.log.Warn("detach channel layer", "error", derr)
			}
		}
		l.Destroy()
	})
	return nil
}

// AddVisualLayer inserts l into the visual set at its content type's
// insertion index and schedules surface attachment at the equivalent
// stack position, above every channel layer. The returned future
// settles with l once the attach call runs.
func (v *Viewport) AddVisualLayer(l VisualLayer) (*deferred.Value[VisualLayer], error) {
	v.mu.Lock()
	if v.state == Destroyed {
		v.mu.Unlock()
		return nil, ErrDestroyed
	}
	contents := make([]layer.ContentType, len(v.visuals))
	for i, m := range v.visuals {
		contents[i] = m.ContentType()
	}
	vi := layer.InsertionIndex(contents, l.ContentType())
	stackAt := len(v.channels) + vi
	v.visuals = append(v.visuals[:vi], append([]VisualLayer{l}, v.visuals[vi:]...)...)
	v.mu.Unlock()

	fut := deferred.New[VisualLayer]()
	v.surface.Then(func(s surface.Surface, err error) {
		if err != nil {
			fut.Reject(fmt.Errorf("attach visual layer: %w", err))
			return
		}
		if aerr := s.AttachLayer(l.Primitive(), stackAt); aerr != nil {
			fut.Reject(fmt.Errorf("attach visual layer: %w", aerr))
			return
		}
		fut.Resolve(l)
	})
	return fut, nil
}

// RemoveVisualLayer removes l from the visual set, schedules its
// detachment, and destroys it. Removing a layer that is not a member is
// a no-op.
func (v *Viewport) RemoveVisualLayer(l VisualLayer) error {
	v.mu.Lock()
	if v.state == Destroyed {
		v.mu.Unlock()
		return ErrDestroyed
	}
	idx := -1
	for i, m := range v.visuals {
		if m == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		v.mu.Unlock()
		return nil
	}
	v.visuals = append(v.visuals[:idx], v.visuals[idx+1:]...)
	v.mu.Unlock()

	v.surface.Then(func(s surface.Surface, err error) {
		if err == nil {
			if derr := s.DetachLayer(l.Primitive()); derr != nil {
				v.log.Warn("detach visual layer", "error", derr)
			}
		}
		l.Destroy()
	})
	return nil
}
