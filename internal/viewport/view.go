package viewport

import (
	"context"
	"errors"
	"fmt"

	"github.com/jluethi/TissueMAPS/internal/dom"
	"github.com/jluethi/TissueMAPS/internal/surface"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// Show queues making the mounted element visible and a surface resize,
// so a surface created while hidden recomputes its size. Element-level
// failures are logged, never returned.
func (v *Viewport) Show() error {
	if err := v.failFastIfDestroyed(); err != nil {
		return err
	}
	v.element.Then(func(node dom.Node, err error) {
		if err != nil {
			v.log.Warn("show viewport", "error", err)
			return
		}
		node.SetVisible(true)
	})
	v.surface.Then(func(s surface.Surface, err error) {
		if err != nil {
			return
		}
		if rerr := s.Resize(); rerr != nil {
			v.log.Warn("resize after show", "error", rerr)
		}
	})
	return nil
}

// Hide queues making the mounted element invisible.
func (v *Viewport) Hide() error {
	if err := v.failFastIfDestroyed(); err != nil {
		return err
	}
	v.element.Then(func(node dom.Node, err error) {
		if err != nil {
			v.log.Warn("hide viewport", "error", err)
			return
		}
		node.SetVisible(false)
	})
	return nil
}

// GoToMapObject queues a camera fit of the object's outline with the
// viewport's fit padding.
func (v *Viewport) GoToMapObject(obj MapObject) error {
	if err := v.failFastIfDestroyed(); err != nil {
		return err
	}
	v.surface.Then(func(s surface.Surface, err error) {
		if err != nil {
			return
		}
		if ferr := s.FitGeometry(obj.Outline(), v.deps.FitPadding); ferr != nil {
			v.log.Warn("fit map object", "error", ferr)
		}
	})
	return nil
}

// GoTo queues an explicit camera move.
func (v *Viewport) GoTo(cam surface.Camera) error {
	if err := v.failFastIfDestroyed(); err != nil {
		return err
	}
	v.surface.Then(func(s surface.Surface, err error) {
		if err != nil {
			return
		}
		if aerr := s.ApplyCamera(cam); aerr != nil {
			v.log.Warn("apply camera", "error", aerr)
		}
	})
	return nil
}

// Serialize captures the current view state: the camera plus every
// channel layer's configuration, serialized concurrently and joined all
// or nothing. While the viewport is Unattached the call blocks until
// the surface resolves; ctx bounds the wait. A viewport whose channel
// set is empty fails with ErrViewUndefined.
func (v *Viewport) Serialize(ctx context.Context) (viewstate.ViewState, error) {
	if err := v.failFastIfDestroyed(); err != nil {
		return viewstate.ViewState{}, err
	}

	s, err := v.surface.Get(ctx)
	if err != nil {
		return viewstate.ViewState{}, fmt.Errorf("serialize viewport: %w", err)
	}

	v.mu.Lock()
	layers := make([]viewstate.LayerSerializer, len(v.channels))
	for i, l := range v.channels {
		layers[i] = l
	}
	v.mu.Unlock()
	// An empty channel set means no layer ever defined (or still defines)
	// the view; the persisted contract needs at least one.
	if len(layers) == 0 {
		return viewstate.ViewState{}, ErrViewUndefined
	}

	cam, err := s.Camera()
	if err != nil {
		return viewstate.ViewState{}, fmt.Errorf("serialize viewport: %w", err)
	}

	state, err := viewstate.Capture(ctx, cam, layers)
	if err != nil {
		return viewstate.ViewState{}, fmt.Errorf("serialize viewport: %w", err)
	}
	return state, nil
}

// RestoreViewState replaces the channel set with layers rebuilt from
// the state, in order, and then applies the persisted camera. The
// camera move queues after the last layer attach, so it runs once the
// stack matches the state. Any rebuild failure aborts the whole restore
// before the viewport is touched.
func (v *Viewport) RestoreViewState(ctx context.Context, state viewstate.ViewState, rebuild RebuildFunc) error {
	if err := v.failFastIfDestroyed(); err != nil {
		return err
	}
	if rebuild == nil {
		return errors.New("restore view state: nil rebuild func")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := viewstate.ValidateState(state); err != nil {
		return fmt.Errorf("restore view state: %w", err)
	}

	rebuilt := make([]ChannelLayer, 0, len(state.ChannelLayerOptions))
	for i, cfg := range state.ChannelLayerOptions {
		l, err := rebuild(cfg)
		if err != nil {
			for _, b := range rebuilt {
				b.Destroy()
			}
			return fmt.Errorf("rebuild channel layer %d (%s): %w", i, cfg.Name, err)
		}
		rebuilt = append(rebuilt, l)
	}

	for _, l := range v.ChannelLayers() {
		if err := v.RemoveChannelLayer(l); err != nil && !errors.Is(err, ErrLayerNotFound) {
			return fmt.Errorf("restore view state: %w", err)
		}
	}
	for _, l := range rebuilt {
		if _, err := v.AddChannelLayer(l); err != nil {
			return fmt.Errorf("restore view state: %w", err)
		}
	}
	return v.GoTo(viewstate.CameraFromMapState(state.MapState))
}
