package layer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jluethi/TissueMAPS/internal/pyramid"
	"github.com/jluethi/TissueMAPS/internal/surface"
	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// ErrLayerDestroyed is returned when a destroyed layer is asked to work.
var ErrLayerDestroyed = errors.New("layer destroyed")

// Channel is a channel layer: one stain or wavelength of the experiment
// rendered from a pre-built tile pyramid. A channel starts visible.
type Channel struct {
	src  *pyramid.Source
	prim *TilePrimitive

	mu        sync.Mutex
	visible   bool
	options   map[string]any
	destroyed bool
}

// NewChannel builds a channel layer over a pyramid source. The options
// map carries opaque rendering settings (color, contrast limits); it is
// copied, stored as given, and only inspected again at serialization.
func NewChannel(src *pyramid.Source, opts map[string]any) (*Channel, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("channel %q: %w", src.Name, err)
	}
	var options map[string]any
	if len(opts) > 0 {
		options = make(map[string]any, len(opts))
		for k, v := range opts {
			options[k] = v
		}
	}
	return &Channel{
		src:     src,
		prim:    NewTilePrimitive(src),
		visible: true,
		options: options,
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.src.Name }

// ImageSize returns the base image size in pixels.
func (c *Channel) ImageSize() [2]int { return [2]int{c.src.Width, c.src.Height} }

// Resolutions returns the pyramid's resolution ladder, coarsest first.
func (c *Channel) Resolutions() []float64 { return c.src.Resolutions() }

// Source returns the backing pyramid source.
func (c *Channel) Source() *pyramid.Source { return c.src }

// Primitive returns the handle the surface renders.
func (c *Channel) Primitive() surface.Primitive { return c.prim }

// SetVisible toggles the layer's visibility.
func (c *Channel) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.mu.Unlock()
}

// Visible reports the layer's visibility.
func (c *Channel) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Serialize captures the layer configuration for persistence. Options
// that cannot be represented as JSON fail the serialization; a destroyed
// layer fails with ErrLayerDestroyed.
func (c *Channel) Serialize(ctx context.Context) (viewstate.ChannelConfig, error) {
	if err := ctx.Err(); err != nil {
		return viewstate.ChannelConfig{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return viewstate.ChannelConfig{}, fmt.Errorf("channel %q: %w", c.src.Name, ErrLayerDestroyed)
	}
	var options map[string]any
	if len(c.options) > 0 {
		if _, err := json.Marshal(c.options); err != nil {
			return viewstate.ChannelConfig{}, fmt.Errorf("channel %q options: %w", c.src.Name, err)
		}
		options = make(map[string]any, len(c.options))
		for k, v := range c.options {
			options[k] = v
		}
	}
	return viewstate.ChannelConfig{
		Name:      c.src.Name,
		ImageSize: [2]int{c.src.Width, c.src.Height},
		Visible:   c.visible,
		Options:   options,
	}, nil
}

// Destroy releases the primitive. Destroy is idempotent; the layer
// cannot be serialized afterwards.
func (c *Channel) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.prim.Release()
}

// Destroyed reports whether the layer has been destroyed.
func (c *Channel) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
