package layer

import (
	"sync"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/pyramid"
)

// Primitive kinds reported to the surface.
const (
	KindTile   = "tile"
	KindVector = "vector"
)

// TilePrimitive is the engine handle for a channel layer's tile pyramid.
type TilePrimitive struct {
	source *pyramid.Source

	mu       sync.Mutex
	released bool
}

// NewTilePrimitive wraps a pyramid source as a surface primitive.
func NewTilePrimitive(src *pyramid.Source) *TilePrimitive {
	return &TilePrimitive{source: src}
}

func (p *TilePrimitive) Kind() string { return KindTile }

// Source returns the pyramid the primitive draws from.
func (p *TilePrimitive) Source() *pyramid.Source { return p.source }

// Release marks the primitive unusable. The owning layer calls it on
// destroy; the surface only ever sees released primitives during detach.
func (p *TilePrimitive) Release() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

// Released reports whether the primitive has been released.
func (p *TilePrimitive) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// VectorPrimitive is the engine handle for a visual layer's features.
type VectorPrimitive struct {
	content  ContentType
	geometry geom.Geometry

	mu       sync.Mutex
	released bool
}

// NewVectorPrimitive wraps a feature geometry as a surface primitive.
func NewVectorPrimitive(content ContentType, g geom.Geometry) *VectorPrimitive {
	return &VectorPrimitive{content: content, geometry: g}
}

func (p *VectorPrimitive) Kind() string { return KindVector }

// Content returns the content type of the owning layer.
func (p *VectorPrimitive) Content() ContentType { return p.content }

// Geometry returns the features the primitive draws.
func (p *VectorPrimitive) Geometry() geom.Geometry { return p.geometry }

// Release marks the primitive unusable.
func (p *VectorPrimitive) Release() {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
}

// Released reports whether the primitive has been released.
func (p *VectorPrimitive) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}
