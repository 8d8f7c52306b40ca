package layer

import (
	"sync"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/surface"
)

// Visual is a vector layer: segmented object outlines or marker points
// rendered above the channel stack.
type Visual struct {
	name    string
	content ContentType
	prim    *VectorPrimitive

	mu        sync.Mutex
	destroyed bool
}

// NewObjectOutlines builds a mapObject layer from segmentation outlines.
func NewObjectOutlines(name string, outlines []geom.Polygon) *Visual {
	geoms := make([]geom.Geometry, len(outlines))
	for i, p := range outlines {
		geoms[i] = p.AsGeometry()
	}
	g := geom.NewGeometryCollection(geoms).AsGeometry()
	return &Visual{
		name:    name,
		content: ContentMapObject,
		prim:    NewVectorPrimitive(ContentMapObject, g),
	}
}

// NewMarkers builds a marker layer from point positions.
func NewMarkers(name string, points []geom.Point) *Visual {
	g := geom.NewMultiPoint(points).AsGeometry()
	return &Visual{
		name:    name,
		content: ContentMarker,
		prim:    NewVectorPrimitive(ContentMarker, g),
	}
}

// Name returns the layer name.
func (v *Visual) Name() string { return v.name }

// ContentType reports what the layer renders.
func (v *Visual) ContentType() ContentType { return v.content }

// Primitive returns the handle the surface renders.
func (v *Visual) Primitive() surface.Primitive { return v.prim }

// Geometry returns the collected features of the layer.
func (v *Visual) Geometry() geom.Geometry { return v.prim.Geometry() }

// Destroy releases the primitive. Destroy is idempotent.
func (v *Visual) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return
	}
	v.destroyed = true
	v.prim.Release()
}

// Destroyed reports whether the layer has been destroyed.
func (v *Visual) Destroyed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.destroyed
}
