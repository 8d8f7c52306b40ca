package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

// PIXEL COORDINATES
// Every projection in the viewer is a per-image pixel grid. The extent runs
// [0,0]..[w,h] and the y axis is negated for display, so tile row indices
// grow downward while the surface's y axis grows upward. Geometry values are
// simplefeatures types so layers, fits, and stored outlines share one
// representation.

// ErrEmptyExtent is returned when a fit is requested against an empty geometry.
var ErrEmptyExtent = errors.New("empty extent")

// ErrInvalidOutline is returned when an outline ring cannot form a polygon.
var ErrInvalidOutline = errors.New("invalid outline ring")

// Padding is a screen-pixel margin applied on each side of a camera fit.
type Padding struct {
	Top    float64
	Right  float64
	Bottom float64
	Left   float64
}

// UniformPadding returns a Padding with the same margin on all four sides.
func UniformPadding(px float64) Padding {
	return Padding{Top: px, Right: px, Bottom: px, Left: px}
}

// ImageExtent returns the pixel-grid envelope [0,0]..[w,h] of an image.
func ImageExtent(width, height int) geom.Envelope {
	return geom.NewEnvelope(
		geom.XY{X: 0, Y: 0},
		geom.XY{X: float64(width), Y: float64(height)},
	)
}

// ImageCenter returns the display center of an image: (w/2, -h/2).
// The y coordinate is negative because rows are counted downward.
func ImageCenter(width, height int) geom.XY {
	return geom.XY{X: float64(width) / 2, Y: -float64(height) / 2}
}

// MarkerPoint builds a marker position point.
func MarkerPoint(x, y float64) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
}

// OutlinePolygon builds a closed polygon from an object outline ring.
// The ring is closed automatically if its last vertex differs from the first.
func OutlinePolygon(ring []geom.XY) (geom.Polygon, error) {
	if len(ring) < 3 {
		return geom.Polygon{}, ErrInvalidOutline
	}
	closed := ring
	if ring[0] != ring[len(ring)-1] {
		closed = append(append([]geom.XY{}, ring...), ring[0])
	}
	if len(closed) < 4 {
		return geom.Polygon{}, ErrInvalidOutline
	}

	flat := make([]float64, 0, len(closed)*2)
	for _, xy := range closed {
		flat = append(flat, xy.X, xy.Y)
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	ls, err := geom.NewLineString(seq)
	if err != nil {
		return geom.Polygon{}, ErrInvalidOutline
	}
	poly, err := geom.NewPolygon([]geom.LineString{ls})
	if err != nil {
		return geom.Polygon{}, ErrInvalidOutline
	}
	return poly, nil
}

// FitEnvelope returns the camera center and resolution at which env, plus the
// given padding, fills a surface of surfaceSize (width, height in px). The
// resolution is unclamped; callers snap it to their zoom range if needed.
func FitEnvelope(env geom.Envelope, surfaceSize [2]float64, pad Padding) (geom.XY, float64, error) {
	min, ok := env.Min()
	if !ok {
		return geom.XY{}, 0, ErrEmptyExtent
	}
	max, _ := env.Max()

	availW := surfaceSize[0] - pad.Left - pad.Right
	availH := surfaceSize[1] - pad.Top - pad.Bottom
	if availW < 1 {
		availW = 1
	}
	if availH < 1 {
		availH = 1
	}

	envW := max.X - min.X
	envH := max.Y - min.Y

	resolution := 1.0
	switch {
	case envW == 0 && envH == 0:
		// point target: keep native resolution
	case envW == 0:
		resolution = envH / availH
	case envH == 0:
		resolution = envW / availW
	default:
		resolution = math.Max(envW/availW, envH/availH)
	}

	center := geom.XY{X: (min.X + max.X) / 2, Y: (min.Y + max.Y) / 2}
	return center, resolution, nil
}

// ZoomForResolution converts a resolution to a fractional zoom level, where
// zoom 0 is the coarsest pyramid level (maxRes) and each level halves the
// resolution.
func ZoomForResolution(maxRes, res float64) float64 {
	if maxRes <= 0 || res <= 0 {
		return 0
	}
	return math.Log2(maxRes / res)
}

// ResolutionForZoom converts a fractional zoom level back to a resolution.
func ResolutionForZoom(maxRes, zoom float64) float64 {
	if maxRes <= 0 {
		return 0
	}
	return maxRes / math.Pow(2, zoom)
}
