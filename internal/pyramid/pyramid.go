// Package pyramid describes tiled image pyramids. Channel images are served
// as pre-rendered pyramids of fixed-size JPEG tiles addressed by zero-based
// zoom level z (coarsest first), row y, and column x.
package pyramid

import (
	"errors"
	"fmt"
)

// TileSize is the edge length in pixels of every pyramid tile.
const TileSize = 256

// ErrInvalidSize is returned for sources with non-positive dimensions.
var ErrInvalidSize = errors.New("pyramid: image dimensions must be positive")

// ErrTileOutOfRange is returned for tile coordinates outside the pyramid.
var ErrTileOutOfRange = errors.New("pyramid: tile coordinates out of range")

// Source references one channel's tile pyramid.
type Source struct {
	Name    string
	BaseURL string
	Width   int
	Height  int
}

// Validate checks that the source describes a usable pyramid.
func (s *Source) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return ErrInvalidSize
	}
	return nil
}

// Levels returns the number of zoom levels: the image is halved per level
// until both sides fit a single tile.
func (s *Source) Levels() int {
	w, h := s.Width, s.Height
	n := 1
	for w > TileSize || h > TileSize {
		w = ceilDiv(w, 2)
		h = ceilDiv(h, 2)
		n++
	}
	return n
}

// Resolutions returns one resolution per level, descending powers of two
// from the coarsest level down to 1 (native pixels).
func (s *Source) Resolutions() []float64 {
	n := s.Levels()
	res := make([]float64, n)
	for i := 0; i < n; i++ {
		res[i] = float64(int(1) << (n - 1 - i))
	}
	return res
}

// MaxResolution returns the resolution of the coarsest level.
func (s *Source) MaxResolution() float64 {
	return float64(int(1) << (s.Levels() - 1))
}

// SizeAtLevel returns the pixel dimensions of the image at zoom level z.
func (s *Source) SizeAtLevel(z int) (width, height int, err error) {
	n := s.Levels()
	if z < 0 || z >= n {
		return 0, 0, fmt.Errorf("%w: z=%d of %d levels", ErrTileOutOfRange, z, n)
	}
	scale := 1 << (n - 1 - z)
	return ceilDiv(s.Width, scale), ceilDiv(s.Height, scale), nil
}

// GridSize returns the number of tile columns and rows at zoom level z.
func (s *Source) GridSize(z int) (cols, rows int, err error) {
	w, h, err := s.SizeAtLevel(z)
	if err != nil {
		return 0, 0, err
	}
	return ceilDiv(w, TileSize), ceilDiv(h, TileSize), nil
}

// TileURL returns the URL of the tile at (z, x, y), matching the layer tile
// route of the image server: <base>/<z>/<y>/<x>.jpg
func (s *Source) TileURL(z, x, y int) (string, error) {
	cols, rows, err := s.GridSize(z)
	if err != nil {
		return "", err
	}
	if x < 0 || x >= cols || y < 0 || y >= rows {
		return "", fmt.Errorf("%w: (z=%d, x=%d, y=%d) grid is %dx%d", ErrTileOutOfRange, z, x, y, cols, rows)
	}
	return fmt.Sprintf("%s/%d/%d/%d.jpg", s.BaseURL, z, y, x), nil
}

// Extent returns the pixel-grid extent [minx, miny, maxx, maxy].
func (s *Source) Extent() [4]float64 {
	return [4]float64{0, 0, float64(s.Width), float64(s.Height)}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
