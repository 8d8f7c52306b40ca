package geo

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ParseRing parses a JSON array of coordinates into an outline ring.
// Input format: "[[x1,y1],[x2,y2],...]"
func ParseRing(input string) ([]geom.XY, error) {
	coords, err := parseCoordArray(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse outline ring: %w", err)
	}
	if len(coords) < 3 {
		return nil, fmt.Errorf("outline ring must have at least 3 points, got %d", len(coords))
	}
	return coords, nil
}

// ParsePoints parses a JSON array of coordinates into marker positions.
// Input format: "[[x1,y1],[x2,y2],...]"
func ParsePoints(input string) ([]geom.XY, error) {
	coords, err := parseCoordArray(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse marker points: %w", err)
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("marker list must have at least 1 point")
	}
	return coords, nil
}

func parseCoordArray(input string) ([]geom.XY, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("invalid coordinate JSON: %w", err)
	}
	out := make([]geom.XY, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		out[i] = geom.XY{X: coord[0], Y: coord[1]}
	}
	return out, nil
}
