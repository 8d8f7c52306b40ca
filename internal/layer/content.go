// Package layer implements the channel and visual layers a viewport
// stacks on its rendering surface. Channel layers draw tiled pyramid
// images, visual layers draw vector features on top of them.
package layer

// ContentType classifies what a layer renders.
type ContentType string

const (
	ContentChannel   ContentType = "channel"
	ContentMapObject ContentType = "mapObject"
	ContentMarker    ContentType = "marker"
)

// InsertionIndex returns the set position for a new visual layer. A
// mapObject layer inserts immediately before the first marker layer so
// markers always render on top of object outlines; every other content
// type appends.
func InsertionIndex(existing []ContentType, incoming ContentType) int {
	if incoming == ContentMapObject {
		for i, ct := range existing {
			if ct == ContentMarker {
				return i
			}
		}
	}
	return len(existing)
}
