// Package dom abstracts the host page a viewport mounts into. The engine
// never owns a real document; the host shell supplies one and the viewport
// drives it through these interfaces.
package dom

import "errors"

// ErrNoContainer is returned when appending under an unknown host container.
var ErrNoContainer = errors.New("dom: host container not found")

// Node is a mounted markup fragment.
type Node interface {
	// ID returns the id of the container the node was appended under.
	ID() string
	SetVisible(visible bool)
	Visible() bool
	// Remove detaches the node from the document. Removing an already
	// removed node is a no-op.
	Remove() error
}

// Document is the host page. Viewport markup is appended under per-viewer
// host containers named "viewer-<id>".
type Document interface {
	Append(containerID, markup string) (Node, error)
}

// ContainerRegistrar is implemented by documents that let the engine
// create host containers itself instead of waiting for the surrounding
// page to provide them (headless sessions, tests).
type ContainerRegistrar interface {
	AddContainer(id string)
}

// Scope is a binding context linked to a mounted fragment. Destroy is
// idempotent.
type Scope interface {
	Destroy()
	Destroyed() bool
}

// ScopeFactory creates binding contexts. The viewport binds itself under
// "viewport" and its owning instance under "viewer".
type ScopeFactory interface {
	New(bindings map[string]any) Scope
}

// ContainerID returns the host container id for a viewer id.
func ContainerID(viewerID string) string {
	return "viewer-" + viewerID
}
