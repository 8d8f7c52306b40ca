package dom

import (
	"fmt"
	"sync"
)

// MemoryDocument is an in-memory Document for tests and headless sessions.
// Containers must be registered before anything can mount under them.
type MemoryDocument struct {
	mu         sync.Mutex
	containers map[string]bool
	nodes      map[string][]*MemoryNode
}

// NewMemoryDocument creates an empty in-memory document.
func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{
		containers: make(map[string]bool),
		nodes:      make(map[string][]*MemoryNode),
	}
}

// AddContainer registers a host container the way the surrounding page would
// provide a <div id="viewer-..."> to mount into.
func (d *MemoryDocument) AddContainer(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers[id] = true
}

// Append mounts markup under the given container.
func (d *MemoryDocument) Append(containerID, markup string) (Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containers[containerID] {
		return nil, fmt.Errorf("%w: %s", ErrNoContainer, containerID)
	}
	n := &MemoryNode{doc: d, containerID: containerID, markup: markup, visible: true}
	d.nodes[containerID] = append(d.nodes[containerID], n)
	return n, nil
}

// Nodes returns the nodes currently mounted under a container.
func (d *MemoryDocument) Nodes(containerID string) []*MemoryNode {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MemoryNode, len(d.nodes[containerID]))
	copy(out, d.nodes[containerID])
	return out
}

func (d *MemoryDocument) remove(n *MemoryNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mounted := d.nodes[n.containerID]
	for i, m := range mounted {
		if m == n {
			d.nodes[n.containerID] = append(mounted[:i], mounted[i+1:]...)
			return
		}
	}
}

// MemoryNode is a mounted fragment in a MemoryDocument.
type MemoryNode struct {
	doc         *MemoryDocument
	containerID string
	markup      string

	mu      sync.Mutex
	visible bool
	removed bool
}

func (n *MemoryNode) ID() string { return n.containerID }

// Markup returns the markup the node was mounted with.
func (n *MemoryNode) Markup() string { return n.markup }

func (n *MemoryNode) SetVisible(visible bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visible = visible
}

func (n *MemoryNode) Visible() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

func (n *MemoryNode) Removed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.removed
}

func (n *MemoryNode) Remove() error {
	n.mu.Lock()
	if n.removed {
		n.mu.Unlock()
		return nil
	}
	n.removed = true
	n.mu.Unlock()
	n.doc.remove(n)
	return nil
}

// MemoryScope is a binding context held in memory.
type MemoryScope struct {
	mu        sync.Mutex
	bindings  map[string]any
	destroyed bool
}

// Get returns a bound reference, or nil after destruction.
func (s *MemoryScope) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	return s.bindings[key]
}

func (s *MemoryScope) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.bindings = nil
}

func (s *MemoryScope) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// MemoryScopeFactory creates MemoryScopes and remembers them for inspection.
type MemoryScopeFactory struct {
	mu     sync.Mutex
	scopes []*MemoryScope
}

// NewMemoryScopeFactory creates a scope factory for tests and headless use.
func NewMemoryScopeFactory() *MemoryScopeFactory {
	return &MemoryScopeFactory{}
}

func (f *MemoryScopeFactory) New(bindings map[string]any) Scope {
	copied := make(map[string]any, len(bindings))
	for k, v := range bindings {
		copied[k] = v
	}
	s := &MemoryScope{bindings: copied}
	f.mu.Lock()
	f.scopes = append(f.scopes, s)
	f.mu.Unlock()
	return s
}

// Scopes returns every scope the factory has created.
func (f *MemoryScopeFactory) Scopes() []*MemoryScope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MemoryScope, len(f.scopes))
	copy(out, f.scopes)
	return out
}
