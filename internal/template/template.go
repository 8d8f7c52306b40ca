// Package template loads viewport markup templates by id.
package template

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ViewportID is the id of the stock viewport template.
const ViewportID = "viewport"

// ErrNotFound is returned when a loader has no template for the requested id.
var ErrNotFound = errors.New("template not found")

// Loader resolves a template id to its markup.
type Loader interface {
	Load(ctx context.Context, templateID string) (string, error)
}

//go:embed templates/*.html
var builtin embed.FS

// FSLoader reads "<id>.html" files from a directory inside a filesystem.
type FSLoader struct {
	fsys fs.FS
	root string
}

// NewFSLoader returns a loader reading templates from root inside fsys.
// An empty root reads from the top of fsys.
func NewFSLoader(fsys fs.FS, root string) *FSLoader {
	return &FSLoader{fsys: fsys, root: root}
}

// Default returns a loader for the templates compiled into the binary.
func Default() *FSLoader {
	return NewFSLoader(builtin, "templates")
}

// Load reads the markup for templateID. Ids must be bare names, they
// never address files outside the loader's root.
func (l *FSLoader) Load(ctx context.Context, templateID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if templateID == "" || strings.ContainsAny(templateID, `/\.`) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, templateID)
	}
	name := templateID + ".html"
	if l.root != "" {
		name = l.root + "/" + name
	}
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, templateID)
	}
	return string(data), nil
}

// StaticLoader serves templates from a fixed in-memory map of id to markup.
type StaticLoader map[string]string

// Load returns the markup registered under templateID.
func (l StaticLoader) Load(ctx context.Context, templateID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	markup, ok := l[templateID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, templateID)
	}
	return markup, nil
}
