package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// Syslog severities carried in the GELF level field. The pinned gelf
// writer predates the exported level constants, so they live here.
const (
	gelfError   int32 = 3
	gelfWarning int32 = 4
	gelfInfo    int32 = 6
	gelfDebug   int32 = 7
)

// GelfHandler is a slog.Handler that ships records to a Graylog server
// over UDP in GELF format. Attributes become GELF additional fields
// with a leading underscore; group names join the key with underscores.
type GelfHandler struct {
	writer   *gelf.Writer
	level    slog.Level
	hostname string
	groups   []string
	attrs    []slog.Attr
}

// NewGelfHandler dials addr (host:port) and returns a handler emitting
// records at or above level.
func NewGelfHandler(addr string, level slog.Level) (*GelfHandler, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("dial graylog %s: %w", addr, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &GelfHandler{
		writer:   w,
		level:    level,
		hostname: hostname,
	}, nil
}

// Enabled reports whether the handler emits records at the given level.
func (h *GelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle converts the record to a GELF message and writes it out.
func (h *GelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addExtra(extra, nil, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addExtra(extra, h.groups, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return h.writer.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.hostname,
		Short:    r.Message,
		TimeUnix: float64(ts.UnixNano()) / float64(time.Second),
		Level:    gelfLevel(r.Level),
		Facility: h.writer.Facility,
		Extra:    extra,
	})
}

// WithAttrs returns a handler whose records carry the given attributes.
// Keys are qualified with the current group path at attachment time.
func (h *GelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, qualifyAttr(h.groups, a))
	}
	return &c
}

// WithGroup returns a handler that prefixes subsequent attribute keys
// with name.
func (h *GelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = make([]string, 0, len(h.groups)+1)
	c.groups = append(c.groups, h.groups...)
	c.groups = append(c.groups, name)
	return &c
}

// gelfLevel maps a slog level to its syslog severity.
func gelfLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return gelfError
	case l >= slog.LevelWarn:
		return gelfWarning
	case l >= slog.LevelInfo:
		return gelfInfo
	default:
		return gelfDebug
	}
}

// addExtra flattens an attribute into the GELF additional-field map.
// Group-valued attributes recurse with their key appended to the path.
func addExtra(extra map[string]interface{}, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		path := groups
		if a.Key != "" {
			path = append(append([]string{}, groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			addExtra(extra, path, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, "_") + "_" + key
	}
	extra["_"+key] = a.Value.Any()
}

// qualifyAttr prefixes an attribute key with the group path.
func qualifyAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 || a.Key == "" {
		return a
	}
	a.Key = strings.Join(groups, "_") + "_" + a.Key
	return a
}
