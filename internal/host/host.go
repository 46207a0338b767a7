// Package host describes the windows and hosted views the bridge can inspect.
package host

import (
	"sort"

	"github.com/chromedp/cdproto/target"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/config"
)

// Window is a host window exposing a DevTools endpoint.
type Window struct {
	ID       string
	Endpoint string
	Zoom     float64
}

// View is a view hosted inside a window.
type View struct {
	ID       string
	WindowID string
	// ContextID is the target id of the view's page, the identity the resolver matches on.
	ContextID target.ID
	Zoom      float64
	// Offset is the view's origin inside its window.
	Offset schemas.Point
}

// WindowResolver maps a window id, or a fallback id when the first is empty, to a window.
type WindowResolver interface {
	ResolveWindow(windowID, fallbackID string) (*Window, bool)
}

// ViewRegistry resolves hosted view ids to their live identity.
type ViewRegistry interface {
	ResolveView(id string) (*View, bool)
}

// StaticHost serves windows and views declared in configuration.
type StaticHost struct {
	windows map[string]Window
	views   map[string]View
}

var (
	_ WindowResolver = (*StaticHost)(nil)
	_ ViewRegistry   = (*StaticHost)(nil)
)

// NewStaticHost builds a host from validated configuration. Zero zoom factors become 1.
func NewStaticHost(cfg config.HostConfig) *StaticHost {
	h := &StaticHost{
		windows: make(map[string]Window, len(cfg.Windows)),
		views:   make(map[string]View, len(cfg.Views)),
	}
	for _, w := range cfg.Windows {
		h.windows[w.ID] = Window{ID: w.ID, Endpoint: w.Endpoint, Zoom: zoomOrOne(w.Zoom)}
	}
	for _, v := range cfg.Views {
		zoom := v.Zoom
		if zoom == 0 {
			zoom = h.windows[v.WindowID].Zoom
		}
		h.views[v.ID] = View{
			ID:        v.ID,
			WindowID:  v.WindowID,
			ContextID: target.ID(v.ContextID),
			Zoom:      zoomOrOne(zoom),
			Offset:    schemas.Point{X: v.OffsetX, Y: v.OffsetY},
		}
	}
	return h
}

func (h *StaticHost) ResolveWindow(windowID, fallbackID string) (*Window, bool) {
	id := windowID
	if id == "" {
		id = fallbackID
	}
	w, ok := h.windows[id]
	if !ok {
		return nil, false
	}
	return &w, true
}

func (h *StaticHost) ResolveView(id string) (*View, bool) {
	v, ok := h.views[id]
	if !ok {
		return nil, false
	}
	return &v, true
}

// Windows lists the configured windows ordered by id.
func (h *StaticHost) Windows() []Window {
	out := make([]Window, 0, len(h.windows))
	for _, w := range h.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func zoomOrOne(z float64) float64 {
	if z <= 0 {
		return 1
	}
	return z
}
