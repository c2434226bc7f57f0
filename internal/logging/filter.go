package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by level, where the threshold can be
// overridden per "component" attribute. The component is taken from attrs
// attached with Logger.With, or from the record itself.
//
// Overrides are shared by every handler derived through WithAttrs/WithGroup,
// so a level change made on the root handler applies to all scoped loggers.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *componentLevels
	component string // from preAttrs, "" if none
}

type componentLevels struct {
	mu        sync.RWMutex
	def       slog.Level
	overrides map[string]slog.Level
}

// NewComponentFilterHandler wraps next. Records from components without an
// override are filtered at defaultLevel.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		levels: &componentLevels{
			def:       defaultLevel,
			overrides: make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the threshold for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.overrides[component] = level
	h.levels.mu.Unlock()
}

// ClearLevel removes a component override. No-op if none is set.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	delete(h.levels.overrides, component)
	h.levels.mu.Unlock()
}

// SetDefaultLevel changes the threshold used for components without an override.
func (h *ComponentFilterHandler) SetDefaultLevel(level slog.Level) {
	h.levels.mu.Lock()
	h.levels.def = level
	h.levels.mu.Unlock()
}

// Level returns the effective threshold for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	if l, ok := h.levels.overrides[component]; ok {
		return l
	}
	return h.levels.def
}

// DefaultLevel returns the threshold used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	return h.levels.def
}

// Enabled reports whether any component could accept a record at level.
// The precise decision happens in Handle, once record attrs are visible.
func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.component != "" {
		if level < h.Level(h.component) {
			return false
		}
	} else if level < h.minLevel() {
		return false
	}
	return h.next == nil || h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) minLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	lowest := h.levels.def
	for _, l := range h.levels.overrides {
		lowest = min(lowest, l)
	}
	return lowest
}

// Handle drops the record if it is below its component's threshold.
func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler that remembers a "component" attr, if present.
func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{next: next, levels: h.levels, component: component}
}

// WithGroup returns a handler that keeps filtering with the shared levels.
func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithGroup(name)
	}
	return &ComponentFilterHandler{next: next, levels: h.levels, component: h.component}
}
