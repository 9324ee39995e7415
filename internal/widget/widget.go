// Package widget defines the capability interface every hosted widget
// satisfies, whether it runs in-process or behind an out-of-process proxy.
// Callers hold a Widget and never learn which variant they were given.
package widget

import "fmt"

// Widget is the operation set the host drives a widget instance through.
// Init is called once, Start/Stop may alternate, Dispose is final.
type Widget interface {
	Init() error
	Start() error
	Stop() error
	Update(deltaTime float64) error
	RenderData() map[string]any
	OnSettingsChanged(settings map[string]any) error
	Dispose() error
}

// Factory constructs a concrete widget for a widget id and its settings.
// Construction is the one step specific to each widget type; everything
// else in the runtime is widget-agnostic.
type Factory func(instanceID, widgetID string, settings map[string]any) (Widget, error)

// Registry maps widget ids to factories. Worker binaries register their
// built-in widgets here before entering the message loop.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a widget id. Duplicate ids are rejected.
func (r *Registry) Register(widgetID string, factory Factory) error {
	if _, exists := r.factories[widgetID]; exists {
		return fmt.Errorf("widget %q already registered", widgetID)
	}
	r.factories[widgetID] = factory
	return nil
}

// Create constructs an instance of the named widget.
func (r *Registry) Create(instanceID, widgetID string, settings map[string]any) (Widget, error) {
	factory, ok := r.factories[widgetID]
	if !ok {
		return nil, fmt.Errorf("unknown widget %q", widgetID)
	}
	return factory(instanceID, widgetID, settings)
}

// IDs returns the registered widget ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	return ids
}

// Render payload keys shared between widgets and the UI layer.
const (
	// RenderHTML is the display-content field every render payload carries.
	RenderHTML = "html"
	// RenderNeedsUpdate marks widgets that want continuous polling.
	RenderNeedsUpdate = "needs_update"
)

// NeedsUpdate reports whether a render payload asks for continuous updates.
func NeedsUpdate(renderData map[string]any) bool {
	v, _ := renderData[RenderNeedsUpdate].(bool)
	return v
}
