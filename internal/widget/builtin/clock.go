// Package builtin holds the widgets that ship with the host. They double
// as the reference implementations for the widget lifecycle contract and
// are registered by the worker binary for out-of-process hosting.
package builtin

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/widget"
)

// Clock displays the current time, formatted per its settings. It asks for
// continuous updates so the scheduler keeps polling it.
type Clock struct {
	instanceID string
	settings   map[string]any
	current    string
	logger     *slog.Logger
}

// NewClock is the widget.Factory for the clock widget.
func NewClock(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
	if settings == nil {
		settings = map[string]any{}
	}
	return &Clock{
		instanceID: instanceID,
		settings:   settings,
		logger:     log.WithWidget(widgetID).With("instance_id", instanceID),
	}, nil
}

func (c *Clock) Init() error {
	c.refresh(time.Now())
	return nil
}

func (c *Clock) Start() error { return nil }
func (c *Clock) Stop() error  { return nil }

func (c *Clock) Update(deltaTime float64) error {
	c.refresh(time.Now())
	return nil
}

func (c *Clock) RenderData() map[string]any {
	fontSize := 32
	if v, ok := c.settings["font_size"].(float64); ok {
		fontSize = int(v)
	}
	html := fmt.Sprintf(
		`<div class="clock" style="font-size: %dpx; font-weight: bold;">%s</div>`,
		fontSize, c.current,
	)
	return map[string]any{
		widget.RenderHTML:        html,
		widget.RenderNeedsUpdate: true,
	}
}

func (c *Clock) OnSettingsChanged(settings map[string]any) error {
	c.settings = settings
	c.refresh(time.Now())
	return nil
}

func (c *Clock) Dispose() error { return nil }

func (c *Clock) refresh(now time.Time) {
	use24h, _ := c.settings["use_24h_format"].(bool)
	showSeconds := boolSetting(c.settings, "show_seconds", true)
	showDate := boolSetting(c.settings, "show_date", true)

	var layout string
	switch {
	case use24h && showSeconds:
		layout = "15:04:05"
	case use24h:
		layout = "15:04"
	case showSeconds:
		layout = "3:04:05 PM"
	default:
		layout = "3:04 PM"
	}

	c.current = now.Format(layout)
	if showDate {
		c.current += "<br><span>" + now.Format("Monday, January 2, 2006") + "</span>"
	}
}

// boolSetting reads a bool setting with a default, tolerating absence.
func boolSetting(settings map[string]any, key string, def bool) bool {
	v, ok := settings[key].(bool)
	if !ok {
		return def
	}
	return v
}
