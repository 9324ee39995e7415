package builtin

import (
	"fmt"
	"html"
	"strings"

	"github.com/hearthboard/hearth/internal/widget"
)

// defaultLinks seed the widget when settings carry no links.
var defaultLinks = []any{
	map[string]any{"title": "GitHub", "url": "https://github.com", "category": "Development"},
	map[string]any{"title": "Stack Overflow", "url": "https://stackoverflow.com", "category": "Development"},
	map[string]any{"title": "Gmail", "url": "https://gmail.com", "category": "Productivity"},
}

// Links renders a static list of quick links from its settings. It has no
// time-varying state, so it does not ask for continuous updates.
type Links struct {
	instanceID string
	settings   map[string]any
	links      []any
}

// NewLinks is the widget.Factory for the links widget.
func NewLinks(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
	if settings == nil {
		settings = map[string]any{}
	}
	l := &Links{instanceID: instanceID, settings: settings}
	l.reload()
	return l, nil
}

func (l *Links) Init() error                    { return nil }
func (l *Links) Start() error                   { return nil }
func (l *Links) Stop() error                    { return nil }
func (l *Links) Update(deltaTime float64) error { return nil }

func (l *Links) RenderData() map[string]any {
	var b strings.Builder
	b.WriteString(`<ul class="links">`)
	for _, raw := range l.links {
		link, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title, _ := link["title"].(string)
		url, _ := link["url"].(string)
		category, _ := link["category"].(string)
		if category == "" {
			category = "Link"
		}
		fmt.Fprintf(&b, `<li><a href=%q>%s</a> <small>%s</small></li>`,
			url, html.EscapeString(title), html.EscapeString(category))
	}
	b.WriteString("</ul>")

	return map[string]any{
		widget.RenderHTML:        b.String(),
		widget.RenderNeedsUpdate: false,
	}
}

func (l *Links) OnSettingsChanged(settings map[string]any) error {
	l.settings = settings
	l.reload()
	return nil
}

func (l *Links) Dispose() error { return nil }

func (l *Links) reload() {
	if links, ok := l.settings["links"].([]any); ok && len(links) > 0 {
		l.links = links
		return
	}
	l.links = defaultLinks
}
