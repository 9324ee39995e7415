package builtin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthboard/hearth/internal/widget"
)

func TestRegisterBuiltins(t *testing.T) {
	r := widget.NewRegistry()
	require.NoError(t, Register(r))
	assert.ElementsMatch(t, []string{"clock", "links", "sysinfo"}, r.IDs())

	// Second registration must collide.
	assert.Error(t, Register(r))
}

func TestClockRender(t *testing.T) {
	w, err := NewClock("clock_1", "clock", map[string]any{
		"use_24h_format": true,
		"show_date":      false,
	})
	require.NoError(t, err)
	require.NoError(t, w.Init())
	require.NoError(t, w.Start())

	data := w.RenderData()
	html, _ := data[widget.RenderHTML].(string)
	assert.Contains(t, html, "clock")
	assert.NotContains(t, html, "PM")
	assert.True(t, widget.NeedsUpdate(data))

	// 12h format shows a meridiem marker.
	require.NoError(t, w.OnSettingsChanged(map[string]any{"use_24h_format": false, "show_date": false}))
	html, _ = w.RenderData()[widget.RenderHTML].(string)
	assert.True(t, strings.Contains(html, "AM") || strings.Contains(html, "PM"))
}

func TestLinksRender(t *testing.T) {
	w, err := NewLinks("links_1", "links", nil)
	require.NoError(t, err)
	require.NoError(t, w.Init())

	data := w.RenderData()
	html, _ := data[widget.RenderHTML].(string)
	assert.Contains(t, html, "GitHub")
	assert.False(t, widget.NeedsUpdate(data))

	require.NoError(t, w.OnSettingsChanged(map[string]any{
		"links": []any{
			map[string]any{"title": "Docs & Specs", "url": "https://example.com/docs"},
		},
	}))
	html, _ = w.RenderData()[widget.RenderHTML].(string)
	assert.Contains(t, html, "Docs &amp; Specs")
	assert.NotContains(t, html, "GitHub")
}

func TestSysInfoRender(t *testing.T) {
	w, err := NewSysInfo("sys_1", "sysinfo", nil)
	require.NoError(t, err)
	require.NoError(t, w.Init())

	data := w.RenderData()
	html, _ := data[widget.RenderHTML].(string)
	assert.Contains(t, html, "pid")
	assert.True(t, widget.NeedsUpdate(data))

	require.NoError(t, w.OnSettingsChanged(map[string]any{"show_uptime": false}))
	assert.False(t, widget.NeedsUpdate(w.RenderData()))
}
