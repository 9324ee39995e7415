package builtin

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/hearthboard/hearth/internal/widget"
)

// SysInfo shows basic facts about the machine hosting the worker process.
// Because the widget runs inside the worker, the values describe the
// worker's own process, which is the point of the demo.
type SysInfo struct {
	instanceID string
	settings   map[string]any
	startedAt  time.Time
	hostname   string
}

// NewSysInfo is the widget.Factory for the sysinfo widget.
func NewSysInfo(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
	if settings == nil {
		settings = map[string]any{}
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &SysInfo{
		instanceID: instanceID,
		settings:   settings,
		startedAt:  time.Now(),
		hostname:   hostname,
	}, nil
}

func (s *SysInfo) Init() error                    { return nil }
func (s *SysInfo) Start() error                   { return nil }
func (s *SysInfo) Stop() error                    { return nil }
func (s *SysInfo) Update(deltaTime float64) error { return nil }

func (s *SysInfo) RenderData() map[string]any {
	uptime := time.Since(s.startedAt).Round(time.Second)
	html := fmt.Sprintf(
		`<div class="sysinfo"><h3>%s</h3><p>%s/%s &middot; pid %d</p><p>worker up %s</p></div>`,
		s.hostname, runtime.GOOS, runtime.GOARCH, os.Getpid(), uptime,
	)
	return map[string]any{
		widget.RenderHTML:        html,
		widget.RenderNeedsUpdate: boolSetting(s.settings, "show_uptime", true),
	}
}

func (s *SysInfo) OnSettingsChanged(settings map[string]any) error {
	s.settings = settings
	return nil
}

func (s *SysInfo) Dispose() error { return nil }
