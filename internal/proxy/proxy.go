// Package proxy adapts an out-of-process worker to the in-process widget
// contract. The host's placement and update layers talk to a Proxy exactly
// as they would to a local widget; the Proxy forwards each call over the
// supervisor's IPC channel.
package proxy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/widget"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/hearthboard/hearth/internal/proxy Runner

// Default render viewport when the placement layer has not sized the tile.
const (
	DefaultRenderWidth  = 400
	DefaultRenderHeight = 300
)

// renderErrorData is what RenderData returns when the worker is gone or
// replies with garbage. The shell renders it as a visible error tile
// instead of crashing the board.
func renderErrorData() map[string]any {
	return map[string]any{widget.RenderHTML: "<div>Render error</div>"}
}

// Runner is the slice of the supervisor the proxy needs.
type Runner interface {
	Spawn(instanceID, widgetID, workerBin string, settings map[string]any) bool
	SendUpdate(instanceID string, deltaTime float64) bool
	RequestRender(instanceID string, width, height int) map[string]any
	UpdateSettings(instanceID string, settings map[string]any) bool
	Terminate(instanceID string)
}

// Proxy is the host-side stand-in for one worker-hosted widget instance.
type Proxy struct {
	runner     Runner
	instanceID string
	widgetID   string
	workerBin  string
	settings   map[string]any

	mu            sync.Mutex
	width, height int
	spawned       bool
	disposed      bool

	logger *slog.Logger
}

var _ widget.Widget = (*Proxy)(nil)

// New creates a proxy for one instance. Nothing is spawned until Init.
func New(runner Runner, instanceID, widgetID, workerBin string, settings map[string]any) *Proxy {
	return &Proxy{
		runner:     runner,
		instanceID: instanceID,
		widgetID:   widgetID,
		workerBin:  workerBin,
		settings:   settings,
		width:      DefaultRenderWidth,
		height:     DefaultRenderHeight,
		logger:     log.WithInstance(instanceID).With("widget_id", widgetID),
	}
}

// SetRenderSize records the tile size used for subsequent render requests.
func (p *Proxy) SetRenderSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if width > 0 {
		p.width = width
	}
	if height > 0 {
		p.height = height
	}
}

// Init spawns the worker process and drives it through its handshake. A
// spawn failure is fatal for the instance; the caller decides whether to
// surface it or build a replacement.
func (p *Proxy) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return fmt.Errorf("instance %s already disposed", p.instanceID)
	}
	if p.spawned {
		return nil
	}
	if !p.runner.Spawn(p.instanceID, p.widgetID, p.workerBin, p.settings) {
		return fmt.Errorf("spawn worker for %s (%s): handshake failed", p.instanceID, p.widgetID)
	}
	p.spawned = true
	return nil
}

// Start is satisfied during the spawn handshake; by the time Init returns
// the worker is already running.
func (p *Proxy) Start() error {
	if !p.live() {
		return fmt.Errorf("instance %s has no running worker", p.instanceID)
	}
	return nil
}

// Stop leaves the worker running; the process is only torn down on Dispose.
func (p *Proxy) Stop() error {
	return nil
}

// Update forwards an update tick to the worker.
func (p *Proxy) Update(deltaTime float64) error {
	if !p.live() {
		return fmt.Errorf("instance %s has no running worker", p.instanceID)
	}
	if !p.runner.SendUpdate(p.instanceID, deltaTime) {
		return fmt.Errorf("update %s: worker did not acknowledge", p.instanceID)
	}
	return nil
}

// RenderData asks the worker for its current render payload. Any failure
// degrades to an error tile rather than an error return, matching the
// in-process contract where RenderData cannot fail.
func (p *Proxy) RenderData() map[string]any {
	p.mu.Lock()
	width, height := p.width, p.height
	p.mu.Unlock()

	if !p.live() {
		return renderErrorData()
	}
	reply := p.runner.RequestRender(p.instanceID, width, height)
	if reply == nil {
		p.logger.Warn("render request failed, serving error tile")
		return renderErrorData()
	}
	data, ok := reply["render_data"].(map[string]any)
	if !ok {
		p.logger.Warn("render reply missing render_data, serving error tile")
		return renderErrorData()
	}
	return data
}

// OnSettingsChanged pushes new settings to the worker. Failures are logged
// and swallowed: the worker keeps its previous settings and the board keeps
// running.
func (p *Proxy) OnSettingsChanged(settings map[string]any) error {
	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()

	if !p.live() {
		return nil
	}
	if !p.runner.UpdateSettings(p.instanceID, settings) {
		p.logger.Warn("worker did not acknowledge settings change")
	}
	return nil
}

// Dispose tears the worker process down. Safe to call more than once.
func (p *Proxy) Dispose() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	hadWorker := p.spawned
	p.spawned = false
	p.mu.Unlock()

	if hadWorker {
		p.runner.Terminate(p.instanceID)
	}
	return nil
}

func (p *Proxy) live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned && !p.disposed
}
