// Package runtime owns widget instances. It creates them from discovered
// manifests or built-in factories, drives their lifecycle, and routes
// scheduler dispatches to the right widget.
package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/manifest"
	"github.com/hearthboard/hearth/internal/proxy"
	"github.com/hearthboard/hearth/internal/updates"
	"github.com/hearthboard/hearth/internal/widget"
)

// Options wires the manager's collaborators.
type Options struct {
	// Factories holds in-process widget constructors.
	Factories *widget.Registry
	// Widgets holds discovered manifests. May be nil when only built-in
	// widgets are used.
	Widgets *manifest.Registry
	// Runner spawns and drives worker processes for process-mode widgets.
	Runner proxy.Runner
	// Scheduler throttles instance updates. The manager registers itself
	// as a dispatch listener.
	Scheduler *updates.Scheduler
	// WorkerBin is the fallback worker executable for manifests that do
	// not ship their own.
	WorkerBin string
	// ThrottleOverrides are per-widget-ID throttle settings from host
	// config. They win over manifest throttle blocks.
	ThrottleOverrides map[string]manifest.ThrottleSpec
}

// Info is a read-only instance snapshot for the ops surface.
type Info struct {
	ID         string                 `json:"id"`
	WidgetID   string                 `json:"widget_id"`
	Execution  manifest.ExecutionMode `json:"execution"`
	State      widget.State           `json:"state"`
	CreatedAt  time.Time              `json:"created_at"`
	LastUpdate time.Time              `json:"last_update,omitempty"`
}

type instance struct {
	id         string
	widgetID   string
	execution  manifest.ExecutionMode
	w          widget.Widget
	state      widget.State
	settings   map[string]any
	createdAt  time.Time
	lastUpdate time.Time
}

// Manager creates, tracks and tears down widget instances.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance
}

// New creates a manager and hooks it into the scheduler's dispatch path.
func New(opts Options) *Manager {
	m := &Manager{
		opts:      opts,
		logger:    log.WithComponent("runtime"),
		instances: make(map[string]*instance),
	}
	if opts.Scheduler != nil {
		opts.Scheduler.OnDispatch(m.onDispatch)
	}
	return m
}

// CreateInstance builds an instance of the given widget. An empty
// instanceID gets a generated UUID. The instance is initialized but not
// started; a failed init leaves an errored record behind for the ops
// surface and returns the error.
func (m *Manager) CreateInstance(widgetID, instanceID string, settings map[string]any) (string, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	inst, err := m.build(widgetID, instanceID, settings)
	if err != nil {
		return "", err
	}

	// Check-and-insert under one lock so two racing creates with the same
	// id cannot both pass a separate existence check. The loser's widget
	// was never initialized, so there is nothing to clean up.
	m.mu.Lock()
	if _, exists := m.instances[instanceID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("instance %s already exists", instanceID)
	}
	m.instances[instanceID] = inst
	m.mu.Unlock()

	m.registerThrottle(widgetID, instanceID)

	if err := inst.w.Init(); err != nil {
		m.mu.Lock()
		inst.state = widget.StateErrored
		m.mu.Unlock()
		m.logger.Error("instance init failed",
			"instance_id", instanceID, "widget_id", widgetID, "error", err)
		return instanceID, fmt.Errorf("init %s: %w", instanceID, err)
	}

	m.mu.Lock()
	inst.state = widget.StateInitialized
	m.mu.Unlock()
	m.logger.Info("instance created",
		"instance_id", instanceID, "widget_id", widgetID, "execution", inst.execution)
	return instanceID, nil
}

func (m *Manager) build(widgetID, instanceID string, settings map[string]any) (*instance, error) {
	inst := &instance{
		id:        instanceID,
		widgetID:  widgetID,
		settings:  settings,
		state:     widget.StateCreated,
		createdAt: time.Now(),
	}

	var def *manifest.Widget
	if m.opts.Widgets != nil {
		def, _ = m.opts.Widgets.Get(widgetID)
	}

	switch {
	case def != nil && def.Execution == manifest.ExecutionProcess:
		bin := def.WorkerBin
		if bin == "" {
			bin = m.opts.WorkerBin
		}
		if bin == "" {
			return nil, fmt.Errorf("widget %s: no worker binary configured", widgetID)
		}
		p := proxy.New(m.opts.Runner, instanceID, widgetID, bin, settings)
		if def.Size != nil {
			p.SetRenderSize(def.Size.Width, def.Size.Height)
		}
		inst.execution = manifest.ExecutionProcess
		inst.w = p
	default:
		w, err := m.opts.Factories.Create(instanceID, widgetID, settings)
		if err != nil {
			return nil, err
		}
		inst.execution = manifest.ExecutionInProcess
		inst.w = w
	}

	return inst, nil
}

func (m *Manager) registerThrottle(widgetID, instanceID string) {
	if m.opts.Scheduler == nil {
		return
	}
	cfg := updates.DefaultThrottleConfig()
	if m.opts.Widgets != nil {
		if def, ok := m.opts.Widgets.Get(widgetID); ok && def.Throttle != nil {
			cfg = def.Throttle.Config()
		}
	}
	if override, ok := m.opts.ThrottleOverrides[widgetID]; ok {
		cfg = override.Config()
	}
	m.opts.Scheduler.SetThrottleConfig(instanceID, cfg)
}

// StartInstance starts an initialized or stopped instance and queues its
// first update.
func (m *Manager) StartInstance(instanceID string) error {
	inst, err := m.transition(instanceID, widget.StateStarted)
	if err != nil {
		return err
	}
	if err := inst.w.Start(); err != nil {
		m.setState(instanceID, widget.StateErrored)
		return fmt.Errorf("start %s: %w", instanceID, err)
	}
	m.setState(instanceID, widget.StateStarted)
	if m.opts.Scheduler != nil {
		m.opts.Scheduler.RequestUpdate(instanceID, "initial")
	}
	return nil
}

// StopInstance pauses a started instance. Its pending updates are dropped.
func (m *Manager) StopInstance(instanceID string) error {
	inst, err := m.transition(instanceID, widget.StateStopped)
	if err != nil {
		return err
	}
	if m.opts.Scheduler != nil {
		m.opts.Scheduler.ClearPending(instanceID)
	}
	if err := inst.w.Stop(); err != nil {
		m.setState(instanceID, widget.StateErrored)
		return fmt.Errorf("stop %s: %w", instanceID, err)
	}
	m.setState(instanceID, widget.StateStopped)
	return nil
}

// RequestUpdate queues an update for the instance through the scheduler.
func (m *Manager) RequestUpdate(instanceID, reason string) error {
	if _, ok := m.lookup(instanceID); !ok {
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	if m.opts.Scheduler != nil {
		m.opts.Scheduler.RequestUpdate(instanceID, reason)
	}
	return nil
}

// Render returns the instance's current render payload. width/height of 0
// keep the instance's previous size.
func (m *Manager) Render(instanceID string, width, height int) (map[string]any, error) {
	inst, ok := m.lookup(instanceID)
	if !ok {
		return nil, fmt.Errorf("unknown instance %s", instanceID)
	}
	if p, isProxy := inst.w.(*proxy.Proxy); isProxy && (width > 0 || height > 0) {
		p.SetRenderSize(width, height)
	}
	data := inst.w.RenderData()
	if widget.NeedsUpdate(data) && m.opts.Scheduler != nil {
		m.opts.Scheduler.RequestUpdate(instanceID, "render")
	}
	return data, nil
}

// ApplySettings pushes new settings to the instance, then resets its
// throttle and queues an update so the change is visible immediately.
func (m *Manager) ApplySettings(instanceID string, settings map[string]any) error {
	inst, ok := m.lookup(instanceID)
	if !ok {
		return fmt.Errorf("unknown instance %s", instanceID)
	}
	if err := inst.w.OnSettingsChanged(settings); err != nil {
		return fmt.Errorf("apply settings to %s: %w", instanceID, err)
	}

	m.mu.Lock()
	inst.settings = settings
	m.mu.Unlock()

	if m.opts.Scheduler != nil {
		m.opts.Scheduler.ResetThrottle(instanceID)
		m.opts.Scheduler.RequestUpdate(instanceID, "settings")
	}
	return nil
}

// DestroyInstance disposes the instance and forgets it. Unknown IDs are a
// no-op so teardown paths can call it blindly.
func (m *Manager) DestroyInstance(instanceID string) {
	m.mu.Lock()
	inst, ok := m.instances[instanceID]
	if ok {
		delete(m.instances, instanceID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if m.opts.Scheduler != nil {
		m.opts.Scheduler.ClearPending(instanceID)
	}
	if err := inst.w.Dispose(); err != nil {
		m.logger.Warn("dispose failed", "instance_id", instanceID, "error", err)
	}
	m.logger.Info("instance destroyed", "instance_id", instanceID, "widget_id", inst.widgetID)
}

// SetVisible tells the scheduler which instances the board currently shows.
func (m *Manager) SetVisible(instanceIDs []string) {
	if m.opts.Scheduler != nil {
		m.opts.Scheduler.SetVisibleInstances(instanceIDs)
	}
}

// Shutdown destroys every instance.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.DestroyInstance(id)
	}
}

// Get returns a snapshot of one instance.
func (m *Manager) Get(instanceID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return Info{}, false
	}
	return snapshot(inst), true
}

// List returns snapshots of every tracked instance.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, snapshot(inst))
	}
	return out
}

// onDispatch is the scheduler's listener: deliver one update tick to the
// instance, with delta time measured from its previous update.
func (m *Manager) onDispatch(instanceID, reason string) {
	m.mu.Lock()
	inst, ok := m.instances[instanceID]
	if !ok || inst.state != widget.StateStarted {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	delta := 0.0
	if !inst.lastUpdate.IsZero() {
		delta = now.Sub(inst.lastUpdate).Seconds()
	}
	inst.lastUpdate = now
	w := inst.w
	m.mu.Unlock()

	if err := w.Update(delta); err != nil {
		m.logger.Warn("update failed",
			"instance_id", instanceID, "reason", reason, "error", err)
	}
}

func (m *Manager) lookup(instanceID string) (*instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	return inst, ok
}

func (m *Manager) setState(instanceID string, state widget.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[instanceID]; ok {
		inst.state = state
	}
}

// transition checks the state machine before a lifecycle call.
func (m *Manager) transition(instanceID string, to widget.State) (*instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("unknown instance %s", instanceID)
	}
	if !inst.state.CanTransition(to) {
		return nil, fmt.Errorf("instance %s: cannot go from %s to %s", instanceID, inst.state, to)
	}
	return inst, nil
}

func snapshot(inst *instance) Info {
	return Info{
		ID:         inst.id,
		WidgetID:   inst.widgetID,
		Execution:  inst.execution,
		State:      inst.state,
		CreatedAt:  inst.createdAt,
		LastUpdate: inst.lastUpdate,
	}
}
