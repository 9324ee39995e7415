// Package worker implements the process entered by every widget
// subprocess. A runtime owns exactly one widget instance and drives it
// through its lifecycle in response to envelopes from the host.
package worker

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/protocol"
	"github.com/hearthboard/hearth/internal/transport"
	"github.com/hearthboard/hearth/internal/widget"
)

const (
	receiveTimeout = 1 * time.Second
	replyTimeout   = 5 * time.Second
)

// Runtime is the worker-side message loop. Single-threaded: one receive,
// one dispatch, one reply at a time.
type Runtime struct {
	endpoint   string
	instanceID string
	registry   *widget.Registry

	transport *transport.Transport
	instance  widget.Widget
	state     widget.State
	running   bool
	logger    *slog.Logger
}

// New creates a runtime for the given endpoint and instance id. The
// registry supplies the factory used when INIT arrives; the runtime itself
// is widget-agnostic.
func New(endpoint, instanceID string, registry *widget.Registry) *Runtime {
	return &Runtime{
		endpoint:   endpoint,
		instanceID: instanceID,
		registry:   registry,
		state:      widget.StateCreated,
		logger:     log.WithComponent("worker").With("instance_id", instanceID),
	}
}

// Bind opens the worker's transport. Must be called before Serve.
func (r *Runtime) Bind() error {
	t, err := transport.Bind(r.endpoint)
	if err != nil {
		return fmt.Errorf("bind %s: %w", r.endpoint, err)
	}
	r.transport = t
	r.logger.Info("worker bound", "endpoint", t.Endpoint())
	return nil
}

// Endpoint returns the bound endpoint, including the real port when the
// runtime was created with port 0.
func (r *Runtime) Endpoint() string {
	if r.transport == nil {
		return r.endpoint
	}
	return r.transport.Endpoint()
}

// Serve runs the message loop until SHUTDOWN. Cleanup is guaranteed on
// every exit path: any live instance is disposed and the transport closed.
func (r *Runtime) Serve() {
	defer func() {
		if r.instance != nil {
			if err := r.instance.Dispose(); err != nil {
				r.logger.Error("failed to dispose widget on exit", "error", err)
			}
			r.instance = nil
		}
		r.transport.Close()
		r.logger.Info("worker stopped")
	}()

	r.running = true
	for r.running {
		env := r.transport.Receive(receiveTimeout)
		if env == nil {
			continue
		}
		reply := r.handle(env)
		if !r.transport.Send(reply, replyTimeout) {
			r.logger.Warn("failed to send reply", "type", reply.Type)
		}
	}
}

// Run binds and serves. This is the worker process entry point:
// entry_point(endpoint, instance_id).
func (r *Runtime) Run() error {
	if err := r.Bind(); err != nil {
		return err
	}
	r.Serve()
	return nil
}

// handle dispatches one request and produces exactly one reply. A panic in
// a widget handler is converted into an ERROR reply; a single bad message
// never kills the worker.
func (r *Runtime) handle(env *protocol.Envelope) (reply *protocol.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked", "type", env.Type, "panic", p)
			reply = protocol.NewError(r.instanceID,
				fmt.Sprintf("handler panic: %v", p), string(debug.Stack()))
		}
	}()

	switch env.Type {
	case protocol.KindInit:
		return r.handleInit(env)
	case protocol.KindStart:
		return r.handleStart()
	case protocol.KindUpdate:
		return r.handleUpdate(env)
	case protocol.KindRender:
		return r.handleRender(env)
	case protocol.KindSettingsChanged:
		return r.handleSettingsChanged(env)
	case protocol.KindDispose:
		return r.handleDispose()
	case protocol.KindShutdown:
		r.logger.Info("shutdown requested")
		r.running = false
		return protocol.NewAck(protocol.KindShutdown, r.instanceID)
	case protocol.KindHeartbeat:
		return protocol.NewAck(protocol.KindHeartbeat, r.instanceID)
	default:
		r.logger.Warn("unexpected message type", "type", env.Type)
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("unexpected message type %q", string(env.Type)), "")
	}
}

func (r *Runtime) handleInit(env *protocol.Envelope) *protocol.Envelope {
	if r.instance != nil {
		return protocol.NewError(r.instanceID, "widget already initialized", "")
	}

	widgetID := env.String("plugin_id")
	settings := env.Map("settings")
	r.logger.Info("initializing widget", "widget", widgetID)

	instance, err := r.registry.Create(r.instanceID, widgetID, settings)
	if err != nil {
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("failed to create widget %q: %v", widgetID, err), "")
	}
	if err := instance.Init(); err != nil {
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("widget init failed: %v", err), "")
	}

	r.instance = instance
	r.state = widget.StateInitialized
	return protocol.NewAck(protocol.KindInit, r.instanceID)
}

func (r *Runtime) handleStart() *protocol.Envelope {
	if r.instance == nil {
		return protocol.NewError(r.instanceID, "widget not initialized", "")
	}
	if !r.state.CanTransition(widget.StateStarted) {
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("cannot start widget in state %q", string(r.state)), "")
	}
	if err := r.instance.Start(); err != nil {
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("widget start failed: %v", err), "")
	}
	r.state = widget.StateStarted
	return protocol.NewAck(protocol.KindStart, r.instanceID)
}

func (r *Runtime) handleUpdate(env *protocol.Envelope) *protocol.Envelope {
	if r.instance == nil {
		return protocol.NewError(r.instanceID, "widget not initialized", "")
	}
	delta, _ := env.Number("delta_time")
	if err := r.instance.Update(delta); err != nil {
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("widget update failed: %v", err), "")
	}
	return protocol.NewAck(protocol.KindUpdate, r.instanceID)
}

func (r *Runtime) handleRender(env *protocol.Envelope) *protocol.Envelope {
	if r.instance == nil {
		return protocol.NewError(r.instanceID, "widget not initialized", "")
	}
	width, _ := env.Number("width")
	height, _ := env.Number("height")

	return &protocol.Envelope{
		Type:       protocol.KindRender,
		InstanceID: r.instanceID,
		Payload: map[string]any{
			"render_data": r.instance.RenderData(),
			"width":       width,
			"height":      height,
		},
	}
}

func (r *Runtime) handleSettingsChanged(env *protocol.Envelope) *protocol.Envelope {
	if r.instance == nil {
		return protocol.NewError(r.instanceID, "widget not initialized", "")
	}
	settings := env.Map("settings")
	r.logger.Info("applying new settings")
	if err := r.instance.OnSettingsChanged(settings); err != nil {
		return protocol.NewError(r.instanceID,
			fmt.Sprintf("settings change failed: %v", err), "")
	}
	return protocol.NewAck(protocol.KindSettingsChanged, r.instanceID)
}

func (r *Runtime) handleDispose() *protocol.Envelope {
	if r.instance != nil {
		if r.state == widget.StateStarted {
			if err := r.instance.Stop(); err != nil {
				r.logger.Error("failed to stop widget before dispose", "error", err)
			}
		}
		if err := r.instance.Dispose(); err != nil {
			r.logger.Error("failed to dispose widget", "error", err)
		}
		r.instance = nil
		r.state = widget.StateDisposed
	}
	return protocol.NewAck(protocol.KindDispose, r.instanceID)
}
