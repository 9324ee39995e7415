// Package supervisor owns the lifecycle of widget worker processes: it
// allocates endpoints, spawns workers, performs the INIT/START handshake,
// tracks liveness, and tears processes down. The OS process and its
// transport form a single unit owned exclusively by the supervisor;
// nothing else may spawn or kill a worker.
package supervisor

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hearthboard/hearth/internal/events"
	"github.com/hearthboard/hearth/internal/log"
	"github.com/hearthboard/hearth/internal/protocol"
	"github.com/hearthboard/hearth/internal/transport"
)

// Per-call timeout policy. UPDATE runs every frame and must fail fast;
// RENDER and SETTINGS are bounded; the spawn handshake tolerates slow
// startup because spawn is infrequent.
const (
	updateTimeout    = 100 * time.Millisecond
	renderTimeout    = 500 * time.Millisecond
	settingsTimeout  = 1 * time.Second
	heartbeatTimeout = 500 * time.Millisecond
)

// process is the supervisor's record of one running worker. It exists from
// successful spawn until termination completes and is never handed out.
type process struct {
	instanceID    string
	widgetID      string
	cmd           *exec.Cmd
	transport     *transport.Transport
	endpoint      string
	startedAt     time.Time
	lastHeartbeat time.Time

	// callMu serializes traffic on the transport. Updates, renders,
	// settings pushes and heartbeats arrive from different goroutines,
	// and the worker answers strictly one request at a time; interleaved
	// sends would pair replies with the wrong caller.
	callMu sync.Mutex

	output  *boundedBuffer // combined stdout+stderr, for diagnostics
	waitCh  chan struct{}
	waitErr error
}

// exchange performs one request-reply round trip, holding the call lock
// for the full exchange.
func (p *process) exchange(env *protocol.Envelope, timeout time.Duration) *protocol.Envelope {
	p.callMu.Lock()
	defer p.callMu.Unlock()
	return p.transport.SendAndReceive(env, timeout)
}

// exited reports whether the OS process has terminated.
func (p *process) exited() bool {
	select {
	case <-p.waitCh:
		return true
	default:
		return false
	}
}

// waitExit blocks up to d for the OS process to terminate.
func (p *process) waitExit(d time.Duration) bool {
	select {
	case <-p.waitCh:
		return true
	case <-time.After(d):
		return false
	}
}

// Record is a read-only snapshot of a process table entry.
type Record struct {
	InstanceID    string    `json:"instance_id"`
	WidgetID      string    `json:"widget_id"`
	Endpoint      string    `json:"endpoint"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Supervisor manages worker processes for widget instances. All calls that
// talk to a worker are synchronous and block up to their timeout. The
// table mutex only guards map access so the ops API can snapshot the table
// while the main loop drives spawns; each process carries its own call
// lock for wire traffic.
type Supervisor struct {
	mu       sync.Mutex
	procs    map[string]*process
	spawning map[string]struct{} // ids mid-handshake, not yet in procs
	nextPort int

	hub    *events.Hub
	logger *slog.Logger

	// Overridable in tests; production values match the policy above.
	spawnGrace       time.Duration
	handshakeTimeout time.Duration
	shutdownTimeout  time.Duration
	gracefulWait     time.Duration
	terminateWait    time.Duration
}

// New creates a supervisor allocating worker ports from basePort upward.
// Ports increase monotonically and are never reused while the supervisor
// lives, so a not-yet-reaped worker cannot collide with a fresh one.
func New(basePort int, hub *events.Hub) *Supervisor {
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Supervisor{
		procs:            make(map[string]*process),
		spawning:         make(map[string]struct{}),
		nextPort:         basePort,
		hub:              hub,
		logger:           log.WithComponent("supervisor"),
		spawnGrace:       500 * time.Millisecond,
		handshakeTimeout: 5 * time.Second,
		shutdownTimeout:  1 * time.Second,
		gracefulWait:     2 * time.Second,
		terminateWait:    1 * time.Second,
	}
}

// Spawn starts a worker process for the instance, performs the INIT/START
// handshake, and registers the process record only after both succeed.
// A false return guarantees the table is unchanged and no orphan process
// is left running.
func (s *Supervisor) Spawn(instanceID, widgetID, workerBin string, settings map[string]any) bool {
	logger := s.logger.With("instance_id", instanceID, "widget", widgetID)

	// Reserve the id and the port in one critical section. A second Spawn
	// for the same id must lose even while this one is still mid-handshake
	// and not yet in the process table.
	s.mu.Lock()
	_, running := s.procs[instanceID]
	_, pending := s.spawning[instanceID]
	if running || pending {
		s.mu.Unlock()
		logger.Warn("instance already has a running worker")
		return false
	}
	s.spawning[instanceID] = struct{}{}
	port := s.nextPort
	s.nextPort++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.spawning, instanceID)
		s.mu.Unlock()
	}()

	endpoint := fmt.Sprintf("tcp://127.0.0.1:%d", port)
	logger.Info("spawning worker", "worker", workerBin, "endpoint", endpoint)

	output := newBoundedBuffer(maxOutputBytes)
	cmd := exec.Command(workerBin, endpoint, instanceID)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		logger.Error("failed to start worker process", "error", err)
		s.hub.Publish(events.TypeSpawnError, map[string]any{
			"instance_id": instanceID, "error": err.Error(),
		})
		return false
	}

	p := &process{
		instanceID: instanceID,
		widgetID:   widgetID,
		cmd:        cmd,
		endpoint:   endpoint,
		output:     output,
		waitCh:     make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitCh)
	}()

	// Give the worker a moment to come up, then make sure it is alive.
	time.Sleep(s.spawnGrace)
	if p.exited() {
		logger.Error("worker exited before handshake",
			"exit_error", p.waitErr, "output", output.String())
		s.hub.Publish(events.TypeSpawnError, map[string]any{
			"instance_id": instanceID, "error": "worker exited during startup",
		})
		return false
	}

	conn, err := transport.Connect(endpoint)
	if err != nil {
		logger.Error("failed to connect to worker", "error", err)
		s.killHalfStarted(p)
		s.hub.Publish(events.TypeSpawnError, map[string]any{
			"instance_id": instanceID, "error": err.Error(),
		})
		return false
	}

	// Handshake: INIT then START. Either failing aborts the spawn so the
	// table never holds an instance that cannot accept UPDATE/RENDER.
	for _, req := range []*protocol.Envelope{
		protocol.NewInit(instanceID, widgetID, settings),
		protocol.NewStart(instanceID),
	} {
		reply := conn.SendAndReceive(req, s.handshakeTimeout)
		if reply == nil || reply.IsError() {
			detail := "timeout"
			if reply != nil {
				detail = reply.ErrorText()
			}
			logger.Error("handshake failed", "step", req.Type, "error", detail)
			conn.Close()
			s.killHalfStarted(p)
			s.hub.Publish(events.TypeSpawnError, map[string]any{
				"instance_id": instanceID, "step": string(req.Type), "error": detail,
			})
			return false
		}
	}

	now := time.Now()
	p.transport = conn
	p.startedAt = now
	p.lastHeartbeat = now

	s.mu.Lock()
	s.procs[instanceID] = p
	s.mu.Unlock()

	logger.Info("worker spawned", "pid", cmd.Process.Pid)
	s.hub.Publish(events.TypeSpawned, map[string]any{
		"instance_id": instanceID, "widget_id": widgetID, "pid": cmd.Process.Pid,
	})
	return true
}

// SendUpdate forwards a frame tick to the worker. Expected on the per-frame
// path, so the timeout is short and failure only means "skipped".
func (s *Supervisor) SendUpdate(instanceID string, deltaTime float64) bool {
	p := s.lookup(instanceID)
	if p == nil {
		return false
	}
	reply := p.exchange(protocol.NewUpdate(instanceID, deltaTime), updateTimeout)
	return reply != nil && !reply.IsError()
}

// RequestRender asks the worker for current render data. Returns the render
// payload, or nil when the instance is unknown or the call fails.
func (s *Supervisor) RequestRender(instanceID string, width, height int) map[string]any {
	p := s.lookup(instanceID)
	if p == nil {
		return nil
	}
	reply := p.exchange(protocol.NewRender(instanceID, width, height), renderTimeout)
	if reply == nil || reply.IsError() {
		return nil
	}
	return reply.Payload
}

// UpdateSettings pushes replacement settings to the worker.
func (s *Supervisor) UpdateSettings(instanceID string, settings map[string]any) bool {
	p := s.lookup(instanceID)
	if p == nil {
		return false
	}
	reply := p.exchange(protocol.NewSettingsChanged(instanceID, settings), settingsTimeout)
	ok := reply != nil && !reply.IsError()
	if ok {
		s.hub.Publish(events.TypeSettings, map[string]any{"instance_id": instanceID})
	}
	return ok
}

// Terminate shuts a worker down: graceful SHUTDOWN first, then SIGTERM,
// then SIGKILL. The transport is closed and the record removed no matter
// which step succeeded; calling Terminate for an untracked id is a no-op.
func (s *Supervisor) Terminate(instanceID string) {
	s.mu.Lock()
	p, ok := s.procs[instanceID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.procs, instanceID)
	s.mu.Unlock()

	logger := s.logger.With("instance_id", instanceID)
	defer func() {
		p.transport.Close()
		logger.Info("worker terminated")
		s.hub.Publish(events.TypeTerminated, map[string]any{"instance_id": instanceID})
	}()

	// Wait out any in-flight exchange before the shutdown send, so a
	// caller mid-render is not cut off by the transport close below.
	p.callMu.Lock()
	p.transport.Send(protocol.NewShutdown(instanceID), s.shutdownTimeout)
	p.callMu.Unlock()
	// The shutdown ack, if any, is not needed; drain is implicit in close.

	if p.waitExit(s.gracefulWait) {
		return
	}
	logger.Warn("worker did not exit after shutdown, sending SIGTERM")
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	if p.waitExit(s.terminateWait) {
		return
	}
	logger.Error("worker did not exit after SIGTERM, killing")
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.waitCh
}

// CheckHealth reaps workers whose OS process exited without a SHUTDOWN
// handshake and pings the rest. A dead process goes through the same
// teardown path as Terminate; there is deliberately no restart here —
// restart-on-crash is an extension point for the caller.
func (s *Supervisor) CheckHealth() {
	for _, instanceID := range s.instanceIDs() {
		p := s.lookup(instanceID)
		if p == nil {
			continue
		}
		if p.exited() {
			s.logger.Error("worker process died unexpectedly",
				"instance_id", instanceID, "exit_error", p.waitErr,
				"output", p.output.String())
			s.hub.Publish(events.TypeCrashed, map[string]any{
				"instance_id": instanceID, "widget_id": p.widgetID,
			})
			s.Terminate(instanceID)
			continue
		}
		reply := p.exchange(protocol.NewHeartbeat(instanceID), heartbeatTimeout)
		if reply != nil && !reply.IsError() {
			s.mu.Lock()
			p.lastHeartbeat = time.Now()
			s.mu.Unlock()
		}
	}
}

// ShutdownAll terminates every tracked worker. Safe to call repeatedly and
// during process teardown.
func (s *Supervisor) ShutdownAll() {
	ids := s.instanceIDs()
	if len(ids) == 0 {
		return
	}
	s.logger.Info("shutting down all workers", "count", len(ids))
	for _, instanceID := range ids {
		s.Terminate(instanceID)
	}
}

// Tracked reports whether the instance has a live process record.
func (s *Supervisor) Tracked(instanceID string) bool {
	return s.lookup(instanceID) != nil
}

// Records returns a snapshot of the process table for the ops surface.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, Record{
			InstanceID:    p.instanceID,
			WidgetID:      p.widgetID,
			Endpoint:      p.endpoint,
			PID:           p.cmd.Process.Pid,
			StartedAt:     p.startedAt,
			LastHeartbeat: p.lastHeartbeat,
		})
	}
	return out
}

func (s *Supervisor) lookup(instanceID string) *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[instanceID]
}

func (s *Supervisor) instanceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	return ids
}

// killHalfStarted force-kills a process that never completed its handshake.
func (s *Supervisor) killHalfStarted(p *process) {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.waitCh
}
