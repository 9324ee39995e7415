package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthboard/hearth/internal/events"
	"github.com/hearthboard/hearth/internal/widget"
	"github.com/hearthboard/hearth/internal/worker"
)

// Test ports are handed out from an atomic counter so parallel test
// packages never collide.
var testPort atomic.Int32

func init() {
	testPort.Store(42100)
}

func nextBasePort() int {
	return int(testPort.Add(20))
}

// sleeperScript builds a stand-in worker binary: an OS process that
// ignores its arguments and stays alive until signalled. The actual
// protocol endpoint is served by an in-process worker.Runtime bound on the
// port the supervisor is about to allocate, which lets the tests exercise
// the full handshake without building a separate binary.
func sleeperScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	script := "#!/bin/sh\nexec sleep 60\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// crashScript exits immediately with output on stderr.
func crashScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crash.sh")
	script := "#!/bin/sh\necho 'missing config' >&2\nexit 3\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testRegistry(t *testing.T) *widget.Registry {
	t.Helper()
	registry := widget.NewRegistry()
	require.NoError(t, registry.Register("fake", func(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
		return &stubWidget{}, nil
	}))
	return registry
}

type stubWidget struct{}

func (s *stubWidget) Init() error                    { return nil }
func (s *stubWidget) Start() error                   { return nil }
func (s *stubWidget) Stop() error                    { return nil }
func (s *stubWidget) Update(deltaTime float64) error { return nil }
func (s *stubWidget) RenderData() map[string]any {
	return map[string]any{widget.RenderHTML: "<div>stub</div>"}
}
func (s *stubWidget) OnSettingsChanged(settings map[string]any) error { return nil }
func (s *stubWidget) Dispose() error                                  { return nil }

// startInProcessWorker binds a worker runtime on the supervisor's next
// endpoint and serves it in the background.
func startInProcessWorker(t *testing.T, port int, instanceID string) chan struct{} {
	t.Helper()
	r := worker.New(fmt.Sprintf("tcp://127.0.0.1:%d", port), instanceID, testRegistry(t))
	require.NoError(t, r.Bind())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Serve()
	}()
	return done
}

func newTestSupervisor(base int) *Supervisor {
	s := New(base, events.NewHub(64))
	s.spawnGrace = 100 * time.Millisecond
	s.handshakeTimeout = 2 * time.Second
	s.shutdownTimeout = 200 * time.Millisecond
	s.gracefulWait = 300 * time.Millisecond
	s.terminateWait = 300 * time.Millisecond
	return s
}

func TestSpawnAndOperate(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)
	defer s.ShutdownAll()

	workerDone := startInProcessWorker(t, base, "clock_1")
	ok := s.Spawn("clock_1", "fake", sleeperScript(t), map[string]any{"show_seconds": true})
	require.True(t, ok)
	assert.True(t, s.Tracked("clock_1"))

	assert.True(t, s.SendUpdate("clock_1", 0.05))

	payload := s.RequestRender("clock_1", 800, 400)
	require.NotNil(t, payload)
	renderData, _ := payload["render_data"].(map[string]any)
	require.NotNil(t, renderData)
	assert.Contains(t, renderData[widget.RenderHTML], "stub")

	assert.True(t, s.UpdateSettings("clock_1", map[string]any{"show_seconds": false}))

	records := s.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "clock_1", records[0].InstanceID)
	assert.Equal(t, "fake", records[0].WidgetID)
	assert.NotZero(t, records[0].PID)

	s.Terminate("clock_1")
	assert.False(t, s.Tracked("clock_1"))
	assert.False(t, s.SendUpdate("clock_1", 0.05))

	select {
	case <-workerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("in-process worker did not shut down")
	}

	// Terminating again is a no-op.
	s.Terminate("clock_1")
}

func TestConcurrentCallsKeepRepliesPaired(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)
	defer s.ShutdownAll()

	startInProcessWorker(t, base, "busy_1")
	require.True(t, s.Spawn("busy_1", "fake", sleeperScript(t), nil))

	// Updates and renders race from separate goroutines, as they do when
	// the dispatch loop, the health ticker and the ops API all talk to the
	// same worker. A crossed reply would surface as a render call getting
	// an update ack: no render_data, or the wrong width echoed back.
	var wg sync.WaitGroup
	mismatches := make(chan string, 256)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.SendUpdate("busy_1", 0.05)
		}
	}()
	for _, width := range []int{200, 400} {
		wg.Add(1)
		go func(width int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				payload := s.RequestRender("busy_1", width, 100)
				if payload == nil {
					continue
				}
				if payload["render_data"] == nil {
					mismatches <- "render reply without render_data"
					continue
				}
				if w, _ := payload["width"].(float64); int(w) != width {
					mismatches <- fmt.Sprintf("render reply echoed width %v, want %d", payload["width"], width)
				}
			}
		}(width)
	}
	wg.Wait()
	close(mismatches)
	for msg := range mismatches {
		t.Error(msg)
	}
}

func TestSpawnRejectsDuplicate(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)
	defer s.ShutdownAll()

	startInProcessWorker(t, base, "dup_1")
	require.True(t, s.Spawn("dup_1", "fake", sleeperScript(t), nil))

	assert.False(t, s.Spawn("dup_1", "fake", sleeperScript(t), nil))
	assert.Len(t, s.Records(), 1)
}

func TestSpawnRejectsDuplicateMidHandshake(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)
	defer s.ShutdownAll()

	startInProcessWorker(t, base, "mid_1")
	script := sleeperScript(t)

	first := make(chan bool, 1)
	go func() { first <- s.Spawn("mid_1", "fake", script, nil) }()

	// The first spawn is still inside its startup grace window, so the id
	// is not yet in the process table — it must be reserved regardless.
	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.Spawn("mid_1", "fake", script, nil))

	assert.True(t, <-first)
	assert.Len(t, s.Records(), 1)
}

func TestSpawnMissingBinary(t *testing.T) {
	s := newTestSupervisor(nextBasePort())
	ok := s.Spawn("a", "fake", "/nonexistent/worker-bin", nil)
	assert.False(t, ok)
	assert.Empty(t, s.Records())
}

func TestSpawnWorkerExitsDuringStartup(t *testing.T) {
	s := newTestSupervisor(nextBasePort())
	ok := s.Spawn("a", "fake", crashScript(t), nil)
	assert.False(t, ok)
	assert.Empty(t, s.Records())
}

func TestSpawnHandshakeTimeoutLeavesNoOrphan(t *testing.T) {
	s := newTestSupervisor(nextBasePort())
	s.handshakeTimeout = 300 * time.Millisecond

	// The sleeper stays alive but nothing ever binds the endpoint, so the
	// connect step fails and the half-started process must be killed.
	ok := s.Spawn("a", "fake", sleeperScript(t), nil)
	assert.False(t, ok)
	assert.Empty(t, s.Records())
}

func TestPortsNeverReused(t *testing.T) {
	s := newTestSupervisor(nextBasePort())
	first := s.nextPort
	s.Spawn("a", "fake", "/nonexistent/worker-bin", nil)
	s.Spawn("b", "fake", "/nonexistent/worker-bin", nil)
	assert.Equal(t, first+2, s.nextPort)
}

func TestUpdateSettingsNeverSpawned(t *testing.T) {
	s := newTestSupervisor(nextBasePort())
	assert.False(t, s.UpdateSettings("ghost", map[string]any{"a": 1}))
	assert.Nil(t, s.RequestRender("ghost", 100, 100))
	assert.False(t, s.SendUpdate("ghost", 0.1))
}

func TestCheckHealthReapsDeadWorker(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)
	defer s.ShutdownAll()

	hub := s.hub
	ch, cancel := hub.Subscribe()
	defer cancel()

	startInProcessWorker(t, base, "victim")
	require.True(t, s.Spawn("victim", "fake", sleeperScript(t), nil))

	// Kill the OS process out from under the supervisor.
	p := s.lookup("victim")
	require.NotNil(t, p)
	require.NoError(t, p.cmd.Process.Kill())
	require.True(t, p.waitExit(2*time.Second))

	s.CheckHealth()
	assert.False(t, s.Tracked("victim"))
	assert.False(t, s.SendUpdate("victim", 0.1))

	var sawCrash bool
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeCrashed {
				sawCrash = true
			}
			if ev.Type == events.TypeTerminated {
				assert.True(t, sawCrash, "crash event should precede teardown")
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected crash and teardown events")
		}
	}
}

func TestCheckHealthUpdatesHeartbeat(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)
	defer s.ShutdownAll()

	startInProcessWorker(t, base, "hb_1")
	require.True(t, s.Spawn("hb_1", "fake", sleeperScript(t), nil))

	before := s.Records()[0].LastHeartbeat
	time.Sleep(20 * time.Millisecond)
	s.CheckHealth()

	after := s.Records()[0].LastHeartbeat
	assert.True(t, after.After(before), "heartbeat timestamp should advance")
}

func TestShutdownAllIdempotent(t *testing.T) {
	base := nextBasePort()
	s := newTestSupervisor(base)

	startInProcessWorker(t, base, "x1")
	require.True(t, s.Spawn("x1", "fake", sleeperScript(t), nil))

	s.ShutdownAll()
	assert.Empty(t, s.Records())
	s.ShutdownAll()
}
