package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthboard/hearth/internal/manifest"
	"github.com/hearthboard/hearth/internal/proxy/mocks"
	"github.com/hearthboard/hearth/internal/updates"
	"github.com/hearthboard/hearth/internal/widget"
)

type stubWidget struct {
	calls     []string
	initErr   error
	needsMore bool
	settings  map[string]any
}

func (s *stubWidget) Init() error  { s.calls = append(s.calls, "init"); return s.initErr }
func (s *stubWidget) Start() error { s.calls = append(s.calls, "start"); return nil }
func (s *stubWidget) Stop() error  { s.calls = append(s.calls, "stop"); return nil }
func (s *stubWidget) Update(deltaTime float64) error {
	s.calls = append(s.calls, "update")
	return nil
}
func (s *stubWidget) RenderData() map[string]any {
	s.calls = append(s.calls, "render")
	return map[string]any{
		widget.RenderHTML:        "<div>ok</div>",
		widget.RenderNeedsUpdate: s.needsMore,
	}
}
func (s *stubWidget) OnSettingsChanged(settings map[string]any) error {
	s.calls = append(s.calls, "settings")
	s.settings = settings
	return nil
}
func (s *stubWidget) Dispose() error { s.calls = append(s.calls, "dispose"); return nil }

func newTestManager(t *testing.T, stub *stubWidget) (*Manager, *updates.Scheduler) {
	t.Helper()
	factories := widget.NewRegistry()
	require.NoError(t, factories.Register("stub", func(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
		return stub, nil
	}))
	require.NoError(t, factories.Register("broken", func(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
		return nil, errors.New("no such widget")
	}))

	sched := updates.New(nil)
	return New(Options{Factories: factories, Scheduler: sched}), sched
}

func TestCreateAndStartInProcess(t *testing.T) {
	stub := &stubWidget{}
	m, sched := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, widget.StateInitialized, info.State)
	assert.Equal(t, manifest.ExecutionInProcess, info.Execution)

	require.NoError(t, m.StartInstance(id))
	info, _ = m.Get(id)
	assert.Equal(t, widget.StateStarted, info.State)

	// Starting queues one update request.
	assert.NotNil(t, sched.Pending(id))
	assert.Equal(t, []string{"init", "start"}, stub.calls)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m, _ := newTestManager(t, &stubWidget{})
	_, err := m.CreateInstance("stub", "fixed", nil)
	require.NoError(t, err)
	_, err = m.CreateInstance("stub", "fixed", nil)
	assert.Error(t, err)
}

func TestConcurrentCreateSameID(t *testing.T) {
	m, _ := newTestManager(t, &stubWidget{})

	// Racing creates with the same id must resolve to exactly one
	// instance; the check and the insert share one critical section.
	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CreateInstance("stub", "same", nil); err == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Len(t, m.List(), 1)
}

func TestStartRespectsLifecycle(t *testing.T) {
	stub := &stubWidget{}
	m, _ := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "lc1", nil)
	require.NoError(t, err)

	// Stop before start is not a legal transition.
	require.Error(t, m.StopInstance(id))

	require.NoError(t, m.StartInstance(id))
	require.Error(t, m.StartInstance(id))

	// The started/stopped pair may cycle.
	require.NoError(t, m.StopInstance(id))
	require.NoError(t, m.StartInstance(id))
}

func TestCreateUnknownWidget(t *testing.T) {
	m, _ := newTestManager(t, &stubWidget{})
	_, err := m.CreateInstance("missing", "", nil)
	assert.Error(t, err)
}

func TestCreateInitFailureKeepsErroredRecord(t *testing.T) {
	stub := &stubWidget{initErr: errors.New("boom")}
	m, _ := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "w1", nil)
	require.Error(t, err)
	assert.Equal(t, "w1", id)

	info, ok := m.Get("w1")
	require.True(t, ok)
	assert.Equal(t, widget.StateErrored, info.State)
	assert.Error(t, m.StartInstance("w1"))
}

func TestDispatchDeliversUpdate(t *testing.T) {
	stub := &stubWidget{}
	m, _ := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartInstance(id))

	m.onDispatch(id, "initial")
	assert.Contains(t, stub.calls, "update")

	// Stopped instances are skipped.
	require.NoError(t, m.StopInstance(id))
	before := len(stub.calls)
	m.onDispatch(id, "data")
	assert.Len(t, stub.calls, before)
}

func TestRenderRequeuesWhenWidgetWantsMore(t *testing.T) {
	stub := &stubWidget{needsMore: true}
	m, sched := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartInstance(id))
	sched.ClearPending(id)

	data, err := m.Render(id, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "<div>ok</div>", data[widget.RenderHTML])
	assert.NotNil(t, sched.Pending(id))
}

func TestApplySettings(t *testing.T) {
	stub := &stubWidget{}
	m, sched := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartInstance(id))
	sched.ClearPending(id)

	next := map[string]any{"theme": "dark"}
	require.NoError(t, m.ApplySettings(id, next))
	assert.Equal(t, next, stub.settings)

	req := sched.Pending(id)
	require.NotNil(t, req)
	assert.Equal(t, "settings", req.Reason)
}

func TestDestroyInstance(t *testing.T) {
	stub := &stubWidget{}
	m, sched := newTestManager(t, stub)

	id, err := m.CreateInstance("stub", "", nil)
	require.NoError(t, err)
	sched.RequestUpdate(id, "data")

	m.DestroyInstance(id)
	_, ok := m.Get(id)
	assert.False(t, ok)
	assert.Nil(t, sched.Pending(id))
	assert.Contains(t, stub.calls, "dispose")

	// Unknown IDs are a no-op.
	m.DestroyInstance(id)
}

func TestProcessWidgetGoesThroughRunner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	root := t.TempDir()
	dir := filepath.Join(root, "ticker")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "worker"), []byte("#!/bin/sh\nexit 0\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`
id: ticker
name: Ticker
version: 1.0.0
worker:
  bin: bin/worker
size:
  width: 640
  height: 240
`), 0644))
	widgets, err := manifest.Discover(root)
	require.NoError(t, err)

	runner := mocks.NewMockRunner(ctrl)
	settings := map[string]any{"symbol": "ACME"}
	runner.EXPECT().Spawn("t1", "ticker", filepath.Join(dir, "bin", "worker"), settings).Return(true)
	runner.EXPECT().RequestRender("t1", 640, 240).Return(map[string]any{
		"render_data": map[string]any{widget.RenderHTML: "<div>ACME</div>"},
	})
	runner.EXPECT().Terminate("t1")

	sched := updates.New(nil)
	m := New(Options{
		Factories: widget.NewRegistry(),
		Widgets:   widgets,
		Runner:    runner,
		Scheduler: sched,
	})

	id, err := m.CreateInstance("ticker", "t1", settings)
	require.NoError(t, err)
	require.NoError(t, m.StartInstance(id))

	info, _ := m.Get(id)
	assert.Equal(t, manifest.ExecutionProcess, info.Execution)

	data, err := m.Render(id, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "<div>ACME</div>", data[widget.RenderHTML])

	m.Shutdown()
	assert.Empty(t, m.List())
}

func TestThrottleOverrideWins(t *testing.T) {
	factories := widget.NewRegistry()
	require.NoError(t, factories.Register("stub", func(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
		return &stubWidget{}, nil
	}))
	sched := updates.New(nil)
	m := New(Options{
		Factories: factories,
		Scheduler: sched,
		ThrottleOverrides: map[string]manifest.ThrottleSpec{
			"stub": {MinIntervalMS: 10, CoalesceWindowMS: 1},
		},
	})

	id, err := m.CreateInstance("stub", "", nil)
	require.NoError(t, err)

	// The 1ms coalesce window from the override means a request 5ms after
	// the first replaces it instead of merging into it.
	sched.RequestUpdate(id, "a")
	time.Sleep(5 * time.Millisecond)
	sched.RequestUpdate(id, "b")

	req := sched.Pending(id)
	require.NotNil(t, req)
	assert.Equal(t, "b", req.Reason)
	assert.Equal(t, 0, req.CoalescedCount)
}
