package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthboard/hearth/internal/protocol"
	"github.com/hearthboard/hearth/internal/transport"
	"github.com/hearthboard/hearth/internal/widget"
)

// fakeWidget records lifecycle calls and can be told to fail or panic.
type fakeWidget struct {
	calls       []string
	settings    map[string]any
	failStart   bool
	panicUpdate bool
}

func (f *fakeWidget) Init() error { f.calls = append(f.calls, "init"); return nil }

func (f *fakeWidget) Start() error {
	f.calls = append(f.calls, "start")
	if f.failStart {
		return errors.New("no can do")
	}
	return nil
}

func (f *fakeWidget) Stop() error { f.calls = append(f.calls, "stop"); return nil }

func (f *fakeWidget) Update(deltaTime float64) error {
	f.calls = append(f.calls, "update")
	if f.panicUpdate {
		panic("widget went sideways")
	}
	return nil
}

func (f *fakeWidget) RenderData() map[string]any {
	f.calls = append(f.calls, "render")
	return map[string]any{widget.RenderHTML: "<div>hi</div>"}
}

func (f *fakeWidget) OnSettingsChanged(settings map[string]any) error {
	f.calls = append(f.calls, "settings")
	f.settings = settings
	return nil
}

func (f *fakeWidget) Dispose() error { f.calls = append(f.calls, "dispose"); return nil }

func newTestRuntime(t *testing.T, fw *fakeWidget) *Runtime {
	t.Helper()
	registry := widget.NewRegistry()
	require.NoError(t, registry.Register("fake", func(instanceID, widgetID string, settings map[string]any) (widget.Widget, error) {
		return fw, nil
	}))
	return New("tcp://127.0.0.1:0", "w1", registry)
}

func TestHandleLifecycle(t *testing.T) {
	fw := &fakeWidget{}
	r := newTestRuntime(t, fw)

	reply := r.handle(protocol.NewInit("w1", "fake", map[string]any{"k": "v"}))
	assert.Equal(t, "ok", reply.String("status"))

	reply = r.handle(protocol.NewStart("w1"))
	assert.Equal(t, "ok", reply.String("status"))

	reply = r.handle(protocol.NewUpdate("w1", 0.5))
	assert.Equal(t, "ok", reply.String("status"))

	reply = r.handle(protocol.NewRender("w1", 800, 400))
	require.False(t, reply.IsError())
	renderData := reply.Map("render_data")
	require.NotNil(t, renderData)
	assert.Equal(t, "<div>hi</div>", renderData[widget.RenderHTML])
	w, _ := reply.Number("width")
	assert.Equal(t, 800.0, w)

	reply = r.handle(protocol.NewSettingsChanged("w1", map[string]any{"a": 1}))
	assert.Equal(t, "ok", reply.String("status"))

	reply = r.handle(protocol.NewDispose("w1"))
	assert.Equal(t, "ok", reply.String("status"))

	assert.Equal(t, []string{"init", "start", "update", "render", "settings", "stop", "dispose"}, fw.calls)
}

func TestHandleBeforeInit(t *testing.T) {
	tests := []struct {
		name string
		env  *protocol.Envelope
	}{
		{"start", protocol.NewStart("w1")},
		{"update", protocol.NewUpdate("w1", 0.1)},
		{"render", protocol.NewRender("w1", 100, 100)},
		{"settings", protocol.NewSettingsChanged("w1", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRuntime(t, &fakeWidget{})
			reply := r.handle(tt.env)
			require.True(t, reply.IsError())
			assert.Contains(t, reply.ErrorText(), "not initialized")
		})
	}
}

func TestHandleInitUnknownWidget(t *testing.T) {
	r := New("tcp://127.0.0.1:0", "w1", widget.NewRegistry())
	reply := r.handle(protocol.NewInit("w1", "ghost", nil))
	require.True(t, reply.IsError())
	assert.Contains(t, reply.ErrorText(), "ghost")
	assert.Equal(t, widget.StateCreated, r.state)
}

func TestHandleDoubleStart(t *testing.T) {
	r := newTestRuntime(t, &fakeWidget{})
	r.handle(protocol.NewInit("w1", "fake", nil))
	r.handle(protocol.NewStart("w1"))

	reply := r.handle(protocol.NewStart("w1"))
	require.True(t, reply.IsError())
	assert.Contains(t, reply.ErrorText(), "cannot start")
}

func TestHandleStartFailure(t *testing.T) {
	r := newTestRuntime(t, &fakeWidget{failStart: true})
	r.handle(protocol.NewInit("w1", "fake", nil))

	reply := r.handle(protocol.NewStart("w1"))
	require.True(t, reply.IsError())
	assert.Equal(t, widget.StateInitialized, r.state)
}

func TestHandlePanicBecomesErrorReply(t *testing.T) {
	fw := &fakeWidget{panicUpdate: true}
	r := newTestRuntime(t, fw)
	r.handle(protocol.NewInit("w1", "fake", nil))
	r.handle(protocol.NewStart("w1"))

	reply := r.handle(protocol.NewUpdate("w1", 0.1))
	require.True(t, reply.IsError())
	assert.Contains(t, reply.ErrorText(), "widget went sideways")
	assert.NotEmpty(t, reply.ErrorDetail())

	// The loop survives: the next message still gets handled.
	fw.panicUpdate = false
	reply = r.handle(protocol.NewUpdate("w1", 0.1))
	assert.Equal(t, "ok", reply.String("status"))
}

func TestHandleDisposeIdempotent(t *testing.T) {
	r := newTestRuntime(t, &fakeWidget{})
	r.handle(protocol.NewInit("w1", "fake", nil))

	reply := r.handle(protocol.NewDispose("w1"))
	assert.Equal(t, "ok", reply.String("status"))
	reply = r.handle(protocol.NewDispose("w1"))
	assert.Equal(t, "ok", reply.String("status"))
	assert.Nil(t, r.instance)
}

func TestServeFullExchange(t *testing.T) {
	fw := &fakeWidget{}
	r := newTestRuntime(t, fw)
	require.NoError(t, r.Bind())

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Serve()
	}()

	conn, err := transport.Connect(r.Endpoint())
	require.NoError(t, err)
	defer conn.Close()

	reply := conn.SendAndReceive(protocol.NewInit("w1", "fake", nil), 2*time.Second)
	require.NotNil(t, reply)
	assert.Equal(t, "ok", reply.String("status"))

	reply = conn.SendAndReceive(protocol.NewStart("w1"), 2*time.Second)
	require.NotNil(t, reply)
	assert.Equal(t, "ok", reply.String("status"))

	reply = conn.SendAndReceive(protocol.NewShutdown("w1"), 2*time.Second)
	require.NotNil(t, reply)
	assert.Equal(t, "ok", reply.String("status"))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker loop did not exit after shutdown")
	}

	// Shutdown disposed the live instance on the way out.
	assert.Contains(t, fw.calls, "dispose")
}
