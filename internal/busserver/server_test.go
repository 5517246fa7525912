package busserver

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gammarelay/gammarelayd/internal/color"
)

const propsIface = "org.freedesktop.DBus.Properties"

// fakeHandler stands in for reactor.Reactor: it serializes every Set*
// call onto its own worker goroutine, then reports the change back to
// the Server exactly the way the reactor does — Sync on the path whose
// own property Callback is on the stack, EmitChanged on every other
// affected path. If a Set handler ever called EmitChanged on its own
// path instead, this reproduces the mutex deadlock against a live
// godbus property Set.
type fakeHandler struct {
	bus      *Server
	displays map[string]color.Color
	work     chan func()
}

func newFakeHandler() *fakeHandler {
	h := &fakeHandler{displays: map[string]color.Color{"": color.Default}, work: make(chan func())}
	go func() {
		for fn := range h.work {
			fn()
		}
	}()
	return h
}

func (h *fakeHandler) do(fn func()) {
	done := make(chan struct{})
	h.work <- func() {
		fn()
		close(done)
	}
	<-done
}

func (h *fakeHandler) Get(path string) (color.Color, bool) {
	c, ok := h.displays[path]
	return c, ok
}

func (h *fakeHandler) UpdateTemperature(path string, delta int16) error  { return nil }
func (h *fakeHandler) UpdateBrightness(path string, delta float64) error { return nil }
func (h *fakeHandler) UpdateGamma(path string, delta float64) error      { return nil }
func (h *fakeHandler) ToggleInverted(path string) error                 { return nil }

func (h *fakeHandler) SetTemperature(path string, value uint16) error {
	h.do(func() {
		c := h.displays[path]
		c.Temp = value
		h.displays[path] = c
		h.bus.Sync(path, c)
		h.bus.EmitChanged("", c)
	})
	return nil
}

func (h *fakeHandler) SetBrightness(path string, value float64) error {
	h.do(func() {
		c := h.displays[path]
		c.Brightness = value
		h.displays[path] = c
		h.bus.Sync(path, c)
		h.bus.EmitChanged("", c)
	})
	return nil
}

func (h *fakeHandler) SetGamma(path string, value float64) error {
	h.do(func() {
		c := h.displays[path]
		c.Gamma = value
		h.displays[path] = c
		h.bus.Sync(path, c)
		h.bus.EmitChanged("", c)
	})
	return nil
}

func (h *fakeHandler) SetInverted(path string, value bool) error {
	h.do(func() {
		c := h.displays[path]
		c.Inverted = value
		h.displays[path] = c
		h.bus.Sync(path, c)
		h.bus.EmitChanged("", c)
	})
	return nil
}

// connectOrSkip is the standard way Go D-Bus projects guard tests that
// need a real bus: skip rather than fail when no session bus is
// reachable in the sandbox running the test.
func connectOrSkip(t *testing.T) *dbus.Conn {
	t.Helper()
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		t.Skip("no session bus available:", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPropertySetRoundTrip(t *testing.T) {
	h := newFakeHandler()
	h.displays["foo"] = color.Default

	srv, err := New(h)
	if err != nil {
		t.Skip("could not claim bus name:", err)
	}
	t.Cleanup(srv.Close)
	h.bus = srv

	require.NoError(t, srv.AddDisplay("foo"))
	childPath := dbus.ObjectPath("/outputs/foo")

	client := connectOrSkip(t)

	sigCh := make(chan *dbus.Signal, 16)
	client.Signal(sigCh)
	require.NoError(t, client.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchSender(BusName),
	))

	obj := client.Object(BusName, childPath)

	// A direct Set on the child's own Temperature property must return
	// (not deadlock) and must not come back as org.freedesktop.DBus.Error.Failed.
	callCh := make(chan *dbus.Call, 1)
	go func() {
		callCh <- obj.Call(propsIface+".Set", 0, InterfaceName, "Temperature", dbus.MakeVariant(uint16(5000)))
	}()

	var call *dbus.Call
	select {
	case call = <-callCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Properties.Set on a display's own Temperature did not return — reactor is likely deadlocked on its own prop.Properties mutex")
	}
	require.NoError(t, call.Err)

	counts := map[dbus.ObjectPath]int{}
	deadline := time.After(750 * time.Millisecond)
collect:
	for {
		select {
		case sig := <-sigCh:
			if sig != nil {
				counts[sig.Path]++
			}
		case <-deadline:
			break collect
		}
	}

	assert.Equal(t, 1, counts[childPath], "expected exactly one PropertiesChanged on the path that was Set")
	assert.Equal(t, 1, counts[rootPath], "expected exactly one cross-path PropertiesChanged on the root aggregate")
}

func TestPropertySetRejectsOutOfRangeWithInvalidArgs(t *testing.T) {
	h := newFakeHandler()
	srv, err := New(h)
	if err != nil {
		t.Skip("could not claim bus name:", err)
	}
	t.Cleanup(srv.Close)
	h.bus = srv

	client := connectOrSkip(t)
	obj := client.Object(BusName, rootPath)

	call := obj.Call(propsIface+".Set", 0, InterfaceName, "Temperature", dbus.MakeVariant(uint16(100)))
	require.Error(t, call.Err)
	assert.Contains(t, call.Err.Error(), "InvalidArgs")

	call = obj.Call(propsIface+".Set", 0, InterfaceName, "Gamma", dbus.MakeVariant("not a float"))
	require.Error(t, call.Err)
	assert.Contains(t, call.Err.Error(), "InvalidArgs")
}
