// Package wlgamma is a thin client for the subset of the Wayland protocol
// this daemon needs: wl_output discovery and zwlr_gamma_control_unstable_v1.
// It is a pure-Go transport (github.com/yaslama/go-wayland), unlike the
// cgo-bound libwayland client it is modeled after, but keeps that client's
// shape: every bound object is a small struct carrying its handle plus
// exported "OnX" callback fields that the caller wires up after binding.
package wlgamma

import (
	"fmt"

	client "github.com/yaslama/go-wayland/wayland/client"

	"github.com/gammarelay/gammarelayd/internal/wlrproto"
)

// Display is a connection to the compositor plus its registry.
type Display struct {
	raw      *client.Display
	registry *client.Registry
	manager  *wlrproto.ZwlrGammaControlManagerV1

	// OnOutputGlobal fires once per wl_output global discovered, including
	// ones that appear after startup.
	OnOutputGlobal func(o *Output)
	// OnOutputRemoved fires when any registry global is withdrawn,
	// identified by its registry name; names that do not belong to a
	// wl_output are passed through as well.
	OnOutputRemoved func(regName uint32)
}

// Output wraps a bound wl_output.
type Output struct {
	raw     *client.Output
	RegName uint32
	version uint32

	// OnName fires when the compositor announces the output's human name
	// (wl_output.name, version >= 4). It may never fire on older
	// compositors; callers must not block display publication on it.
	OnName func(name string)
}

// GammaControl wraps a bound zwlr_gamma_control_v1.
type GammaControl struct {
	raw *wlrproto.ZwlrGammaControlV1

	// OnGammaSize fires once the compositor grants a ramp size.
	OnGammaSize func(size uint32)
	// OnFailed fires when the compositor can no longer service this
	// output; the caller must Destroy and stop using it.
	OnFailed func()
}

// Connect opens the Wayland display named by $WAYLAND_DISPLAY (or the
// compositor's default socket) and fetches the registry.
func Connect() (*Display, error) {
	raw, err := client.Connect("")
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to Wayland server: %w", err)
	}
	d := &Display{raw: raw}

	registry, err := raw.GetRegistry()
	if err != nil {
		raw.Context().Close()
		return nil, fmt.Errorf("get_registry: %w", err)
	}
	d.registry = registry

	registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		switch e.Interface {
		case wlrproto.ZwlrGammaControlManagerV1InterfaceName:
			version := e.Version
			if version > 1 {
				version = 1
			}
			manager := wlrproto.NewZwlrGammaControlManagerV1(raw.Context())
			if err := registry.Bind(e.Name, e.Interface, version, manager); err != nil {
				return
			}
			d.manager = manager
		case "wl_output":
			version := e.Version
			if version > 4 {
				version = 4
			}
			out := client.NewOutput(raw.Context())
			if err := registry.Bind(e.Name, e.Interface, version, out); err != nil {
				return
			}
			o := &Output{raw: out, RegName: e.Name, version: version}
			out.SetNameHandler(func(ne client.OutputNameEvent) {
				if o.OnName != nil {
					o.OnName(ne.Name)
				}
			})
			if d.OnOutputGlobal != nil {
				d.OnOutputGlobal(o)
			}
		}
	})
	registry.SetGlobalRemoveHandler(func(e client.RegistryGlobalRemoveEvent) {
		if d.OnOutputRemoved != nil {
			d.OnOutputRemoved(e.Name)
		}
	})

	return d, nil
}

// HasGammaManager reports whether zwlr_gamma_control_manager_v1 was
// advertised by the compositor. Call after the first Roundtrip.
func (d *Display) HasGammaManager() bool {
	return d.manager != nil
}

// Roundtrip blocks until all requests sent so far have been processed by
// the compositor and all resulting events have been dispatched.
func (d *Display) Roundtrip() error {
	return d.raw.Roundtrip()
}

// Fd returns the socket file descriptor backing the connection, for
// integration with an external event source (a wake-up signal for the
// reactor's dispatch goroutine).
func (d *Display) Fd() uintptr {
	return d.raw.Context().Fd()
}

// Dispatch processes any events already buffered, without blocking for a
// read. Call after the connection's fd becomes readable.
func (d *Display) Dispatch() error {
	return d.raw.Context().Dispatch()
}

// NewGammaControl requests a gamma control object for o. Call only after
// HasGammaManager reports true.
func (d *Display) NewGammaControl(o *Output) (*GammaControl, error) {
	ctrl, err := d.manager.GetGammaControl(o.raw)
	if err != nil {
		return nil, err
	}
	g := &GammaControl{raw: ctrl}
	ctrl.SetGammaSizeHandler(func(e wlrproto.ZwlrGammaControlV1GammaSizeEvent) {
		if g.OnGammaSize != nil {
			g.OnGammaSize(e.Size)
		}
	})
	ctrl.SetFailedHandler(func(wlrproto.ZwlrGammaControlV1FailedEvent) {
		if g.OnFailed != nil {
			g.OnFailed()
		}
	})
	return g, nil
}

// SetGamma hands fd (backing exactly ramp_size*6 bytes of R,G,B ramp data)
// to the compositor, which receives its own copy of the descriptor. The
// caller keeps ownership of fd and closes it after this call.
func (g *GammaControl) SetGamma(fd int) error {
	return g.raw.SetGamma(fd)
}

// Destroy releases the gamma control object.
func (g *GammaControl) Destroy() {
	_ = g.raw.Destroy()
}

// Release relinquishes the wl_output binding. Only valid for version >= 3.
func (o *Output) Release() {
	if o.version >= 3 {
		_ = o.raw.Release()
	}
}

// Close tears down the Wayland connection.
func (d *Display) Close() {
	d.raw.Context().Close()
}
