// Package reactor is the daemon's single-executor event loop. Wayland
// dispatch, D-Bus method calls and ramp publication all funnel through
// one goroutine via a command queue, the same shape as danklinux's
// post/cmdq actor: every mutation of shared state runs on one goroutine
// even though it is requested from several (the Wayland fd-watcher
// goroutine, godbus's per-call dispatch goroutines, and the signal
// handler). Chosen over a literal poll(2) loop because goroutines and
// channels are how this is idiomatically done in Go.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/charmbracelet/log"

	"github.com/gammarelay/gammarelayd/internal/busserver"
	"github.com/gammarelay/gammarelayd/internal/color"
	"github.com/gammarelay/gammarelayd/internal/display"
	"github.com/gammarelay/gammarelayd/internal/ramp"
	"github.com/gammarelay/gammarelayd/internal/wlgamma"
)

type cmd struct {
	fn   func() error
	done chan error
}

// Reactor owns every piece of mutable daemon state and is the only
// thing ever allowed to touch it directly.
type Reactor struct {
	log  *log.Logger
	disp *wlgamma.Display
	set  *display.Set
	bus  *busserver.Server

	outputs map[uint32]*wlgamma.Output
	ctrls   map[uint32]*wlgamma.GammaControl

	cmdq   chan cmd
	closed chan struct{}
}

// New wires callbacks onto disp but does not yet talk to the bus; call
// Run to start serving.
func New(logger *log.Logger, disp *wlgamma.Display) *Reactor {
	r := &Reactor{
		log:     logger,
		disp:    disp,
		set:     display.NewSet(),
		outputs: make(map[uint32]*wlgamma.Output),
		ctrls:   make(map[uint32]*wlgamma.GammaControl),
		cmdq:    make(chan cmd),
		closed:  make(chan struct{}),
	}

	disp.OnOutputGlobal = r.onOutputGlobal
	disp.OnOutputRemoved = r.onOutputRemoved

	return r
}

// Run acquires the bus name, services Wayland and D-Bus events until ctx
// is canceled or SIGINT/SIGTERM arrives, then tears everything down.
func (r *Reactor) Run(ctx context.Context) error {
	bus, err := busserver.New(r)
	if err != nil {
		if errors.Is(err, busserver.ErrNameTaken) {
			return err
		}
		return fmt.Errorf("start bus server: %w", err)
	}
	r.bus = bus
	defer r.bus.Close()

	if err := r.disp.Roundtrip(); err != nil {
		return fmt.Errorf("initial roundtrip: %w", err)
	}
	if !r.disp.HasGammaManager() {
		return fmt.Errorf("compositor does not advertise zwlr_gamma_control_manager_v1")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	readable := r.watchDisplayFd(ctx)

	r.log.Info("gammarelayd running", "bus", busserver.BusName)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case sig := <-sigCh:
			r.log.Info("received signal, shutting down", "signal", sig)
			r.shutdown()
			return nil
		case c := <-r.cmdq:
			c.done <- c.fn()
			r.publishDirty()
		case <-readable:
			if err := r.disp.Dispatch(); err != nil {
				r.log.Error("wayland dispatch failed", "err", err)
				r.shutdown()
				return err
			}
			r.publishDirty()
		}
	}
}

// watchDisplayFd polls the Wayland socket on its own goroutine and posts
// a readiness notification per readable event; Dispatch itself always
// runs on the main loop goroutine.
func (r *Reactor) watchDisplayFd(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		fd := int(r.disp.Fd())
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.closed:
				return
			default:
			}
			n, err := unix.Poll(fds, 250)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return
			}
			if n > 0 {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

// shutdown destroys every gamma-control object so the compositor
// restores original ramps, and releases output bindings. Closing the
// Wayland display itself is the caller's responsibility (it owns the
// connection returned by wlgamma.Connect).
func (r *Reactor) shutdown() {
	close(r.closed)
	for regName, ctrl := range r.ctrls {
		ctrl.Destroy()
		if o, ok := r.outputs[regName]; ok {
			o.Release()
		}
	}
}

// do serializes fn onto the reactor goroutine and blocks for its result.
// Every busserver.Handler method below except Get is called from godbus's
// own dispatch goroutine and must go through here. Get is only called by
// busserver while exporting an object, which already runs on the reactor
// goroutine, so it reads state directly.
func (r *Reactor) do(fn func() error) error {
	done := make(chan error, 1)
	select {
	case r.cmdq <- cmd{fn: fn, done: done}:
	case <-r.closed:
		return fmt.Errorf("reactor is shutting down")
	}
	select {
	case err := <-done:
		return err
	case <-r.closed:
		return fmt.Errorf("reactor is shutting down")
	}
}

func (r *Reactor) onOutputGlobal(o *wlgamma.Output) {
	r.outputs[o.RegName] = o
	d := r.set.Add(o.RegName)

	o.OnName = func(name string) {
		if r.set.AssignPath(d, name) {
			if err := r.bus.AddDisplay(d.Path); err != nil {
				r.log.Error("export display object failed", "name", name, "err", err)
				return
			}
			r.bus.EmitChanged(d.Path, d.Color)
		} else {
			r.log.Warn("bus path already held by another output, not exporting", "name", name, "path", display.SanitizePath(name))
		}
	}

	ctrl, err := r.disp.NewGammaControl(o)
	if err != nil {
		r.log.Error("get_gamma_control failed", "reg_name", o.RegName, "err", err)
		return
	}
	r.ctrls[o.RegName] = ctrl

	ctrl.OnGammaSize = func(size uint32) {
		d.RampSize = int(size)
		d.State = display.StateReady
		d.MarkDirty()
	}
	ctrl.OnFailed = func() {
		r.log.Warn("gamma control failed, dropping output", "reg_name", o.RegName)
		r.onOutputRemoved(o.RegName)
	}
}

func (r *Reactor) onOutputRemoved(regName uint32) {
	d := r.set.Remove(regName)
	if d == nil {
		return
	}
	if ctrl, ok := r.ctrls[regName]; ok {
		ctrl.Destroy()
		delete(r.ctrls, regName)
	}
	if o, ok := r.outputs[regName]; ok {
		o.Release()
		delete(r.outputs, regName)
	}
	if d.Path != "" {
		r.bus.RemoveDisplay(d.Path)
		if reclaimed := r.set.ReclaimPath(d.Path); reclaimed != nil {
			if err := r.bus.AddDisplay(reclaimed.Path); err != nil {
				r.log.Error("export reclaimed display object failed", "name", reclaimed.Name, "err", err)
			} else {
				r.bus.EmitChanged(reclaimed.Path, reclaimed.Color)
			}
		}
	}
	r.bus.EmitChanged("", r.set.Aggregate())
}

// publishDirty republishes the ramp for every display whose color has
// changed since its last publication.
func (r *Reactor) publishDirty() {
	for _, d := range r.set.All() {
		if !d.Dirty() {
			continue
		}
		fd, err := ramp.Publish(d.Color, d.RampSize)
		if err != nil {
			r.log.Error("ramp publish failed, will retry", "reg_name", d.RegName, "err", err)
			continue
		}
		ctrl, ok := r.ctrls[d.RegName]
		if !ok {
			unix.Close(fd)
			continue
		}
		err = ctrl.SetGamma(fd)
		unix.Close(fd)
		if err != nil {
			r.log.Error("set_gamma failed, will retry", "reg_name", d.RegName, "err", err)
			continue
		}
		d.MarkPublished()
	}
}

// --- busserver.Handler ---

func (r *Reactor) Get(path string) (color.Color, bool) {
	if path == "" {
		return r.set.Aggregate(), true
	}
	d := r.set.LookupPath(path)
	if d == nil {
		return color.Color{}, false
	}
	return d.Color, true
}

// apply runs f against path's display(s) and emits PropertiesChanged on
// every affected path, including path itself. Used by the plain D-Bus
// methods below (UpdateTemperature, UpdateBrightness, UpdateGamma,
// ToggleInverted): godbus dispatches these as ordinary method calls, so
// no prop.Properties mutex is held while the reactor runs f and emits.
func (r *Reactor) apply(path string, f func(d *display.Display)) error {
	return r.do(func() error {
		if path == "" {
			for _, d := range r.set.All() {
				f(d)
				d.Color = color.Clamp(d.Color)
				d.MarkDirty()
				if d.Path != "" {
					r.bus.EmitChanged(d.Path, d.Color)
				}
			}
			r.bus.EmitChanged("", r.set.Aggregate())
			return nil
		}
		d := r.set.LookupPath(path)
		if d == nil {
			return fmt.Errorf("no display at path %q", path)
		}
		f(d)
		d.Color = color.Clamp(d.Color)
		d.MarkDirty()
		r.bus.EmitChanged(path, d.Color)
		r.bus.EmitChanged("", r.set.Aggregate())
		return nil
	})
}

// applySet is apply's counterpart for the four writable properties
// (SetTemperature, SetBrightness, SetGamma, SetInverted). These are
// invoked from inside the property's own Callback, which godbus holds
// that object's prop.Properties mutex for and auto-emits
// PropertiesChanged on once the callback returns nil. So applySet
// never calls EmitChanged on path itself — only Sync, to keep
// busserver's change-detection cache in step — and only emits
// explicitly for the other paths the write touches (the root aggregate
// when a display is set directly, or every display when root
// broadcasts).
func (r *Reactor) applySet(path string, f func(d *display.Display)) error {
	return r.do(func() error {
		if path == "" {
			for _, d := range r.set.All() {
				f(d)
				d.Color = color.Clamp(d.Color)
				d.MarkDirty()
				if d.Path != "" {
					r.bus.EmitChanged(d.Path, d.Color)
				}
			}
			r.bus.Sync("", r.set.Aggregate())
			return nil
		}
		d := r.set.LookupPath(path)
		if d == nil {
			return fmt.Errorf("no display at path %q", path)
		}
		f(d)
		d.Color = color.Clamp(d.Color)
		d.MarkDirty()
		r.bus.Sync(path, d.Color)
		r.bus.EmitChanged("", r.set.Aggregate())
		return nil
	})
}

func (r *Reactor) UpdateTemperature(path string, delta int16) error {
	return r.apply(path, func(d *display.Display) {
		d.Color.Temp = clampTemp(int32(d.Color.Temp) + int32(delta))
	})
}

func (r *Reactor) UpdateBrightness(path string, delta float64) error {
	return r.apply(path, func(d *display.Display) {
		d.Color.Brightness += delta
	})
}

func (r *Reactor) UpdateGamma(path string, delta float64) error {
	return r.apply(path, func(d *display.Display) {
		d.Color.Gamma += delta
	})
}

func (r *Reactor) ToggleInverted(path string) error {
	return r.apply(path, func(d *display.Display) {
		d.Color.Inverted = !d.Color.Inverted
	})
}

func (r *Reactor) SetTemperature(path string, value uint16) error {
	return r.applySet(path, func(d *display.Display) { d.Color.Temp = value })
}

func (r *Reactor) SetBrightness(path string, value float64) error {
	return r.applySet(path, func(d *display.Display) { d.Color.Brightness = value })
}

func (r *Reactor) SetGamma(path string, value float64) error {
	return r.applySet(path, func(d *display.Display) { d.Color.Gamma = value })
}

func (r *Reactor) SetInverted(path string, value bool) error {
	return r.applySet(path, func(d *display.Display) { d.Color.Inverted = value })
}

func clampTemp(v int32) uint16 {
	if v < color.MinTemp {
		return color.MinTemp
	}
	if v > color.MaxTemp {
		return color.MaxTemp
	}
	return uint16(v)
}
