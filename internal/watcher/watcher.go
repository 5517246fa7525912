// Package watcher implements "gammarelayd watch FORMAT": a D-Bus client
// that prints a formatted line every time the daemon's root color
// changes. It talks only to the root object; per-display state is not
// observable from the CLI surface.
package watcher

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/gammarelay/gammarelayd/internal/busserver"
)

const rootPath = dbus.ObjectPath("/")

const propsIface = "org.freedesktop.DBus.Properties"

// state is the watcher's local mirror of the root object's properties.
type state struct {
	temp       uint16
	gamma      float64
	brightness float64
	inverted   bool
}

func (s state) render(format string) string {
	r := strings.NewReplacer(
		"{t}", strconv.Itoa(int(s.temp)),
		"{g}", strconv.FormatFloat(s.gamma, 'f', 2, 64),
		"{b}", strconv.FormatFloat(s.brightness, 'f', 2, 64),
		"{bp}", strconv.Itoa(int(s.brightness*100+0.5)),
		"{i}", strconv.FormatBool(s.inverted),
	)
	return r.Replace(format)
}

// Watch connects to the session bus, prints the current state, then one
// line per subsequent change, until ctx is canceled or the bus errors.
// Any bus-level failure, including the daemon not running yet, is
// returned to the caller as a fatal error; watch never retries.
func Watch(ctx context.Context, out io.Writer, format string) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	daemon := conn.Object(busserver.BusName, rootPath)

	var all map[string]dbus.Variant
	if err := daemon.Call(propsIface+".GetAll", 0, busserver.InterfaceName).Store(&all); err != nil {
		return fmt.Errorf("get initial state (is gammarelayd running?): %w", err)
	}

	cur := state{brightness: 1, gamma: 1, temp: 6500}
	applyVariants(&cur, all)

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(rootPath),
		dbus.WithMatchSender(busserver.BusName),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	conn.Signal(sigCh)
	defer conn.RemoveSignal(sigCh)

	last := ""
	print := func() {
		line := cur.render(format)
		if line == last {
			return
		}
		fmt.Fprintln(out, line)
		last = line
	}
	print()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return fmt.Errorf("session bus connection closed")
			}
			if sig == nil || len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			applyVariants(&cur, changed)
			print()
		}
	}
}

func applyVariants(s *state, m map[string]dbus.Variant) {
	if v, ok := m["Temperature"]; ok {
		if t, ok := v.Value().(uint16); ok {
			s.temp = t
		}
	}
	if v, ok := m["Gamma"]; ok {
		if g, ok := v.Value().(float64); ok {
			s.gamma = g
		}
	}
	if v, ok := m["Brightness"]; ok {
		if b, ok := v.Value().(float64); ok {
			s.brightness = b
		}
	}
	if v, ok := m["Inverted"]; ok {
		if i, ok := v.Value().(bool); ok {
			s.inverted = i
		}
	}
}
