// Package busserver exposes the daemon's color state over the D-Bus
// session bus as rs.wl-gammarelay, interface rs.wl.gammarelay: a root
// object at "/" aggregating every display, plus one child per named
// display at /outputs/<sanitized-name>.
package busserver

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/gammarelay/gammarelayd/internal/color"
)

// ErrNameTaken is returned by New when another instance already owns
// BusName. This is not a fatal condition for "run": the caller should
// print a message to stderr and exit 0.
var ErrNameTaken = errors.New("bus name already owned by another instance")

// BusName is the well-known name this daemon owns; a second instance
// failing to acquire it is how single-instance is enforced.
const BusName = "rs.wl-gammarelay"

// InterfaceName is the interface every object in the tree implements.
const InterfaceName = "rs.wl.gammarelay"

const invalidArgsError = "org.freedesktop.DBus.Error.InvalidArgs"

const rootPath = dbus.ObjectPath("/")

// Handler is the reactor-side state machine busserver calls into. path is
// "" for the root object (operates on every live display at once) or a
// display's exported path segment (operates on that display alone).
type Handler interface {
	Get(path string) (color.Color, bool)
	UpdateTemperature(path string, delta int16) error
	UpdateBrightness(path string, delta float64) error
	UpdateGamma(path string, delta float64) error
	ToggleInverted(path string) error
	SetTemperature(path string, value uint16) error
	SetBrightness(path string, value float64) error
	SetGamma(path string, value float64) error
	SetInverted(path string, value bool) error
}

// Server owns the session bus connection and the exported object tree.
type Server struct {
	conn    *dbus.Conn
	handler Handler

	children map[string]*prop.Properties // path segment -> its prop.Properties
	root     *prop.Properties

	// last mirrors what's currently exported at each path ("" = root),
	// so EmitChanged only touches properties that actually changed.
	last map[string]color.Color
}

// New connects to the session bus, requests BusName and exports the root
// object. It returns an error without a fatal process exit so callers can
// decide how to react to a name already being owned ("run" prints to
// stderr and exits 0; "watch" never calls this at all).
func New(handler Handler) (*Server, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, ErrNameTaken
	}

	s := &Server{conn: conn, handler: handler, children: make(map[string]*prop.Properties), last: make(map[string]color.Color)}

	root, err := s.export(rootPath, "")
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.root = root

	return s, nil
}

// Close releases the bus name and closes the connection.
func (s *Server) Close() {
	s.conn.ReleaseName(BusName)
	s.conn.Close()
}

func (s *Server) export(path dbus.ObjectPath, handlerPath string) (*prop.Properties, error) {
	methods := &endpoint{srv: s, path: handlerPath}
	if err := s.conn.Export(methods, path, InterfaceName); err != nil {
		return nil, fmt.Errorf("export methods at %s: %w", path, err)
	}

	c, ok := s.handler.Get(handlerPath)
	if !ok {
		c = color.Default
	}
	s.last[handlerPath] = c

	// Every Callback below only validates the write and hands it to the
	// handler; it never touches this object's own prop.Properties. godbus
	// holds this Properties' mutex for the callback's entire duration and
	// auto-emits PropertiesChanged on this path once the callback returns
	// nil, so re-entering it here would both deadlock (the handler call
	// blocks on the reactor, which would then block on this same mutex)
	// and fire the signal twice.
	propsSpec := map[string]map[string]*prop.Prop{
		InterfaceName: {
			"Temperature": {
				Value:    c.Temp,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(ch *prop.Change) *dbus.Error {
					v, ok := ch.Value.(uint16)
					if !ok {
						return invalidArgs("temperature must be a uint16")
					}
					if v < color.MinTemp || v > color.MaxTemp {
						return invalidArgs("temperature must be in range [%d,%d]", color.MinTemp, color.MaxTemp)
					}
					if err := s.handler.SetTemperature(handlerPath, v); err != nil {
						return dbus.MakeFailedError(err)
					}
					return nil
				},
			},
			"Gamma": {
				Value:    c.Gamma,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(ch *prop.Change) *dbus.Error {
					v, ok := ch.Value.(float64)
					if !ok {
						return invalidArgs("gamma must be a double")
					}
					if v < color.MinGamma {
						return invalidArgs("gamma must be >= %v", color.MinGamma)
					}
					if err := s.handler.SetGamma(handlerPath, v); err != nil {
						return dbus.MakeFailedError(err)
					}
					return nil
				},
			},
			"Brightness": {
				Value:    c.Brightness,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(ch *prop.Change) *dbus.Error {
					v, ok := ch.Value.(float64)
					if !ok {
						return invalidArgs("brightness must be a double")
					}
					if v < color.MinBright || v > color.MaxBright {
						return invalidArgs("brightness must be in range [%v,%v]", color.MinBright, color.MaxBright)
					}
					if err := s.handler.SetBrightness(handlerPath, v); err != nil {
						return dbus.MakeFailedError(err)
					}
					return nil
				},
			},
			"Inverted": {
				Value:    c.Inverted,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(ch *prop.Change) *dbus.Error {
					v, ok := ch.Value.(bool)
					if !ok {
						return invalidArgs("inverted must be a bool")
					}
					if err := s.handler.SetInverted(handlerPath, v); err != nil {
						return dbus.MakeFailedError(err)
					}
					return nil
				},
			},
		},
	}

	props, err := prop.Export(s.conn, path, propsSpec)
	if err != nil {
		return nil, fmt.Errorf("export properties at %s: %w", path, err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       InterfaceName,
				Methods:    introspect.Methods(methods),
				Properties: props.Introspection(InterfaceName),
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspectable at %s: %w", path, err)
	}

	return props, nil
}

func invalidArgs(format string, args ...interface{}) *dbus.Error {
	return dbus.NewError(invalidArgsError, []interface{}{fmt.Sprintf(format, args...)})
}

// AddDisplay exports a new child object for a display once its bus path
// is known. Safe to call again after a path is reclaimed post-collision.
func (s *Server) AddDisplay(pathSegment string) error {
	if _, exists := s.children[pathSegment]; exists {
		return nil
	}
	props, err := s.export(dbus.ObjectPath("/outputs/"+pathSegment), pathSegment)
	if err != nil {
		return err
	}
	s.children[pathSegment] = props
	return nil
}

// RemoveDisplay unexports a display's child object.
func (s *Server) RemoveDisplay(pathSegment string) {
	if _, exists := s.children[pathSegment]; !exists {
		return
	}
	path := dbus.ObjectPath("/outputs/" + pathSegment)
	s.conn.Export(nil, path, InterfaceName)
	s.conn.Export(nil, path, "org.freedesktop.DBus.Introspectable")
	s.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
	delete(s.children, pathSegment)
	delete(s.last, pathSegment)
}

// EmitChanged pushes c's fields to the named object's exported
// properties, triggering PropertiesChanged only for fields that actually
// changed since the last call. pathSegment == "" targets the root
// object. Callers must never target the path whose own property
// Callback is currently on the stack — see the export Callback comment.
func (s *Server) EmitChanged(pathSegment string, c color.Color) {
	props := s.root
	if pathSegment != "" {
		p, ok := s.children[pathSegment]
		if !ok {
			return
		}
		props = p
	}
	prev := s.last[pathSegment]
	if c.Temp != prev.Temp {
		props.SetMust(InterfaceName, "Temperature", c.Temp)
	}
	if c.Gamma != prev.Gamma {
		props.SetMust(InterfaceName, "Gamma", c.Gamma)
	}
	if c.Brightness != prev.Brightness {
		props.SetMust(InterfaceName, "Brightness", c.Brightness)
	}
	if c.Inverted != prev.Inverted {
		props.SetMust(InterfaceName, "Inverted", c.Inverted)
	}
	s.last[pathSegment] = c
}

// Sync records c as the value already reflected at pathSegment without
// emitting anything. Use this for the path whose own property Set just
// completed: godbus already updated and emitted for that object, this
// only keeps EmitChanged's change-detection cache consistent with it.
func (s *Server) Sync(pathSegment string, c color.Color) {
	s.last[pathSegment] = c
}

// endpoint implements the rs.wl.gammarelay methods for one object path.
// path is "" for the root object (handler interprets that as "every
// display") or a display's own path segment.
type endpoint struct {
	srv  *Server
	path string
}

func (e *endpoint) UpdateTemperature(delta int16) *dbus.Error {
	if err := e.srv.handler.UpdateTemperature(e.path, delta); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (e *endpoint) UpdateBrightness(delta float64) *dbus.Error {
	if err := e.srv.handler.UpdateBrightness(e.path, delta); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (e *endpoint) UpdateGamma(delta float64) *dbus.Error {
	if err := e.srv.handler.UpdateGamma(e.path, delta); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

func (e *endpoint) ToggleInverted() *dbus.Error {
	if err := e.srv.handler.ToggleInverted(e.path); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}
