// Package display tracks the live set of compositor outputs: their
// lifecycle, bus paths and color state. Displays live in a slice keyed
// by registry numeric name, and callers refer to them by that number
// rather than holding a pointer across layers.
package display

import (
	"strings"

	"github.com/gammarelay/gammarelayd/internal/color"
)

// State is a display's position in the bind -> name -> ready lifecycle.
type State int

const (
	// StatePending: bound to wl_output, gamma-control requested, no bus path
	// claimed yet (name unknown, or its path is held by another display).
	StatePending State = iota
	// StateNamed: human name known, bus child object exists.
	StateNamed
	// StateReady: ramp size granted, ramps may be published.
	StateReady
	// StateGone: torn down; retained only until swap-removed from the arena.
	StateGone
)

// Display is one compositor output.
type Display struct {
	RegName  uint32 // registry-assigned numeric name, stable for the display's lifetime
	Name     string // human name from wl_output.name; "" until known
	Path     string // sanitized bus path segment once Name is known and unique
	State    State
	Color    color.Color
	RampSize int

	published    color.Color
	hasPublished bool
	dirty        bool
}

// NewDisplay creates a display in StatePending with the default color.
func NewDisplay(regName uint32) *Display {
	return &Display{RegName: regName, State: StatePending, Color: color.Default}
}

// SanitizePath derives the bus path segment for a compositor-supplied name:
// every '-' becomes '_', since D-Bus object paths forbid it.
func SanitizePath(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Dirty reports whether d needs republication: it has been marked dirty,
// has a granted ramp size, and its color differs from what was last
// published (or nothing has been published yet). Changing Color alone
// does not make d dirty; callers must also call MarkDirty.
func (d *Display) Dirty() bool {
	return d.dirty && d.RampSize > 0 && (!d.hasPublished || d.published != d.Color)
}

// MarkDirty flags d for republication on the reactor's next tick.
func (d *Display) MarkDirty() {
	d.dirty = true
}

// MarkPublished records the color just written to the compositor and
// clears the dirty flag.
func (d *Display) MarkPublished() {
	d.published = d.Color
	d.hasPublished = true
	d.dirty = false
}

// Set is the live, ordered collection of displays.
type Set struct {
	displays []*Display
	// paths maps an exported bus path segment to the registry name
	// currently holding it, so a later colliding name can be detected
	// and rejected.
	paths map[string]uint32
}

// NewSet returns an empty display set.
func NewSet() *Set {
	return &Set{paths: make(map[string]uint32)}
}

// Add appends a new pending display to the set.
func (s *Set) Add(regName uint32) *Display {
	d := NewDisplay(regName)
	s.displays = append(s.displays, d)
	return d
}

// Lookup finds the display with the given registry name, or nil.
func (s *Set) Lookup(regName uint32) *Display {
	for _, d := range s.displays {
		if d.RegName == regName {
			return d
		}
	}
	return nil
}

// LookupPath finds the live display currently exported at the given bus
// path segment (without the "/outputs/" prefix), or nil.
func (s *Set) LookupPath(path string) *Display {
	for _, d := range s.displays {
		if d.Path == path {
			return d
		}
	}
	return nil
}

// All returns the live displays in iteration order. Callers must not
// retain the slice across a Remove.
func (s *Set) All() []*Display {
	return s.displays
}

// Remove swap-removes the display with the given registry name; order
// among the remaining displays is not preserved.
func (s *Set) Remove(regName uint32) *Display {
	for i, d := range s.displays {
		if d.RegName == regName {
			last := len(s.displays) - 1
			s.displays[i] = s.displays[last]
			s.displays[last] = nil
			s.displays = s.displays[:last]
			if d.Path != "" {
				delete(s.paths, d.Path)
			}
			d.State = StateGone
			return d
		}
	}
	return nil
}

// AssignPath sets d's human name and attempts to claim the corresponding
// bus path. It returns false if the sanitized path is already held by a
// different live display, in which case d keeps contributing to root
// aggregates but is not exported under /outputs.
func (s *Set) AssignPath(d *Display, name string) bool {
	d.Name = name
	candidate := SanitizePath(name)
	if holder, ok := s.paths[candidate]; ok && holder != d.RegName {
		return false
	}
	if d.Path != "" && d.Path != candidate {
		delete(s.paths, d.Path)
	}
	d.Path = candidate
	s.paths[candidate] = d.RegName
	if d.State == StatePending {
		d.State = StateNamed
	}
	return true
}

// ReclaimPath is called after a display is removed, to see if a display
// that previously lost a naming collision can now claim the freed path.
func (s *Set) ReclaimPath(freedPath string) *Display {
	if _, held := s.paths[freedPath]; held {
		return nil
	}
	for _, d := range s.displays {
		if d.Name != "" && d.Path == "" && SanitizePath(d.Name) == freedPath {
			d.Path = freedPath
			s.paths[freedPath] = d.RegName
			if d.State == StatePending {
				d.State = StateNamed
			}
			return d
		}
	}
	return nil
}

// Aggregate computes the root object's view: the arithmetic mean of
// Temp/Gamma/Brightness over live displays (Temp truncated), and the
// logical AND of Inverted. With zero displays the default color is
// returned.
func (s *Set) Aggregate() color.Color {
	n := len(s.displays)
	if n == 0 {
		return color.Default
	}
	var tempSum, gammaSum, brightSum float64
	inverted := true
	for _, d := range s.displays {
		tempSum += float64(d.Color.Temp)
		gammaSum += d.Color.Gamma
		brightSum += d.Color.Brightness
		inverted = inverted && d.Color.Inverted
	}
	return color.Color{
		Temp:       uint16(tempSum / float64(n)),
		Gamma:      gammaSum / float64(n),
		Brightness: brightSum / float64(n),
		Inverted:   inverted,
	}
}
