package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gammarelay/gammarelayd/internal/color"
)

func TestSanitizePathReplacesHyphens(t *testing.T) {
	assert.Equal(t, "DP_1", SanitizePath("DP-1"))
	assert.Equal(t, "eDP_1", SanitizePath("eDP-1"))
	assert.Equal(t, "HDMI_A_1", SanitizePath("HDMI-A-1"))
}

func TestSetAddLookupRemove(t *testing.T) {
	s := NewSet()
	d := s.Add(1)
	require.NotNil(t, d)
	assert.Equal(t, StatePending, d.State)
	assert.Equal(t, color.Default, d.Color)

	assert.Same(t, d, s.Lookup(1))
	assert.Nil(t, s.Lookup(2))

	removed := s.Remove(1)
	assert.Same(t, d, removed)
	assert.Equal(t, StateGone, removed.State)
	assert.Nil(t, s.Lookup(1))
	assert.Empty(t, s.All())
}

func TestAssignPathClaimsUniqueName(t *testing.T) {
	s := NewSet()
	d := s.Add(1)
	ok := s.AssignPath(d, "DP-1")
	assert.True(t, ok)
	assert.Equal(t, "DP_1", d.Path)
	assert.Equal(t, StateNamed, d.State)
	assert.Same(t, d, s.LookupPath("DP_1"))
}

func TestAssignPathRejectsCollision(t *testing.T) {
	s := NewSet()
	first := s.Add(1)
	second := s.Add(2)

	require.True(t, s.AssignPath(first, "DP-1"))
	ok := s.AssignPath(second, "DP-1")
	assert.False(t, ok)
	assert.Equal(t, "", second.Path)
	assert.Same(t, first, s.LookupPath("DP_1"))
}

func TestReclaimPathAfterRemoval(t *testing.T) {
	s := NewSet()
	first := s.Add(1)
	second := s.Add(2)
	require.True(t, s.AssignPath(first, "DP-1"))
	require.False(t, s.AssignPath(second, "DP-1"))

	s.Remove(1)
	reclaimed := s.ReclaimPath("DP_1")
	require.NotNil(t, reclaimed)
	assert.Same(t, second, reclaimed)
	assert.Equal(t, "DP_1", second.Path)
}

func TestDirtyRequiresRampSizeAndChange(t *testing.T) {
	d := NewDisplay(1)
	d.MarkDirty()
	assert.False(t, d.Dirty(), "no ramp size granted yet")

	d.RampSize = 256
	assert.True(t, d.Dirty())

	d.MarkPublished()
	assert.False(t, d.Dirty())

	d.Color.Temp = 5000
	assert.False(t, d.Dirty(), "dirty flag must be set explicitly")
	d.MarkDirty()
	assert.True(t, d.Dirty())
}

func TestAggregateEmptySetIsDefault(t *testing.T) {
	s := NewSet()
	assert.Equal(t, color.Default, s.Aggregate())
}

func TestAggregateAveragesLiveDisplays(t *testing.T) {
	s := NewSet()
	a := s.Add(1)
	b := s.Add(2)
	a.Color = color.Color{Temp: 5000, Gamma: 1.0, Brightness: 1.0, Inverted: true}
	b.Color = color.Color{Temp: 7000, Gamma: 2.0, Brightness: 0.5, Inverted: false}

	agg := s.Aggregate()
	assert.Equal(t, uint16(6000), agg.Temp)
	assert.InDelta(t, 1.5, agg.Gamma, 1e-9)
	assert.InDelta(t, 0.75, agg.Brightness, 1e-9)
	assert.False(t, agg.Inverted, "aggregate inverted requires every display inverted")
}
