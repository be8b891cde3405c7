package synthtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthDefaults(t *testing.T) {
	g := newTestGraph(t, Options{})
	n := mustSynth(t, g, 1, g.Root())

	assert.Same(t, testDef, n.Def())
	assert.Equal(t, []float32{440, 0.5, 1, 1, 1, 1}, n.Controls())
}

func TestSynthSetGet(t *testing.T) {
	g := newTestGraph(t, Options{})
	n := mustSynth(t, g, 1, g.Root())

	tests := []struct {
		name    string
		slot    Slot
		value   float32
		index   int
		wantErr error
	}{
		{name: "by name", slot: SlotName("freq"), value: 220, index: 0},
		{name: "by index", slot: SlotIndex(1), value: 0.25, index: 1},
		{name: "array parameter", slot: SlotName("bands"), value: 3, index: 2},
		{name: "inside array", slot: SlotIndex(5), value: 9, index: 5},
		{name: "parsed name", slot: ParseSlot("amp"), value: 0.75, index: 1},
		{name: "parsed index", slot: ParseSlot("3"), value: 4, index: 3},
		{name: "unknown name", slot: SlotName("cutoff"), wantErr: ErrUnknownSlot},
		{name: "index past end", slot: SlotIndex(6), wantErr: ErrSlotOutOfRange},
		{name: "negative index", slot: SlotIndex(-1), wantErr: ErrSlotOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := n.Set(tt.slot, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, err = n.Get(tt.slot)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, n.Controls()[tt.index])
			got, err := n.Get(tt.slot)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestSynthSetN(t *testing.T) {
	g := newTestGraph(t, Options{})
	n := mustSynth(t, g, 1, g.Root())

	require.NoError(t, n.SetN(SlotName("bands"), []float32{10, 20, 30, 40}))
	assert.Equal(t, []float32{440, 0.5, 10, 20, 30, 40}, n.Controls())

	require.NoError(t, n.SetN(SlotIndex(0), []float32{100, 0.1}))
	assert.Equal(t, []float32{100, 0.1, 10, 20, 30, 40}, n.Controls())

	// An overflowing run writes nothing.
	err := n.SetN(SlotIndex(4), []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
	assert.Equal(t, []float32{100, 0.1, 10, 20, 30, 40}, n.Controls())
}

func TestGroupSetBroadcasts(t *testing.T) {
	g := newTestGraph(t, Options{})
	other := MustSynthDef("other", Param{Name: "gate", Default: 1})

	grp := mustGroup(t, g, 1, g.Root())
	a := mustSynth(t, g, 10, grp)
	inner := mustGroup(t, g, 2, grp)
	b := mustSynth(t, g, 20, inner)
	c, err := g.AddSynth(30, other, inner, AtTail())
	require.NoError(t, err)
	outside := mustSynth(t, g, 40, g.Root())

	require.NoError(t, grp.Set(SlotName("freq"), 880))
	for _, n := range []*Node{a, b} {
		v, err := n.Get(SlotName("freq"))
		require.NoError(t, err)
		assert.Equal(t, float32(880), v, "node %d", n.ID())
	}
	v, err := outside.Get(SlotName("freq"))
	require.NoError(t, err)
	assert.Equal(t, float32(440), v, "synth outside the group changed")
	assert.Equal(t, []float32{1}, c.Controls())

	require.NoError(t, inner.Set(SlotName("gate"), 0))
	assert.Equal(t, []float32{0}, c.Controls())

	err = grp.Set(SlotName("cutoff"), 1)
	assert.ErrorIs(t, err, ErrUnsupported)

	empty := mustGroup(t, g, 3, g.Root())
	assert.ErrorIs(t, empty.Set(SlotIndex(0), 1), ErrUnsupported)

	_, err = grp.Get(SlotIndex(0))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSynthWithoutControls(t *testing.T) {
	g := newTestGraph(t, Options{})
	bare := MustSynthDef("bare")

	n, err := g.AddSynth(1, bare, g.Root(), AtTail())
	require.NoError(t, err)
	assert.Empty(t, n.Controls())
	assert.Zero(t, g.Stats().Arena.Used)
	assert.ErrorIs(t, n.Set(SlotIndex(0), 1), ErrSlotOutOfRange)

	require.NoError(t, g.Free(n))
}

func TestSlotString(t *testing.T) {
	assert.Equal(t, "freq", SlotName("freq").String())
	assert.Equal(t, "3", SlotIndex(3).String())

	name, ok := ParseSlot("pan").Name()
	assert.True(t, ok)
	assert.Equal(t, "pan", name)
	_, ok = ParseSlot("12").Name()
	assert.False(t, ok)
	_, ok = SlotIndex(-2).Name()
	assert.False(t, ok)
	assert.Equal(t, "-2", ParseSlot("-2").String())
}
