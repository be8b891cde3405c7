package synthtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSynthDef(t *testing.T) {
	tests := []struct {
		name         string
		def          string
		params       []Param
		wantErr      bool
		wantControls int
	}{
		{name: "no params", def: "bare", wantControls: 0},
		{name: "scalar params", def: "sine", params: []Param{{Name: "freq"}, {Name: "amp"}}, wantControls: 2},
		{name: "array param", def: "eq", params: []Param{{Name: "gain"}, {Name: "bands", Size: 8}}, wantControls: 9},
		{name: "empty name", def: "", wantErr: true},
		{name: "unnamed param", def: "x", params: []Param{{Default: 1}}, wantErr: true},
		{name: "duplicate param", def: "x", params: []Param{{Name: "a"}, {Name: "a", Size: 2}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := NewSynthDef(tt.def, tt.params...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSynthDef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.def, def.Name())
			assert.Equal(t, tt.wantControls, def.NumControls())
		})
	}
}

func TestSynthDefLayout(t *testing.T) {
	def := MustSynthDef("eq",
		Param{Name: "gain", Default: 1},
		Param{Name: "bands", Default: 0.5, Size: 3},
		Param{Name: "mix"})

	for name, want := range map[string]int{"gain": 0, "bands": 1, "mix": 4} {
		i, ok := def.ControlIndex(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, i, name)
	}
	_, ok := def.ControlIndex("missing")
	assert.False(t, ok)

	params := def.Params()
	require.Len(t, params, 3)
	assert.Equal(t, 3, params[1].Size)
	assert.Equal(t, 1, params[2].Size, "zero size normalized to one")

	params[0].Name = "changed"
	assert.Equal(t, "gain", def.Params()[0].Name, "Params exposed internal state")

	assert.Panics(t, func() { MustSynthDef("") })
}

func TestDefRegistry(t *testing.T) {
	sine := MustSynthDef("sine", Param{Name: "freq", Default: 440})
	noise := MustSynthDef("noise")
	r := NewDefRegistry(sine, noise)

	assert.Equal(t, []string{"noise", "sine"}, r.Names())

	got, err := r.Lookup("sine")
	require.NoError(t, err)
	assert.Same(t, sine, got)

	_, err = r.Lookup("saw")
	assert.ErrorIs(t, err, ErrSynthDefNotFound)

	replacement := MustSynthDef("sine", Param{Name: "freq", Default: 220})
	r.Register(replacement)
	got, err = r.Lookup("sine")
	require.NoError(t, err)
	assert.Same(t, replacement, got)

	assert.True(t, r.Remove("noise"))
	assert.False(t, r.Remove("noise"))
	assert.Equal(t, []string{"sine"}, r.Names())
}

// Synths keep the definition they were created from after it is replaced.
func TestDefReplacementKeepsExistingSynths(t *testing.T) {
	g := newTestGraph(t, Options{})
	r := NewDefRegistry(MustSynthDef("tone", Param{Name: "freq", Default: 440}))

	def, err := r.Lookup("tone")
	require.NoError(t, err)
	n, err := g.AddSynth(1, def, g.Root(), AtTail())
	require.NoError(t, err)

	r.Register(MustSynthDef("tone", Param{Name: "freq", Default: 110}, Param{Name: "q"}))
	assert.Same(t, def, n.Def())
	assert.Equal(t, []float32{440}, n.Controls())
}
