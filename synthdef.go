package synthtree

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// SynthDef errors
var (
	// ErrInvalidSynthDef indicates a definition with no name or with clashing
	// parameter names.
	ErrInvalidSynthDef = errors.New("invalid synth definition")

	// ErrSynthDefNotFound indicates an unregistered definition name.
	ErrSynthDefNotFound = errors.New("synth definition not found")
)

// Param describes one named control of a synth definition.
type Param struct {
	Name    string
	Default float32
	Size    int // number of consecutive controls; 0 means 1
}

// SynthDef is the immutable prototype a synth is created from: its name and
// the layout of its controls.
type SynthDef struct {
	name     string
	params   []Param
	offsets  map[string]int
	defaults []float32
}

// NewSynthDef builds a definition. Controls are laid out in parameter order.
func NewSynthDef(name string, params ...Param) (*SynthDef, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSynthDef)
	}
	def := &SynthDef{
		name:    name,
		params:  make([]Param, 0, len(params)),
		offsets: make(map[string]int, len(params)),
	}
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: %s has an unnamed parameter", ErrInvalidSynthDef, name)
		}
		if _, dup := def.offsets[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s declares %q twice", ErrInvalidSynthDef, name, p.Name)
		}
		if p.Size <= 0 {
			p.Size = 1
		}
		def.offsets[p.Name] = len(def.defaults)
		for range p.Size {
			def.defaults = append(def.defaults, p.Default)
		}
		def.params = append(def.params, p)
	}
	return def, nil
}

// MustSynthDef is NewSynthDef that panics on error, for static definitions.
func MustSynthDef(name string, params ...Param) *SynthDef {
	def, err := NewSynthDef(name, params...)
	if err != nil {
		panic(err)
	}
	return def
}

// Name returns the definition name.
func (d *SynthDef) Name() string { return d.name }

// NumControls returns the total number of float controls.
func (d *SynthDef) NumControls() int { return len(d.defaults) }

// Params returns a copy of the parameter list.
func (d *SynthDef) Params() []Param { return slices.Clone(d.params) }

// ControlIndex returns the index of the first control of the named parameter.
func (d *SynthDef) ControlIndex(name string) (int, bool) {
	i, ok := d.offsets[name]
	return i, ok
}

// DefRegistry maps names to synth definitions. Registering a name again
// replaces the definition for future synths; existing synths keep theirs.
type DefRegistry struct {
	mu   sync.RWMutex
	defs map[string]*SynthDef
}

// NewDefRegistry returns a registry holding defs.
func NewDefRegistry(defs ...*SynthDef) *DefRegistry {
	r := &DefRegistry{defs: make(map[string]*SynthDef)}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a definition.
func (r *DefRegistry) Register(d *SynthDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.name] = d
}

// Lookup finds a definition by name.
func (r *DefRegistry) Lookup(name string) (*SynthDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSynthDefNotFound, name)
	}
	return d, nil
}

// Remove drops a definition. It reports whether one was registered.
func (r *DefRegistry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.defs[name]
	delete(r.defs, name)
	return ok
}

// Names returns the registered names in sorted order.
func (r *DefRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
