package synthtree

import (
	"fmt"
	"strconv"
)

// synthState is the synth half of the node variant.
type synthState struct {
	def      *SynthDef
	controls Span[float32] // arena storage, one float per control
}

// Slot addresses a synth control either by parameter name or by index.
type Slot struct {
	name   string
	index  int
	byName bool
}

// SlotIndex addresses the control at index i.
func SlotIndex(i int) Slot {
	return Slot{index: i}
}

// SlotName addresses the first control of the named parameter.
func SlotName(name string) Slot {
	return Slot{name: name, byName: true}
}

// ParseSlot reads a decimal index or, failing that, a parameter name.
func ParseSlot(s string) Slot {
	if i, err := strconv.Atoi(s); err == nil {
		return SlotIndex(i)
	}
	return SlotName(s)
}

// Name returns the parameter name if the slot is addressed by name.
func (s Slot) Name() (string, bool) {
	return s.name, s.byName
}

func (s Slot) String() string {
	if s.byName {
		return s.name
	}
	return strconv.Itoa(s.index)
}

// Def returns the synth's definition, or nil for groups.
func (n *Node) Def() *SynthDef {
	return n.synth.def
}

// Controls returns the synth's control values. The slice aliases arena
// storage and is only valid while the node is referenced.
func (n *Node) Controls() []float32 {
	return n.synth.controls.Items()
}

// Set writes one control. On a group the value is applied to every synth
// below it that has the slot, and ErrUnsupported is returned if none has.
func (n *Node) Set(slot Slot, value float32) error {
	return n.SetN(slot, []float32{value})
}

// SetN writes consecutive controls starting at slot. A run that would pass
// the last control is rejected without writing anything.
//
// On a group the walk reads the child list, so callers other than the graph
// writer go through Graph.SetN.
func (n *Node) SetN(slot Slot, values []float32) error {
	if n.kind == KindGroup {
		return n.broadcast(slot, values)
	}
	i, err := n.resolve(slot)
	if err != nil {
		return err
	}
	controls := n.synth.controls.Items()
	if i+len(values) > len(controls) {
		return fmt.Errorf("%w: %s+%d on %s (%d controls)", ErrSlotOutOfRange, slot, len(values), n.synth.def.name, len(controls))
	}
	copy(controls[i:], values)
	return nil
}

// Get reads one control of a synth.
func (n *Node) Get(slot Slot) (float32, error) {
	if n.kind != KindSynth {
		return 0, ErrUnsupported
	}
	i, err := n.resolve(slot)
	if err != nil {
		return 0, err
	}
	return n.synth.controls.Items()[i], nil
}

func (n *Node) resolve(slot Slot) (int, error) {
	if name, ok := slot.Name(); ok {
		i, found := n.synth.def.ControlIndex(name)
		if !found {
			return 0, fmt.Errorf("%w: %q on %s", ErrUnknownSlot, name, n.synth.def.name)
		}
		return i, nil
	}
	if slot.index < 0 || slot.index >= n.synth.def.NumControls() {
		return 0, fmt.Errorf("%w: %d on %s", ErrSlotOutOfRange, slot.index, n.synth.def.name)
	}
	return slot.index, nil
}

func (n *Node) broadcast(slot Slot, values []float32) error {
	applied := 0
	var walk func(g *Node)
	walk = func(g *Node) {
		for c := g.FirstChild(); c != nil; c = c.NextNode() {
			if c.kind == KindGroup {
				walk(c)
				continue
			}
			if c.SetN(slot, values) == nil {
				applied++
			}
		}
	}
	walk(n)
	if applied == 0 {
		return fmt.Errorf("%w: no synth in group %d accepts %s", ErrUnsupported, n.id, slot)
	}
	return nil
}

// initSynth binds def to a freshly acquired node and loads its defaults.
func (n *Node) initSynth(def *SynthDef) error {
	n.synth.def = def
	if def.NumControls() == 0 {
		return nil
	}
	span, err := n.pool.floats.Allocate(def.NumControls())
	if err != nil {
		return err
	}
	copy(span.Items(), def.defaults)
	n.synth.controls = span
	return nil
}
