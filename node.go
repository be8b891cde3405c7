package synthtree

import (
	"cmp"
	"sync/atomic"
)

// NodeID identifies a node. Ids are assigned by clients and are unique among
// live nodes.
type NodeID uint32

// RootID is the id of the root group every graph starts with.
const RootID NodeID = 0

// Kind distinguishes the two node variants.
type Kind uint8

const (
	// KindSynth is a leaf processing unit with settable controls.
	KindSynth Kind = iota

	// KindGroup is a container holding an ordered list of child nodes.
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindSynth:
		return "synth"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// noSlot marks an absent parent or sibling link.
const noSlot = int32(-1)

// Node is a synth or a group. Nodes live in a fixed slot table owned by the
// graph; links to the parent and to siblings are slot indices, and the parent
// link is non-owning apart from the single reference it contributes to the
// node's count.
//
// Nodes are never constructed directly; use Graph.AddSynth, Graph.AddGroup or
// Graph.AddParallelGroup.
type Node struct {
	pool *nodePool
	slot int32
	gen  atomic.Uint32 // bumped each time the slot is recycled

	id      NodeID
	kind    Kind
	running atomic.Bool
	refs    atomic.Int32

	parent int32
	prev   int32
	next   int32

	synth synthState // valid when kind == KindSynth
	group groupState // valid when kind == KindGroup
}

// ID returns the node's identifier.
func (n *Node) ID() NodeID {
	return n.id
}

// Kind returns the node's variant.
func (n *Node) Kind() Kind {
	return n.kind
}

// IsSynth reports whether n is a synth.
func (n *Node) IsSynth() bool {
	return n.kind == KindSynth
}

// IsGroup reports whether n is a group of either flavor.
func (n *Node) IsGroup() bool {
	return n.kind == KindGroup
}

// Pause stops the node from being processed. It does not change tree
// membership and may be called repeatedly.
func (n *Node) Pause() {
	n.running.Store(false)
}

// Resume undoes Pause.
func (n *Node) Resume() {
	n.running.Store(true)
}

// IsRunning reports whether the node is processed.
func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// Refs returns the current reference count: outstanding handles plus one if
// the node is linked into a group.
func (n *Node) Refs() int {
	return int(n.refs.Load())
}

// Parent returns the group n is linked into, or nil.
func (n *Node) Parent() *Node {
	if n.parent == noSlot {
		return nil
	}
	return n.pool.at(n.parent)
}

// SetParent records g as the node's parent and takes the parent's reference.
// The node must not already have a parent; linking it twice panics.
func (n *Node) SetParent(g *Node) {
	invariant(g != nil && g.kind == KindGroup, "Node.SetParent", "parent of node %d is not a group", n.id)
	invariant(g.pool == n.pool, "Node.SetParent", "node %d and group %d belong to different graphs", n.id, g.id)
	if n.parent != noSlot {
		invariant(false, "Node.SetParent", "node %d already has parent %d", n.id, n.Parent().id)
	}
	n.retain()
	n.parent = g.slot
}

// ClearParent drops the link to the parent and the parent's reference. If that
// was the last reference the node is destroyed and its storage released.
func (n *Node) ClearParent() {
	invariant(n.parent != noSlot, "Node.ClearParent", "node %d has no parent", n.id)
	n.parent = noSlot
	n.release()
}

// PreviousNode returns the sibling before n in its group, or nil.
func (n *Node) PreviousNode() *Node {
	if n.prev == noSlot {
		return nil
	}
	return n.pool.at(n.prev)
}

// NextNode returns the sibling after n in its group, or nil.
func (n *Node) NextNode() *Node {
	if n.next == noSlot {
		return nil
	}
	return n.pool.at(n.next)
}

// Less orders nodes by id.
func Less(a, b *Node) bool {
	return a.id < b.id
}

// Compare orders nodes by id, returning -1, 0 or +1.
func Compare(a, b *Node) int {
	return cmp.Compare(a.id, b.id)
}

func (n *Node) retain() {
	n.refs.Add(1)
}

// tryRetain takes a reference only if the node is still referenced by someone.
func (n *Node) tryRetain() bool {
	for {
		c := n.refs.Load()
		if c <= 0 {
			return false
		}
		if n.refs.CompareAndSwap(c, c+1) {
			return true
		}
	}
}

// release drops one reference and destroys the node when the count reaches
// zero. The count never goes negative, so racing releases destroy at most once.
func (n *Node) release() bool {
	for {
		c := n.refs.Load()
		if c <= 0 {
			return false
		}
		if n.refs.CompareAndSwap(c, c-1) {
			if c == 1 {
				n.destroy()
				return true
			}
			return false
		}
	}
}

// destroy frees n's slot and storage. A group retired by the graph is already
// empty; children are only unlinked here for groups built outside a graph.
func (n *Node) destroy() {
	invariant(n.parent == noSlot, "Node.destroy", "node %d destroyed while linked", n.id)

	switch n.kind {
	case KindGroup:
		for c := n.FirstChild(); c != nil; {
			next := c.NextNode()
			n.unlinkChild(c)
			c = next
		}
	case KindSynth:
		if !n.synth.controls.Block().IsZero() {
			n.pool.floats.Deallocate(n.synth.controls)
		}
	}
	n.pool.free(n)
}
