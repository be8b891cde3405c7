package synthtree

import "sync/atomic"

// Handle is a counted reference to a node. While a handle is held the node
// is not destroyed, even if it is freed from the graph in the meantime.
//
// Handles must be passed by pointer. Release may be called from any
// goroutine, and calling it more than once is harmless.
type Handle struct {
	node     *Node
	gen      uint32
	released atomic.Bool
}

// NewHandle takes a reference to n and returns a handle owning it. The count
// is incremented before NewHandle returns.
func NewHandle(n *Node) *Handle {
	invariant(n != nil, "NewHandle", "nil node")
	n.retain()
	return &Handle{node: n, gen: n.gen.Load()}
}

// Node returns the referenced node. ErrStaleHandle is returned after Release.
func (h *Handle) Node() (*Node, error) {
	if h.released.Load() || h.node.gen.Load() != h.gen {
		return nil, ErrStaleHandle
	}
	return h.node, nil
}

// Clone returns a second handle to the same node.
func (h *Handle) Clone() (*Handle, error) {
	if h.released.Load() || h.node.gen.Load() != h.gen || !h.node.tryRetain() {
		return nil, ErrStaleHandle
	}
	return &Handle{node: h.node, gen: h.gen}, nil
}

// Release drops the handle's reference. If it was the last one the node is
// destroyed and its storage returned to the arena. It reports whether this
// call destroyed the node.
func (h *Handle) Release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	return h.node.release()
}
