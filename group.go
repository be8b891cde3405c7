package synthtree

import "iter"

// groupState is the group half of the node variant. Children form a doubly
// linked list threaded through the slot table, so unlinking is O(1).
type groupState struct {
	head     int32
	tail     int32
	count    int
	parallel bool
}

// IsParallel reports whether n is a parallel group, whose children carry no
// meaningful order.
func (n *Node) IsParallel() bool {
	return n.kind == KindGroup && n.group.parallel
}

// FirstChild returns the group's first child, or nil.
func (n *Node) FirstChild() *Node {
	if n.kind != KindGroup || n.group.head == noSlot {
		return nil
	}
	return n.pool.at(n.group.head)
}

// LastChild returns the group's last child, or nil.
func (n *Node) LastChild() *Node {
	if n.kind != KindGroup || n.group.tail == noSlot {
		return nil
	}
	return n.pool.at(n.group.tail)
}

// ChildCount returns the number of direct children.
func (n *Node) ChildCount() int {
	return n.group.count
}

// Children iterates over the direct children in order.
func (n *Node) Children() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for c := n.FirstChild(); c != nil; c = c.NextNode() {
			if !yield(c) {
				return
			}
		}
	}
}

// contains reports whether x is n or lies below n.
func (n *Node) contains(x *Node) bool {
	for p := x; p != nil; p = p.Parent() {
		if p == n {
			return true
		}
	}
	return false
}

// place links c into n as described by spec. The caller has already checked
// that spec applies to n: anchors are children of n, and Insert is only used
// on parallel groups.
func (n *Node) place(c *Node, spec PositionSpec) {
	switch spec.Position {
	case Head, Insert:
		n.linkBefore(n.FirstChild(), c)
	case Tail:
		n.linkBefore(nil, c)
	case Before:
		n.linkBefore(spec.Anchor, c)
	case After:
		n.linkBefore(spec.Anchor.NextNode(), c)
	case Replace:
		n.linkBefore(spec.Anchor, c)
		n.unlinkChild(spec.Anchor)
	default:
		invariant(false, "Node.place", "unknown position %d", spec.Position)
	}
}

// linkBefore links c into n ahead of at; a nil at appends.
func (n *Node) linkBefore(at, c *Node) {
	c.SetParent(n)
	if at == nil {
		c.prev, c.next = n.group.tail, noSlot
		if n.group.tail != noSlot {
			n.pool.at(n.group.tail).next = c.slot
		} else {
			n.group.head = c.slot
		}
		n.group.tail = c.slot
	} else {
		invariant(at.parent == n.slot, "Node.linkBefore", "anchor %d is not a child of group %d", at.id, n.id)
		c.prev, c.next = at.prev, at.slot
		if at.prev != noSlot {
			n.pool.at(at.prev).next = c.slot
		} else {
			n.group.head = c.slot
		}
		at.prev = c.slot
	}
	n.group.count++
}

// unlinkChild removes c from n and drops the parent reference, which may
// destroy c.
func (n *Node) unlinkChild(c *Node) {
	invariant(c.parent == n.slot, "Node.unlinkChild", "node %d is not a child of group %d", c.id, n.id)
	if c.prev != noSlot {
		n.pool.at(c.prev).next = c.next
	} else {
		n.group.head = c.next
	}
	if c.next != noSlot {
		n.pool.at(c.next).prev = c.prev
	} else {
		n.group.tail = c.prev
	}
	c.prev, c.next = noSlot, noSlot
	n.group.count--
	c.ClearParent()
}
