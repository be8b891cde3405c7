package synthtree

import "github.com/google/btree"

const indexDegree = 16

// indexEntry keys a node by id. Entries are values so lookups can search the
// tree without allocating.
type indexEntry struct {
	id   NodeID
	node *Node
}

func lessEntry(a, b indexEntry) bool {
	return a.id < b.id
}

// nodeIndex resolves ids to live nodes in logarithmic time and iterates them
// in ascending id order.
type nodeIndex struct {
	tree *btree.BTreeG[indexEntry]
}

func newNodeIndex() *nodeIndex {
	free := btree.NewFreeListG[indexEntry](btree.DefaultFreeListSize)
	return &nodeIndex{tree: btree.NewWithFreeListG(indexDegree, lessEntry, free)}
}

// insert adds n. It reports false, leaving the index unchanged, if the id is
// already taken.
func (x *nodeIndex) insert(n *Node) bool {
	if x.tree.Has(indexEntry{id: n.id}) {
		return false
	}
	x.tree.ReplaceOrInsert(indexEntry{id: n.id, node: n})
	return true
}

func (x *nodeIndex) lookup(id NodeID) *Node {
	e, ok := x.tree.Get(indexEntry{id: id})
	if !ok {
		return nil
	}
	return e.node
}

func (x *nodeIndex) remove(id NodeID) *Node {
	e, ok := x.tree.Delete(indexEntry{id: id})
	if !ok {
		return nil
	}
	return e.node
}

// holds reports whether n itself, not just its id, is indexed.
func (x *nodeIndex) holds(n *Node) bool {
	return n != nil && x.lookup(n.id) == n
}

func (x *nodeIndex) len() int {
	return x.tree.Len()
}

func (x *nodeIndex) ascend(fn func(*Node) bool) {
	x.tree.Ascend(func(e indexEntry) bool {
		return fn(e.node)
	})
}
