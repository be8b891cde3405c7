package synthtree

import "sync"

// DefaultMaxNodes is the slot table size used when Options leaves it unset.
const DefaultMaxNodes = 1024

// nodePool is the fixed slot table every node lives in. Slots are allocated
// once; acquiring and freeing a node only moves an index on the free stack.
type nodePool struct {
	mu sync.Mutex

	arena  *Arena
	floats Allocator[float32]

	slots    []Node
	freeList []int32 // stack of unused slot indices
	top      int

	synths    int
	groups    int
	created   uint64
	destroyed uint64
	failures  uint64
}

// poolCounts is a snapshot of slot usage.
type poolCounts struct {
	Slots     int
	Free      int
	Synths    int
	Groups    int
	Created   uint64
	Destroyed uint64
	Failures  uint64
}

func newNodePool(arena *Arena, capacity int) *nodePool {
	p := &nodePool{
		arena:    arena,
		floats:   NewAllocator[float32](arena),
		slots:    make([]Node, capacity),
		freeList: make([]int32, capacity),
		top:      capacity,
	}
	for i := range p.slots {
		n := &p.slots[i]
		n.pool = p
		n.slot = int32(i)
		n.parent, n.prev, n.next = noSlot, noSlot, noSlot
		// Lowest slots are handed out first.
		p.freeList[capacity-1-i] = int32(i)
	}
	return p
}

func (p *nodePool) at(slot int32) *Node {
	return &p.slots[slot]
}

// acquire takes a slot and initializes it as a running node with no
// references. ErrOutOfMemory is returned when every slot is in use.
func (p *nodePool) acquire(id NodeID, kind Kind) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.top == 0 {
		p.failures++
		return nil, ErrOutOfMemory
	}
	p.top--
	n := &p.slots[p.freeList[p.top]]

	n.id = id
	n.kind = kind
	n.running.Store(true)
	n.refs.Store(0)
	n.parent, n.prev, n.next = noSlot, noSlot, noSlot
	n.synth = synthState{}
	n.group = groupState{head: noSlot, tail: noSlot}

	switch kind {
	case KindSynth:
		p.synths++
	case KindGroup:
		p.groups++
	}
	p.created++
	return n, nil
}

// free returns n's slot. Outstanding handles see a new generation and report
// ErrStaleHandle.
func (p *nodePool) free(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	invariant(p.top < len(p.freeList), "nodePool.free", "slot %d freed twice", n.slot)
	n.gen.Add(1)
	switch n.kind {
	case KindSynth:
		p.synths--
	case KindGroup:
		p.groups--
	}
	n.synth = synthState{}
	n.group = groupState{head: noSlot, tail: noSlot}
	p.freeList[p.top] = n.slot
	p.top++
	p.destroyed++
}

func (p *nodePool) counts() poolCounts {
	p.mu.Lock()
	defer p.mu.Unlock()

	return poolCounts{
		Slots:     len(p.slots),
		Free:      p.top,
		Synths:    p.synths,
		Groups:    p.groups,
		Created:   p.created,
		Destroyed: p.destroyed,
		Failures:  p.failures,
	}
}
