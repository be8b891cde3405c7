package synthtree

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed indicates use of a graph after Close.
var ErrClosed = errors.New("graph is closed")

// Options configures a Graph.
type Options struct {
	// ArenaSize is the arena capacity in bytes, a power of two.
	// Zero selects DefaultArenaSize.
	ArenaSize int

	// MaxNodes is the number of node slots. Zero selects DefaultMaxNodes.
	MaxNodes int

	// ArenaSoftLimit is the number of used arena bytes above which the graph
	// reports memory pressure. Zero disables the check.
	ArenaSoftLimit int

	// Logger receives structural events. Nil discards them.
	Logger *slog.Logger
}

// Graph owns the node population: the arena, the slot table, the identifier
// index and the root group.
//
// Structural changes (adding, moving, freeing, re-identifying) are serialized
// by the graph's write lock, matching a server that applies control commands
// one at a time between audio blocks. Lookups take the read lock. Handles
// obtained from Acquire may be released from any goroutine.
type Graph struct {
	mu sync.RWMutex

	id     string
	arena  *Arena
	pool   *nodePool
	index  *nodeIndex
	root   *Node
	logger *slog.Logger

	softLimit int
	nextAuto  NodeID
	closed    bool

	reporterStop chan struct{}
	reporterWg   sync.WaitGroup
}

// New creates a graph holding only the root group.
func New(opts Options) (*Graph, error) {
	if opts.ArenaSize == 0 {
		opts.ArenaSize = DefaultArenaSize
	}
	if opts.MaxNodes == 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.MaxNodes < 1 {
		return nil, fmt.Errorf("synthtree: MaxNodes must be positive, got %d", opts.MaxNodes)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	arena, err := NewArena(opts.ArenaSize)
	if err != nil {
		return nil, fmt.Errorf("synthtree: arena of %d bytes: %w", opts.ArenaSize, err)
	}

	g := &Graph{
		id:        uuid.NewString(),
		arena:     arena,
		pool:      newNodePool(arena, opts.MaxNodes),
		index:     newNodeIndex(),
		logger:    opts.Logger,
		softLimit: opts.ArenaSoftLimit,
		nextAuto:  math.MaxUint32,
	}
	g.logger = g.logger.With(slog.String("graph", g.id))

	root, err := g.pool.acquire(RootID, KindGroup)
	if err != nil {
		return nil, err
	}
	root.retain() // held by the graph until Close
	g.index.insert(root)
	g.root = root

	g.logger.Debug("graph created",
		slog.Int("arena_bytes", arena.Capacity()),
		slog.Int("max_nodes", opts.MaxNodes))
	return g, nil
}

// ID returns a unique identifier for this graph instance.
func (g *Graph) ID() string {
	return g.id
}

// Arena returns the arena backing the graph's nodes.
func (g *Graph) Arena() *Arena {
	return g.arena
}

// Root returns the root group.
func (g *Graph) Root() *Node {
	return g.root
}

// AddSynth creates a synth from def and links it as spec describes. For Head
// and Tail the node goes into group; for Before, After and Replace group may
// be nil and the anchor's group is used.
func (g *Graph) AddSynth(id NodeID, def *SynthDef, group *Node, spec PositionSpec) (*Node, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidSynthDef)
	}
	return g.add(id, KindSynth, group, spec, func(n *Node) error {
		return n.initSynth(def)
	})
}

// AddGroup creates an ordered group.
func (g *Graph) AddGroup(id NodeID, group *Node, spec PositionSpec) (*Node, error) {
	return g.add(id, KindGroup, group, spec, nil)
}

// AddParallelGroup creates a group whose children may be processed in any
// order. Children are added to it with Insert, Head or Tail.
func (g *Graph) AddParallelGroup(id NodeID, group *Node, spec PositionSpec) (*Node, error) {
	return g.add(id, KindGroup, group, spec, func(n *Node) error {
		n.group.parallel = true
		return nil
	})
}

func (g *Graph) add(id NodeID, kind Kind, group *Node, spec PositionSpec, init func(*Node) error) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}
	if g.index.lookup(id) != nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	target, err := g.target(group, spec)
	if err != nil {
		return nil, err
	}

	n, err := g.pool.acquire(id, kind)
	if err != nil {
		g.logger.Warn("node slots exhausted", slog.Uint64("id", uint64(id)))
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	if init != nil {
		if err := init(n); err != nil {
			n.destroy()
			g.logger.Warn("arena exhausted", slog.Uint64("id", uint64(id)), slog.String("kind", kind.String()))
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
	}

	if spec.Position == Replace {
		g.retire(spec.Anchor)
	}
	target.place(n, spec)
	g.index.insert(n)

	g.logger.Debug("node added",
		slog.Uint64("id", uint64(id)),
		slog.String("kind", kind.String()),
		slog.String("position", spec.String()),
		slog.Uint64("group", uint64(target.id)))
	return n, nil
}

// target resolves the group a spec applies to and validates the spec
// against it. The graph lock must be held.
func (g *Graph) target(group *Node, spec PositionSpec) (*Node, error) {
	if spec.Position.NeedsAnchor() {
		a := spec.Anchor
		if !g.index.holds(a) || a.parent == noSlot {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAnchor, spec)
		}
		return a.Parent(), nil
	}

	switch spec.Position {
	case Head, Tail, Insert:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPosition, spec.Position)
	}
	if !g.index.holds(group) {
		return nil, ErrNodeNotFound
	}
	if group.kind != KindGroup {
		return nil, fmt.Errorf("%w: %d", ErrNotAGroup, group.id)
	}
	if spec.Position == Insert && !group.group.parallel {
		return nil, fmt.Errorf("%w: insert into ordered group %d", ErrInvalidPosition, group.id)
	}
	return group, nil
}

// SpecFor turns a control-command style target id and position into the
// group and PositionSpec that Add and Move expect. For Head, Tail and Insert
// the target is the group; otherwise it is the anchor.
func (g *Graph) SpecFor(target NodeID, pos Position) (*Node, PositionSpec, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := g.index.lookup(target)
	if n == nil {
		return nil, PositionSpec{}, fmt.Errorf("%w: %d", ErrNodeNotFound, target)
	}
	if pos.NeedsAnchor() {
		return nil, PositionSpec{Anchor: n, Position: pos}, nil
	}
	return n, PositionSpec{Position: pos}, nil
}

// Move relinks a live node. Replace is not a valid move.
func (g *Graph) Move(n *Node, group *Node, spec PositionSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if !g.index.holds(n) {
		return ErrNodeNotFound
	}
	if n == g.root {
		return ErrRootNode
	}
	if spec.Position == Replace {
		return fmt.Errorf("%w: cannot move with replace", ErrInvalidPosition)
	}
	if spec.Anchor == n {
		return fmt.Errorf("%w: node %d anchored on itself", ErrInvalidAnchor, n.id)
	}
	target, err := g.target(group, spec)
	if err != nil {
		return err
	}
	if n.kind == KindGroup && n.contains(target) {
		return fmt.Errorf("%w: %d into %d", ErrCycle, n.id, target.id)
	}

	n.retain()
	n.Parent().unlinkChild(n)
	target.place(n, spec)
	n.release()

	g.logger.Debug("node moved",
		slog.Uint64("id", uint64(n.id)),
		slog.String("position", spec.String()),
		slog.Uint64("group", uint64(target.id)))
	return nil
}

// Free removes a node, and for a group its whole subtree, from the graph.
// Nodes still held by handles are destroyed when the last handle is released.
func (g *Graph) Free(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if !g.index.holds(n) {
		return ErrNodeNotFound
	}
	if n == g.root {
		return ErrRootNode
	}
	g.retire(n)
	id := n.id
	n.Parent().unlinkChild(n)

	g.logger.Debug("node freed", slog.Uint64("id", uint64(id)))
	return nil
}

// FreeAll frees every child of group, keeping the group itself.
func (g *Graph) FreeAll(group *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if !g.index.holds(group) {
		return ErrNodeNotFound
	}
	if group.kind != KindGroup {
		return fmt.Errorf("%w: %d", ErrNotAGroup, group.id)
	}
	g.freeChildren(group)
	g.logger.Debug("group emptied", slog.Uint64("id", uint64(group.id)))
	return nil
}

// DeepFree frees every synth below group, keeping all groups.
func (g *Graph) DeepFree(group *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if !g.index.holds(group) {
		return ErrNodeNotFound
	}
	if group.kind != KindGroup {
		return fmt.Errorf("%w: %d", ErrNotAGroup, group.id)
	}
	g.deepFree(group)
	g.logger.Debug("group deep freed", slog.Uint64("id", uint64(group.id)))
	return nil
}

func (g *Graph) freeChildren(group *Node) {
	for c := group.FirstChild(); c != nil; {
		next := c.NextNode()
		g.retire(c)
		group.unlinkChild(c)
		c = next
	}
}

func (g *Graph) deepFree(group *Node) {
	for c := group.FirstChild(); c != nil; {
		next := c.NextNode()
		if c.kind == KindGroup {
			g.deepFree(c)
		} else {
			g.index.remove(c.id)
			group.unlinkChild(c)
		}
		c = next
	}
}

// retire removes n and everything below it from the identifier index and
// takes the subtree apart under the write lock, leaving n's own link to its
// parent for the caller. A later destroy then only frees n's own storage.
func (g *Graph) retire(n *Node) {
	g.index.remove(n.id)
	for c := n.FirstChild(); c != nil; {
		next := c.NextNode()
		g.retire(c)
		n.unlinkChild(c)
		c = next
	}
}

// Reidentify gives a live node a new id, removing it from the index under
// the old key and reinserting it under the new one.
func (g *Graph) Reidentify(n *Node, id NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if !g.index.holds(n) {
		return ErrNodeNotFound
	}
	if n == g.root {
		return ErrRootNode
	}
	if n.id == id {
		return nil
	}
	if g.index.lookup(id) != nil {
		return fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	old := n.id
	g.index.remove(old)
	n.id = id
	g.index.insert(n)

	g.logger.Debug("node reidentified", slog.Uint64("from", uint64(old)), slog.Uint64("to", uint64(id)))
	return nil
}

// GenerateID returns an id no live node uses, counting down from the top of
// the id space so that server-assigned ids stay clear of client ones.
func (g *Graph) GenerateID() NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		id := g.nextAuto
		g.nextAuto--
		if g.nextAuto == RootID {
			g.nextAuto = math.MaxUint32
		}
		if id != RootID && g.index.lookup(id) == nil {
			return id
		}
	}
}

// Set writes one control on a synth, or on every synth below a group that
// has the slot. See Node.Set.
func (g *Graph) Set(n *Node, slot Slot, value float32) error {
	return g.SetN(n, slot, []float32{value})
}

// SetN writes consecutive controls under the read lock, so a group's child
// list cannot change while the values are broadcast.
func (g *Graph) SetN(n *Node, slot Slot, values []float32) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return n.SetN(slot, values)
}

// Find returns the live node with the given id, or nil.
func (g *Graph) Find(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index.lookup(id)
}

// Acquire returns a handle to the live node with the given id. The handle
// keeps the node from being destroyed until it is released.
func (g *Graph) Acquire(id NodeID) (*Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := g.index.lookup(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return NewHandle(n), nil
}

// Len returns the number of live nodes, the root included.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index.len()
}

// Ascend calls fn for every live node in ascending id order until fn
// returns false.
func (g *Graph) Ascend(fn func(n *Node) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.index.ascend(fn)
}

// Walk visits the tree depth first in processing order, starting at the
// root with depth 0, until fn returns false.
func (g *Graph) Walk(fn func(n *Node, depth int) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	walk(g.root, 0, fn)
}

func walk(n *Node, depth int, fn func(*Node, int) bool) bool {
	if !fn(n, depth) {
		return false
	}
	for c := n.FirstChild(); c != nil; c = c.NextNode() {
		if !walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// Close frees every node and drops the graph's reference to the root. Nodes
// still held by handles are destroyed when those handles are released.
func (g *Graph) Close() error {
	g.StopReporter()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.freeChildren(g.root)
	g.index.remove(g.root.id)
	g.root.release()

	g.logger.Debug("graph closed")
	return nil
}
