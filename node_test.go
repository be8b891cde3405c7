package synthtree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var testDef = MustSynthDef("test",
	Param{Name: "freq", Default: 440},
	Param{Name: "amp", Default: 0.5},
	Param{Name: "bands", Default: 1, Size: 4})

func newTestPool(t *testing.T, slots int) *nodePool {
	t.Helper()
	a, err := NewArena(1024)
	require.NoError(t, err)
	return newNodePool(a, slots)
}

// requireInvariantPanic asserts that fn panics with an InvariantError.
func requireInvariantPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected an invariant panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.True(t, errors.Is(err, ErrInvariant), "panic %v does not match ErrInvariant", err)
		var ie *InvariantError
		assert.True(t, errors.As(err, &ie))
	}()
	fn()
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "synth", KindSynth.String())
	assert.Equal(t, "group", KindGroup.String())
	assert.Equal(t, "unknown", Kind(9).String())
}

func TestPauseResumeIdempotent(t *testing.T) {
	p := newTestPool(t, 4)
	n, err := p.acquire(1, KindSynth)
	require.NoError(t, err)

	assert.True(t, n.IsRunning(), "new nodes run")
	n.Pause()
	n.Pause()
	assert.False(t, n.IsRunning())
	n.Resume()
	n.Resume()
	assert.True(t, n.IsRunning())
}

func TestSetParentTakesReference(t *testing.T) {
	p := newTestPool(t, 4)
	g, err := p.acquire(1, KindGroup)
	require.NoError(t, err)
	n, err := p.acquire(2, KindSynth)
	require.NoError(t, err)

	n.SetParent(g)
	assert.Same(t, g, n.Parent())
	assert.Equal(t, 1, n.Refs())

	h := NewHandle(n)
	assert.Equal(t, 2, n.Refs())

	// Unparenting with a handle outstanding keeps the node alive.
	n.ClearParent()
	assert.Nil(t, n.Parent())
	assert.Equal(t, 1, n.Refs())
	assert.Equal(t, uint64(0), p.counts().Destroyed)

	assert.True(t, h.Release())
	assert.Equal(t, uint64(1), p.counts().Destroyed)
}

func TestSetParentTwicePanics(t *testing.T) {
	p := newTestPool(t, 4)
	g1, err := p.acquire(1, KindGroup)
	require.NoError(t, err)
	g2, err := p.acquire(2, KindGroup)
	require.NoError(t, err)
	n, err := p.acquire(3, KindSynth)
	require.NoError(t, err)

	n.SetParent(g1)
	requireInvariantPanic(t, func() { n.SetParent(g2) })
	requireInvariantPanic(t, func() { n.SetParent(g1) })

	// The failed calls changed nothing.
	assert.Same(t, g1, n.Parent())
	assert.Equal(t, 1, n.Refs())
}

func TestParentContractViolations(t *testing.T) {
	p := newTestPool(t, 4)
	other := newTestPool(t, 4)
	synth, err := p.acquire(1, KindSynth)
	require.NoError(t, err)
	leaf, err := p.acquire(2, KindSynth)
	require.NoError(t, err)
	foreign, err := other.acquire(3, KindGroup)
	require.NoError(t, err)

	tests := []struct {
		name string
		fn   func()
	}{
		{name: "parent is a synth", fn: func() { leaf.SetParent(synth) }},
		{name: "parent is nil", fn: func() { leaf.SetParent(nil) }},
		{name: "parent from another pool", fn: func() { leaf.SetParent(foreign) }},
		{name: "clear without parent", fn: func() { leaf.ClearParent() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireInvariantPanic(t, tt.fn)
		})
	}
}

func TestClearParentDestroysUnreferencedNode(t *testing.T) {
	p := newTestPool(t, 4)
	g, err := p.acquire(1, KindGroup)
	require.NoError(t, err)
	n, err := p.acquire(2, KindSynth)
	require.NoError(t, err)
	require.NoError(t, n.initSynth(testDef))

	used := p.arena.Stats().Used
	require.Positive(t, used)

	n.SetParent(g)
	n.ClearParent()

	counts := p.counts()
	assert.Equal(t, uint64(1), counts.Destroyed)
	assert.Equal(t, 0, counts.Synths)
	assert.Equal(t, 0, p.arena.Stats().Used, "control storage not returned")
	assert.Equal(t, 0, n.Refs())

	// The slot is reused by the next node.
	again, err := p.acquire(3, KindSynth)
	require.NoError(t, err)
	assert.Same(t, n, again)
}

func TestDestroyGroupReleasesChildren(t *testing.T) {
	p := newTestPool(t, 8)
	g, err := p.acquire(1, KindGroup)
	require.NoError(t, err)
	inner, err := p.acquire(2, KindGroup)
	require.NoError(t, err)

	g.retain()
	g.linkBefore(nil, inner)
	for id := NodeID(3); id < 6; id++ {
		c, err := p.acquire(id, KindSynth)
		require.NoError(t, err)
		require.NoError(t, c.initSynth(testDef))
		inner.linkBefore(nil, c)
	}
	require.Equal(t, 5, p.counts().Slots-p.counts().Free)

	assert.True(t, g.release())
	counts := p.counts()
	assert.Equal(t, uint64(5), counts.Destroyed)
	assert.Equal(t, counts.Slots, counts.Free)
	assert.Equal(t, 0, p.arena.Stats().Used)
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	p := newTestPool(t, 2)
	n, err := p.acquire(1, KindSynth)
	require.NoError(t, err)

	n.retain()
	assert.True(t, n.release())
	assert.False(t, n.release(), "release at zero must not destroy again")
	assert.Equal(t, 0, n.Refs())
	assert.Equal(t, uint64(1), p.counts().Destroyed)
}

func TestNodeOrdering(t *testing.T) {
	p := newTestPool(t, 4)
	a, err := p.acquire(5, KindSynth)
	require.NoError(t, err)
	b, err := p.acquire(9, KindGroup)
	require.NoError(t, err)

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.False(t, Less(a, a))
	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.Equal(t, 0, Compare(a, a))
}

func TestPoolExhaustion(t *testing.T) {
	p := newTestPool(t, 2)
	n1, err := p.acquire(1, KindSynth)
	require.NoError(t, err)
	_, err = p.acquire(2, KindGroup)
	require.NoError(t, err)

	_, err = p.acquire(3, KindSynth)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, uint64(1), p.counts().Failures)

	n1.retain()
	n1.release()
	_, err = p.acquire(3, KindSynth)
	assert.NoError(t, err)
}

func TestHandleLifetime(t *testing.T) {
	p := newTestPool(t, 2)
	n, err := p.acquire(1, KindSynth)
	require.NoError(t, err)

	h := NewHandle(n)
	got, err := h.Node()
	require.NoError(t, err)
	assert.Same(t, n, got)

	c, err := h.Clone()
	require.NoError(t, err)
	assert.Equal(t, 2, n.Refs())

	assert.False(t, h.Release())
	assert.False(t, h.Release(), "second release is a no-op")
	assert.Equal(t, 1, n.Refs())
	_, err = h.Node()
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = h.Clone()
	assert.ErrorIs(t, err, ErrStaleHandle)

	assert.True(t, c.Release())
	_, err = c.Node()
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestHandleDetectsRecycledSlot(t *testing.T) {
	p := newTestPool(t, 1)
	n, err := p.acquire(1, KindSynth)
	require.NoError(t, err)

	h := NewHandle(n)
	stale := &Handle{node: n, gen: n.gen.Load()}
	require.True(t, h.Release())

	reused, err := p.acquire(2, KindSynth)
	require.NoError(t, err)
	require.Same(t, n, reused)

	_, err = stale.Node()
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = stale.Clone()
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestNewHandleNilPanics(t *testing.T) {
	requireInvariantPanic(t, func() { NewHandle(nil) })
}

// A node held by one handle and no parent is destroyed by the release of
// that handle, exactly once, however many goroutines race to release it.
func TestConcurrentReleaseDestroysOnce(t *testing.T) {
	const workers = 16

	for round := range 50 {
		p := newTestPool(t, 1)
		n, err := p.acquire(NodeID(round), KindSynth)
		require.NoError(t, err)
		require.NoError(t, n.initSynth(testDef))

		h := NewHandle(n)
		var eg errgroup.Group
		destroyed := make([]bool, workers)
		for w := range workers {
			eg.Go(func() error {
				destroyed[w] = h.Release()
				return nil
			})
		}
		require.NoError(t, eg.Wait())

		count := 0
		for _, d := range destroyed {
			if d {
				count++
			}
		}
		assert.Equal(t, 1, count, "round %d", round)
		assert.Equal(t, uint64(1), p.counts().Destroyed)
		assert.Equal(t, 0, p.arena.Stats().Used)
	}
}

// Independent handles to the same node race on the shared count; only the
// final release destroys.
func TestConcurrentReleaseManyHandles(t *testing.T) {
	const handles = 64

	p := newTestPool(t, 1)
	n, err := p.acquire(1, KindSynth)
	require.NoError(t, err)

	hs := make([]*Handle, handles)
	for i := range hs {
		hs[i] = NewHandle(n)
	}
	require.Equal(t, handles, n.Refs())

	var eg errgroup.Group
	results := make([]bool, handles)
	for i, h := range hs {
		eg.Go(func() error {
			results[i] = h.Release()
			h.Release()
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	count := 0
	for _, r := range results {
		if r {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, uint64(1), p.counts().Destroyed)
}
