package synthtree

import "unsafe"

// Scalar is the set of element types an Allocator can place in arena memory.
// Arena bytes are invisible to the garbage collector, so only pointer-free
// numeric types are allowed.
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// Allocator hands out typed arrays backed by an Arena, so auxiliary
// structures attached to the node graph share the arena's capacity and its
// bounded latency.
type Allocator[T Scalar] struct {
	arena *Arena
}

// Span is a typed array allocated from an Allocator.
type Span[T Scalar] struct {
	block Block
	items []T
}

// Items returns the span's elements. The slice aliases arena storage and must
// not be used after the span is deallocated.
func (s Span[T]) Items() []T { return s.items }

// Len returns the number of elements in the span.
func (s Span[T]) Len() int { return len(s.items) }

// Block returns the arena block behind the span.
func (s Span[T]) Block() Block { return s.block }

// NewAllocator returns an allocator drawing from a.
func NewAllocator[T Scalar](a *Arena) Allocator[T] {
	return Allocator[T]{arena: a}
}

// Arena returns the underlying arena.
func (al Allocator[T]) Arena() *Arena {
	return al.arena
}

// Allocate reserves n zeroed elements.
func (al Allocator[T]) Allocate(n int) (Span[T], error) {
	if n <= 0 {
		return Span[T]{}, ErrInvalidSize
	}
	if n > al.MaxSize() {
		return Span[T]{}, ErrOutOfMemory
	}
	var zero T
	b, err := al.arena.Allocate(n * int(unsafe.Sizeof(zero)))
	if err != nil {
		return Span[T]{}, err
	}
	// Block offsets are multiples of 16, which satisfies every Scalar's alignment.
	raw := al.arena.Bytes(b)
	items := unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw))), n)
	return Span[T]{block: b, items: items}, nil
}

// Deallocate returns the span's storage to the arena.
func (al Allocator[T]) Deallocate(s Span[T]) {
	al.arena.Free(s.block)
}

// MaxSize returns the largest element count a single allocation could hold.
func (al Allocator[T]) MaxSize() int {
	var zero T
	return al.arena.Capacity() / int(unsafe.Sizeof(zero))
}

// Equal reports whether both allocators draw from the same arena, in which
// case storage allocated by one may be deallocated by the other.
func (al Allocator[T]) Equal(other Allocator[T]) bool {
	return al.arena == other.arena
}

// SameArena is Equal across element types.
func SameArena[T, U Scalar](a Allocator[T], b Allocator[U]) bool {
	return a.arena == b.arena
}
