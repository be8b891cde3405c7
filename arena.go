package synthtree

import (
	"encoding/binary"
	"math/bits"
	"sync"
)

const (
	// DefaultArenaSize is the arena capacity used when Options leaves it unset.
	DefaultArenaSize = 8 << 20

	minBlockShift = 4
	minBlockSize  = 1 << minBlockShift

	metaFree = 0x40
	metaUsed = 0x80

	noBlock = int32(-1)
)

// Block is a region of arena storage returned by Arena.Allocate.
// The zero Block is not a valid allocation.
type Block struct {
	offset uint32
	size   uint32
	order  uint8
}

// Offset returns the block's byte offset inside the arena.
func (b Block) Offset() int { return int(b.offset) }

// Len returns the number of bytes that were requested.
func (b Block) Len() int { return int(b.size) }

// Cap returns the number of bytes the block actually occupies.
func (b Block) Cap() int { return minBlockSize << b.order }

// IsZero reports whether b is the zero Block.
func (b Block) IsZero() bool { return b.size == 0 }

// ArenaStats is a point-in-time view of arena usage.
type ArenaStats struct {
	Capacity    int    // total bytes
	Used        int    // bytes held by live blocks, including rounding
	Requested   int    // bytes callers asked for
	LargestFree int    // largest single allocation that would currently succeed
	LiveBlocks  int    // outstanding allocations
	Allocations uint64 // successful allocations since creation
	Failures    uint64 // allocations refused with ErrOutOfMemory
}

// Arena is a fixed-capacity buddy allocator over a single byte slice.
//
// Blocks are powers of two from 16 bytes up to the whole arena. Free-list
// links are stored inside the free blocks themselves and block state lives in
// a table sized at construction, so Allocate and Free never reach the Go heap
// and finish in a number of steps bounded by the number of orders.
//
// Allocate and Free may be called from any goroutine.
type Arena struct {
	mu sync.Mutex

	buf      []byte
	meta     []uint8 // per 16-byte unit; only block heads carry state
	heads    []int32 // free list head per order, in 16-byte units
	maxOrder int

	used        int
	requested   int
	live        int
	allocations uint64
	failures    uint64
}

// NewArena creates an arena holding size bytes. Size must be a power of two
// no smaller than the minimum block.
func NewArena(size int) (*Arena, error) {
	if size < minBlockSize || size&(size-1) != 0 || uint64(size) > 1<<31 {
		return nil, ErrInvalidArenaSize
	}
	maxOrder := bits.TrailingZeros(uint(size)) - minBlockShift

	a := &Arena{
		buf:      make([]byte, size),
		meta:     make([]uint8, size>>minBlockShift),
		heads:    make([]int32, maxOrder+1),
		maxOrder: maxOrder,
	}
	for i := range a.heads {
		a.heads[i] = noBlock
	}
	a.pushFree(0, maxOrder)
	return a, nil
}

// Capacity returns the arena size in bytes. It is also the largest single
// allocation the arena can ever serve.
func (a *Arena) Capacity() int {
	return len(a.buf)
}

// Allocate reserves at least size bytes. The returned bytes are zeroed.
// ErrOutOfMemory is returned when no free block is large enough; the arena
// never grows and never waits.
func (a *Arena) Allocate(size int) (Block, error) {
	if size <= 0 {
		return Block{}, ErrInvalidSize
	}
	if size > len(a.buf) {
		a.mu.Lock()
		a.failures++
		a.mu.Unlock()
		return Block{}, ErrOutOfMemory
	}
	order := orderFor(size)

	a.mu.Lock()
	k := order
	for k <= a.maxOrder && a.heads[k] == noBlock {
		k++
	}
	if k > a.maxOrder {
		a.failures++
		a.mu.Unlock()
		return Block{}, ErrOutOfMemory
	}
	idx := a.heads[k]
	a.removeFree(idx, k)
	for k > order {
		k--
		a.pushFree(idx+int32(1)<<k, k)
	}
	a.meta[idx] = metaUsed | uint8(order)
	a.used += minBlockSize << order
	a.requested += size
	a.live++
	a.allocations++
	a.mu.Unlock()

	off := int(idx) << minBlockShift
	clear(a.buf[off : off+size])
	return Block{offset: uint32(off), size: uint32(size), order: uint8(order)}, nil
}

// Free returns a block to the arena, merging it with its buddy where possible.
// Freeing a block twice, or a block from another arena, panics.
func (a *Arena) Free(b Block) {
	invariant(!b.IsZero(), "Arena.Free", "zero block")

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := int32(b.offset >> minBlockShift)
	order := int(b.order)
	invariant(int(idx) < len(a.meta) && order <= a.maxOrder && idx&(int32(1)<<order-1) == 0,
		"Arena.Free", "block at offset %d does not belong to this arena", b.offset)
	invariant(a.meta[idx] == metaUsed|uint8(order),
		"Arena.Free", "double free of block at offset %d", b.offset)

	a.meta[idx] = 0
	a.used -= minBlockSize << order
	a.requested -= int(b.size)
	a.live--

	for order < a.maxOrder {
		buddy := idx ^ int32(1)<<order
		if a.meta[buddy] != metaFree|uint8(order) {
			break
		}
		a.removeFree(buddy, order)
		if buddy < idx {
			idx = buddy
		}
		order++
	}
	a.pushFree(idx, order)
}

// Bytes returns the storage behind b. The slice is only valid until b is freed.
func (a *Arena) Bytes(b Block) []byte {
	off := int(b.offset)
	end := off + int(b.size)
	return a.buf[off:end:end]
}

// Stats returns current usage counters.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := ArenaStats{
		Capacity:    len(a.buf),
		Used:        a.used,
		Requested:   a.requested,
		LiveBlocks:  a.live,
		Allocations: a.allocations,
		Failures:    a.failures,
	}
	for k := a.maxOrder; k >= 0; k-- {
		if a.heads[k] != noBlock {
			stats.LargestFree = minBlockSize << k
			break
		}
	}
	return stats
}

// orderFor returns the smallest order whose block holds size bytes.
func orderFor(size int) int {
	units := (size + minBlockSize - 1) >> minBlockShift
	return bits.Len(uint(units - 1))
}

// Free-list links: the first eight bytes of a free block hold next and prev.

func (a *Arena) link(idx int32) []byte {
	off := int(idx) << minBlockShift
	return a.buf[off : off+8]
}

func (a *Arena) next(idx int32) int32 {
	return int32(binary.LittleEndian.Uint32(a.link(idx)[0:4]))
}

func (a *Arena) prev(idx int32) int32 {
	return int32(binary.LittleEndian.Uint32(a.link(idx)[4:8]))
}

func (a *Arena) setNext(idx, v int32) {
	binary.LittleEndian.PutUint32(a.link(idx)[0:4], uint32(v))
}

func (a *Arena) setPrev(idx, v int32) {
	binary.LittleEndian.PutUint32(a.link(idx)[4:8], uint32(v))
}

func (a *Arena) pushFree(idx int32, order int) {
	head := a.heads[order]
	a.setNext(idx, head)
	a.setPrev(idx, noBlock)
	if head != noBlock {
		a.setPrev(head, idx)
	}
	a.heads[order] = idx
	a.meta[idx] = metaFree | uint8(order)
}

func (a *Arena) removeFree(idx int32, order int) {
	next, prev := a.next(idx), a.prev(idx)
	if prev != noBlock {
		a.setNext(prev, next)
	} else {
		a.heads[order] = next
	}
	if next != noBlock {
		a.setPrev(next, prev)
	}
	a.meta[idx] = 0
}
