// Package synthtree provides the node-management core of a real-time audio
// synthesis server: a fixed-capacity arena, reference-counted synth and group
// nodes, an identifier index, and the position vocabulary used to place nodes
// in the tree.
package synthtree

import (
	"errors"
	"fmt"
)

// Arena errors
var (
	// ErrOutOfMemory indicates that the arena or the node slot table is exhausted.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidSize indicates a non-positive allocation size.
	ErrInvalidSize = errors.New("invalid allocation size")

	// ErrInvalidArenaSize indicates an arena capacity that is not a power of two
	// or is smaller than the minimum block.
	ErrInvalidArenaSize = errors.New("arena size must be a power of two >= 16")
)

// Node errors
var (
	// ErrNodeExists indicates that a node with the requested id is already live.
	ErrNodeExists = errors.New("node id already in use")

	// ErrNodeNotFound indicates that no live node has the requested id.
	ErrNodeNotFound = errors.New("node not found")

	// ErrStaleHandle indicates use of a released handle or of a recycled slot.
	ErrStaleHandle = errors.New("stale node handle")

	// ErrUnsupported indicates an operation the node kind does not support.
	ErrUnsupported = errors.New("operation not supported by node kind")

	// ErrNotAGroup indicates that a group was expected.
	ErrNotAGroup = errors.New("node is not a group")

	// ErrRootNode indicates an operation that may not be applied to the root group.
	ErrRootNode = errors.New("operation not allowed on root group")
)

// Parameter errors
var (
	// ErrUnknownSlot indicates a control name the synth does not define.
	ErrUnknownSlot = errors.New("unknown control slot")

	// ErrSlotOutOfRange indicates a control index (or run of values) past the
	// end of the synth's controls.
	ErrSlotOutOfRange = errors.New("control slot out of range")
)

// Placement errors
var (
	// ErrInvalidPosition indicates a position the target group cannot apply.
	ErrInvalidPosition = errors.New("invalid node position")

	// ErrInvalidAnchor indicates a missing or unlinked anchor node.
	ErrInvalidAnchor = errors.New("invalid anchor node")

	// ErrCycle indicates that a group would become its own descendant.
	ErrCycle = errors.New("group cannot contain itself")
)

// ErrInvariant is matched by every InvariantError.
var ErrInvariant = errors.New("invariant violation")

// InvariantError describes a broken contract. It is only ever raised with
// panic; recovering from one means the node graph is no longer trustworthy.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("synthtree: invariant violation in %s: %s", e.Op, e.Msg)
}

// Is reports whether target is ErrInvariant.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// invariant panics with an InvariantError when cond is false.
func invariant(cond bool, op, format string, args ...any) {
	if cond {
		return
	}
	panic(&InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
