package synthtree

import (
	"fmt"
	"strings"
)

// Position says where a node goes relative to a group's existing children.
type Position uint8

const (
	// Head places the node first in the target group.
	Head Position = iota

	// Tail places the node last in the target group.
	Tail

	// Before places the node immediately ahead of the anchor, in the anchor's group.
	Before

	// After places the node immediately behind the anchor, in the anchor's group.
	After

	// Replace puts the node where the anchor is and frees the anchor.
	Replace

	// Insert adds the node to a parallel group, whose children are unordered.
	Insert
)

var positionNames = [...]string{
	Head:    "head",
	Tail:    "tail",
	Before:  "before",
	After:   "after",
	Replace: "replace",
	Insert:  "insert",
}

func (p Position) String() string {
	if int(p) < len(positionNames) {
		return positionNames[p]
	}
	return fmt.Sprintf("Position(%d)", p)
}

// NeedsAnchor reports whether the position is relative to an anchor node
// rather than to a group.
func (p Position) NeedsAnchor() bool {
	return p == Before || p == After || p == Replace
}

// ParsePosition reads a position name, case-insensitively.
func ParsePosition(s string) (Position, error) {
	for i, name := range positionNames {
		if strings.EqualFold(s, name) {
			return Position(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
}

// PositionFromAddAction maps the numeric add actions used by control
// commands (0 head, 1 tail, 2 before, 3 after, 4 replace) to a Position.
func PositionFromAddAction(action int) (Position, error) {
	if action < 0 || action > int(Replace) {
		return 0, fmt.Errorf("%w: add action %d", ErrInvalidPosition, action)
	}
	return Position(action), nil
}

// PositionSpec is an anchor plus a position. Head, Tail and Insert ignore the
// anchor and act on the target group passed alongside the spec.
type PositionSpec struct {
	Anchor   *Node
	Position Position
}

// AtHead places a node first in the target group.
func AtHead() PositionSpec { return PositionSpec{Position: Head} }

// AtTail places a node last in the target group.
func AtTail() PositionSpec { return PositionSpec{Position: Tail} }

// BeforeNode places a node ahead of anchor.
func BeforeNode(anchor *Node) PositionSpec { return PositionSpec{Anchor: anchor, Position: Before} }

// AfterNode places a node behind anchor.
func AfterNode(anchor *Node) PositionSpec { return PositionSpec{Anchor: anchor, Position: After} }

// Replacing substitutes a node for anchor.
func Replacing(anchor *Node) PositionSpec { return PositionSpec{Anchor: anchor, Position: Replace} }

// Inserted adds a node to a parallel group.
func Inserted() PositionSpec { return PositionSpec{Position: Insert} }

func (s PositionSpec) String() string {
	if s.Position.NeedsAnchor() && s.Anchor != nil {
		return fmt.Sprintf("%s %d", s.Position, s.Anchor.id)
	}
	return s.Position.String()
}
