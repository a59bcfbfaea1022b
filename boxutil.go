package mp4

import (
	"fmt"
	"iter"

	"github.com/google/uuid"
)

// First returns the first box of type t in a depth-first pre-order walk that
// starts at root itself. It returns ErrNotFound when no box matches.
func First(root *Box, t BoxType) (*Box, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, t)
	}
	for b := range Find(root, t) {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s under %s", ErrNotFound, t, root.Type)
}

// Find yields every box of type t under root (root included), depth-first
// in pre-order. Each range over the result starts a new walk.
func Find(root *Box, t BoxType) iter.Seq[*Box] {
	return walk(root, func(b *Box) bool { return b.Type == t })
}

// FindByExtendedType yields every uuid box under root whose extended type is
// id, in the same order as Find.
func FindByExtendedType(root *Box, id uuid.UUID) iter.Seq[*Box] {
	return walk(root, func(b *Box) bool { return b.Type == TypeUUID && b.ExtendedType == id })
}

// IndexOf returns the position of the first direct child of root with type t.
func IndexOf(root *Box, t BoxType) (int, bool) {
	if root == nil {
		return 0, false
	}
	for i, c := range root.Children {
		if c.Type == t {
			return i, true
		}
	}
	return 0, false
}

func walk(root *Box, match func(*Box) bool) iter.Seq[*Box] {
	return func(yield func(*Box) bool) {
		if root != nil {
			visit(root, match, yield)
		}
	}
}

// visit reports false once yield asks to stop.
func visit(b *Box, match func(*Box) bool, yield func(*Box) bool) bool {
	if match(b) && !yield(b) {
		return false
	}
	for _, c := range b.Children {
		if !visit(c, match, yield) {
			return false
		}
	}
	return true
}
