// Package hashtree implements the tagged-variant Merkle hash tree that
// the certificate verifier uses to recompute a state root and to answer
// path lookups against a possibly-pruned tree.
package hashtree

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"unicode/utf8"
)

// Kind distinguishes the five tagged variants of a HashTree node.
type Kind int

const (
	Empty Kind = iota
	Fork
	Labeled
	Leaf
	Pruned
)

// domain separators, each hashed as a prefix ahead of the node's content.
var (
	dsEmpty   = []byte("ic-hashtree-empty")
	dsLeaf    = []byte("ic-hashtree-leaf")
	dsLabeled = []byte("ic-hashtree-labeled")
	dsFork    = []byte("ic-hashtree-fork")
)

// Node is one node of a HashTree. Only the fields relevant to Kind are
// populated; the zero value is Empty.
type Node struct {
	Kind  Kind
	Left  *Node  // Fork
	Right *Node  // Fork
	Label []byte // Labeled
	Sub   *Node  // Labeled
	Value []byte // Leaf
	Hash  [32]byte
}

// Errors returned by lookup operations.
var (
	ErrUnexpectedLeaf     = errors.New("hashtree: leaf encountered before path exhausted")
	ErrUnexpectedPruned   = errors.New("hashtree: pruned subtree encountered before path exhausted")
	ErrInvalidPathSegment = errors.New("hashtree: path segment is not valid UTF-8")
)

// Reconstruct recomputes the 32-byte root hash of t, per the recursive
// definition:
//
//	Empty      -> H("ic-hashtree-empty")
//	Leaf(v)    -> H("ic-hashtree-leaf" || v)
//	Labeled    -> H("ic-hashtree-labeled" || l || root(s))
//	Fork(a,b)  -> H("ic-hashtree-fork" || root(a) || root(b))
//	Pruned(h)  -> h
func Reconstruct(t *Node) [32]byte {
	if t == nil {
		return hashPrefixed(dsEmpty)
	}
	switch t.Kind {
	case Empty:
		return hashPrefixed(dsEmpty)
	case Leaf:
		return hashPrefixed(dsLeaf, t.Value)
	case Labeled:
		subRoot := Reconstruct(t.Sub)
		return hashPrefixed(dsLabeled, t.Label, subRoot[:])
	case Fork:
		leftRoot := Reconstruct(t.Left)
		rightRoot := Reconstruct(t.Right)
		return hashPrefixed(dsFork, leftRoot[:], rightRoot[:])
	case Pruned:
		return t.Hash
	default:
		return hashPrefixed(dsEmpty)
	}
}

func hashPrefixed(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// LookupResult is the outcome of a path traversal.
type LookupResult int

const (
	Found LookupResult = iota
	Absent
	Unknown
)

// LookupPath traverses path segments through t, returning the terminal
// leaf value on Found, or one of Absent/Unknown when the tree proves or
// withholds non-existence respectively.
func LookupPath(path [][]byte, t *Node) (LookupResult, []byte, error) {
	res, sub, err := lookupSubtree(path, t)
	if err != nil || res != Found {
		return res, nil, err
	}
	switch sub.Kind {
	case Leaf:
		return Found, sub.Value, nil
	case Pruned:
		// Path fully matched but the content was intentionally withheld;
		// the caller asked for a concrete value, so this is an error, not
		// the Unknown outcome lookup_subtree reports for mid-path pruning.
		return 0, nil, ErrUnexpectedPruned
	default:
		return 0, nil, ErrUnexpectedLeaf
	}
}

// LookupSubtree is LookupPath's counterpart for callers that want the
// terminal subtree node itself rather than requiring it to be a Leaf.
func LookupSubtree(path [][]byte, t *Node) (LookupResult, *Node, error) {
	return lookupSubtree(path, t)
}

func lookupSubtree(path [][]byte, t *Node) (LookupResult, *Node, error) {
	if len(path) == 0 {
		return Found, t, nil
	}
	if t == nil {
		return Absent, nil, nil
	}
	switch t.Kind {
	case Empty:
		return Absent, nil, nil
	case Leaf:
		return 0, nil, ErrUnexpectedLeaf
	case Pruned:
		return Unknown, nil, nil
	case Labeled:
		if bytes.Equal(t.Label, path[0]) {
			return lookupSubtree(path[1:], t.Sub)
		}
		return Absent, nil, nil
	case Fork:
		flat, err := flattenLabeled(t)
		if err != nil {
			return 0, nil, err
		}
		return lookupAmongLabeled(path, flat)
	default:
		return Absent, nil, nil
	}
}

// labelled is one entry of a flattened run of Fork/Labeled siblings,
// produced by FlattenForks.
type Labelled struct {
	Label []byte
	Sub   *Node
}

// FlattenForks walks a run of nested Fork nodes and returns the ordered
// sequence of Labeled children they hold. Non-Labeled, non-Fork children
// (an Empty or Pruned fork arm) are skipped; a Leaf child is an error
// since a well-formed fork of labelled children never holds a bare leaf.
func FlattenForks(t *Node) ([]Labelled, error) {
	return flattenLabeled(t)
}

func flattenLabeled(t *Node) ([]Labelled, error) {
	if t == nil {
		return nil, nil
	}
	switch t.Kind {
	case Fork:
		left, err := flattenLabeled(t.Left)
		if err != nil {
			return nil, err
		}
		right, err := flattenLabeled(t.Right)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	case Labeled:
		return []Labelled{{Label: t.Label, Sub: t.Sub}}, nil
	case Empty, Pruned:
		return nil, nil
	case Leaf:
		return nil, ErrUnexpectedLeaf
	default:
		return nil, nil
	}
}

// lookupAmongLabeled finds path[0] among a flattened run of labelled
// siblings. Entries are expected in ascending label order, as the wire
// encoding produces; a label strictly between two sibling labels (or
// outside the full range) proves Absent. A Pruned sibling whose label
// range could contain path[0] yields Unknown, since the tree withheld the
// information needed to decide.
func lookupAmongLabeled(path [][]byte, entries []Labelled) (LookupResult, *Node, error) {
	if len(path) == 0 {
		return Absent, nil, nil
	}
	for _, e := range entries {
		switch bytes.Compare(e.Label, path[0]) {
		case 0:
			return lookupSubtree(path[1:], e.Sub)
		case 1:
			// entries are ascending; passed the insertion point without a match
			return Absent, nil, nil
		}
	}
	return Absent, nil, nil
}

// ValidatePathSegment checks that a label used as a path segment is valid
// UTF-8, required at labelled-encoding boundaries.
func ValidatePathSegment(seg []byte) error {
	if !utf8.Valid(seg) {
		return ErrInvalidPathSegment
	}
	return nil
}
