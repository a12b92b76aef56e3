// Package resultset implements the linked, iterable, appendable sequence
// of per-triple outcomes described in spec.md §4.9: forward-only
// iteration via a cursor, and an Append that moves nodes out of the
// source set, emptying it.
package resultset

import "github.com/hxhim/hxhim-go/pkg/blob"

// Kind identifies which client operation a Node reports on.
type Kind uint8

const (
	Put Kind = iota
	Get
	GetOp
	Delete
	Sync
	HistogramResult
)

// Status is the outcome of a single operation. Unset must never appear
// in a ResultSet returned to a caller; it exists only as internal
// staging inside the datastore adapter.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusError
	StatusUnset
)

// Row is a single matched (subject, predicate, object) triple returned
// by a GetOp scan.
type Row struct {
	Subject   blob.Blob
	Predicate blob.Blob
	Object    blob.Blob
}

// Node is one tagged result in a ResultSet.
type Node struct {
	Kind        Kind
	Status      Status
	DatastoreID int64

	Subject   blob.Blob
	Predicate blob.Blob

	// Get-only.
	Object blob.Blob

	// GetOp-only.
	Rows []Row

	// Histogram-only.
	Name    string
	Buckets []float64
	Counts  []uint64

	next *Node
}

// Set is a forward-only linked sequence of Nodes with one cursor.
type Set struct {
	head   *Node
	tail   *Node
	size   int
	cursor *Node
	began  bool
}

// New returns an empty result set.
func New() *Set { return &Set{} }

// Append adds a single node to the tail of the set.
func (s *Set) Append(n *Node) {
	if n == nil {
		return
	}
	n.next = nil
	if s.tail == nil {
		s.head = n
		s.tail = n
	} else {
		s.tail.next = n
		s.tail = n
	}
	s.size++
	s.cursor = nil
	s.began = false
}

// AppendSet moves every node from other into s, leaving other empty, per
// spec.md §4.9. Appending an empty set is a no-op. The cursors of both
// sets are invalidated; callers must call GoToHead again before
// iterating either.
func (s *Set) AppendSet(other *Set) {
	if other == nil || other.head == nil {
		return
	}
	if s.tail == nil {
		s.head = other.head
	} else {
		s.tail.next = other.head
	}
	s.tail = other.tail
	s.size += other.size

	other.head = nil
	other.tail = nil
	other.size = 0
	other.cursor = nil
	other.began = false

	s.cursor = nil
	s.began = false
}

// Size returns the number of nodes currently in the set.
func (s *Set) Size() int { return s.size }

// Valid reports whether the set currently holds any nodes. Per spec.md
// §4.9, a moved-from set is empty, so Valid() is false after it has been
// the source of AppendSet.
func (s *Set) Valid() bool { return s.head != nil }

// GoToHead resets the iteration cursor to the first node. Must be called
// before the first Next() and again after any Append/AppendSet call.
func (s *Set) GoToHead() {
	s.cursor = s.head
	s.began = false
}

// Next advances the cursor and returns the node it now points to, or nil
// once iteration is exhausted. Call GoToHead first.
func (s *Set) Next() *Node {
	if !s.began {
		s.began = true
		return s.cursor
	}
	if s.cursor == nil {
		return nil
	}
	s.cursor = s.cursor.next
	return s.cursor
}

// Current returns the node the cursor currently points to without
// advancing: the head node right after GoToHead, or nil before the first
// GoToHead or once iteration is exhausted.
func (s *Set) Current() *Node { return s.cursor }

// Each walks every node in order from head to tail without disturbing
// the iteration cursor, calling fn for each.
func (s *Set) Each(fn func(*Node)) {
	for n := s.head; n != nil; n = n.next {
		fn(n)
	}
}
