// Package shuffle implements the destination-grouping stage of spec.md
// §4.6: given a batch of (subject, predicate) pairs and a hash
// function, bucket their indices by destination datastore id into
// bulk-sized packets, respecting the batch's destination-count bound.
package shuffle

import (
	"errors"

	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/placement"
)

// ErrNoSpace is returned once a Plan would need to open more
// destination packets than MaxDestinationsPerBatch allows; the caller
// flushes what it already has and calls Plan again for the remainder.
var ErrNoSpace = errors.New("shuffle: max destinations per batch exceeded")

// Shuffler buckets triple indices by the destination a hash function
// assigns them to.
type Shuffler struct {
	hash                    placement.Func
	hashArgs                interface{}
	maxOpsPerSend           int
	maxDestinationsPerBatch int
}

// New returns a Shuffler using hash (with hashArgs) for placement,
// bounding each per-destination packet to maxOpsPerSend entries and
// each Plan to maxDestinationsPerBatch distinct destinations.
func New(hash placement.Func, hashArgs interface{}, maxOpsPerSend, maxDestinationsPerBatch int) *Shuffler {
	return &Shuffler{
		hash:                    hash,
		hashArgs:                hashArgs,
		maxOpsPerSend:           maxOpsPerSend,
		maxDestinationsPerBatch: maxDestinationsPerBatch,
	}
}

// Plan is the result of bucketing one batch of triples.
type Plan struct {
	// Packets maps a destination datastore id to one or more index
	// batches into the caller's subjects/predicates slices, each batch
	// holding at most maxOpsPerSend indices, in submission order.
	Packets map[int64][][]int

	// Errors holds indices the hash function rejected (negative
	// result), per spec.md §4.5 — the caller reports these as
	// per-triple Error results and drops them.
	Errors []int

	// Remaining holds indices not yet placed because the batch would
	// have exceeded maxDestinationsPerBatch; non-empty only alongside
	// ErrNoSpace.
	Remaining []int
}

// Plan buckets every index of subjects/predicates by destination. If
// placing an index would open a (maxDestinationsPerBatch+1)th
// destination, it stops early: the returned Plan covers everything
// placed so far, Remaining holds the rest, and the error is
// ErrNoSpace. The caller is expected to flush Plan, then call Plan
// again on Remaining.
func (s *Shuffler) Plan(subjects, predicates []blob.Blob) (Plan, error) {
	plan := Plan{Packets: make(map[int64][][]int)}

	for i := range subjects {
		dst := s.hash(subjects[i], predicates[i], s.hashArgs)
		if dst < 0 {
			plan.Errors = append(plan.Errors, i)
			continue
		}

		batches, exists := plan.Packets[dst]
		if !exists && len(plan.Packets) >= s.maxDestinationsPerBatch {
			plan.Remaining = append(plan.Remaining, remainingIndices(i, len(subjects))...)
			return plan, ErrNoSpace
		}

		if !exists || len(batches[len(batches)-1]) >= s.maxOpsPerSend {
			batches = append(batches, make([]int, 0, s.maxOpsPerSend))
		}
		last := len(batches) - 1
		batches[last] = append(batches[last], i)
		plan.Packets[dst] = batches
	}

	return plan, nil
}

func remainingIndices(from, n int) []int {
	rem := make([]int, 0, n-from)
	for i := from; i < n; i++ {
		rem = append(rem, i)
	}
	return rem
}

// Location resolves a destination datastore id to its owning server
// rank and local index, per spec.md §4.5.
func Location(id int64, datastoresPerServer int64) placement.Location {
	return placement.Split(id, datastoresPerServer)
}
