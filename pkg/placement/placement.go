// Package placement implements the hash/placement functions of spec.md
// §4.5: a deterministic map from (subject, predicate) to a range-server
// datastore id, split into (server_rank, local_datastore_index).
package placement

import (
	"github.com/cespare/xxhash/v2"

	"github.com/hxhim/hxhim-go/pkg/blob"
)

// Func computes the destination datastore id for (subject, predicate).
// A negative return means the triple cannot be placed; callers must
// surface a HashNegative error per spec.md §7.
type Func func(subject, predicate blob.Blob, args interface{}) int64

// Location is the (server_rank, local_datastore_index) pair a datastore
// id splits into.
type Location struct {
	ServerRank int64
	LocalIndex int64
}

// Split divides a datastore id into its owning rank and local index.
func Split(id int64, datastoresPerServer int64) Location {
	if datastoresPerServer <= 0 {
		datastoresPerServer = 1
	}
	return Location{
		ServerRank: id / datastoresPerServer,
		LocalIndex: id % datastoresPerServer,
	}
}

// RankLocalArgs parametrizes RankLocal: every triple submitted by a
// client stays on that client's own rank.
type RankLocalArgs struct {
	OwnRank             int64
	DatastoresPerServer int64
}

// RankLocal always returns a datastore id local to the submitting rank,
// its first local datastore.
func RankLocal(_, _ blob.Blob, args interface{}) int64 {
	a, ok := args.(RankLocalArgs)
	if !ok {
		return -1
	}
	return a.OwnRank * a.DatastoresPerServer
}

// ModArgs parametrizes RankModDatastores and SumOfBytesModDatastores.
type ModArgs struct {
	TotalDatastores int64
}

// RankModDatastores hashes subject||predicate with xxhash and reduces it
// modulo the total datastore count.
func RankModDatastores(subject, predicate blob.Blob, args interface{}) int64 {
	a, ok := args.(ModArgs)
	if !ok || a.TotalDatastores <= 0 {
		return -1
	}
	h := xxhash.New()
	_, _ = h.Write(subject.Bytes())
	_, _ = h.Write(predicate.Bytes())
	return int64(h.Sum64() % uint64(a.TotalDatastores))
}

// SumOfBytesModDatastores reduces the byte-sum of subject||predicate
// modulo the total datastore count. Simpler and less uniform than
// RankModDatastores; kept for parity with the built-ins spec.md §4.5
// names explicitly.
func SumOfBytesModDatastores(subject, predicate blob.Blob, args interface{}) int64 {
	a, ok := args.(ModArgs)
	if !ok || a.TotalDatastores <= 0 {
		return -1
	}
	var sum uint64
	for _, b := range subject.Bytes() {
		sum += uint64(b)
	}
	for _, b := range predicate.Bytes() {
		sum += uint64(b)
	}
	return int64(sum % uint64(a.TotalDatastores))
}

// NeighbourArgs parametrizes LeftNeighbour and RightNeighbour.
type NeighbourArgs struct {
	OwnID           int64
	TotalDatastores int64
}

// LeftNeighbour places every triple one datastore id to the left
// (wrapping), regardless of content — useful for forcing cross-rank
// traffic in tests.
func LeftNeighbour(_, _ blob.Blob, args interface{}) int64 {
	a, ok := args.(NeighbourArgs)
	if !ok || a.TotalDatastores <= 0 {
		return -1
	}
	return ((a.OwnID-1)%a.TotalDatastores + a.TotalDatastores) % a.TotalDatastores
}

// RightNeighbour places every triple one datastore id to the right
// (wrapping).
func RightNeighbour(_, _ blob.Blob, args interface{}) int64 {
	a, ok := args.(NeighbourArgs)
	if !ok || a.TotalDatastores <= 0 {
		return -1
	}
	return (a.OwnID + 1) % a.TotalDatastores
}
