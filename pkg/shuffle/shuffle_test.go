package shuffle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/pkg/blob"
)

func sblob(s string) blob.Blob { return blob.NewOwning([]byte(s), blob.Byte) }

// fixedHash routes every triple to the destination named by its
// subject's first byte, so tests can control bucketing precisely.
func fixedHash(subject, _ blob.Blob, _ interface{}) int64 {
	b := subject.Bytes()
	if len(b) == 0 {
		return -1
	}
	return int64(b[0])
}

func TestPlanBucketsByDestination(t *testing.T) {
	s := New(fixedHash, nil, 10, 10)
	subs := []blob.Blob{sblob("a"), sblob("b"), sblob("a")}
	preds := []blob.Blob{sblob("p1"), sblob("p2"), sblob("p3")}

	plan, err := s.Plan(subs, preds)
	require.NoError(t, err)
	require.Len(t, plan.Packets, 2)
	require.Equal(t, [][]int{{0, 2}}, plan.Packets[int64('a')])
	require.Equal(t, [][]int{{1}}, plan.Packets[int64('b')])
	require.Empty(t, plan.Errors)
}

func TestPlanSplitsOversizedPacket(t *testing.T) {
	s := New(fixedHash, nil, 2, 10)
	subs := []blob.Blob{sblob("a"), sblob("a"), sblob("a")}
	preds := []blob.Blob{sblob("p"), sblob("p"), sblob("p")}

	plan, err := s.Plan(subs, preds)
	require.NoError(t, err)
	require.Equal(t, [][]int{{0, 1}, {2}}, plan.Packets[int64('a')])
}

func TestPlanReportsNegativeHashAsError(t *testing.T) {
	s := New(fixedHash, nil, 10, 10)
	subs := []blob.Blob{sblob(""), sblob("a")}
	preds := []blob.Blob{sblob("p"), sblob("p")}

	plan, err := s.Plan(subs, preds)
	require.NoError(t, err)
	require.Equal(t, []int{0}, plan.Errors)
	require.Equal(t, [][]int{{1}}, plan.Packets[int64('a')])
}

func TestPlanStopsAtMaxDestinations(t *testing.T) {
	s := New(fixedHash, nil, 10, 1)
	subs := []blob.Blob{sblob("a"), sblob("b")}
	preds := []blob.Blob{sblob("p"), sblob("p")}

	plan, err := s.Plan(subs, preds)
	require.True(t, errors.Is(err, ErrNoSpace))
	require.Len(t, plan.Packets, 1)
	require.Equal(t, []int{1}, plan.Remaining)
}

func TestLocationSplitsDatastoreID(t *testing.T) {
	loc := Location(5, 2)
	require.Equal(t, int64(2), loc.ServerRank)
	require.Equal(t, int64(1), loc.LocalIndex)
}
