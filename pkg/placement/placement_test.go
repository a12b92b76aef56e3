package placement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/pkg/blob"
)

func TestSplit(t *testing.T) {
	loc := Split(5, 2)
	require.EqualValues(t, 2, loc.ServerRank)
	require.EqualValues(t, 1, loc.LocalIndex)
}

func TestRankModDatastoresIsDeterministic(t *testing.T) {
	s := blob.NewOwning([]byte("sub0"), blob.Byte)
	p := blob.NewOwning([]byte("pred0"), blob.Byte)
	args := ModArgs{TotalDatastores: 4}

	first := RankModDatastores(s, p, args)
	second := RankModDatastores(s, p, args)
	require.Equal(t, first, second)
	require.GreaterOrEqual(t, first, int64(0))
	require.Less(t, first, int64(4))
}

func TestRankModDatastoresBadArgsIsNegative(t *testing.T) {
	s := blob.NewOwning([]byte("s"), blob.Byte)
	p := blob.NewOwning([]byte("p"), blob.Byte)
	require.Equal(t, int64(-1), RankModDatastores(s, p, nil))
	require.Equal(t, int64(-1), RankModDatastores(s, p, ModArgs{TotalDatastores: 0}))
}

func TestSumOfBytesModDatastores(t *testing.T) {
	s := blob.NewOwning([]byte{1, 2, 3}, blob.Byte)
	p := blob.NewOwning([]byte{4}, blob.Byte)
	got := SumOfBytesModDatastores(s, p, ModArgs{TotalDatastores: 5})
	require.Equal(t, int64((1+2+3+4)%5), got)
}

func TestNeighbours(t *testing.T) {
	args := NeighbourArgs{OwnID: 0, TotalDatastores: 3}
	require.Equal(t, int64(2), LeftNeighbour(blob.Blob{}, blob.Blob{}, args))
	require.Equal(t, int64(1), RightNeighbour(blob.Blob{}, blob.Blob{}, args))
}
