package resultset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndIterate(t *testing.T) {
	s := New()
	s.Append(&Node{Kind: Put, Status: StatusSuccess})
	s.Append(&Node{Kind: Get, Status: StatusError})

	require.Equal(t, 2, s.Size())
	require.True(t, s.Valid())

	s.GoToHead()
	n := s.Next()
	require.NotNil(t, n)
	require.Equal(t, Put, n.Kind)

	n = s.Next()
	require.NotNil(t, n)
	require.Equal(t, Get, n.Kind)

	require.Nil(t, s.Next())
}

func TestAppendNilIsNoOp(t *testing.T) {
	s := New()
	s.Append(nil)
	require.Equal(t, 0, s.Size())
	require.False(t, s.Valid())
}

func TestAppendSetMovesNodesAndEmptiesSource(t *testing.T) {
	a := New()
	a.Append(&Node{Kind: Put})
	b := New()
	b.Append(&Node{Kind: Get})
	b.Append(&Node{Kind: Delete})

	a.AppendSet(b)

	require.Equal(t, 3, a.Size())
	require.False(t, b.Valid())
	require.Equal(t, 0, b.Size())

	var kinds []Kind
	a.Each(func(n *Node) { kinds = append(kinds, n.Kind) })
	require.Equal(t, []Kind{Put, Get, Delete}, kinds)
}

func TestAppendEmptySetIsNoOp(t *testing.T) {
	a := New()
	a.Append(&Node{Kind: Put})
	b := New()
	a.AppendSet(b)
	require.Equal(t, 1, a.Size())
}

func TestCurrentBeforeGoToHeadIsNil(t *testing.T) {
	s := New()
	s.Append(&Node{Kind: Put})
	require.Nil(t, s.Current())
}

func TestEachDoesNotDisturbCursor(t *testing.T) {
	s := New()
	s.Append(&Node{Kind: Put})
	s.Append(&Node{Kind: Get})
	s.GoToHead()
	s.Next()

	var visited int
	s.Each(func(*Node) { visited++ })
	require.Equal(t, 2, visited)
	require.Equal(t, Put, s.Current().Kind)
}
