package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	b := NewOwning([]byte("object0"), Byte)
	packed := b.Pack(true)
	require.Equal(t, b.PackSize(true), len(packed))

	got, n, err := Unpack(packed, true)
	require.NoError(t, err)
	require.Equal(t, len(packed), n)
	require.True(t, got.IsOwning())
	require.True(t, b.Equal(got))
}

func TestUnpackRefAliasesInput(t *testing.T) {
	b := NewOwning([]byte("sub0"), Byte)
	packed := b.Pack(false)

	ref, n, err := UnpackRef(packed, false)
	require.NoError(t, err)
	require.Equal(t, len(packed), n)
	require.False(t, ref.IsOwning())
	require.True(t, b.Equal(ref))
	require.Same(t, &packed[8], &ref.Bytes()[0], "UnpackRef must alias packed's body, not a copy of it")
}

func TestUnpackTruncated(t *testing.T) {
	_, _, err := Unpack([]byte{1, 2, 3}, true)
	require.Error(t, err)

	b := NewOwning([]byte("abc"), Byte)
	packed := b.Pack(true)
	_, _, err = Unpack(packed[:len(packed)-2], true)
	require.Error(t, err)
}

func TestEqualityIgnoresOwnership(t *testing.T) {
	data := []byte("hello")
	owning := NewOwning(data, Byte)
	referencing := NewReferencing(data, Byte)
	require.True(t, owning.Equal(referencing))
}

func TestRefDoesNotCopy(t *testing.T) {
	data := []byte("hello")
	owning := NewOwning(data, Byte)
	ref := owning.Ref()
	require.False(t, ref.IsOwning())
	require.Same(t, &owning.Bytes()[0], &ref.Bytes()[0])
}

func TestEmptyBlobPointerMayBeNil(t *testing.T) {
	b := NewOwning(nil, Invalid)
	require.True(t, b.Empty())
	require.Equal(t, 0, b.Len())
}
