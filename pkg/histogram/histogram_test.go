package histogram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertGeneratesAfterFirstN(t *testing.T) {
	const count = 5
	gen := FixedEdgesGenerator([]float64{0, 1000})
	h := New("doubles", count-1, gen, nil)

	for i := 0; i < count; i++ {
		require.NoError(t, h.Insert(float64(2*i)))
	}

	require.Equal(t, []float64{0, 1000}, h.Buckets())
	require.EqualValues(t, count, h.Total())
	require.EqualValues(t, []uint64{count}, h.Counts())
}

func TestInsertBelowFirstBucketIsDropped(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{10, 20, 30})
	h := New("h", 1, gen, nil)
	require.NoError(t, h.Insert(5)) // triggers generation with cache=[5]
	require.NoError(t, h.Insert(5)) // below buckets[0]=10
	require.EqualValues(t, 2, h.Dropped())
}

func TestCountConservation(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{0, 10, 20, 30})
	h := New("h", 2, gen, nil)
	values := []float64{1, 5, 11, 19, 25, -3}
	for _, v := range values {
		require.NoError(t, h.Insert(v))
	}
	var sum uint64
	for _, c := range h.Counts() {
		sum += c
	}
	require.Equal(t, h.Total(), sum)
	require.Equal(t, uint64(len(values))-h.Dropped(), sum)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{0, 10, 20})
	h := New("predicate-latency", 2, gen, nil)
	for _, v := range []float64{1, 11, 5} {
		require.NoError(t, h.Insert(v))
	}

	packed := h.Pack()
	restored, err := Unpack(packed, gen, nil)
	require.NoError(t, err)

	require.Equal(t, h.Name(), restored.Name())
	require.Equal(t, h.Buckets(), restored.Buckets())
	require.Equal(t, h.Counts(), restored.Counts())
	require.Equal(t, h.Total(), restored.Total())
}

func TestPackUnpackPreGenerationCache(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{0, 10})
	h := New("h", 10, gen, nil)
	require.NoError(t, h.Insert(1))
	require.NoError(t, h.Insert(2))

	packed := h.Pack()
	restored, err := Unpack(packed, gen, nil)
	require.NoError(t, err)
	require.Nil(t, restored.Buckets())
	require.NoError(t, restored.Insert(3)) // still accumulating cache
}

func TestClearResets(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{0, 10})
	h := New("h", 1, gen, nil)
	require.NoError(t, h.Insert(1))
	require.NoError(t, h.Insert(2))
	h.Clear()
	require.Nil(t, h.Buckets())
	require.EqualValues(t, 0, h.Total())
	require.EqualValues(t, 0, h.Dropped())
}

func TestGeneratorMustReturnAtLeastTwoEdges(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{0})
	h := New("h", 1, gen, nil)
	require.Error(t, h.Insert(1))
}

func TestGeneratorMustBeStrictlyIncreasing(t *testing.T) {
	gen := FixedEdgesGenerator([]float64{0, 0, 5})
	h := New("h", 1, gen, nil)
	require.Error(t, h.Insert(1))
}

func TestUniformGenerator(t *testing.T) {
	edges, err := UniformGenerator(nil, UniformArgs{Buckets: 10, Min: 0, Max: 100})
	require.NoError(t, err)
	require.Len(t, edges, 11)
	require.Equal(t, 0.0, edges[0])
	require.Equal(t, 100.0, edges[10])
}
