package histogram

import (
	"fmt"
	"math"
)

// UniformArgs parametrizes UniformGenerator: a fixed bucket count spread
// evenly across [Min, Max).
type UniformArgs struct {
	Buckets int
	Min     float64
	Max     float64
}

// UniformGenerator builds Buckets evenly spaced edges over [Min, Max),
// ignoring the cache. The built-ins named in spec.md §4.3 (10, 100, 1000
// buckets) are UniformGenerator instantiated with those counts.
func UniformGenerator(_ []float64, extra interface{}) ([]float64, error) {
	args, ok := extra.(UniformArgs)
	if !ok {
		return nil, fmt.Errorf("histogram: UniformGenerator needs UniformArgs")
	}
	if args.Buckets < 1 || args.Max <= args.Min {
		return nil, fmt.Errorf("histogram: invalid UniformArgs %+v", args)
	}
	edges := make([]float64, args.Buckets+1)
	step := (args.Max - args.Min) / float64(args.Buckets)
	for i := range edges {
		edges[i] = args.Min + step*float64(i)
	}
	return edges, nil
}

// Log2Generator buckets the observed cache range into exponentially
// growing powers-of-two edges.
func Log2Generator(cache []float64, _ interface{}) ([]float64, error) {
	return logGenerator(cache, 2)
}

// Log10Generator buckets the observed cache range into exponentially
// growing powers-of-ten edges.
func Log10Generator(cache []float64, _ interface{}) ([]float64, error) {
	return logGenerator(cache, 10)
}

func logGenerator(cache []float64, base float64) ([]float64, error) {
	maxVal := 0.0
	for _, v := range cache {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal <= 0 {
		maxVal = base
	}
	topExp := int(math.Ceil(math.Log(maxVal) / math.Log(base)))
	edges := []float64{0}
	for e := 0; e <= topExp; e++ {
		edges = append(edges, math.Pow(base, float64(e)))
	}
	if len(edges) < 2 {
		edges = append(edges, base)
	}
	return edges, nil
}

// FixedEdgesGenerator returns a generator that ignores the cache entirely
// and always produces the given edges. Used for tests and for the
// scenario in spec.md §8 ("one bucket at 0").
func FixedEdgesGenerator(edges []float64) Generator {
	cp := make([]float64, len(edges))
	copy(cp, edges)
	return func(_ []float64, _ interface{}) ([]float64, error) {
		return cp, nil
	}
}
