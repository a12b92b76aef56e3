// Package histogram implements the per-datastore numeric histogram
// subsystem of spec.md §4.3: values are cached until a generation
// threshold is reached, at which point a pluggable bucket generator
// produces the bucket edges once and all subsequent inserts are binary
// searched into them.
package histogram

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Generator produces strictly increasing bucket edges from the cached
// values seen so far. Values at or above the last edge are counted in the
// last bucket; per spec.md §9 Open Questions this implementation
// requires generators to return at least two strictly increasing edges
// and validates that contract at generation time.
type Generator func(cache []float64, extra interface{}) ([]float64, error)

// Histogram accumulates float64 values and lazily buckets them.
type Histogram struct {
	name      string
	firstN    int
	gen       Generator
	genArgs   interface{}
	cache     []float64
	buckets   []float64
	counts    []uint64
	total     uint64
	dropped   uint64
	generated bool
}

// New creates a Histogram that caches up to firstN values before calling
// gen(cache, args) to produce buckets.
func New(name string, firstN int, gen Generator, args interface{}) *Histogram {
	return &Histogram{
		name:    name,
		firstN:  firstN,
		gen:     gen,
		genArgs: args,
	}
}

func (h *Histogram) Name() string { return h.name }

// Insert adds x to the histogram, per spec.md §4.3: while the bucket
// vector is empty, cache x; once the cache reaches firstN, generate
// buckets once, drain the cache into counts, then count x as usual.
func (h *Histogram) Insert(x float64) error {
	if !h.generated {
		h.cache = append(h.cache, x)
		if len(h.cache) >= h.firstN {
			if err := h.generate(); err != nil {
				return err
			}
		}
		return nil
	}
	h.count(x)
	return nil
}

// Finalize forces bucket generation from whatever is currently cached,
// even if firstN has not been reached. A no-op once buckets already
// exist.
func (h *Histogram) Finalize() error {
	if h.generated {
		return nil
	}
	return h.generate()
}

func (h *Histogram) generate() error {
	edges, err := h.gen(h.cache, h.genArgs)
	if err != nil {
		return fmt.Errorf("histogram %q: bucket generator: %w", h.name, err)
	}
	if len(edges) < 2 {
		return fmt.Errorf("histogram %q: bucket generator returned %d edges, need >= 2", h.name, len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return fmt.Errorf("histogram %q: bucket edges must be strictly increasing", h.name)
		}
	}
	h.buckets = edges
	h.counts = make([]uint64, len(edges)-1)
	h.generated = true

	pending := h.cache
	h.cache = nil
	for _, v := range pending {
		h.count(v)
	}
	return nil
}

// count increments the bucket whose left edge is the largest edge <= x,
// per spec.md §4.3. Values below the first edge are dropped and recorded
// in the (non-persisted) drop counter.
func (h *Histogram) count(x float64) {
	// b_{i-1} <= x < b_i  =>  bucket index i-1, for i in [1, len(buckets)-1]
	if x < h.buckets[0] {
		h.dropped++
		return
	}
	// largest index j such that buckets[j] <= x
	j := sort.Search(len(h.buckets), func(i int) bool { return h.buckets[i] > x }) - 1
	if j < 0 {
		h.dropped++
		return
	}
	if j >= len(h.counts) {
		j = len(h.counts) - 1
	}
	h.counts[j]++
	h.total++
}

// Buckets returns the generated bucket edges, or nil if none have been
// generated yet.
func (h *Histogram) Buckets() []float64 {
	if len(h.buckets) == 0 {
		return nil
	}
	out := make([]float64, len(h.buckets))
	copy(out, h.buckets)
	return out
}

// Counts returns the per-bucket counts, or nil if no buckets exist yet.
func (h *Histogram) Counts() []uint64 {
	if len(h.counts) == 0 {
		return nil
	}
	out := make([]uint64, len(h.counts))
	copy(out, h.counts)
	return out
}

// Total returns the number of values successfully counted into a bucket.
func (h *Histogram) Total() uint64 { return h.total }

// Dropped returns the number of inserted values that fell below the
// first bucket edge and were therefore not counted.
func (h *Histogram) Dropped() uint64 { return h.dropped }

// Clear resets the histogram to its initial, pre-generation state.
func (h *Histogram) Clear() {
	h.cache = nil
	h.buckets = nil
	h.counts = nil
	h.total = 0
	h.dropped = 0
	h.generated = false
}

// Pack serializes the histogram per spec.md §4.3:
//
//	name ‖ first_n ‖ cache_len ‖ cache_values ‖ bucket_count ‖ buckets ‖ counts ‖ total_count
func (h *Histogram) Pack() []byte {
	var buf []byte
	buf = appendU64(buf, uint64(len(h.name)))
	buf = append(buf, h.name...)
	buf = appendU64(buf, uint64(h.firstN))

	buf = appendU64(buf, uint64(len(h.cache)))
	for _, v := range h.cache {
		buf = appendF64(buf, v)
	}

	buf = appendU64(buf, uint64(len(h.buckets)))
	for _, v := range h.buckets {
		buf = appendF64(buf, v)
	}
	for _, c := range h.counts {
		buf = appendU64(buf, c)
	}
	buf = appendU64(buf, h.total)
	return buf
}

// Unpack restores a Histogram from Pack's wire format. If the packed form
// carries generated buckets (bucket_count > 0) they are restored
// directly; otherwise the cache is restored for later generation via gen.
func Unpack(data []byte, gen Generator, args interface{}) (*Histogram, error) {
	r := &reader{buf: data}

	nameLen, err := r.u64()
	if err != nil {
		return nil, err
	}
	name, err := r.bytes(int(nameLen))
	if err != nil {
		return nil, err
	}
	firstN, err := r.u64()
	if err != nil {
		return nil, err
	}

	cacheLen, err := r.u64()
	if err != nil {
		return nil, err
	}
	cache := make([]float64, cacheLen)
	for i := range cache {
		v, err := r.f64()
		if err != nil {
			return nil, err
		}
		cache[i] = v
	}

	bucketCount, err := r.u64()
	if err != nil {
		return nil, err
	}
	buckets := make([]float64, bucketCount)
	for i := range buckets {
		v, err := r.f64()
		if err != nil {
			return nil, err
		}
		buckets[i] = v
	}

	var counts []uint64
	if bucketCount > 0 {
		counts = make([]uint64, bucketCount-1)
		for i := range counts {
			c, err := r.u64()
			if err != nil {
				return nil, err
			}
			counts[i] = c
		}
	}

	total, err := r.u64()
	if err != nil {
		return nil, err
	}

	h := &Histogram{
		name:   string(name),
		firstN: int(firstN),
		gen:    gen,
		genArgs: args,
		cache:  cache,
		total:  total,
	}
	if bucketCount > 0 {
		h.buckets = buckets
		h.counts = counts
		h.generated = true
		h.cache = nil
	}
	return h, nil
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendF64(buf []byte, v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u64() (uint64, error) {
	if len(r.buf)-r.pos < 8 {
		return 0, fmt.Errorf("histogram: truncated u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) f64() (float64, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if len(r.buf)-r.pos < n {
		return nil, fmt.Errorf("histogram: truncated bytes")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}
