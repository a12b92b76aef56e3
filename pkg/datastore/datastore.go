// Package datastore defines the abstract adapter contract of spec.md
// §4.4: Open/Close/Usable/Sync plus the four bulk operations, and owns
// the per-datastore histogram table. Concrete backends (inmemory,
// persistent) implement the ordered byte-keyed Engine this package
// drives; Adapter itself owns the triple codec, type-byte handling,
// histogram table, and event log shared by every backend.
package datastore

import (
	"fmt"
	"sync"
	"time"

	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/internal/metrics"
	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/histogram"
	"github.com/hxhim/hxhim-go/pkg/triple"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

// histogramSubject is the reserved literal subject under which packed
// histograms are persisted, per spec.md §3. Per spec.md §9 Open
// Questions this implementation reserves the literal from the caller's
// own namespace: a client Put with subject "HISTOGRAM" is rejected by
// the adapter rather than silently colliding with histogram storage.
const histogramSubject = "HISTOGRAM"

// state is the adapter's lifecycle state machine of spec.md §4.4.
type state uint8

const (
	stateCreated state = iota
	stateUsable
	stateClosed
)

// ScanSpec is one ordered-scan request handed to Engine.Scan, matching
// the seek semantics of spec.md §4.4's BGetOp table.
type ScanSpec struct {
	Op      wire.ScanOp
	Key     []byte // exact seek key; unused for FIRST/LAST
	Prefix  []byte // subject||predicate||0xFF; only for LOWEST/HIGHEST
	NumRecs uint64
}

// Row is one matched (key, value) pair returned from a scan, before the
// triple codec has split the key back into subject/predicate.
type Row struct {
	Key   []byte
	Value []byte
}

// Engine is the ordered byte-keyed storage contract a concrete backend
// provides. Adapter drives Engine directly with already-encoded keys
// and values; Engine never sees a Blob or a triple.
type Engine interface {
	Open(name string) error
	Close() error
	Usable() bool
	Sync() error

	// BatchPut writes every (key, value) pair. Implementations that
	// support atomic multi-key writes (the persistent backend) commit
	// them as one transaction and report a single ok/err for the whole
	// batch; per spec.md §4.4 a failed batch write stamps every entry
	// Error.
	BatchPut(keys, values [][]byte) error

	// Get returns the raw stored value for key, or found=false on miss.
	Get(key []byte) (value []byte, found bool, err error)

	// Scan executes one ScanSpec and returns up to NumRecs matching rows
	// in the order spec.md §4.4 specifies for spec.Op.
	Scan(spec ScanSpec) ([]Row, error)

	// BatchDelete deletes every key; deleting an absent key is not an
	// error (spec.md §4.4).
	BatchDelete(keys [][]byte) error
}

// event is one entry in the adapter's per-operation stats log, per
// spec.md §4.4 ("records per-event size, count and start/end
// timestamps").
type event struct {
	Op        wire.OpKind
	Count     int
	Size      int
	StartedAt time.Time
	EndedAt   time.Time
}

// Adapter is the concrete, stateful datastore handle the range server
// operates against. It is single-threaded per datastore: the owning
// range-server worker serializes every call (spec.md §4.4 Concurrency).
type Adapter struct {
	Rank int64
	ID   int64

	engine Engine
	state  state
	log    *logutil.Logger

	mu         sync.Mutex
	histograms map[string]*histogram.Histogram
	histGen    histogram.Generator
	histGenArg interface{}
	histFirstN int
	events     []event
}

// New wraps engine with the shared adapter state machine.
func New(rank, id int64, engine Engine, histGen histogram.Generator, histGenArg interface{}, histFirstN int) *Adapter {
	return &Adapter{
		Rank:       rank,
		ID:         id,
		engine:     engine,
		state:      stateCreated,
		log:        logutil.Root().New("datastore", id),
		histograms: make(map[string]*histogram.Histogram),
		histGen:    histGen,
		histGenArg: histGenArg,
		histFirstN: histFirstN,
	}
}

// Open transitions Created or Closed -> Usable on success (Closed -> Usable
// is the reopen ChangeHash performs), and leaves the state unchanged on
// failure, per spec.md §4.4's state machine.
func (a *Adapter) Open(name string) error {
	if a.state != stateCreated && a.state != stateClosed {
		return fmt.Errorf("datastore %d: Open called outside Created or Closed state", a.ID)
	}
	if err := a.engine.Open(name); err != nil {
		return fmt.Errorf("datastore %d: open %q: %w", a.ID, name, err)
	}
	a.state = stateUsable
	return nil
}

// Close transitions Usable -> Closed.
func (a *Adapter) Close() error {
	if a.state != stateUsable {
		return nil
	}
	err := a.engine.Close()
	a.state = stateClosed
	return err
}

// Usable reports whether the adapter is open and ready for operations.
func (a *Adapter) Usable() bool {
	return a.state == stateUsable && a.engine.Usable()
}

// Sync flushes the backend engine to stable storage.
func (a *Adapter) Sync() error {
	if !a.Usable() {
		return fmt.Errorf("datastore %d: Sync called while not Usable", a.ID)
	}
	return a.engine.Sync()
}

func (a *Adapter) recordEvent(e event) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
	metrics.ObserveDatastoreOp(a.ID, e.Op.String(), e.Count, e.EndedAt.Sub(e.StartedAt))
}

// Events returns a copy of the recorded per-operation event log.
func (a *Adapter) Events() []event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]event, len(a.events))
	copy(out, a.events)
	return out
}

// BPut encodes and writes every slot, per spec.md §4.4.
func (a *Adapter) BPut(slots []wire.PutSlot) []wire.PutResult {
	start := time.Now()
	results := make([]wire.PutResult, len(slots))
	for i := range results {
		results[i].Status = wire.StatusUnset // internal staging until proven otherwise
	}

	keys := make([][]byte, 0, len(slots))
	vals := make([][]byte, 0, len(slots))
	okIdx := make([]int, 0, len(slots))

	for i, s := range slots {
		if string(s.Subject.Bytes()) == histogramSubject {
			results[i] = wire.PutResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
			continue
		}
		key := triple.Encode(s.Subject, s.Predicate)
		value := triple.AppendType(s.Object)
		keys = append(keys, key)
		vals = append(vals, value)
		okIdx = append(okIdx, i)
	}

	if len(keys) > 0 {
		err := a.engine.BatchPut(keys, vals)
		for _, i := range okIdx {
			if err != nil {
				results[i] = wire.PutResult{Status: wire.StatusError, Subject: slots[i].Subject.Ref(), Predicate: slots[i].Predicate.Ref()}
			} else {
				results[i] = wire.PutResult{Status: wire.StatusSuccess, Subject: slots[i].Subject.Ref(), Predicate: slots[i].Predicate.Ref()}
			}
		}
		if err != nil {
			a.log.Warn("BPut batch failed", "count", len(keys), "err", err)
		}
	}

	a.recordEvent(event{Op: wire.OpPut, Count: len(slots), StartedAt: start, EndedAt: time.Now()})
	return results
}

// BGet reads each slot's object and reports the stored type it
// discovers, logging a warning when it disagrees with the caller's
// requested type (spec.md §4.4).
func (a *Adapter) BGet(slots []wire.GetSlot) []wire.GetResult {
	start := time.Now()
	results := make([]wire.GetResult, len(slots))
	for i, s := range slots {
		key := triple.Encode(s.Subject, s.Predicate)
		stored, found, err := a.engine.Get(key)
		if err != nil || !found {
			results[i] = wire.GetResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
			continue
		}
		objBytes, discovered, serr := triple.StripType(stored)
		if serr != nil {
			results[i] = wire.GetResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
			continue
		}
		if discovered != s.ObjectType {
			a.log.Warn("BGet stored type disagrees with requested type",
				"requested", s.ObjectType, "stored", discovered)
		}
		results[i] = wire.GetResult{
			Status:    wire.StatusSuccess,
			Subject:   s.Subject.Ref(),
			Predicate: s.Predicate.Ref(),
			Object:    blob.NewOwning(objBytes, discovered),
		}
	}
	a.recordEvent(event{Op: wire.OpGet, Count: len(slots), StartedAt: start, EndedAt: time.Now()})
	return results
}

// BGetOp runs the ordered scan described by spec.md §4.4's table for
// each slot.
func (a *Adapter) BGetOp(slots []wire.GetOpSlot) []wire.GetOpResult {
	start := time.Now()
	results := make([]wire.GetOpResult, len(slots))
	for i, s := range slots {
		spec := ScanSpec{Op: s.Op, NumRecs: s.NumRecs}
		switch s.Op {
		case wire.ScanEQ, wire.ScanNEXT, wire.ScanPREV:
			spec.Key = triple.Encode(s.Subject, s.Predicate)
		case wire.ScanLOWEST, wire.ScanHIGHEST:
			spec.Prefix = prefixKey(s.Subject, s.Predicate)
		case wire.ScanFIRST, wire.ScanLAST:
			// no seek key needed
		}

		rows, err := a.engine.Scan(spec)
		if err != nil {
			results[i] = wire.GetOpResult{Status: wire.StatusError}
			continue
		}

		out := make([]wire.Row, 0, len(rows))
		ok := true
		for _, r := range rows {
			k, derr := triple.DecodeCopy(r.Key)
			if derr != nil {
				ok = false
				break
			}
			objBytes, discovered, serr := triple.StripType(r.Value)
			if serr != nil {
				ok = false
				break
			}
			out = append(out, wire.Row{
				Subject:   k.Subject,
				Predicate: k.Predicate,
				Object:    blob.NewOwning(objBytes, discovered),
			})
		}
		if !ok {
			results[i] = wire.GetOpResult{Status: wire.StatusError}
			continue
		}
		results[i] = wire.GetOpResult{Status: wire.StatusSuccess, NumRecs: uint64(len(out)), Rows: out}
	}
	a.recordEvent(event{Op: wire.OpGetOp, Count: len(slots), StartedAt: start, EndedAt: time.Now()})
	return results
}

// BDelete deletes each slot's key. Deleting an absent key is reported as
// success per spec.md §4.4.
func (a *Adapter) BDelete(slots []wire.DeleteSlot) []wire.DeleteResult {
	start := time.Now()
	keys := make([][]byte, len(slots))
	for i, s := range slots {
		keys[i] = triple.Encode(s.Subject, s.Predicate)
	}
	err := a.engine.BatchDelete(keys)

	results := make([]wire.DeleteResult, len(slots))
	for i, s := range slots {
		st := wire.StatusSuccess
		if err != nil {
			st = wire.StatusError
		}
		results[i] = wire.DeleteResult{Status: st, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
	}
	a.recordEvent(event{Op: wire.OpDelete, Count: len(slots), StartedAt: start, EndedAt: time.Now()})
	return results
}

// prefixKey builds subject||predicate||0xFF, the scan prefix used by
// LOWEST and HIGHEST per spec.md §4.4.
func prefixKey(subject, predicate blob.Blob) []byte {
	out := make([]byte, 0, subject.Len()+predicate.Len()+1)
	out = append(out, subject.Bytes()...)
	out = append(out, predicate.Bytes()...)
	out = append(out, 0xFF)
	return out
}

// Histogram returns the named histogram, creating it on first touch.
func (a *Adapter) Histogram(name string) *histogram.Histogram {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.histograms[name]
	if !ok {
		h = histogram.New(name, a.histFirstN, a.histGen, a.histGenArg)
		a.histograms[name] = h
	}
	return h
}

// InsertHistogram records x into the named histogram.
func (a *Adapter) InsertHistogram(name string, x float64) error {
	return a.Histogram(name).Insert(x)
}

// WriteHistograms packs and persists every in-memory histogram under
// key = encode("HISTOGRAM", name), per spec.md §4.4.
func (a *Adapter) WriteHistograms() error {
	a.mu.Lock()
	names := make([]string, 0, len(a.histograms))
	for name := range a.histograms {
		names = append(names, name)
	}
	a.mu.Unlock()

	keys := make([][]byte, 0, len(names))
	vals := make([][]byte, 0, len(names))
	for _, name := range names {
		h := a.Histogram(name)
		sub := blob.NewOwning([]byte(histogramSubject), blob.Byte)
		pred := blob.NewOwning([]byte(name), blob.Byte)
		keys = append(keys, triple.Encode(sub, pred))
		vals = append(vals, h.Pack())
	}
	if len(keys) == 0 {
		return nil
	}
	return a.engine.BatchPut(keys, vals)
}

// ReadHistograms loads only the requested names back from storage,
// silently skipping any that are absent, and returns how many were
// found, per spec.md §4.4.
func (a *Adapter) ReadHistograms(names []string) (found int, err error) {
	sub := blob.NewOwning([]byte(histogramSubject), blob.Byte)
	for _, name := range names {
		pred := blob.NewOwning([]byte(name), blob.Byte)
		key := triple.Encode(sub, pred)
		stored, ok, gerr := a.engine.Get(key)
		if gerr != nil {
			return found, gerr
		}
		if !ok {
			continue
		}
		h, uerr := histogram.Unpack(stored, a.histGen, a.histGenArg)
		if uerr != nil {
			return found, uerr
		}
		a.mu.Lock()
		a.histograms[name] = h
		a.mu.Unlock()
		found++
	}
	return found, nil
}
