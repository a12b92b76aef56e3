// Package hxhim implements the client handle of spec.md §4.10 and §6:
// the public put/get/getop/delete/histogram API, the four per-kind
// queues, the shuffle-then-transport flush driver, and the optional
// background-put worker.
package hxhim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/datastore/inmemory"
	"github.com/hxhim/hxhim-go/pkg/datastore/persistent"
	"github.com/hxhim/hxhim-go/pkg/histogram"
	"github.com/hxhim/hxhim-go/pkg/placement"
	"github.com/hxhim/hxhim-go/pkg/queue"
	"github.com/hxhim/hxhim-go/pkg/rangeserver"
	"github.com/hxhim/hxhim-go/pkg/resultset"
	"github.com/hxhim/hxhim-go/pkg/shuffle"
	"github.com/hxhim/hxhim-go/pkg/transport"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

// BackendKind selects the concrete datastore.Engine a local adapter
// uses, matching the closed `datastore_backend` option set of spec.md
// §6.
type BackendKind uint8

const (
	BackendInMemory BackendKind = iota
	BackendPersistent
	BackendNull
)

// BackendConfig bundles the backend kind with the options its
// constructor needs.
type BackendConfig struct {
	Kind       BackendKind
	Persistent persistent.Options
}

// Options is the closed option set of spec.md §6.
type Options struct {
	DebugLevel int

	ClientRatio int64
	ServerRatio int64

	DatastoresPerServer int64
	DatastoreBackend    BackendConfig

	// EndpointGroup names the server ranks Sync fans out to; empty means
	// every rank this handle knows about.
	EndpointGroup []int64

	Hash     placement.Func
	HashArgs interface{}

	MaxOpsPerSend           int
	MaxDestinationsPerBatch int

	HistogramFirstN        int
	HistogramBucketGen     histogram.Generator
	HistogramBucketGenArgs interface{}

	// StartAsyncPutsAt enables the background-put worker once the PUT
	// queue holds at least this many slots; 0 disables it.
	StartAsyncPutsAt int

	// Barrier, if set, is called twice around the local Sync dispatch
	// (spec.md §4.10) so multi-process deployments can plug in a real
	// collective barrier; nil is a no-op, appropriate for single-process
	// use and tests.
	Barrier func() error
}

// IsServerRank implements the client_ratio/server_ratio split of
// spec.md §6: ranks repeat in blocks of (clientRatio+serverRatio),
// the trailing serverRatio of each block hosting a range server.
func IsServerRank(rank, clientRatio, serverRatio int64) bool {
	total := clientRatio + serverRatio
	if total <= 0 {
		return false
	}
	return rank%total >= clientRatio
}

type histogramRequest struct {
	RSID int64
	Name string
}

// Handle is the client-side entry point. One Handle owns its own
// queues and, if this rank hosts range servers, the local
// datastore.Adapters and rangeserver.Server backing them.
type Handle struct {
	opts Options
	rank int64
	log  *logutil.Logger

	transport   transport.Transport
	rangeServer *rangeserver.Server

	mu              sync.Mutex
	localDatastores map[int64]*datastore.Adapter // keyed by local index
	datastoreNames  map[int64]string

	shuffler *shuffle.Shuffler

	putQ    *queue.Queue[wire.PutSlot]
	getQ    *queue.Queue[wire.GetSlot]
	getOpQ  *queue.Queue[wire.GetOpSlot]
	deleteQ *queue.Queue[wire.DeleteSlot]
	histQ   *queue.Queue[histogramRequest]

	asyncStop      atomic.Bool
	asyncRunning   bool
	asyncForceReq  chan struct{}
	asyncForceResp chan *resultset.Set
	asyncMu        sync.Mutex
	asyncResults   []*resultset.Set
	asyncWG        sync.WaitGroup
}

// Open constructs a Handle for rank. If this rank hosts datastoresPerServer
// local datastores (per IsServerRank/EndpointGroup policy decided by the
// caller), pass the opened adapters in localDatastores keyed by local
// index and a rangeserver.Server wrapping them; pass nil for a
// pure-client rank.
func Open(rank int64, opts Options, t transport.Transport, localDatastores map[int64]*datastore.Adapter, datastoreNames map[int64]string, rs *rangeserver.Server) *Handle {
	h := &Handle{
		opts:            opts,
		rank:            rank,
		log:             logutil.Root().New("component", "hxhim", "rank", rank),
		transport:       t,
		rangeServer:     rs,
		localDatastores: localDatastores,
		datastoreNames:  datastoreNames,
		shuffler:        shuffle.New(opts.Hash, opts.HashArgs, opts.MaxOpsPerSend, opts.MaxDestinationsPerBatch),
		putQ:            queue.New[wire.PutSlot](),
		getQ:            queue.New[wire.GetSlot](),
		getOpQ:          queue.New[wire.GetOpSlot](),
		deleteQ:         queue.New[wire.DeleteSlot](),
		histQ:           queue.New[histogramRequest](),
		asyncForceReq:   make(chan struct{}, 1),
		asyncForceResp:  make(chan *resultset.Set),
	}

	if opts.StartAsyncPutsAt > 0 {
		h.asyncRunning = true
		h.asyncWG.Add(1)
		go h.runBackgroundPutWorker()
	}

	return h
}

// NewLocalAdapter builds one datastore.Adapter using the configured
// backend, for callers assembling localDatastores before calling Open.
func NewLocalAdapter(rank, id int64, backend BackendConfig, histGen histogram.Generator, histGenArgs interface{}, histFirstN int) (*datastore.Adapter, error) {
	var engine datastore.Engine
	switch backend.Kind {
	case BackendInMemory:
		engine = inmemory.New()
	case BackendPersistent:
		engine = persistent.New(backend.Persistent)
	case BackendNull:
		return nil, fmt.Errorf("hxhim: null backend carries no adapter")
	default:
		return nil, fmt.Errorf("hxhim: unknown backend kind %d", backend.Kind)
	}
	return datastore.New(rank, id, engine, histGen, histGenArgs, histFirstN), nil
}

// --- enqueue API: put/get/getop/delete, singular and bulk ---

func (h *Handle) Put(subject, predicate, object blob.Blob) {
	h.putQ.Push(wire.PutSlot{Subject: subject, Predicate: predicate, Object: object})
}

func (h *Handle) BPut(slots []wire.PutSlot) {
	h.putQ.PushBatch(slots)
}

func (h *Handle) Get(subject, predicate blob.Blob, objectType blob.Type) {
	h.getQ.Push(wire.GetSlot{Subject: subject, Predicate: predicate, ObjectType: objectType})
}

func (h *Handle) BGet(slots []wire.GetSlot) {
	h.getQ.PushBatch(slots)
}

func (h *Handle) GetOp(subject, predicate blob.Blob, objectType blob.Type, numRecs uint64, op wire.ScanOp) {
	h.getOpQ.Push(wire.GetOpSlot{Op: op, Subject: subject, Predicate: predicate, ObjectType: objectType, NumRecs: numRecs})
}

func (h *Handle) BGetOp(slots []wire.GetOpSlot) {
	h.getOpQ.PushBatch(slots)
}

func (h *Handle) Delete(subject, predicate blob.Blob) {
	h.deleteQ.Push(wire.DeleteSlot{Subject: subject, Predicate: predicate})
}

func (h *Handle) BDelete(slots []wire.DeleteSlot) {
	h.deleteQ.PushBatch(slots)
}

// Histogram queues a read of the named histogram from the datastore
// rsID addresses.
func (h *Handle) Histogram(rsID int64, name string) {
	h.histQ.Push(histogramRequest{RSID: rsID, Name: name})
}

// BHistogram queues one read per (rsIDs[i], names[i]) pair.
func (h *Handle) BHistogram(rsIDs []int64, names []string) {
	n := len(rsIDs)
	if len(names) < n {
		n = len(names)
	}
	for i := 0; i < n; i++ {
		h.histQ.Push(histogramRequest{RSID: rsIDs[i], Name: names[i]})
	}
}

// --- transport dispatch, shared by every flush path ---

// sendBulk routes req at the datastore dst, short-circuiting straight
// into the local range-server loop when dst is owned by this rank
// (spec.md §4.7).
func (h *Handle) sendBulk(ctx context.Context, dst int64, req wire.Request) wire.Response {
	loc := placement.Split(dst, h.opts.DatastoresPerServer)
	req.Header.Dst = int32(dst)
	req.Header.Src = int32(h.rank)

	if loc.ServerRank == h.rank && h.rangeServer != nil {
		return h.rangeServer.Dispatch(req)
	}
	if h.transport == nil {
		h.log.Warn("sendBulk: no transport configured for remote rank", "rank", loc.ServerRank)
		return errorResponseFor(req)
	}
	resp, err := h.transport.SendBulk(ctx, int32(loc.ServerRank), req)
	if err != nil {
		h.log.Warn("sendBulk: transport failed", "rank", loc.ServerRank, "err", err)
		return errorResponseFor(req)
	}
	return resp
}

// errorResponseFor builds an all-Error response shaped like req, used
// when a destination is unreachable: every slot still gets a per-slot
// result rather than the caller seeing a bare transport error.
func errorResponseFor(req wire.Request) wire.Response {
	resp := wire.Response{Header: wire.Header{Op: req.Header.Op, Src: req.Header.Dst, Dst: req.Header.Src}}
	switch req.Header.Op {
	case wire.OpPut:
		resp.Puts = make([]wire.PutResult, len(req.Puts))
		for i, s := range req.Puts {
			resp.Puts[i] = wire.PutResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
		}
	case wire.OpGet:
		resp.Gets = make([]wire.GetResult, len(req.Gets))
		for i, s := range req.Gets {
			resp.Gets[i] = wire.GetResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
		}
	case wire.OpGetOp:
		resp.GetOps = make([]wire.GetOpResult, len(req.GetOps))
		for i := range resp.GetOps {
			resp.GetOps[i].Status = wire.StatusError
		}
	case wire.OpDelete:
		resp.Deletes = make([]wire.DeleteResult, len(req.Deletes))
		for i, s := range req.Deletes {
			resp.Deletes[i] = wire.DeleteResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
		}
	case wire.OpHistogram:
		resp.Histograms = make([]wire.HistogramResult, len(req.Histograms))
		for i, s := range req.Histograms {
			resp.Histograms[i] = wire.HistogramResult{Status: wire.StatusError, Name: s.Name}
		}
	}
	return resp
}

// --- generic flush over one hash-routed queue ---

func flushGeneric[T any, R any](
	h *Handle,
	ctx context.Context,
	slots []T,
	op wire.OpKind,
	keyOf func(T) (blob.Blob, blob.Blob),
	setOnRequest func(*wire.Request, []T),
	resultsOf func(wire.Response) []R,
	toNode func(R, int64) *resultset.Node,
	errNode func(T) *resultset.Node,
) *resultset.Set {
	set := resultset.New()
	if len(slots) == 0 {
		return set
	}

	pending := slots
	for {
		subs := make([]blob.Blob, len(pending))
		preds := make([]blob.Blob, len(pending))
		for i, s := range pending {
			subs[i], preds[i] = keyOf(s)
		}

		plan, planErr := h.shuffler.Plan(subs, preds)

		for _, idx := range plan.Errors {
			set.Append(errNode(pending[idx]))
		}

		for dst, batches := range plan.Packets {
			for _, batch := range batches {
				reqSlots := make([]T, len(batch))
				for j, idx := range batch {
					reqSlots[j] = pending[idx]
				}
				req := wire.Request{Header: wire.Header{Op: op, Count: uint64(len(reqSlots))}}
				setOnRequest(&req, reqSlots)
				resp := h.sendBulk(ctx, dst, req)
				for _, r := range resultsOf(resp) {
					set.Append(toNode(r, dst))
				}
			}
		}

		if planErr == nil || !errors.Is(planErr, shuffle.ErrNoSpace) || len(plan.Remaining) == 0 {
			break
		}
		next := make([]T, len(plan.Remaining))
		for j, idx := range plan.Remaining {
			next[j] = pending[idx]
		}
		pending = next
	}
	return set
}

// --- flush_puts / flush_gets / flush_getops / flush_deletes ---

func (h *Handle) flushPutSlots(ctx context.Context, slots []wire.PutSlot) *resultset.Set {
	return flushGeneric(h, ctx, slots, wire.OpPut,
		func(s wire.PutSlot) (blob.Blob, blob.Blob) { return s.Subject, s.Predicate },
		func(req *wire.Request, s []wire.PutSlot) { req.Puts = s },
		func(resp wire.Response) []wire.PutResult { return resp.Puts },
		func(r wire.PutResult, dst int64) *resultset.Node {
			return &resultset.Node{Kind: resultset.Put, Status: resultset.Status(r.Status), DatastoreID: dst, Subject: r.Subject, Predicate: r.Predicate}
		},
		func(s wire.PutSlot) *resultset.Node {
			return &resultset.Node{Kind: resultset.Put, Status: resultset.StatusError, Subject: s.Subject, Predicate: s.Predicate}
		},
	)
}

// FlushPuts drains the PUT queue (and, if the background-put worker is
// running, folds in whatever it has already committed) and returns one
// result per slot.
func (h *Handle) FlushPuts(ctx context.Context) *resultset.Set {
	merged := resultset.New()
	if h.asyncRunning {
		h.asyncForceReq <- struct{}{}
		h.putQ.Wake()
		merged.AppendSet(<-h.asyncForceResp)
	}
	merged.AppendSet(h.flushPutSlots(ctx, h.putQ.DrainAll()))
	return merged
}

func (h *Handle) FlushGets(ctx context.Context) *resultset.Set {
	slots := h.getQ.DrainAll()
	return flushGeneric(h, ctx, slots, wire.OpGet,
		func(s wire.GetSlot) (blob.Blob, blob.Blob) { return s.Subject, s.Predicate },
		func(req *wire.Request, s []wire.GetSlot) { req.Gets = s },
		func(resp wire.Response) []wire.GetResult { return resp.Gets },
		func(r wire.GetResult, dst int64) *resultset.Node {
			return &resultset.Node{Kind: resultset.Get, Status: resultset.Status(r.Status), DatastoreID: dst, Subject: r.Subject, Predicate: r.Predicate, Object: r.Object}
		},
		func(s wire.GetSlot) *resultset.Node {
			return &resultset.Node{Kind: resultset.Get, Status: resultset.StatusError, Subject: s.Subject, Predicate: s.Predicate}
		},
	)
}

func (h *Handle) FlushGetOps(ctx context.Context) *resultset.Set {
	slots := h.getOpQ.DrainAll()
	return flushGeneric(h, ctx, slots, wire.OpGetOp,
		func(s wire.GetOpSlot) (blob.Blob, blob.Blob) { return s.Subject, s.Predicate },
		func(req *wire.Request, s []wire.GetOpSlot) { req.GetOps = s },
		func(resp wire.Response) []wire.GetOpResult { return resp.GetOps },
		func(r wire.GetOpResult, dst int64) *resultset.Node {
			rows := make([]resultset.Row, len(r.Rows))
			for i, wr := range r.Rows {
				rows[i] = resultset.Row{Subject: wr.Subject, Predicate: wr.Predicate, Object: wr.Object}
			}
			return &resultset.Node{Kind: resultset.GetOp, Status: resultset.Status(r.Status), DatastoreID: dst, Rows: rows}
		},
		func(s wire.GetOpSlot) *resultset.Node {
			return &resultset.Node{Kind: resultset.GetOp, Status: resultset.StatusError, Subject: s.Subject, Predicate: s.Predicate}
		},
	)
}

func (h *Handle) FlushDeletes(ctx context.Context) *resultset.Set {
	slots := h.deleteQ.DrainAll()
	return flushGeneric(h, ctx, slots, wire.OpDelete,
		func(s wire.DeleteSlot) (blob.Blob, blob.Blob) { return s.Subject, s.Predicate },
		func(req *wire.Request, s []wire.DeleteSlot) { req.Deletes = s },
		func(resp wire.Response) []wire.DeleteResult { return resp.Deletes },
		func(r wire.DeleteResult, dst int64) *resultset.Node {
			return &resultset.Node{Kind: resultset.Delete, Status: resultset.Status(r.Status), DatastoreID: dst, Subject: r.Subject, Predicate: r.Predicate}
		},
		func(s wire.DeleteSlot) *resultset.Node {
			return &resultset.Node{Kind: resultset.Delete, Status: resultset.StatusError, Subject: s.Subject, Predicate: s.Predicate}
		},
	)
}

// FlushHistograms drains the histogram-read queue. Unlike the other
// four kinds, histogram reads are addressed directly by the caller's
// rs_id/datastore id rather than hashed (spec.md §3.3), so this bypasses
// the Shuffler entirely.
func (h *Handle) FlushHistograms(ctx context.Context) *resultset.Set {
	reqs := h.histQ.DrainAll()
	set := resultset.New()
	if len(reqs) == 0 {
		return set
	}

	byDst := make(map[int64][]wire.HistogramSlot)
	for _, r := range reqs {
		byDst[r.RSID] = append(byDst[r.RSID], wire.HistogramSlot{Name: r.Name})
	}

	maxPerSend := h.opts.MaxOpsPerSend
	if maxPerSend <= 0 {
		maxPerSend = len(reqs)
	}

	for dst, slots := range byDst {
		for start := 0; start < len(slots); start += maxPerSend {
			end := start + maxPerSend
			if end > len(slots) {
				end = len(slots)
			}
			batch := slots[start:end]
			req := wire.Request{Header: wire.Header{Op: wire.OpHistogram, Count: uint64(len(batch))}, Histograms: batch}
			resp := h.sendBulk(ctx, dst, req)
			for _, r := range resp.Histograms {
				set.Append(&resultset.Node{
					Kind: resultset.HistogramResult, Status: resultset.Status(r.Status),
					DatastoreID: dst, Name: r.Name, Buckets: r.Buckets, Counts: r.Counts,
				})
			}
		}
	}
	return set
}

// Flush runs every explicit flush in PUT -> GET -> GETOP -> DELETE
// order, per spec.md §4.10, so a GET in the same call observes a PUT
// submitted earlier in the same epoch.
func (h *Handle) Flush(ctx context.Context) *resultset.Set {
	set := resultset.New()
	set.AppendSet(h.FlushPuts(ctx))
	set.AppendSet(h.FlushGets(ctx))
	set.AppendSet(h.FlushGetOps(ctx))
	set.AppendSet(h.FlushDeletes(ctx))
	return set
}

// Sync runs Flush, then issues one Sync per local datastore across the
// configured endpoint group, fenced between two calls to opts.Barrier
// when one is configured (spec.md §4.10).
func (h *Handle) Sync(ctx context.Context) *resultset.Set {
	set := h.Flush(ctx)

	if h.opts.Barrier != nil {
		if err := h.opts.Barrier(); err != nil {
			h.log.Warn("sync: pre-barrier failed", "err", err)
		}
	}

	set.AppendSet(h.syncEndpoints(ctx))

	if h.opts.Barrier != nil {
		if err := h.opts.Barrier(); err != nil {
			h.log.Warn("sync: post-barrier failed", "err", err)
		}
	}
	return set
}

func (h *Handle) syncEndpoints(ctx context.Context) *resultset.Set {
	set := resultset.New()
	targets := h.opts.EndpointGroup
	if len(targets) == 0 {
		if h.rangeServer == nil {
			return set
		}
		targets = []int64{h.rank}
	}

	for _, rank := range targets {
		var resp wire.Response
		if rank == h.rank && h.rangeServer != nil {
			resp = h.rangeServer.Dispatch(wire.Request{Header: wire.Header{Op: wire.OpSync, Src: int32(h.rank), Dst: int32(rank)}})
		} else if h.transport != nil {
			var err error
			resp, err = h.transport.SendBulk(ctx, int32(rank), wire.Request{Header: wire.Header{Op: wire.OpSync, Src: int32(h.rank), Dst: int32(rank)}})
			if err != nil {
				h.log.Warn("sync: transport failed", "rank", rank, "err", err)
				continue
			}
		} else {
			continue
		}
		for _, r := range resp.Syncs {
			set.Append(&resultset.Node{Kind: resultset.Sync, Status: resultset.Status(r.Status), DatastoreID: r.DatastoreID})
		}
	}
	return set
}

// ChangeHash closes and reopens every local datastore under a new
// placement function, per spec.md §3.1. Flush any pending work first;
// ChangeHash does not implicitly flush.
func (h *Handle) ChangeHash(name string, fn placement.Func, args interface{}) *resultset.Set {
	set := resultset.New()
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, a := range h.localDatastores {
		if err := a.Close(); err != nil {
			h.log.Warn("change_hash: close failed", "datastore", id, "err", err)
			set.Append(&resultset.Node{Kind: resultset.Sync, Status: resultset.StatusError, DatastoreID: id})
			continue
		}
		if err := a.Open(h.datastoreNames[id]); err != nil {
			h.log.Warn("change_hash: reopen failed", "datastore", id, "err", err)
			set.Append(&resultset.Node{Kind: resultset.Sync, Status: resultset.StatusError, DatastoreID: id})
			continue
		}
		set.Append(&resultset.Node{Kind: resultset.Sync, Status: resultset.StatusSuccess, DatastoreID: id})
	}

	h.shuffler = shuffle.New(fn, args, h.opts.MaxOpsPerSend, h.opts.MaxDestinationsPerBatch)
	h.log.Info("change_hash", "name", name)
	return set
}

// Close stops the background-put worker (if running), flushes nothing
// implicitly (callers must Flush/Sync first), and closes local
// datastores and the transport.
func (h *Handle) Close() error {
	if h.asyncRunning {
		h.asyncStop.Store(true)
		h.putQ.Wake()
		h.asyncWG.Wait()
	}

	var firstErr error
	h.mu.Lock()
	for id, a := range h.localDatastores {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("hxhim: close datastore %d: %w", id, err)
		}
	}
	h.mu.Unlock()

	if h.transport != nil {
		if err := h.transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runBackgroundPutWorker drains the PUT queue once it crosses
// StartAsyncPutsAt, committing batches as they arrive. FlushPuts hands
// it a token on asyncForceReq to request an immediate drain-to-empty;
// the worker acknowledges by replying on asyncForceResp with every
// batch it has committed since the last handshake (spec.md §4.10).
func (h *Handle) runBackgroundPutWorker() {
	defer h.asyncWG.Done()
	for {
		slots := h.putQ.WaitThreshold(h.opts.StartAsyncPutsAt, func() bool {
			return h.asyncStop.Load() || len(h.asyncForceReq) > 0
		})

		if len(slots) > 0 {
			set := h.flushPutSlots(context.Background(), slots)
			h.asyncMu.Lock()
			h.asyncResults = append(h.asyncResults, set)
			h.asyncMu.Unlock()
		}

		select {
		case <-h.asyncForceReq:
			h.asyncMu.Lock()
			sets := h.asyncResults
			h.asyncResults = nil
			h.asyncMu.Unlock()

			merged := resultset.New()
			for _, s := range sets {
				merged.AppendSet(s)
			}
			h.asyncForceResp <- merged
		default:
		}

		if h.asyncStop.Load() {
			return
		}
	}
}
