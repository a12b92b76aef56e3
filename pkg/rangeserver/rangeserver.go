// Package rangeserver implements the receive-side dispatch loop of
// spec.md §4.8: run an already-decoded bulk request against the local
// datastore.Adapter it names and return the response value. It owns no
// network transport and does no wire encoding of its own —
// grpcrpc.Server (which unmarshals the request and marshals the
// response) or the same-rank short-circuit in package hxhim calls
// Dispatch directly.
package rangeserver

import (
	"sync"
	"sync/atomic"

	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/placement"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

// Server owns every datastore.Adapter local to one server rank, keyed
// by local index (placement.Location.LocalIndex), and dispatches
// incoming bulk requests against them.
type Server struct {
	rank                int64
	datastoresPerServer int64
	datastores          map[int64]*datastore.Adapter
	log                 *logutil.Logger

	running int32
	wg      sync.WaitGroup
}

// New returns a Server for rank owning the given local datastores,
// keyed by local index.
func New(rank, datastoresPerServer int64, datastores map[int64]*datastore.Adapter) *Server {
	return &Server{
		rank:                rank,
		datastoresPerServer: datastoresPerServer,
		datastores:          datastores,
		log:                 logutil.Root().New("component", "rangeserver", "rank", rank),
		running:             1,
	}
}

// Datastores returns every local adapter this server owns, for Sync
// dispatch and for tests.
func (s *Server) Datastores() map[int64]*datastore.Adapter {
	return s.datastores
}

// Shutdown stops accepting new work; in-flight Dispatch calls already
// running are allowed to finish (spec.md §4.8).
func (s *Server) Shutdown() {
	atomic.StoreInt32(&s.running, 0)
	s.wg.Wait()
}

// Running reports whether the server still accepts requests.
func (s *Server) Running() bool {
	return atomic.LoadInt32(&s.running) != 0
}

// localAdapter resolves a global datastore id carried in a bulk
// request's header to the local adapter that owns it.
func (s *Server) localAdapter(datastoreID int64) (*datastore.Adapter, bool) {
	loc := placement.Split(datastoreID, s.datastoresPerServer)
	if loc.ServerRank != s.rank {
		return nil, false
	}
	a, ok := s.datastores[loc.LocalIndex]
	return a, ok
}

// Dispatch runs one bulk request to completion and returns its
// response. It is the listener worker's entire body; a caller running
// multiple listener workers may call Dispatch concurrently from each.
func (s *Server) Dispatch(req wire.Request) wire.Response {
	if !s.Running() {
		return errorResponse(req)
	}
	s.wg.Add(1)
	defer s.wg.Done()

	resp := wire.Response{Header: wire.Header{
		Op:    req.Header.Op,
		Src:   req.Header.Dst,
		Dst:   req.Header.Src,
		Count: req.Header.Count,
	}}

	switch req.Header.Op {
	case wire.OpPut:
		a, ok := s.localAdapter(int64(req.Header.Dst))
		if !ok {
			resp.Puts = errorPutResults(req.Puts)
			return resp
		}
		resp.Puts = a.BPut(req.Puts)
	case wire.OpGet:
		a, ok := s.localAdapter(int64(req.Header.Dst))
		if !ok {
			resp.Gets = errorGetResults(req.Gets)
			return resp
		}
		resp.Gets = a.BGet(req.Gets)
	case wire.OpGetOp:
		a, ok := s.localAdapter(int64(req.Header.Dst))
		if !ok {
			resp.GetOps = make([]wire.GetOpResult, len(req.GetOps))
			for i := range resp.GetOps {
				resp.GetOps[i].Status = wire.StatusError
			}
			return resp
		}
		resp.GetOps = a.BGetOp(req.GetOps)
	case wire.OpDelete:
		a, ok := s.localAdapter(int64(req.Header.Dst))
		if !ok {
			resp.Deletes = errorDeleteResults(req.Deletes)
			return resp
		}
		resp.Deletes = a.BDelete(req.Deletes)
	case wire.OpHistogram:
		a, ok := s.localAdapter(int64(req.Header.Dst))
		if !ok {
			resp.Histograms = errorHistogramResults(req.Histograms)
			return resp
		}
		resp.Histograms = s.dispatchHistograms(a, req.Histograms)
	case wire.OpSync:
		resp.Syncs = s.dispatchSync()
	}
	return resp
}

func (s *Server) dispatchHistograms(a *datastore.Adapter, slots []wire.HistogramSlot) []wire.HistogramResult {
	out := make([]wire.HistogramResult, len(slots))
	for i, slot := range slots {
		found, err := a.ReadHistograms([]string{slot.Name})
		if err != nil || found == 0 {
			out[i] = wire.HistogramResult{Status: wire.StatusError, Name: slot.Name}
			continue
		}
		h := a.Histogram(slot.Name)
		out[i] = wire.HistogramResult{
			Status:  wire.StatusSuccess,
			Name:    slot.Name,
			Buckets: h.Buckets(),
			Counts:  h.Counts(),
		}
	}
	return out
}

func (s *Server) dispatchSync() []wire.SyncResult {
	out := make([]wire.SyncResult, 0, len(s.datastores))
	for id, a := range s.datastores {
		st := wire.StatusSuccess
		if err := a.Sync(); err != nil {
			st = wire.StatusError
			s.log.Warn("sync failed", "datastore", id, "err", err)
		}
		out = append(out, wire.SyncResult{Status: st, DatastoreID: a.ID})
	}
	return out
}

func errorResponse(req wire.Request) wire.Response {
	resp := wire.Response{Header: wire.Header{Op: req.Header.Op, Src: req.Header.Dst, Dst: req.Header.Src}}
	switch req.Header.Op {
	case wire.OpPut:
		resp.Puts = errorPutResults(req.Puts)
	case wire.OpGet:
		resp.Gets = errorGetResults(req.Gets)
	case wire.OpDelete:
		resp.Deletes = errorDeleteResults(req.Deletes)
	case wire.OpHistogram:
		resp.Histograms = errorHistogramResults(req.Histograms)
	case wire.OpGetOp:
		resp.GetOps = make([]wire.GetOpResult, len(req.GetOps))
		for i := range resp.GetOps {
			resp.GetOps[i].Status = wire.StatusError
		}
	}
	return resp
}

func errorPutResults(slots []wire.PutSlot) []wire.PutResult {
	out := make([]wire.PutResult, len(slots))
	for i, s := range slots {
		out[i] = wire.PutResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
	}
	return out
}

func errorGetResults(slots []wire.GetSlot) []wire.GetResult {
	out := make([]wire.GetResult, len(slots))
	for i, s := range slots {
		out[i] = wire.GetResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
	}
	return out
}

func errorDeleteResults(slots []wire.DeleteSlot) []wire.DeleteResult {
	out := make([]wire.DeleteResult, len(slots))
	for i, s := range slots {
		out[i] = wire.DeleteResult{Status: wire.StatusError, Subject: s.Subject.Ref(), Predicate: s.Predicate.Ref()}
	}
	return out
}

func errorHistogramResults(slots []wire.HistogramSlot) []wire.HistogramResult {
	out := make([]wire.HistogramResult, len(slots))
	for i, s := range slots {
		out[i] = wire.HistogramResult{Status: wire.StatusError, Name: s.Name}
	}
	return out
}
