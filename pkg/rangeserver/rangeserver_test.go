package rangeserver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/datastore/inmemory"
	"github.com/hxhim/hxhim-go/pkg/histogram"
	"github.com/hxhim/hxhim-go/pkg/rangeserver"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

func sblob(s string) blob.Blob { return blob.NewOwning([]byte(s), blob.Byte) }

func newServer(t *testing.T) *rangeserver.Server {
	t.Helper()
	gen := histogram.FixedEdgesGenerator([]float64{0, 10})
	a := datastore.New(0, 0, inmemory.New(), gen, nil, 1)
	require.NoError(t, a.Open("test"))
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return rangeserver.New(0, 1, map[int64]*datastore.Adapter{0: a})
}

func TestDispatchPutThenGet(t *testing.T) {
	s := newServer(t)

	putResp := s.Dispatch(wire.Request{
		Header: wire.Header{Op: wire.OpPut, Dst: 0, Count: 1},
		Puts:   []wire.PutSlot{{Subject: sblob("s1"), Predicate: sblob("p1"), Object: sblob("o1")}},
	})
	require.Len(t, putResp.Puts, 1)
	require.Equal(t, wire.StatusSuccess, putResp.Puts[0].Status)

	getResp := s.Dispatch(wire.Request{
		Header: wire.Header{Op: wire.OpGet, Dst: 0, Count: 1},
		Gets:   []wire.GetSlot{{Subject: sblob("s1"), Predicate: sblob("p1"), ObjectType: blob.Byte}},
	})
	require.Len(t, getResp.Gets, 1)
	require.Equal(t, wire.StatusSuccess, getResp.Gets[0].Status)
	require.Equal(t, "o1", string(getResp.Gets[0].Object.Bytes()))
}

func TestDispatchUnknownDatastoreIsError(t *testing.T) {
	s := newServer(t)
	resp := s.Dispatch(wire.Request{
		Header: wire.Header{Op: wire.OpGet, Dst: 99, Count: 1},
		Gets:   []wire.GetSlot{{Subject: sblob("s1"), Predicate: sblob("p1"), ObjectType: blob.Byte}},
	})
	require.Len(t, resp.Gets, 1)
	require.Equal(t, wire.StatusError, resp.Gets[0].Status)
}

func TestDispatchSyncCoversEveryLocalDatastore(t *testing.T) {
	s := newServer(t)
	resp := s.Dispatch(wire.Request{Header: wire.Header{Op: wire.OpSync}})
	require.Len(t, resp.Syncs, 1)
	require.Equal(t, wire.StatusSuccess, resp.Syncs[0].Status)
}

func TestShutdownRejectsFurtherDispatch(t *testing.T) {
	s := newServer(t)
	s.Shutdown()
	resp := s.Dispatch(wire.Request{
		Header: wire.Header{Op: wire.OpPut, Dst: 0, Count: 1},
		Puts:   []wire.PutSlot{{Subject: sblob("s1"), Predicate: sblob("p1"), Object: sblob("o1")}},
	})
	require.Equal(t, wire.StatusError, resp.Puts[0].Status)
}
