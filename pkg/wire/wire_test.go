package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/pkg/blob"
)

func sblob(s string) blob.Blob { return blob.NewOwning([]byte(s), blob.Byte) }

func TestMarshalUnmarshalPutRequest(t *testing.T) {
	req := Request{
		Header: Header{Op: OpPut, Src: 1, Dst: 2, Count: 2},
		Puts: []PutSlot{
			{Subject: sblob("s1"), Predicate: sblob("p1"), Object: sblob("o1")},
			{Subject: sblob("s2"), Predicate: sblob("p2"), Object: sblob("o2")},
		},
	}
	data := MarshalRequest(req)
	got, err := UnmarshalRequest(data)
	require.NoError(t, err)
	require.Equal(t, DirRequest, got.Header.Direction)
	require.Equal(t, OpPut, got.Header.Op)
	require.Len(t, got.Puts, 2)
	require.Equal(t, "s1", string(got.Puts[0].Subject.Bytes()))
	require.Equal(t, "o2", string(got.Puts[1].Object.Bytes()))
}

func TestMarshalUnmarshalGetOpFirstOmitsKey(t *testing.T) {
	req := Request{
		Header: Header{Op: OpGetOp, Count: 1},
		GetOps: []GetOpSlot{
			{Op: ScanFIRST, ObjectType: blob.Byte, NumRecs: 3},
		},
	}
	data := MarshalRequest(req)
	got, err := UnmarshalRequest(data)
	require.NoError(t, err)
	require.Len(t, got.GetOps, 1)
	require.Equal(t, ScanFIRST, got.GetOps[0].Op)
	require.Equal(t, uint64(3), got.GetOps[0].NumRecs)
	require.Equal(t, 0, got.GetOps[0].Subject.Len())
}

func TestMarshalUnmarshalGetResponseErrorOmitsObject(t *testing.T) {
	resp := Response{
		Header: Header{Op: OpGet, Count: 1},
		Gets: []GetResult{
			{Status: StatusError, Subject: sblob("s"), Predicate: sblob("p")},
		},
	}
	data := MarshalResponse(resp)
	got, err := UnmarshalResponse(data)
	require.NoError(t, err)
	require.Len(t, got.Gets, 1)
	require.Equal(t, StatusError, got.Gets[0].Status)
	require.Equal(t, 0, got.Gets[0].Object.Len())
}

func TestMarshalUnmarshalHistogramResponse(t *testing.T) {
	resp := Response{
		Header: Header{Op: OpHistogram, Count: 1},
		Histograms: []HistogramResult{
			{Status: StatusSuccess, Name: "h1", Buckets: []float64{0, 1, 2}, Counts: []uint64{1, 2}},
		},
	}
	data := MarshalResponse(resp)
	got, err := UnmarshalResponse(data)
	require.NoError(t, err)
	require.Len(t, got.Histograms, 1)
	require.Equal(t, "h1", got.Histograms[0].Name)
	require.Equal(t, []float64{0, 1, 2}, got.Histograms[0].Buckets)
	require.Equal(t, []uint64{1, 2}, got.Histograms[0].Counts)
}

func TestMarshalUnmarshalSyncResponse(t *testing.T) {
	resp := Response{
		Header: Header{Op: OpSync, Count: 2},
		Syncs: []SyncResult{
			{Status: StatusSuccess, DatastoreID: 4},
			{Status: StatusError, DatastoreID: 5},
		},
	}
	data := MarshalResponse(resp)
	got, err := UnmarshalResponse(data)
	require.NoError(t, err)
	require.Len(t, got.Syncs, 2)
	require.Equal(t, int64(4), got.Syncs[0].DatastoreID)
	require.Equal(t, StatusError, got.Syncs[1].Status)
}

func TestUnmarshalRequestTruncated(t *testing.T) {
	req := Request{
		Header: Header{Op: OpDelete, Count: 1},
		Deletes: []DeleteSlot{
			{Subject: sblob("s"), Predicate: sblob("p")},
		},
	}
	data := MarshalRequest(req)
	_, err := UnmarshalRequest(data[:len(data)-2])
	require.Error(t, err)
}

func TestOpKindString(t *testing.T) {
	require.Equal(t, "put", OpPut.String())
	require.Equal(t, "getop", OpGetOp.String())
	require.Equal(t, "unknown", OpKind(255).String())
}
