package inmemory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxhim/hxhim-go/pkg/datastore"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

func openEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	require.NoError(t, e.Open("test"))
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	e := openEngine(t)
	require.NoError(t, e.BatchPut([][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("1"), []byte("2")}))

	v, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), v)

	_, found, err = e.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestBatchDeleteTreatsMissingAsOK(t *testing.T) {
	e := openEngine(t)
	require.NoError(t, e.BatchPut([][]byte{[]byte("a")}, [][]byte{[]byte("1")}))
	require.NoError(t, e.BatchDelete([][]byte{[]byte("a"), []byte("never-existed")}))

	_, found, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)
}

func seedOrdered(t *testing.T, e *Engine) {
	t.Helper()
	keys := [][]byte{[]byte("aaa"), []byte("aab"), []byte("aac"), []byte("aba"), []byte("b")}
	vals := [][]byte{[]byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5")}
	require.NoError(t, e.BatchPut(keys, vals))
}

func TestScanFirstLast(t *testing.T) {
	e := openEngine(t)
	seedOrdered(t, e)

	rows, err := e.Scan(datastore.ScanSpec{Op: wire.ScanFIRST, NumRecs: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("aaa"), rows[0].Key)

	rows, err = e.Scan(datastore.ScanSpec{Op: wire.ScanLAST, NumRecs: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []byte("b"), rows[0].Key)
}

func TestScanNextPrev(t *testing.T) {
	e := openEngine(t)
	seedOrdered(t, e)

	rows, err := e.Scan(datastore.ScanSpec{Op: wire.ScanNEXT, Key: []byte("aab"), NumRecs: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []byte("aab"), rows[0].Key)
	require.Equal(t, []byte("aac"), rows[1].Key)

	rows, err = e.Scan(datastore.ScanSpec{Op: wire.ScanPREV, Key: []byte("aab"), NumRecs: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []byte("aab"), rows[0].Key)
	require.Equal(t, []byte("aaa"), rows[1].Key)
}

func TestScanLowestHighestRespectsPrefix(t *testing.T) {
	e := openEngine(t)
	seedOrdered(t, e)

	rows, err := e.Scan(datastore.ScanSpec{Op: wire.ScanLOWEST, Prefix: []byte("aa"), NumRecs: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []byte("aaa"), rows[0].Key)

	rows, err = e.Scan(datastore.ScanSpec{Op: wire.ScanHIGHEST, Prefix: []byte("aa"), NumRecs: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []byte("aac"), rows[0].Key)
}

func TestScanEQMiss(t *testing.T) {
	e := openEngine(t)
	seedOrdered(t, e)
	_, err := e.Scan(datastore.ScanSpec{Op: wire.ScanEQ, Key: []byte("nope")})
	require.Error(t, err)
}
