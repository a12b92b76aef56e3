package grpcrpc_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hxhim/hxhim-go/pkg/blob"
	"github.com/hxhim/hxhim-go/pkg/transport/grpcrpc"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

func sblob(s string) blob.Blob { return blob.NewOwning([]byte(s), blob.Byte) }

// newLoopback starts a grpcrpc.Server on an in-memory bufconn listener
// and returns a Client dialed to it, bypassing real sockets entirely.
func newLoopback(t *testing.T, dispatch grpcrpc.Dispatcher) (*grpcrpc.Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	gs := grpc.NewServer()
	grpcrpc.NewServer(dispatch).Register(gs)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	client := grpcrpc.NewClient(
		func(int32) (string, error) { return "bufconn", nil },
		grpc.WithContextDialer(dialer),
	)

	cleanup := func() {
		_ = client.Close()
		gs.Stop()
	}
	return client, cleanup
}

func TestSendBulkRoundTripsOverBufconn(t *testing.T) {
	dispatch := func(req wire.Request) wire.Response {
		return wire.Response{
			Header: wire.Header{Op: req.Header.Op, Src: req.Header.Dst, Dst: req.Header.Src},
			Puts: []wire.PutResult{
				{Status: wire.StatusSuccess, Subject: req.Puts[0].Subject, Predicate: req.Puts[0].Predicate},
			},
		}
	}
	client, cleanup := newLoopback(t, dispatch)
	defer cleanup()

	req := wire.Request{
		Header: wire.Header{Op: wire.OpPut, Count: 1},
		Puts:   []wire.PutSlot{{Subject: sblob("s1"), Predicate: sblob("p1"), Object: sblob("o1")}},
	}
	resp, err := client.SendBulk(context.Background(), 0, req)
	require.NoError(t, err)
	require.Len(t, resp.Puts, 1)
	require.Equal(t, wire.StatusSuccess, resp.Puts[0].Status)
}

func TestSendBulkSurfacesResolveError(t *testing.T) {
	client := grpcrpc.NewClient(func(int32) (string, error) {
		return "", context.DeadlineExceeded
	})
	defer client.Close()

	_, err := client.SendBulk(context.Background(), 7, wire.Request{Header: wire.Header{Op: wire.OpSync}})
	require.Error(t, err)
}
