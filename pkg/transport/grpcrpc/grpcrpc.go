// Package grpcrpc implements transport.Transport over grpc, carrying
// the wire package's own bulk-request framing as an opaque payload
// instead of generated protobuf messages: a custom grpc codec ships
// the already-serialized bytes untouched, so the wire format stays the
// single source of truth for what goes on the network (spec.md §4.7,
// §6).
package grpcrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/hxhim/hxhim-go/internal/logutil"
	"github.com/hxhim/hxhim-go/pkg/wire"
)

const codecName = "hxhim-raw"

// rawMessage carries an already-marshaled wire payload through grpc's
// generic codec path.
type rawMessage struct{ data []byte }

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("grpcrpc: Marshal: unsupported type %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("grpcrpc: Unmarshal: unsupported type %T", v)
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

const serviceName = "hxhim.RangeServer"
const methodName = "SendBulk"
const fullMethod = "/" + serviceName + "/" + methodName

// AddressResolver maps a destination rank to a dialable grpc address.
type AddressResolver func(rank int32) (string, error)

// Client is the caller side: one lazily-dialed connection per rank.
type Client struct {
	resolve  AddressResolver
	dialOpts []grpc.DialOption
	log      *logutil.Logger

	mu    sync.Mutex
	conns map[int32]*grpc.ClientConn
}

// NewClient returns a Client that dials addresses from resolve on
// first use, reusing the connection for subsequent calls to the same
// rank.
func NewClient(resolve AddressResolver, dialOpts ...grpc.DialOption) *Client {
	return &Client{
		resolve:  resolve,
		dialOpts: dialOpts,
		log:      logutil.Root().New("component", "grpcrpc-client"),
		conns:    make(map[int32]*grpc.ClientConn),
	}
}

func (c *Client) connFor(rank int32) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[rank]; ok {
		return conn, nil
	}
	addr, err := c.resolve(rank)
	if err != nil {
		return nil, errors.Wrapf(err, "grpcrpc: resolve rank %d", rank)
	}
	opts := append([]grpc.DialOption{grpc.WithInsecure()}, c.dialOpts...)
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "grpcrpc: dial rank %d at %q", rank, addr)
	}
	c.conns[rank] = conn
	return conn, nil
}

// SendBulk implements transport.Transport.
func (c *Client) SendBulk(ctx context.Context, dstRank int32, req wire.Request) (wire.Response, error) {
	conn, err := c.connFor(dstRank)
	if err != nil {
		return wire.Response{}, err
	}

	in := &rawMessage{data: wire.MarshalRequest(req)}
	out := new(rawMessage)
	if err := conn.Invoke(ctx, fullMethod, in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return wire.Response{}, errors.Wrapf(err, "grpcrpc: invoke rank %d", dstRank)
	}

	resp, err := wire.UnmarshalResponse(out.data)
	if err != nil {
		return wire.Response{}, errors.Wrapf(err, "grpcrpc: unmarshal response from rank %d", dstRank)
	}
	return resp, nil
}

// Close tears down every dialed connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for rank, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("grpcrpc: close rank %d: %w", rank, err)
		}
	}
	c.conns = make(map[int32]*grpc.ClientConn)
	return firstErr
}

// Dispatcher executes a bulk request against the local range server and
// returns its response; *rangeserver.Server satisfies this.
type Dispatcher func(wire.Request) wire.Response

// Server is the receive side, registered on a *grpc.Server.
type Server struct {
	dispatch Dispatcher
}

// NewServer wraps dispatch as a grpc service.
func NewServer(dispatch Dispatcher) *Server {
	return &Server{dispatch: dispatch}
}

// Register attaches the service to gs. There is no generated
// *_grpc.pb.go here: the ServiceDesc is hand-built against the same
// low-level API protoc-gen-go-grpc emits into, with rawMessage in place
// of a generated request/response pair.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodName, Handler: sendBulkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hxhim/rangeserver.proto",
}

func sendBulkHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.handle(ctx, req.(*rawMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) handle(_ context.Context, in *rawMessage) (*rawMessage, error) {
	req, err := wire.UnmarshalRequest(in.data)
	if err != nil {
		return nil, fmt.Errorf("grpcrpc: unmarshal request: %w", err)
	}
	resp := s.dispatch(req)
	return &rawMessage{data: wire.MarshalResponse(resp)}, nil
}
