// Package transport defines the contract the core consumes but does
// not implement (spec.md §4.7): a blocking bulk send/receive with
// same-rank short-circuit left to the caller.
package transport

import (
	"context"

	"github.com/hxhim/hxhim-go/pkg/wire"
)

// Transport sends one bulk request to a destination rank and blocks
// for its response. Implementations are free to parallelize across
// concurrent SendBulk calls from different goroutines; a single call
// does not support mid-flight cancellation once the underlying network
// operation has started; passing a canceled ctx before that point is
// honored.
type Transport interface {
	// SendBulk delivers req to dstRank and returns its response.
	// Callers never invoke SendBulk for dstRank == their own rank; that
	// case is short-circuited directly into the local range-server loop
	// (spec.md §4.7).
	SendBulk(ctx context.Context, dstRank int32, req wire.Request) (wire.Response, error)

	// Close releases any connections or listeners the transport holds.
	Close() error
}
