// Package egress ships bytes drained from the staging rings to their final
// destination. A Sink receives the chunks exactly as the consumer peeked
// them: contiguous, in commit order per ring, interleaved across rings.
package egress

import (
	"context"
	"sync/atomic"
)

// Sink is the consumer-side output contract.
type Sink interface {
	// Write ships one contiguous chunk drained from the ring bufferID.
	// The chunk aliases the ring's storage and is only valid until the
	// call returns; implementations that retain it must copy.
	Write(ctx context.Context, bufferID uint32, chunk []byte) error

	// Flush pushes buffered output down to the destination.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink.
	Close() error
}

// Null is a sink that discards every chunk. It is intended for tests and
// for producer-side benchmarks where output cost must stay out of the
// measurement.
type Null struct {
	bytes atomic.Int64
}

// NewNull returns a discarding sink.
func NewNull() *Null {
	return &Null{}
}

// Write discards the chunk and accounts its size.
func (n *Null) Write(_ context.Context, _ uint32, chunk []byte) error {
	n.bytes.Add(int64(len(chunk)))
	return nil
}

// Flush is a no-op.
func (n *Null) Flush(context.Context) error { return nil }

// Close is a no-op.
func (n *Null) Close() error { return nil }

// Bytes returns the number of discarded bytes.
func (n *Null) Bytes() int64 {
	return n.bytes.Load()
}
