// Package buffer implements the per-producer staging byte rings that
// decouple logging producers from the background consumer.
//
// The production implementation is Buffer, a lock-free single-producer/
// single-consumer ring with reserve/commit semantics on the producer side
// and peek/consume on the consumer side. The remaining types (Mutex,
// SpinLock, Cond, Deque) are the baseline designs kept around for the
// benchmark study; they share the same circular-queue semantics behind a
// simpler push/peek/pop surface.
//
// Every ring is owned by exactly one producer goroutine for writes and by
// the single consumer goroutine for reads. None of the types support more
// than one producer per instance.
package buffer
