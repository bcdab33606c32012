package buffer

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/FerroO2000/nanostage/internal/cycles"
	"github.com/FerroO2000/nanostage/internal/fence"
)

// Buffer is a lock-free circular FIFO byte queue between one producer
// goroutine and one consumer goroutine. The producer reserves contiguous
// space, fills it, then commits it; the consumer peeks at a contiguous run
// of committed bytes and consumes it piecewise.
//
// All positions are byte offsets into storage. producerPos and consumerPos
// never coincide on a non-empty ring, so equal offsets always mean empty
// and one byte of capacity stays unavailable.
//
// The pad type parameter sets the gap between the producer-owned fields and
// the consumer-owned fields: cpu.CacheLinePad keeps the two groups on
// distinct cache lines, struct{} collapses the gap for false-sharing
// comparisons. Use the Padded and Compact instantiations.
type Buffer[pad any] struct {
	// Producer-owned group. producerPos and endOfRecordedSpace are
	// published to the consumer with release stores.

	// producerPos is the offset where the next reservation starts.
	producerPos uint64

	// endOfRecordedSpace marks the exclusive upper bound of valid data.
	// It equals capacity except between a wrap decision and the consumer
	// honoring it, when it names the end of the tail region.
	endOfRecordedSpace uint64

	// minFreeSpace is the producer's cached lower bound on contiguous
	// free bytes ahead of producerPos. Only refreshed from consumerPos
	// when the fast path fails.
	minFreeSpace uint64

	cyclesProducerBlocked   uint64
	numTimesProducerBlocked uint64
	numAllocations          uint64

	// blockedDist is nil unless the histogram was enabled at
	// construction. Bins are 10ns wide, the last one saturating.
	blockedDist  *[histogramBuckets]uint64
	cyclesIn10Ns uint64

	spacer pad

	// Consumer-owned group.

	// consumerPos is the offset where the next read starts. Written with
	// release stores so the producer observes progress.
	consumerPos uint64

	// shouldDeallocate is set once by the owning producer at teardown.
	shouldDeallocate uint32

	_ cpu.CacheLinePad

	// Immutable after construction.
	id       uint32
	capacity uint64
	storage  []byte
}

// Padded is the production configuration: a full cache line separates the
// producer fields from the consumer fields.
type Padded = Buffer[cpu.CacheLinePad]

// Compact places producer and consumer fields back to back, for measuring
// the cost of false sharing.
type Compact = Buffer[struct{}]

// New returns a cache-line-padded staging ring with the given identifier.
func New(id uint32, cfg *Config) (*Padded, error) {
	return newBuffer[cpu.CacheLinePad](id, cfg)
}

// NewCompact returns a staging ring with no gap between the producer and
// consumer fields.
func NewCompact(id uint32, cfg *Config) (*Compact, error) {
	return newBuffer[struct{}](id, cfg)
}

func newBuffer[pad any](id uint32, cfg *Config) (*Buffer[pad], error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	capacity := uint64(cfg.Capacity)

	b := &Buffer[pad]{
		endOfRecordedSpace: capacity,
		minFreeSpace:       capacity,
		id:                 id,
		capacity:           capacity,
		// Separate allocation: an inline array would share cache lines
		// with the position fields.
		storage: make([]byte, capacity),
	}

	if cfg.Histogram {
		b.blockedDist = new([histogramBuckets]uint64)
	}
	b.cyclesIn10Ns = max(1, cycles.FromNanoseconds(histogramBucketNs))

	return b, nil
}

// ID returns the ring's identifier.
func (b *Buffer[pad]) ID() uint32 {
	return b.id
}

// Capacity returns the byte capacity of the ring. At most Capacity()-1
// bytes can be in flight at once.
func (b *Buffer[pad]) Capacity() int {
	return int(b.capacity)
}

// Reserve returns a writable slice of n contiguous bytes without making
// them visible to the consumer. The caller must fill the slice and then
// call Commit before reserving again. Reserve busy-waits behind the
// consumer when the ring lacks space.
//
// The fast path performs no atomic operations and never touches
// consumerPos; it costs a couple of predictable branches.
func (b *Buffer[pad]) Reserve(n int) []byte {
	b.numAllocations++

	nbytes := uint64(n)
	if nbytes < b.minFreeSpace {
		return b.storage[b.producerPos : b.producerPos+nbytes]
	}

	return b.reserveInternal(nbytes, true)
}

// TryReserve is Reserve without the busy-wait: it returns nil when the ring
// cannot satisfy the reservation right now.
func (b *Buffer[pad]) TryReserve(n int) []byte {
	b.numAllocations++

	nbytes := uint64(n)
	if nbytes < b.minFreeSpace {
		return b.storage[b.producerPos : b.producerPos+nbytes]
	}

	return b.reserveInternal(nbytes, false)
}

// reserveInternal recomputes free space from a fresh read of consumerPos,
// wrapping producerPos to the base of storage when the tail cannot hold the
// reservation. It touches state shared with the consumer and therefore pays
// cache-coherency traffic; Reserve only drops into it when the cached bound
// is insufficient.
func (b *Buffer[pad]) reserveInternal(nbytes uint64, blocking bool) []byte {
	if nbytes >= b.capacity {
		panic("buffer: reservation must be smaller than the ring capacity")
	}

	start := cycles.Read()

	// Every comparison below is strict so that producerPos can never
	// catch up to consumerPos: equal positions must keep meaning empty.
	for b.minFreeSpace <= nbytes {
		// consumerPos moves under the consumer goroutine; take one
		// consistent copy per iteration.
		cachedConsumerPos := fence.LoadAcquireUint64(&b.consumerPos)

		if cachedConsumerPos <= b.producerPos {
			b.minFreeSpace = b.capacity - b.producerPos

			if b.minFreeSpace > nbytes {
				break
			}

			// The tail is too small; publish the end-of-data marker
			// and resume at the base.
			fence.StoreReleaseUint64(&b.endOfRecordedSpace, b.producerPos)

			// Wrapping while the consumer sits at the base would make
			// the positions coincide on a non-empty ring. Hold
			// position until the consumer moves.
			if cachedConsumerPos != 0 {
				// The marker must be visible before the wrapped
				// producerPos.
				fence.StoreReleaseUint64(&b.producerPos, 0)
				b.minFreeSpace = cachedConsumerPos
			}
		} else {
			b.minFreeSpace = cachedConsumerPos - b.producerPos
		}

		if !blocking && b.minFreeSpace <= nbytes {
			return nil
		}

		fence.Pause()
	}

	blocked := cycles.Read() - start
	b.cyclesProducerBlocked += blocked
	b.numTimesProducerBlocked++

	if b.blockedDist != nil {
		bin := blocked / b.cyclesIn10Ns
		if bin >= histogramBuckets {
			bin = histogramBuckets - 1
		}
		b.blockedDist[bin]++
	}

	return b.storage[b.producerPos : b.producerPos+nbytes]
}

// Commit publishes the first n bytes of the previous reservation to the
// consumer. n may be smaller than the reserved amount; the unused tail of
// the reservation is simply reused by the next Reserve.
func (b *Buffer[pad]) Commit(n int) {
	nbytes := uint64(n)

	if nbytes >= b.minFreeSpace {
		panic("buffer: commit exceeds the reserved space")
	}
	if b.producerPos+nbytes >= b.capacity {
		panic("buffer: commit runs past the end of storage")
	}

	b.minFreeSpace -= nbytes

	// The release store publishes the bytes written into the reservation
	// before the consumer can observe the advanced position.
	fence.StoreReleaseUint64(&b.producerPos, b.producerPos+nbytes)
}

// Peek returns the contiguous run of committed bytes starting at the
// consumer position. An empty slice means the ring is empty. Peek is
// idempotent except in one case: when the consumer has exhausted the tail
// region of a wrapped ring, Peek moves consumerPos back to the base before
// reporting the head region.
func (b *Buffer[pad]) Peek() []byte {
	// One consistent snapshot of the producer position.
	cachedProducerPos := fence.LoadAcquireUint64(&b.producerPos)
	consumerPos := b.consumerPos

	if cachedProducerPos < consumerPos {
		// The producer has wrapped. The acquire on producerPos above
		// orders this load of the end marker after the snapshot, so a
		// fresh position is never combined with a stale marker.
		end := fence.LoadAcquireUint64(&b.endOfRecordedSpace)

		if end > consumerPos {
			return b.storage[consumerPos:end]
		}

		// Tail exhausted: follow the producer to the base.
		fence.StoreReleaseUint64(&b.consumerPos, 0)
		consumerPos = 0
	}

	return b.storage[consumerPos:cachedProducerPos]
}

// Consume releases the first n bytes of the run returned by the previous
// Peek back to the producer. n must not exceed that run's length.
func (b *Buffer[pad]) Consume(n int) {
	nbytes := uint64(n)

	if b.consumerPos+nbytes > b.capacity {
		panic("buffer: consume runs past the end of storage")
	}

	// The release store keeps reads of the consumed region from being
	// reordered after the space is handed back.
	fence.StoreReleaseUint64(&b.consumerPos, b.consumerPos+nbytes)
}

// MarkForDeletion records that the owning producer is done with the ring.
// The consumer reclaims it once the remaining bytes are drained.
func (b *Buffer[pad]) MarkForDeletion() {
	atomic.StoreUint32(&b.shouldDeallocate, 1)
}

// CanDelete reports whether the ring was marked for deletion and has been
// fully drained. The check is advisory; the reclaim path re-verifies after
// removing the ring from circulation.
func (b *Buffer[pad]) CanDelete() bool {
	return atomic.LoadUint32(&b.shouldDeallocate) != 0 &&
		fence.LoadAcquireUint64(&b.consumerPos) == fence.LoadAcquireUint64(&b.producerPos)
}

// Stats is a snapshot of the producer-side counters.
type Stats struct {
	// Allocations counts Reserve and TryReserve calls.
	Allocations uint64

	// TimesProducerBlocked counts entries into the reserve slow path.
	TimesProducerBlocked uint64

	// CyclesProducerBlocked accumulates cycles spent in the slow path.
	CyclesProducerBlocked uint64

	// BlockedDist is the block-duration histogram in 10ns bins, the last
	// bin saturating. Nil when the histogram was not enabled.
	BlockedDist []uint64
}

// Stats returns a copy of the producer counters. Reading them from another
// goroutine while the producer is live yields an approximate snapshot; for
// exact numbers sample after the producer has quiesced.
func (b *Buffer[pad]) Stats() Stats {
	st := Stats{
		Allocations:           b.numAllocations,
		TimesProducerBlocked:  b.numTimesProducerBlocked,
		CyclesProducerBlocked: b.cyclesProducerBlocked,
	}

	if b.blockedDist != nil {
		st.BlockedDist = append([]uint64(nil), b.blockedDist[:]...)
	}

	return st
}
