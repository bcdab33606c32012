package buffer

import (
	"sync"

	"github.com/eapache/queue"
)

// Deque is the record-oriented baseline: a bounded FIFO of fixed-size
// records behind a monitor lock. It trades the byte-granular interface of
// the other variants for the simplest possible bookkeeping, which is
// exactly what makes it slow.
type Deque struct {
	mu sync.Mutex

	consumedSome *sync.Cond
	producedSome *sync.Cond

	id uint32

	recordSize int
	maxRecords int

	q *queue.Queue

	bytesPushed int64
	bytesPopped int64
}

// NewDeque returns a deque buffer holding capacity/recordSize records of
// recordSize bytes each.
func NewDeque(id uint32, capacity, recordSize int) *Deque {
	d := &Deque{
		id:         id,
		recordSize: recordSize,
		maxRecords: capacity / recordSize,
		q:          queue.New(),
	}
	d.consumedSome = sync.NewCond(&d.mu)
	d.producedSome = sync.NewCond(&d.mu)

	return d
}

// ID returns the buffer's identifier.
func (d *Deque) ID() uint32 {
	return d.id
}

// Push copies one record into the deque, blocking while it is full.
func (d *Deque) Push(data []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.q.Length() >= d.maxRecords {
		d.consumedSome.Wait()
	}

	record := make([]byte, d.recordSize)
	copy(record, data)
	d.q.Add(record)
	d.bytesPushed += int64(d.recordSize)

	d.producedSome.Signal()

	return true
}

// PeekLen returns the number of readable bytes.
func (d *Deque) PeekLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.q.Length() * d.recordSize
}

// Pop removes the oldest record, blocking while the deque is empty.
func (d *Deque) Pop() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.q.Length() == 0 {
		d.producedSome.Wait()
	}

	record := d.q.Remove().([]byte)
	d.bytesPopped += int64(d.recordSize)

	d.consumedSome.Broadcast()

	return record
}
