package buffer

import (
	"sync/atomic"

	"github.com/FerroO2000/nanostage/internal/fence"
)

// SpinLock is the test-and-set baseline staging buffer: the same circular
// queue as Mutex behind a raw spin lock with a PAUSE backoff.
type SpinLock struct {
	locked atomic.Bool

	id uint32

	readPos           int
	writePos          int
	bytesReadable     int
	endOfWrittenSpace int

	bytesPushed int64
	bytesPopped int64

	buf []byte
}

// NewSpinLock returns a spin-locked staging buffer of the given capacity.
func NewSpinLock(id uint32, capacity int) *SpinLock {
	return &SpinLock{
		id:  id,
		buf: make([]byte, capacity),
	}
}

// ID returns the buffer's identifier.
func (s *SpinLock) ID() uint32 {
	return s.id
}

func (s *SpinLock) lock() {
	for !s.locked.CompareAndSwap(false, true) {
		fence.Pause()
	}
}

func (s *SpinLock) unlock() {
	s.locked.Store(false)
}

// Push copies data into the buffer. It returns false when there is not
// enough space.
func (s *SpinLock) Push(data []byte) bool {
	s.lock()
	defer s.unlock()

	nbytes := len(data)

	if s.readPos > s.writePos && s.readPos-s.writePos <= nbytes {
		return false
	}

	if s.readPos <= s.writePos && len(s.buf)-s.writePos < nbytes {
		s.endOfWrittenSpace = s.writePos

		if s.readPos == 0 {
			return false
		}

		s.writePos = 0
		if s.readPos <= nbytes {
			return false
		}
	}

	copy(s.buf[s.writePos:], data)
	s.bytesPushed += int64(nbytes)
	s.bytesReadable += nbytes
	s.writePos += nbytes

	return true
}

// Peek returns the contiguous readable run, rolling the read position over
// when the written tail is exhausted.
func (s *SpinLock) Peek() []byte {
	s.lock()
	defer s.unlock()

	if s.readPos <= s.writePos {
		return s.buf[s.readPos:s.writePos]
	}

	bytesAvail := s.endOfWrittenSpace - s.readPos

	if bytesAvail == 0 {
		s.readPos = 0
		return s.buf[:s.writePos]
	}

	return s.buf[s.readPos : s.readPos+bytesAvail]
}

// Pop frees the first nbytes of the readable run back to the producer.
func (s *SpinLock) Pop(nbytes int) {
	s.lock()
	defer s.unlock()

	s.bytesReadable -= nbytes
	s.bytesPopped += int64(nbytes)

	if s.readPos < s.writePos {
		s.readPos += nbytes
		return
	}

	firstHalf := s.endOfWrittenSpace - s.readPos
	switch {
	case firstHalf >= nbytes:
		s.readPos += nbytes
	case firstHalf == 0:
		s.readPos = 0
	default:
		s.readPos = nbytes - firstHalf
	}
}
