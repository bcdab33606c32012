package buffer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/FerroO2000/nanostage/internal/fence"
)

const benchRecordLen = 16

func Benchmark_Staging_RoundTrip(b *testing.B) {
	b.ReportAllocs()

	b.Run("Padded", func(b *testing.B) {
		sb, _ := New(0, nil)
		benchStagingRoundTrip(b, sb)
	})

	b.Run("Compact", func(b *testing.B) {
		sb, _ := NewCompact(0, nil)
		benchStagingRoundTrip(b, sb)
	})
}

func benchStagingRoundTrip[pad any](b *testing.B, sb *Buffer[pad]) {
	record := make([]byte, benchRecordLen)

	for b.Loop() {
		dst := sb.Reserve(benchRecordLen)
		copy(dst, record)
		sb.Commit(benchRecordLen)

		sb.Consume(len(sb.Peek()))
	}
}

func Benchmark_Staging_Pipelined(b *testing.B) {
	b.ReportAllocs()

	b.Run("Padded", func(b *testing.B) {
		sb, _ := New(0, nil)
		benchStagingPipelined(b, sb)
	})

	b.Run("Compact", func(b *testing.B) {
		sb, _ := NewCompact(0, nil)
		benchStagingPipelined(b, sb)
	})
}

// benchStagingPipelined measures the producer side alone while a second
// goroutine drains, which is the deployment shape: the reserve fast path
// never waits as long as the consumer keeps up.
func benchStagingPipelined[pad any](b *testing.B, sb *Buffer[pad]) {
	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			run := sb.Peek()
			if len(run) > 0 {
				sb.Consume(len(run))
				continue
			}

			if stop.Load() {
				return
			}
			fence.Pause()
		}
	}()

	record := make([]byte, benchRecordLen)

	b.ResetTimer()
	for b.Loop() {
		dst := sb.Reserve(benchRecordLen)
		copy(dst, record)
		sb.Commit(benchRecordLen)
	}

	stop.Store(true)
	wg.Wait()
}

func Benchmark_Locked_RoundTrip(b *testing.B) {
	b.ReportAllocs()

	suite := []struct {
		name   string
		buffer lockedBuffer
	}{
		{"Mutex", NewMutex(0, DefaultCapacity)},
		{"SpinLock", NewSpinLock(0, DefaultCapacity)},
	}

	for _, bCase := range suite {
		b.Run(bCase.name, func(b *testing.B) {
			record := make([]byte, benchRecordLen)

			for b.Loop() {
				for !bCase.buffer.Push(record) {
				}
				bCase.buffer.Pop(len(bCase.buffer.Peek()))
			}
		})
	}
}

func Benchmark_Deque_RoundTrip(b *testing.B) {
	b.ReportAllocs()

	d := NewDeque(0, DefaultCapacity, benchRecordLen)
	record := make([]byte, benchRecordLen)

	for b.Loop() {
		d.Push(record)
		d.Pop()
	}
}
