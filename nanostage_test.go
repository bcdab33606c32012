package nanostage

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerroO2000/nanostage/control"
)

// captureSink keeps one byte stream per ring so tests can verify that the
// consumer preserved commit order end to end.
type captureSink struct {
	mu      sync.Mutex
	streams map[uint32][]byte
	flushed bool
}

func newCaptureSink() *captureSink {
	return &captureSink{streams: map[uint32][]byte{}}
}

func (s *captureSink) Write(_ context.Context, bufferID uint32, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams[bufferID] = append(s.streams[bufferID], chunk...)
	return nil
}

func (s *captureSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushed = true
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) stream(bufferID uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.streams[bufferID]...)
}

func Test_Registry(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(nil)

	b0, err := reg.NewBuffer()
	assert.NoError(err)
	b1, err := reg.NewBuffer()
	assert.NoError(err)
	b2, err := reg.NewCompactBuffer()
	assert.NoError(err)

	assert.Equal(uint32(0), b0.ID())
	assert.Equal(uint32(1), b1.ID())
	assert.Equal(uint32(2), b2.ID())

	assert.Equal(3, reg.Len())

	snap := reg.Snapshot()
	assert.Len(snap, 3)

	reg.remove(snap[1])
	assert.Equal(2, reg.Len())
	assert.Len(snap, 3)
}

func Test_ConsumerDrainsAndReaps(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	const (
		producers = 3
		records   = 5_000
		recordLen = 64
	)

	cfg := &control.Config{
		StagingBufferCapacity: 1 << 12,
		ReleaseThreshold:      1 << 10,
		PollIntervalNoWork:    time.Microsecond,
		PollIntervalDuringIO:  time.Microsecond,
		OutputBufferSize:      1 << 12,
	}

	reg := NewRegistry(cfg)
	sink := newCaptureSink()
	consumer := NewConsumer(reg, sink)

	ctx, cancel := context.WithCancel(context.Background())

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx)
	}()

	ids := make([]uint32, producers)

	var wg sync.WaitGroup
	wg.Add(producers)

	ready := make(chan uint32, producers)

	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()

			sb, err := reg.NewBuffer()
			assert.NoError(err)
			ready <- sb.ID()

			for i := 0; i < records; i++ {
				dst := sb.Reserve(recordLen)
				binary.LittleEndian.PutUint64(dst, uint64(i))
				for j := 8; j < recordLen; j++ {
					dst[j] = byte(p)
				}
				sb.Commit(recordLen)
			}

			sb.MarkForDeletion()
		}(p)
	}

	for p := 0; p < producers; p++ {
		ids[p] = <-ready
	}

	wg.Wait()

	// The consumer reaps every ring once it is marked and drained.
	require.Eventually(func() bool { return reg.Len() == 0 },
		10*time.Second, time.Millisecond)

	cancel()
	<-consumerDone

	assert.True(sink.flushed)
	assert.Equal(int64(producers*records*recordLen), consumer.drainedBytes.Load())
	assert.Equal(int64(producers), consumer.reapedBuffers.Load())

	// Per ring: full length, records in commit order, payload intact.
	for _, id := range ids {
		stream := sink.stream(id)
		require.Len(stream, records*recordLen)

		for i := 0; i < records; i++ {
			record := stream[i*recordLen : (i+1)*recordLen]
			assert.Equal(uint64(i), binary.LittleEndian.Uint64(record))
		}
	}
}

func Test_ConsumerApplyConfig(t *testing.T) {
	assert := assert.New(t)

	reg := NewRegistry(nil)
	consumer := NewConsumer(reg, newCaptureSink())

	assert.Equal(int64(reg.Config().ReleaseThreshold), consumer.releaseThreshold.Load())

	updated := *reg.Config()
	updated.ReleaseThreshold = 1 << 10

	control.RegisterReloadHook(func() { consumer.ApplyConfig(&updated) })
	control.TriggerHotReload()

	assert.Equal(int64(1<<10), consumer.releaseThreshold.Load())
}
