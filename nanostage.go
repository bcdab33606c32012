// Package nanostage wires the per-producer staging rings to the single
// background consumer that drains them. Producers obtain a ring from the
// Registry, write through its reserve/commit interface, and mark it for
// deletion on exit; the Consumer peeks and consumes every registered ring
// round-robin and ships the bytes to an egress sink.
package nanostage

import (
	"log/slog"
	"sync"

	"github.com/FerroO2000/nanostage/buffer"
	"github.com/FerroO2000/nanostage/control"
	"github.com/FerroO2000/nanostage/internal/telemetry"
)

// StagingBuffer is the consumer-side view of a staging ring. Both ring
// layouts produced by the registry satisfy it.
type StagingBuffer interface {
	// Peek returns the contiguous run of committed, unconsumed bytes.
	Peek() []byte
	// Consume releases the first n bytes of the last Peek.
	Consume(n int)
	// CanDelete reports a completed deletion handshake.
	CanDelete() bool
	// ID returns the ring identifier assigned at registration.
	ID() uint32
	// Stats returns the producer-side counters.
	Stats() buffer.Stats
}

// Registry tracks every live staging ring. Each producer goroutine creates
// exactly one ring through it at first use; the consumer iterates over
// snapshots and removes rings whose deletion handshake completed.
type Registry struct {
	cfg *control.Config
	tel *telemetry.Telemetry

	mu      sync.Mutex
	nextID  uint32
	buffers []StagingBuffer
}

// NewRegistry returns a registry handing out rings per the given
// configuration. A nil cfg means defaults; anomalies are corrected and
// logged.
func NewRegistry(cfg *control.Config) *Registry {
	tel := telemetry.New("registry", "global")

	if cfg == nil {
		cfg = control.DefaultConfig()
	}

	return &Registry{
		cfg: cfg.Normalized(tel),
		tel: tel,
	}
}

// Config returns the normalized runtime configuration.
func (r *Registry) Config() *control.Config {
	return r.cfg
}

// NewBuffer creates and registers a cache-line-padded staging ring. The
// calling goroutine becomes the ring's only producer.
func (r *Registry) NewBuffer() (*buffer.Padded, error) {
	return register(r, buffer.New)
}

// NewCompactBuffer is NewBuffer with the zero-gap ring layout.
func (r *Registry) NewCompactBuffer() (*buffer.Compact, error) {
	return register(r, buffer.NewCompact)
}

func register[B StagingBuffer](r *Registry, construct func(uint32, *buffer.Config) (B, error)) (B, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := construct(r.nextID, &buffer.Config{
		Capacity:  r.cfg.StagingBufferCapacity,
		Histogram: r.cfg.HistogramEnabled,
	})
	if err != nil {
		var zero B
		return zero, err
	}

	r.nextID++
	r.buffers = append(r.buffers, b)

	r.tel.LogInfo("staging buffer registered", slog.Uint64("id", uint64(b.ID())))

	return b, nil
}

// Snapshot returns the currently registered rings. The slice is a copy; the
// consumer iterates it without holding the registry lock.
func (r *Registry) Snapshot() []StagingBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]StagingBuffer(nil), r.buffers...)
}

// Len returns the number of registered rings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.buffers)
}

func (r *Registry) remove(sb StagingBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.buffers {
		if b == sb {
			r.buffers = append(r.buffers[:i], r.buffers[i+1:]...)
			return
		}
	}
}

func (r *Registry) readd(sb StagingBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffers = append(r.buffers, sb)
}
