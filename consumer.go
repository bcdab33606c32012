package nanostage

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/nanostage/control"
	"github.com/FerroO2000/nanostage/egress"
	"github.com/FerroO2000/nanostage/internal/telemetry"
)

// Consumer is the single background goroutine draining every registered
// staging ring into an egress sink.
//
// Space is released back to producers piecewise, at most ReleaseThreshold
// bytes per step: producers block when their ring is full, so a low
// threshold trades more frequent stalls for shorter ones.
type Consumer struct {
	reg  *Registry
	sink egress.Sink
	tel  *telemetry.Telemetry

	// Runtime knobs, replaceable through ApplyConfig while running.
	releaseThreshold atomic.Int64
	pollNoWork       atomic.Int64
	pollDuringIO     atomic.Int64

	drainedBytes  atomic.Int64
	reapedBuffers atomic.Int64
	sinkErrors    atomic.Int64
}

// NewConsumer returns a consumer draining reg into sink.
func NewConsumer(reg *Registry, sink egress.Sink) *Consumer {
	c := &Consumer{
		reg:  reg,
		sink: sink,
		tel:  telemetry.New("consumer", "drain"),
	}

	c.ApplyConfig(reg.Config())

	c.tel.NewCounter("drained_bytes", func() int64 { return c.drainedBytes.Load() })
	c.tel.NewCounter("reaped_buffers", func() int64 { return c.reapedBuffers.Load() })
	c.tel.NewCounter("sink_errors", func() int64 { return c.sinkErrors.Load() })

	return c
}

// ApplyConfig refreshes the runtime knobs. It is safe to call while Run is
// live, typically from a control.RegisterReloadHook callback.
func (c *Consumer) ApplyConfig(cfg *control.Config) {
	cfg = cfg.Normalized(c.tel)

	c.releaseThreshold.Store(int64(cfg.ReleaseThreshold))
	c.pollNoWork.Store(int64(cfg.PollIntervalNoWork))
	c.pollDuringIO.Store(int64(cfg.PollIntervalDuringIO))
}

// Run drains the registry until ctx is canceled, then performs a final
// sweep over the remaining bytes and flushes the sink.
func (c *Consumer) Run(ctx context.Context) {
	c.tel.LogInfo("running")

	for ctx.Err() == nil {
		if c.drainOnce(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(c.pollNoWork.Load())):
		}
	}

	// Producers that already committed must not lose their tail bytes.
	final := context.WithoutCancel(ctx)
	for c.drainOnce(final) {
	}

	if err := c.sink.Flush(final); err != nil {
		c.tel.LogError(err, "final flush failed")
	}

	c.tel.LogInfo("closing")
}

// drainOnce makes one pass over all registered rings and reports whether
// any bytes moved.
func (c *Consumer) drainOnce(ctx context.Context) bool {
	moved := false

	for _, sb := range c.reg.Snapshot() {
		run := sb.Peek()
		if len(run) == 0 {
			if sb.CanDelete() {
				c.reap(sb)
			}
			continue
		}

		moved = true
		threshold := int(c.releaseThreshold.Load())

		for len(run) > 0 {
			piece := min(len(run), threshold)

			if err := c.sink.Write(ctx, sb.ID(), run[:piece]); err != nil {
				c.sinkErrors.Add(1)
				c.tel.LogError(err, "sink write failed",
					slog.Uint64("buffer", uint64(sb.ID())))

				time.Sleep(time.Duration(c.pollDuringIO.Load()))
				break
			}

			sb.Consume(piece)
			c.drainedBytes.Add(int64(piece))
			run = run[piece:]
		}
	}

	return moved
}

// reap removes a ring whose owner finished with it. The handshake check
// before removal is advisory, so it is re-verified once the ring is out of
// circulation.
func (c *Consumer) reap(sb StagingBuffer) {
	c.reg.remove(sb)

	if !sb.CanDelete() {
		c.reg.readd(sb)
		return
	}

	c.reapedBuffers.Add(1)
	c.tel.LogInfo("staging buffer reaped", slog.Uint64("id", uint64(sb.ID())))
}
