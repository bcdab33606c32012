// stagebench measures the producer-side latency of the staging buffer
// designs: pinned producer goroutines push fixed-size records through one
// ring each while a single consumer drains them all.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/FerroO2000/nanostage"
	"github.com/FerroO2000/nanostage/buffer"
	"github.com/FerroO2000/nanostage/control"
	"github.com/FerroO2000/nanostage/egress"
	"github.com/FerroO2000/nanostage/internal/affinity"
	"github.com/FerroO2000/nanostage/internal/cycles"
	"github.com/FerroO2000/nanostage/telemetry"
)

var (
	variant    = flag.String("variant", "staging", "buffer design: staging|compact|mutex|spinlock|cond|deque")
	producers  = flag.Int("producers", 2, "number of producer goroutines (one ring each)")
	iterations = flag.Int("iterations", 1_000_000, "total records pushed across all producers")
	capacity   = flag.Int("capacity", buffer.DefaultCapacity, "byte capacity of each ring")
	histogram  = flag.Bool("histogram", false, "record the producer block-duration histogram")
	pinBase    = flag.Int("pin-base", -1, "first CPU to pin to (consumer first, then producers); -1 disables pinning")
	outPath    = flag.String("out", "", "compressed output log file; empty discards the drained bytes")
	questdb    = flag.String("questdb", "", "QuestDB address for per-ring stats rows; empty disables")
)

// datum is the 16-byte record every producer pushes, the shape of a typical
// encoded log statement.
var datum = []byte("123456789012345\x00")

// metrics aggregates one producer's measurements.
type metrics struct {
	id          uint32
	numOps      uint64
	totalCycles uint64
	stats       buffer.Stats
}

func (m metrics) avgLatencyNs() float64 {
	if m.numOps == 0 {
		return 0
	}
	return cycles.ToNanoseconds(m.totalCycles) / float64(m.numOps)
}

func main() {
	flag.Parse()

	telemetry.InitLogging(slog.LevelInfo)

	ctx := context.Background()
	telemetry.Init(ctx, "stagebench")
	defer telemetry.Close()

	tracer := otel.Tracer("stagebench")
	ctx, span := tracer.Start(ctx, "benchmark",
		trace.WithAttributes(
			attribute.String("variant", *variant),
			attribute.Int("producers", *producers),
			attribute.Int("iterations", *iterations),
		))
	defer span.End()

	slog.Info("starting benchmark",
		slog.String("variant", *variant),
		slog.Int("producers", *producers),
		slog.Int("iterations", *iterations),
		slog.Int("capacity", *capacity),
	)

	started := time.Now()

	var results []metrics
	switch *variant {
	case "staging", "compact":
		results = runStaging(ctx, *variant == "compact")
	case "mutex":
		results = runLocked(func(id uint32) lockedRing { return buffer.NewMutex(id, *capacity) })
	case "spinlock":
		results = runLocked(func(id uint32) lockedRing { return buffer.NewSpinLock(id, *capacity) })
	case "cond":
		results = runCond()
	case "deque":
		results = runDeque()
	default:
		slog.Error("unknown variant", slog.String("variant", *variant))
		os.Exit(1)
	}

	elapsed := time.Since(started)

	var totalOps uint64
	for _, m := range results {
		totalOps += m.numOps

		slog.Info("producer done",
			slog.Uint64("ring", uint64(m.id)),
			slog.Uint64("ops", m.numOps),
			slog.Float64("avg_ns_per_op", m.avgLatencyNs()),
			slog.Uint64("times_blocked", m.stats.TimesProducerBlocked),
		)
	}

	slog.Info("benchmark done",
		slog.Duration("elapsed", elapsed),
		slog.Float64("ops_per_sec", float64(totalOps)/elapsed.Seconds()),
	)

	if *questdb != "" {
		reportToQuestDB(ctx, results)
	}
}

// barrier releases every participant at once, so all producers hammer their
// rings concurrently from the first record.
func barrier(participants int) (arrive func(), start <-chan struct{}) {
	var ready sync.WaitGroup
	ready.Add(participants)

	ch := make(chan struct{})
	go func() {
		ready.Wait()
		close(ch)
	}()

	return ready.Done, ch
}

// producerRing is the producer-side surface shared by both staging ring
// layouts.
type producerRing interface {
	Reserve(n int) []byte
	Commit(n int)
	MarkForDeletion()
	ID() uint32
	Stats() buffer.Stats
}

func runStaging(ctx context.Context, compact bool) []metrics {
	cfg := control.DefaultConfig()
	cfg.StagingBufferCapacity = *capacity
	cfg.ReleaseThreshold = *capacity >> 1
	cfg.HistogramEnabled = *histogram

	reg := nanostage.NewRegistry(cfg)

	var sink egress.Sink
	if *outPath != "" {
		fileSink, err := egress.NewFile(egress.DefaultFileConfig(*outPath))
		if err != nil {
			slog.Error("cannot open output file", slog.Any("error", err))
			os.Exit(1)
		}
		sink = fileSink
	} else {
		sink = egress.NewNull()
	}
	defer sink.Close()

	consumer := nanostage.NewConsumer(reg, sink)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)

		if *pinBase >= 0 {
			affinity.Pin(*pinBase)
			defer affinity.Unpin()
		}

		consumer.Run(consumerCtx)
	}()

	perProducer := *iterations / *producers
	arrive, start := barrier(*producers)

	resultCh := make(chan metrics, *producers)

	var wg sync.WaitGroup
	wg.Add(*producers)

	for p := 0; p < *producers; p++ {
		go func(p int) {
			defer wg.Done()

			if *pinBase >= 0 {
				affinity.Pin(*pinBase + 1 + p)
				defer affinity.Unpin()
			}

			var ring producerRing
			var err error
			if compact {
				ring, err = reg.NewCompactBuffer()
			} else {
				ring, err = reg.NewBuffer()
			}
			if err != nil {
				slog.Error("cannot create ring", slog.Any("error", err))
				os.Exit(1)
			}

			arrive()
			<-start

			var m metrics
			m.id = ring.ID()

			for i := 0; i < perProducer; i++ {
				t0 := cycles.Read()

				dst := ring.Reserve(len(datum))
				copy(dst, datum)
				ring.Commit(len(datum))

				m.totalCycles += cycles.Read() - t0
				m.numOps++
			}

			m.stats = ring.Stats()
			ring.MarkForDeletion()

			resultCh <- m
		}(p)
	}

	wg.Wait()

	// Let the consumer drain and reap every ring before stopping it.
	for reg.Len() > 0 {
		time.Sleep(time.Millisecond)
	}

	stopConsumer()
	<-consumerDone

	close(resultCh)

	var results []metrics
	for m := range resultCh {
		results = append(results, m)
	}

	return results
}

// lockedRing is the push/peek/pop surface of the non-blocking baselines.
type lockedRing interface {
	Push(data []byte) bool
	Peek() []byte
	Pop(nbytes int)
	ID() uint32
}

func runLocked(newRing func(id uint32) lockedRing) []metrics {
	rings := make([]lockedRing, *producers)
	for p := range rings {
		rings[p] = newRing(uint32(p))
	}

	perProducer := *iterations / *producers
	totalRecords := perProducer * *producers

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)

		if *pinBase >= 0 {
			affinity.Pin(*pinBase)
			defer affinity.Unpin()
		}

		consumed := 0
		for consumed < totalRecords {
			for _, ring := range rings {
				if len(ring.Peek()) >= len(datum) {
					ring.Pop(len(datum))
					consumed++
				}
			}
		}
	}()

	arrive, start := barrier(*producers)
	resultCh := make(chan metrics, *producers)

	var wg sync.WaitGroup
	wg.Add(*producers)

	for p := 0; p < *producers; p++ {
		go func(p int) {
			defer wg.Done()

			if *pinBase >= 0 {
				affinity.Pin(*pinBase + 1 + p)
				defer affinity.Unpin()
			}

			ring := rings[p]

			arrive()
			<-start

			var m metrics
			m.id = ring.ID()

			for i := 0; i < perProducer; i++ {
				t0 := cycles.Read()

				// A full ring costs a retry, exactly like the blocked
				// reserve of the lock-free design.
				for !ring.Push(datum) {
				}

				m.totalCycles += cycles.Read() - t0
				m.numOps++
			}

			resultCh <- m
		}(p)
	}

	wg.Wait()
	<-consumerDone

	close(resultCh)

	var results []metrics
	for m := range resultCh {
		results = append(results, m)
	}

	return results
}

func runCond() []metrics {
	rings := make([]*buffer.Cond, *producers)
	for p := range rings {
		rings[p] = buffer.NewCond(uint32(p), *capacity)
	}

	perProducer := *iterations / *producers

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)

		if *pinBase >= 0 {
			affinity.Pin(*pinBase)
			defer affinity.Unpin()
		}

		remaining := make([]int, len(rings))
		for p := range remaining {
			remaining[p] = perProducer
		}

		consumed := 0
		for consumed < perProducer * *producers {
			for p, ring := range rings {
				if remaining[p] == 0 {
					continue
				}

				ring.Pop(len(datum))
				remaining[p]--
				consumed++
			}
		}
	}()

	return runBlockingProducers(func(p int, record []byte) {
		rings[p].Push(record)
	}, consumerDone)
}

func runDeque() []metrics {
	rings := make([]*buffer.Deque, *producers)
	for p := range rings {
		rings[p] = buffer.NewDeque(uint32(p), *capacity, len(datum))
	}

	perProducer := *iterations / *producers

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)

		if *pinBase >= 0 {
			affinity.Pin(*pinBase)
			defer affinity.Unpin()
		}

		remaining := make([]int, len(rings))
		for p := range remaining {
			remaining[p] = perProducer
		}

		consumed := 0
		for consumed < perProducer * *producers {
			for p, ring := range rings {
				if remaining[p] == 0 {
					continue
				}

				ring.Pop()
				remaining[p]--
				consumed++
			}
		}
	}()

	return runBlockingProducers(func(p int, record []byte) {
		rings[p].Push(record)
	}, consumerDone)
}

// runBlockingProducers drives the variants whose push blocks instead of
// reporting backpressure.
func runBlockingProducers(push func(p int, record []byte), consumerDone <-chan struct{}) []metrics {
	perProducer := *iterations / *producers
	arrive, start := barrier(*producers)

	resultCh := make(chan metrics, *producers)

	var wg sync.WaitGroup
	wg.Add(*producers)

	for p := 0; p < *producers; p++ {
		go func(p int) {
			defer wg.Done()

			if *pinBase >= 0 {
				affinity.Pin(*pinBase + 1 + p)
				defer affinity.Unpin()
			}

			arrive()
			<-start

			var m metrics
			m.id = uint32(p)

			for i := 0; i < perProducer; i++ {
				t0 := cycles.Read()
				push(p, datum)
				m.totalCycles += cycles.Read() - t0
				m.numOps++
			}

			resultCh <- m
		}(p)
	}

	wg.Wait()
	<-consumerDone

	close(resultCh)

	var results []metrics
	for m := range resultCh {
		results = append(results, m)
	}

	return results
}

func reportToQuestDB(ctx context.Context, results []metrics) {
	reporter, err := egress.NewQuestDB(ctx, &egress.QuestDBConfig{
		Address: *questdb,
		Table:   "staging_stats",
	})
	if err != nil {
		slog.Error("cannot connect to QuestDB", slog.Any("error", err))
		return
	}
	defer reporter.Close(ctx)

	for _, m := range results {
		if err := reporter.ReportStats(ctx, m.id, m.stats); err != nil {
			slog.Error("cannot report stats row", slog.Any("error", err))
			return
		}
	}

	if err := reporter.Flush(ctx); err != nil {
		slog.Error("cannot flush stats rows", slog.Any("error", err))
	}
}
