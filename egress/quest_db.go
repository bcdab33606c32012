package egress

import (
	"context"
	"strconv"

	qdb "github.com/questdb/go-questdb-client/v3"

	"github.com/FerroO2000/nanostage/buffer"
	"github.com/FerroO2000/nanostage/internal/cycles"
	"github.com/FerroO2000/nanostage/internal/telemetry"
)

//////////////
//  CONFIG  //
//////////////

// QuestDBConfig contains the configuration for the QuestDB stats reporter.
type QuestDBConfig struct {
	// Address of the QuestDB server.
	//
	// Default: "localhost:9000"
	Address string

	// Table receiving the staging ring statistics rows.
	//
	// Default: "staging_stats"
	Table string
}

// DefaultQuestDBConfig returns the default QuestDB reporter configuration.
func DefaultQuestDBConfig() *QuestDBConfig {
	return &QuestDBConfig{
		Address: "localhost:9000",
		Table:   "staging_stats",
	}
}

////////////////
//  REPORTER  //
////////////////

// QuestDB pushes staging ring statistics as time-series rows over ILP. It
// is a reporting companion to the sinks, not a Sink itself: rows carry
// counters, not log bytes.
type QuestDB struct {
	cfg *QuestDBConfig
	tel *telemetry.Telemetry

	sender qdb.LineSender
}

// NewQuestDB connects a stats reporter to the configured server.
func NewQuestDB(ctx context.Context, cfg *QuestDBConfig) (*QuestDB, error) {
	if cfg == nil {
		cfg = DefaultQuestDBConfig()
	}

	sender, err := qdb.NewLineSender(ctx, qdb.WithHttp(), qdb.WithAddress(cfg.Address))
	if err != nil {
		return nil, err
	}

	return &QuestDB{
		cfg:    cfg,
		tel:    telemetry.New("egress", "questdb"),
		sender: sender,
	}, nil
}

// ReportStats appends one row with the current counters of a ring.
func (q *QuestDB) ReportStats(ctx context.Context, bufferID uint32, st buffer.Stats) error {
	return q.sender.Table(q.cfg.Table).
		Symbol("buffer", strconv.FormatUint(uint64(bufferID), 10)).
		Int64Column("allocations", int64(st.Allocations)).
		Int64Column("times_blocked", int64(st.TimesProducerBlocked)).
		Float64Column("blocked_ns", cycles.ToNanoseconds(st.CyclesProducerBlocked)).
		AtNow(ctx)
}

// Flush sends the buffered rows.
func (q *QuestDB) Flush(ctx context.Context) error {
	return q.sender.Flush(ctx)
}

// Close flushes and releases the sender.
func (q *QuestDB) Close(ctx context.Context) error {
	return q.sender.Close(ctx)
}
