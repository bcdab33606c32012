package egress

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/FerroO2000/nanostage/internal/telemetry"
)

//////////////
//  CONFIG  //
//////////////

// KafkaConfig contains the configuration for the Kafka sink.
type KafkaConfig struct {
	// A list of Kafka brokers to connect to.
	//
	// Default: localhost:9092
	Brokers []string

	// Topic receiving the drained chunks.
	//
	// Default: nanostage-logs
	Topic string

	// The balancer used to distribute messages across partitions.
	// Messages are keyed by ring id, so a hashing balancer preserves the
	// per-ring commit order within a partition.
	//
	// Default: Hash.
	Balancer kafka.Balancer

	// Limit on how many attempts will be made to deliver a message.
	//
	// Default: 10.
	MaxAttempts int

	// Limit on how many messages will be buffered before being sent to a
	// partition.
	//
	// Default: 100.
	BatchSize int

	// Limit the maximum size of a request in bytes before being sent to
	// a partition.
	//
	// Default: 1048576.
	BatchBytes int64

	// Time limit on how often incomplete message batches will be flushed
	// to kafka.
	//
	// Default: 1s.
	BatchTimeout time.Duration

	// Number of acknowledges from partition replicas required before
	// receiving a response to a produce request.
	//
	// Default: RequireNone.
	RequiredAcks kafka.RequiredAcks

	// Compression codec applied to the batches.
	//
	// Default: Snappy.
	Compression kafka.Compression

	// AllowAutoTopicCreation notifies writer to create topic if missing.
	//
	// Default: true.
	AllowAutoTopicCreation bool
}

// DefaultKafkaConfig returns the default Kafka sink configuration.
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:                []string{"localhost:9092"},
		Topic:                  "nanostage-logs",
		Balancer:               &kafka.Hash{},
		MaxAttempts:            10,
		BatchSize:              100,
		BatchBytes:             1048576,
		BatchTimeout:           time.Second,
		RequiredAcks:           kafka.RequireNone,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

////////////
//  SINK  //
////////////

// Kafka ships drained chunks as Kafka messages keyed by ring id. Chunks are
// copied on write because the writer batches asynchronously while the ring
// storage gets recycled.
type Kafka struct {
	cfg *KafkaConfig
	tel *telemetry.Telemetry

	writer *kafka.Writer

	shippedBytes atomic.Int64
	writeErrors  atomic.Int64
}

// NewKafka returns a Kafka sink for the given configuration.
func NewKafka(cfg *KafkaConfig) *Kafka {
	if cfg == nil {
		cfg = DefaultKafkaConfig()
	}

	k := &Kafka{
		cfg: cfg,
		tel: telemetry.New("egress", "kafka"),

		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               cfg.Balancer,
			MaxAttempts:            cfg.MaxAttempts,
			BatchSize:              cfg.BatchSize,
			BatchBytes:             cfg.BatchBytes,
			BatchTimeout:           cfg.BatchTimeout,
			RequiredAcks:           cfg.RequiredAcks,
			Compression:            cfg.Compression,
			AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		},
	}

	k.tel.NewCounter("shipped_bytes", func() int64 { return k.shippedBytes.Load() })
	k.tel.NewCounter("write_errors", func() int64 { return k.writeErrors.Load() })

	return k
}

// Write ships one chunk as a message keyed by the ring id.
func (k *Kafka) Write(ctx context.Context, bufferID uint32, chunk []byte) error {
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, bufferID)

	msg := kafka.Message{
		Key:   key,
		Value: append([]byte(nil), chunk...),
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.writeErrors.Add(1)
		return err
	}

	k.shippedBytes.Add(int64(len(chunk)))

	return nil
}

// Flush is a no-op: the writer flushes its batches on BatchTimeout and on
// Close.
func (k *Kafka) Flush(context.Context) error { return nil }

// Close flushes pending batches and releases the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
