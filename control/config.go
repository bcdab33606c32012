// Package control centralizes the runtime configuration knobs shared by the
// staging rings and the background consumer, with validation that degrades
// to safe fallbacks instead of failing startup.
package control

import (
	"time"

	"github.com/FerroO2000/nanostage/buffer"
	"github.com/FerroO2000/nanostage/internal/telemetry"
)

const (
	// DefaultOutputBufferSize is the default OutputBufferSize. Validation
	// falls back to it (or to the ring capacity, if larger) when the
	// configured value is smaller than one staging ring.
	DefaultOutputBufferSize = 1 << 26

	// DefaultPollInterval is the consumer sleep between unproductive
	// drain passes. Kernel overheads make it a lower bound.
	DefaultPollInterval = time.Microsecond
)

// Config carries the runtime parameters of the staging system.
type Config struct {
	// StagingBufferCapacity is the byte capacity of each per-producer
	// staging ring. It should be large enough to absorb bursts.
	//
	// Default: 1 << 20
	StagingBufferCapacity int

	// HistogramEnabled turns on the producer block-duration histogram of
	// every ring created through the registry.
	//
	// Default: false
	HistogramEnabled bool

	// ReleaseThreshold is the largest number of bytes the consumer
	// releases back to a producer in one step. A low value means more
	// frequent but shorter producer stalls, a high value the opposite.
	//
	// Default: StagingBufferCapacity / 2
	ReleaseThreshold int

	// PollIntervalNoWork is how long the consumer sleeps after a drain
	// pass that moved no bytes.
	//
	// Default: 1µs
	PollIntervalNoWork time.Duration

	// PollIntervalDuringIO is how long the consumer sleeps after the
	// sink reported backpressure.
	//
	// Default: 1µs
	PollIntervalDuringIO time.Duration

	// OutputBufferSize is the configured byte size of the consumer output
	// buffer. It shall not be smaller than StagingBufferCapacity. Only
	// Validate reads it: Consumer and the egress sinks do not size any
	// buffer from it.
	//
	// Default: 1 << 26
	OutputBufferSize int
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() *Config {
	return &Config{
		StagingBufferCapacity: buffer.DefaultCapacity,
		ReleaseThreshold:      buffer.DefaultCapacity >> 1,
		PollIntervalNoWork:    DefaultPollInterval,
		PollIntervalDuringIO:  DefaultPollInterval,
		OutputBufferSize:      DefaultOutputBufferSize,
	}
}

// Validate checks the configuration and replaces out-of-range values with
// their fallbacks, recording each replacement in ac.
func (c *Config) Validate(ac *AnomalyCollector) {
	if c.StagingBufferCapacity < 2 {
		ac.Add("StagingBufferCapacity", "must hold at least one byte plus the empty/full distinction byte",
			c.StagingBufferCapacity, buffer.DefaultCapacity)
		c.StagingBufferCapacity = buffer.DefaultCapacity
	}

	if c.ReleaseThreshold <= 0 || c.ReleaseThreshold > c.StagingBufferCapacity {
		fallback := c.StagingBufferCapacity >> 1
		ac.Add("ReleaseThreshold", "must be within the staging buffer capacity",
			c.ReleaseThreshold, fallback)
		c.ReleaseThreshold = fallback
	}

	if c.PollIntervalNoWork <= 0 {
		ac.Add("PollIntervalNoWork", "must be positive", c.PollIntervalNoWork, DefaultPollInterval)
		c.PollIntervalNoWork = DefaultPollInterval
	}

	if c.PollIntervalDuringIO <= 0 {
		ac.Add("PollIntervalDuringIO", "must be positive", c.PollIntervalDuringIO, DefaultPollInterval)
		c.PollIntervalDuringIO = DefaultPollInterval
	}

	if c.OutputBufferSize < c.StagingBufferCapacity {
		fallback := max(c.StagingBufferCapacity, DefaultOutputBufferSize)
		ac.Add("OutputBufferSize", "must hold at least one full staging buffer",
			c.OutputBufferSize, fallback)
		c.OutputBufferSize = fallback
	}
}

// Normalized validates the configuration, logs every anomaly through tel
// and returns the corrected copy.
func (c *Config) Normalized(tel *telemetry.Telemetry) *Config {
	out := *c

	ac := &AnomalyCollector{}
	out.Validate(ac)
	ac.LogAll(tel)

	return &out
}
