package egress

import (
	"bufio"
	"context"
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/s2"

	"github.com/FerroO2000/nanostage/internal/telemetry"
)

//////////////
//  CONFIG  //
//////////////

// FileConfig contains the configuration for the file sink.
type FileConfig struct {
	// Path is the path to the output log file.
	Path string

	// BufferSize is the size of the buffer that sits between the
	// compressor and the file.
	//
	// Default: 1 << 20
	BufferSize int

	// FlushThresholdPercentage is the fill level of the buffer that
	// triggers a flush.
	//
	// Default: 0.75
	FlushThresholdPercentage float64

	// FlushDeadline is the time since the last flush after which the
	// next Write forces a flush. It is checked only inside Write; no
	// timer flushes an idle sink.
	//
	// Default: 1s
	FlushDeadline time.Duration
}

// DefaultFileConfig returns the default configuration for the file sink.
func DefaultFileConfig(path string) *FileConfig {
	return &FileConfig{
		Path:                     path,
		BufferSize:               1 << 20,
		FlushThresholdPercentage: 0.75,
		FlushDeadline:            time.Second,
	}
}

////////////
//  SINK  //
////////////

// File writes drained chunks to a log file as s2-compressed frames. Each
// frame is a small header (ring id and chunk length, little endian) followed
// by the raw bytes, so the reader can demultiplex the per-ring streams.
//
// File is owned by the single consumer goroutine and is not safe for
// concurrent use.
type File struct {
	cfg *FileConfig
	tel *telemetry.Telemetry

	file *os.File
	buf  *bufio.Writer
	comp *s2.Writer

	flushThreshold int
	lastFlush      time.Time

	writtenBytes atomic.Int64
	writeErrors  atomic.Int64
	flushErrors  atomic.Int64
}

// NewFile opens (appending) the configured log file and returns the sink.
func NewFile(cfg *FileConfig) (*File, error) {
	if cfg == nil {
		return nil, os.ErrInvalid
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1 << 20
	}
	if cfg.FlushThresholdPercentage <= 0 || cfg.FlushThresholdPercentage > 1 {
		cfg.FlushThresholdPercentage = 0.75
	}
	if cfg.FlushDeadline <= 0 {
		cfg.FlushDeadline = time.Second
	}

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	buf := bufio.NewWriterSize(file, cfg.BufferSize)

	f := &File{
		cfg:  cfg,
		tel:  telemetry.New("egress", "file"),
		file: file,
		buf:  buf,
		comp: s2.NewWriter(buf),

		flushThreshold: int(float64(cfg.BufferSize) * cfg.FlushThresholdPercentage),
		lastFlush:      time.Now(),
	}

	f.tel.NewCounter("written_bytes", func() int64 { return f.writtenBytes.Load() })
	f.tel.NewCounter("write_errors", func() int64 { return f.writeErrors.Load() })
	f.tel.NewCounter("flush_errors", func() int64 { return f.flushErrors.Load() })

	return f, nil
}

// Write appends one framed chunk to the compressed stream.
func (f *File) Write(ctx context.Context, bufferID uint32, chunk []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], bufferID)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(chunk)))

	if _, err := f.comp.Write(header[:]); err != nil {
		f.writeErrors.Add(1)
		return err
	}
	if _, err := f.comp.Write(chunk); err != nil {
		f.writeErrors.Add(1)
		return err
	}

	f.writtenBytes.Add(int64(len(chunk)))

	if f.buf.Buffered() > f.flushThreshold || time.Since(f.lastFlush) > f.cfg.FlushDeadline {
		return f.Flush(ctx)
	}

	return nil
}

// Flush pushes the compressor and buffer contents down to the file.
func (f *File) Flush(context.Context) error {
	f.lastFlush = time.Now()

	if err := f.comp.Flush(); err != nil {
		f.flushErrors.Add(1)
		return err
	}
	if err := f.buf.Flush(); err != nil {
		f.flushErrors.Add(1)
		return err
	}

	return nil
}

// Close terminates the compressed stream and closes the file.
func (f *File) Close() error {
	if err := f.comp.Close(); err != nil {
		f.flushErrors.Add(1)
	}
	if err := f.buf.Flush(); err != nil {
		f.flushErrors.Add(1)
	}

	return f.file.Close()
}
