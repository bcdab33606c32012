package egress

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NullSink(t *testing.T) {
	assert := assert.New(t)

	sink := NewNull()

	assert.NoError(sink.Write(t.Context(), 1, []byte("abcdef")))
	assert.NoError(sink.Write(t.Context(), 2, []byte("0123")))
	assert.NoError(sink.Flush(t.Context()))
	assert.NoError(sink.Close())

	assert.Equal(int64(10), sink.Bytes())
}

func Test_FileSink(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "staging.log")

	sink, err := NewFile(DefaultFileConfig(path))
	require.NoError(err)

	chunks := []struct {
		id   uint32
		data string
	}{
		{1, "first ring says hello"},
		{2, "second ring says hello"},
		{1, "first ring again"},
	}

	for _, c := range chunks {
		assert.NoError(sink.Write(t.Context(), c.id, []byte(c.data)))
	}

	require.NoError(sink.Close())

	// Decode the frames back and verify the per-ring streams survived.
	file, err := os.Open(path)
	require.NoError(err)
	defer file.Close()

	r := s2.NewReader(file)

	for _, c := range chunks {
		var header [8]byte
		_, err := io.ReadFull(r, header[:])
		require.NoError(err)

		assert.Equal(c.id, binary.LittleEndian.Uint32(header[0:4]))

		length := binary.LittleEndian.Uint32(header[4:8])
		payload := make([]byte, length)
		_, err = io.ReadFull(r, payload)
		require.NoError(err)

		assert.Equal(c.data, string(payload))
	}

	_, err = io.ReadFull(r, make([]byte, 1))
	assert.ErrorIs(err, io.EOF)

	assert.Equal(int64(59), sink.writtenBytes.Load())
	assert.Zero(sink.writeErrors.Load())
}

func Test_FileSink_FlushDeadline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "staging.log")

	cfg := DefaultFileConfig(path)
	cfg.FlushDeadline = time.Nanosecond

	sink, err := NewFile(cfg)
	require.NoError(err)
	defer sink.Close()

	// The expired deadline forces the frame down to the file right away.
	assert.NoError(sink.Write(t.Context(), 1, []byte("immediate")))

	info, err := os.Stat(path)
	require.NoError(err)
	assert.Positive(info.Size())
}
