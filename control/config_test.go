package control

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerroO2000/nanostage/buffer"
)

func Test_DefaultConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()

	ac := &AnomalyCollector{}
	cfg.Validate(ac)

	assert.True(ac.Empty())
	assert.Equal(buffer.DefaultCapacity, cfg.StagingBufferCapacity)
	assert.Equal(buffer.DefaultCapacity>>1, cfg.ReleaseThreshold)
	assert.Equal(DefaultPollInterval, cfg.PollIntervalNoWork)
	assert.GreaterOrEqual(cfg.OutputBufferSize, cfg.StagingBufferCapacity)
}

func Test_ConfigFallbacks(t *testing.T) {
	assert := assert.New(t)

	cfg := &Config{
		StagingBufferCapacity: 1 << 10,
		ReleaseThreshold:      1 << 12,
		PollIntervalNoWork:    -time.Second,
		PollIntervalDuringIO:  0,
		OutputBufferSize:      16,
	}

	ac := &AnomalyCollector{}
	cfg.Validate(ac)

	assert.False(ac.Empty())
	assert.Len(ac.anomalies, 4)

	assert.Equal(1<<10, cfg.StagingBufferCapacity)
	assert.Equal(1<<9, cfg.ReleaseThreshold)
	assert.Equal(DefaultPollInterval, cfg.PollIntervalNoWork)
	assert.Equal(DefaultPollInterval, cfg.PollIntervalDuringIO)
	assert.Equal(DefaultOutputBufferSize, cfg.OutputBufferSize)
}

func Test_ReloadHooks(t *testing.T) {
	assert := assert.New(t)

	var calls atomic.Int32
	RegisterReloadHook(func() { calls.Add(1) })

	TriggerHotReload()
	assert.Equal(int32(1), calls.Load())

	TriggerHotReload()
	assert.Equal(int32(2), calls.Load())
}

func Test_Watcher(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "nanostage.conf")
	require.NoError(os.WriteFile(path, []byte("release_threshold=1024\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(err)
	defer w.Close()

	var reloads atomic.Int32
	RegisterReloadHook(func() { reloads.Add(1) })

	go w.Run(t.Context())

	require.NoError(os.WriteFile(path, []byte("release_threshold=2048\n"), 0o644))

	require.Eventually(func() bool {
		return reloads.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}
