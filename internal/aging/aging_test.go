package aging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockSize = int64(4096)

// memTarget collects written offsets; prefill writes arrive from multiple
// goroutines.
type memTarget struct {
	mu    sync.Mutex
	size  int64
	offs  []int64
	syncs int

	// shortOnce makes the first write return a partial count with no
	// error, exercising the full-write loop.
	shortOnce bool
}

func (m *memTarget) ReadAt(b []byte, off int64) (int, error) {
	return len(b), nil
}

func (m *memTarget) WriteAt(b []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offs = append(m.offs, off)

	if m.shortOnce {
		m.shortOnce = false

		return len(b) / 2, nil
	}

	return len(b), nil
}

func (m *memTarget) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncs++

	return nil
}

func (m *memTarget) Close() error { return nil }

func (m *memTarget) Size() int64 { return m.size }

func testConfig() Config {
	return Config{
		TotalBytes: 32 * blockSize,
		BatchBytes: 8 * blockSize,
		BlockSize:  blockSize,
		UsedRate:   0.5,
		Rounds:     2,
		Writers:    2,
		Seed:       1,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	for _, mutate := range []func(*Config){
		func(c *Config) { c.BlockSize = 0 },
		func(c *Config) { c.BlockSize = 4097 },
		func(c *Config) { c.TotalBytes = blockSize - 1 },
		func(c *Config) { c.BatchBytes = 0 },
		func(c *Config) { c.UsedRate = 1.5 },
		func(c *Config) { c.Rounds = 0 },
		func(c *Config) { c.Writers = 0 },
	} {
		bad := testConfig()
		mutate(&bad)
		assert.Error(t, bad.Validate())
	}
}

func TestPrefillCoversUsedRange(t *testing.T) {
	tgt := &memTarget{size: 32 * blockSize}

	r, err := NewRunner(testConfig(), tgt, nil)
	require.NoError(t, err)
	require.NoError(t, r.Run())

	// 50% of 32 blocks prefilled: every block in [0, 16) written exactly
	// once across the writers.
	seen := map[int64]int{}
	for _, off := range tgt.offs[:16] {
		seen[off/blockSize]++
	}

	assert.Len(t, seen, 16)
	for blk := int64(0); blk < 16; blk++ {
		assert.Equal(t, 1, seen[blk], "block %d", blk)
	}
}

func TestRoundsStayInBatchWindow(t *testing.T) {
	cfg := testConfig()
	cfg.UsedRate = 0 // isolate the overwrite rounds

	tgt := &memTarget{size: 32 * blockSize}

	r, err := NewRunner(cfg, tgt, nil)
	require.NoError(t, err)
	require.NoError(t, r.Run())

	// 2 rounds of 8 blocks each, all aligned and confined to the batch
	// window.
	require.Len(t, tgt.offs, 16)
	for _, off := range tgt.offs {
		assert.Zero(t, off%blockSize)
		assert.GreaterOrEqual(t, off, int64(0))
		assert.Less(t, off, cfg.BatchBytes)
	}

	// One flush per round.
	assert.Equal(t, 2, tgt.syncs)
}

func TestWriteFullRetriesShortWrites(t *testing.T) {
	tgt := &memTarget{size: 32 * blockSize, shortOnce: true}

	buf := make([]byte, blockSize)
	require.NoError(t, writeFull(tgt, buf, 0))

	// First write was short: the remainder lands at the advanced offset.
	require.Len(t, tgt.offs, 2)
	assert.Equal(t, int64(0), tgt.offs[0])
	assert.Equal(t, blockSize/2, tgt.offs[1])
}
