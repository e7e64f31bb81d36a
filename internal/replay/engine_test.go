package replay

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagelab/blkreplay/internal/trace"
)

const blockSize = int64(4096)

type stubOp struct {
	write  bool
	off    int64
	length int
}

// stubTarget records the sequence of operations the engine issues. It can
// return a short transfer or an error at a chosen operation.
type stubTarget struct {
	size    int64
	ops     []stubOp
	syncs   int
	shortAt int // 1-based op count at which to return a short transfer
	errAt   int // 1-based op count at which to return an error
}

func (s *stubTarget) record(write bool, off int64, length int) (int, error) {
	s.ops = append(s.ops, stubOp{write: write, off: off, length: length})

	switch len(s.ops) {
	case s.shortAt:
		return length / 2, nil
	case s.errAt:
		return 0, fmt.Errorf("injected failure")
	}

	return length, nil
}

func (s *stubTarget) ReadAt(b []byte, off int64) (int, error) {
	return s.record(false, off, len(b))
}

func (s *stubTarget) WriteAt(b []byte, off int64) (int, error) {
	return s.record(true, off, len(b))
}

func (s *stubTarget) Sync() error {
	s.syncs++

	return nil
}

func (s *stubTarget) Close() error { return nil }

func (s *stubTarget) Size() int64 { return s.size }

func testConfig() Config {
	return Config{
		BlockSize:  blockSize,
		TargetSize: 64 * blockSize,
	}
}

func newTestEngine(t *testing.T, cfg Config, tgt *stubTarget, targetID string) *Engine {
	t.Helper()

	e, err := NewEngine(cfg, tgt, targetID, nil)
	require.NoError(t, err)

	return e
}

func traceInput(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.BlockSize = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TargetSize = blockSize + 1
	assert.Error(t, bad.Validate())

	// A non-power-of-two block size is rejected even when the target size
	// divides evenly.
	bad = cfg
	bad.BlockSize = 3 * 4096
	bad.TargetSize = 8 * bad.BlockSize
	assert.Error(t, bad.Validate())
}

func TestReplayPreservesTraceOrder(t *testing.T) {
	tgt := &stubTarget{size: 64 * blockSize}
	e := newTestEngine(t, testConfig(), tgt, "/dev/target")

	report, err := e.Run(traceInput(
		"1,Host,0,Write,0,4096",
		"2,Host,0,Write,16384,4096",
		"3,Host,0,Read,0,4096",
		"4,Host,0,Write,8192,8192",
		"5,Host,0,Read,16384,4096",
	))
	require.NoError(t, err)

	want := []stubOp{
		{write: true, off: 0, length: 4096},
		{write: true, off: 16384, length: 4096},
		{write: false, off: 0, length: 4096},
		{write: true, off: 8192, length: 8192},
		{write: false, off: 16384, length: 4096},
	}
	assert.Equal(t, want, tgt.ops)

	assert.Equal(t, int64(5), report.TotalOps())
	assert.Equal(t, int64(6*4096), report.TotalBytes())
	assert.Equal(t, int64(2), report.Read.Ops)
	assert.Equal(t, int64(3), report.Write.Ops)
	// One durable flush after the last record.
	assert.Equal(t, 1, tgt.syncs)
}

func TestShortTransferStopsRun(t *testing.T) {
	tgt := &stubTarget{size: 64 * blockSize, shortAt: 3}
	e := newTestEngine(t, testConfig(), tgt, "/dev/target")

	_, err := e.Run(traceInput(
		"1,Host,0,Write,0,4096",
		"2,Host,0,Write,4096,4096",
		"3,Host,0,Write,8192,4096",
		"4,Host,0,Write,12288,4096",
		"5,Host,0,Write,16384,4096",
	))
	require.Error(t, err)

	var rerr *ReplayError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(2), rerr.Index)
	assert.Equal(t, int64(8192), rerr.Address)
	assert.Equal(t, trace.DirectionWrite, rerr.Direction)

	// The run stops after exactly the failing operation; no further I/O
	// is issued and the final flush never happens.
	assert.Len(t, tgt.ops, 3)
	assert.Zero(t, tgt.syncs)
}

func TestTargetErrorStopsRun(t *testing.T) {
	tgt := &stubTarget{size: 64 * blockSize, errAt: 2}
	e := newTestEngine(t, testConfig(), tgt, "/dev/target")

	_, err := e.Run(traceInput(
		"1,Host,0,Read,0,4096",
		"2,Host,0,Read,4096,4096",
		"3,Host,0,Read,8192,4096",
	))
	require.Error(t, err)

	var rerr *ReplayError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(1), rerr.Index)
	assert.Len(t, tgt.ops, 2)
}

func TestWarmupWritesUnwrittenReadBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.NeedsWarmup = func(id string) bool { return strings.Contains(id, "logdev") }

	tgt := &stubTarget{size: 64 * blockSize}
	e := newTestEngine(t, cfg, tgt, "/dev/logdev0")

	report, err := e.Run(traceInput(
		"1,Host,0,Read,8192,4096",  // block 2, never written: warmed
		"2,Host,0,Write,0,4096",    // block 0 written
		"3,Host,0,Read,0,4096",     // already written: no warmup
		"4,Host,0,Read,8192,4096",  // block 2 again: warmed once
		"5,Host,0,Read,20480,4096", // block 5, never written: warmed
	))
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.WarmupBlocks)

	// Warm-up writes precede the replayed operations, in first-read
	// order, one block each.
	require.True(t, len(tgt.ops) >= 2)
	assert.Equal(t, stubOp{write: true, off: 2 * blockSize, length: int(blockSize)}, tgt.ops[0])
	assert.Equal(t, stubOp{write: true, off: 5 * blockSize, length: int(blockSize)}, tgt.ops[1])

	// Replay follows in trace order.
	assert.Equal(t, stubOp{write: false, off: 8192, length: 4096}, tgt.ops[2])

	// One flush after warm-up, one after replay.
	assert.Equal(t, 2, tgt.syncs)
}

func TestWarmupSkippedByPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.NeedsWarmup = func(id string) bool { return false }

	tgt := &stubTarget{size: 64 * blockSize}
	e := newTestEngine(t, cfg, tgt, "/dev/plain")

	report, err := e.Run(traceInput("1,Host,0,Read,8192,4096"))
	require.NoError(t, err)

	assert.Zero(t, report.WarmupBlocks)
	require.Len(t, tgt.ops, 1)
	assert.False(t, tgt.ops[0].write)
	assert.Equal(t, 1, tgt.syncs)
}

func TestWarmupFailureAbortsRun(t *testing.T) {
	cfg := testConfig()
	cfg.NeedsWarmup = func(string) bool { return true }

	tgt := &stubTarget{size: 64 * blockSize, shortAt: 1}
	e := newTestEngine(t, cfg, tgt, "/dev/logdev0")

	_, err := e.Run(traceInput(
		"1,Host,0,Read,8192,4096",
		"2,Host,0,Read,12288,4096",
	))
	require.Error(t, err)

	var werr *WarmupError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, int64(2), werr.BlockIdx)

	// Warm-up is all-or-nothing: nothing is replayed after the failure.
	assert.Len(t, tgt.ops, 1)
}

func TestParseErrorAbortsBeforeIO(t *testing.T) {
	tgt := &stubTarget{size: 64 * blockSize}
	e := newTestEngine(t, testConfig(), tgt, "/dev/target")

	_, err := e.Run(traceInput(
		"1,Host,0,Write,0,4096",
		"garbage line",
	))
	require.Error(t, err)

	var perr *trace.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, int64(2), perr.Line)
	assert.Empty(t, tgt.ops)
}

func TestSkipMalformedCountsLines(t *testing.T) {
	cfg := testConfig()
	cfg.SkipMalformed = true

	tgt := &stubTarget{size: 64 * blockSize}
	e := newTestEngine(t, cfg, tgt, "/dev/target")

	report, err := e.Run(traceInput(
		"1,Host,0,Write,0,4096",
		"garbage line",
		"2,Host,0,Write,4096,4096",
	))
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, int64(2), report.TotalOps())
}
