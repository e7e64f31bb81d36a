// Package replay drives a parsed block I/O trace against an open target:
// it materializes the warm-up set, issues the recorded operations in
// original order with aligned buffers, and aggregates latency and
// throughput statistics.
package replay

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/storagelab/blkreplay/internal/blockmath"
	"github.com/storagelab/blkreplay/internal/occupancy"
	"github.com/storagelab/blkreplay/internal/target"
	"github.com/storagelab/blkreplay/internal/trace"
)

// Config selects the engine's behavior. One engine serves both observed
// tool variants; callers pick preallocation, rounding and warm-up policy
// here instead of duplicating the pipeline.
type Config struct {
	// BlockSize is the target's minimum transfer granularity in bytes.
	BlockSize int64
	// TargetSize is the addressable range replayed against; must be a
	// multiple of BlockSize.
	TargetSize int64
	// Rounding selects how misaligned trace offsets are normalized.
	Rounding trace.RoundingPolicy
	// SkipMalformed drops and counts malformed trace lines instead of
	// failing the run.
	SkipMalformed bool
	// NeedsWarmup decides, from the target identifier, whether reads of
	// never-written blocks have undefined semantics on this backend and
	// the warm-up phase must run. Nil means no warm-up.
	NeedsWarmup func(targetID string) bool
	// ProgressEvery emits a progress log line every N records during
	// parsing and replay. Zero disables progress logging.
	ProgressEvery int64
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0, got %d", c.BlockSize)
	}
	// O_DIRECT alignment and the occupancy bitmap both assume power-of-two
	// blocks.
	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("block size must be a power of two, got %d", c.BlockSize)
	}
	if c.TargetSize <= 0 {
		return fmt.Errorf("target size must be > 0, got %d", c.TargetSize)
	}
	if c.TargetSize%c.BlockSize != 0 {
		return fmt.Errorf("target size %d is not a multiple of block size %d", c.TargetSize, c.BlockSize)
	}

	return nil
}

// WarmupError reports a failed or short warm-up write. Warm-up is
// all-or-nothing: the first failure aborts the run.
type WarmupError struct {
	BlockIdx int64
	Err      error
}

func (e *WarmupError) Error() string {
	return fmt.Sprintf("warmup write failed at block %d: %v", e.BlockIdx, e.Err)
}

func (e *WarmupError) Unwrap() error {
	return e.Err
}

// ReplayError reports a failed or short transfer during replay, identified
// by the operation's index in the trace and its byte address. The run
// stops at the failing operation; continuing would corrupt the aggregate
// statistics with partial transfers.
type ReplayError struct {
	Index     int64
	Address   int64
	Direction trace.Direction
	Err       error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay %s failed at operation %d (address %d): %v", e.Direction, e.Index, e.Address, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// Engine replays one trace against one open target. Parsing, warm-up and
// replay are three strictly sequential phases on a single goroutine;
// operations never overlap or reorder, because replay fidelity is the
// entire point of the tool.
type Engine struct {
	cfg      Config
	target   target.Target
	targetID string
	logger   *zap.Logger
}

// NewEngine validates cfg and binds the engine to an open target. targetID
// is the identifier the warm-up policy is evaluated over, typically the
// target path.
func NewEngine(cfg Config, tgt target.Target, targetID string, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid replay config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:      cfg,
		target:   tgt,
		targetID: targetID,
		logger:   logger,
	}, nil
}

// Run executes the full pipeline: parse the trace, warm up the blocks that
// are read before ever being written, replay every operation in trace
// order, then durably flush the target. It runs to completion or fails
// fast; there is no retry, cancellation or partial resume.
func (e *Engine) Run(traceReader io.Reader) (*Report, error) {
	records, tracker, skipped, err := e.parse(traceReader)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Parsed:  int64(len(records)),
		Skipped: skipped,
	}

	warmupBlocks := tracker.WarmupBlocks()
	if e.cfg.NeedsWarmup != nil && e.cfg.NeedsWarmup(e.targetID) && len(warmupBlocks) > 0 {
		e.logger.Info("starting warmup",
			zap.Int("blocks", len(warmupBlocks)),
			zap.String("target", e.targetID))

		start := time.Now()
		if err := e.warmup(warmupBlocks); err != nil {
			return nil, err
		}

		report.WarmupBlocks = int64(len(warmupBlocks))
		report.WarmupDuration = time.Since(start)
	} else {
		e.logger.Info("skipping warmup",
			zap.Int("pendingBlocks", len(warmupBlocks)),
			zap.String("target", e.targetID))
	}

	if err := e.replay(records, report); err != nil {
		return nil, err
	}

	return report, nil
}

// parse runs the single forward pass: every line becomes a normalized
// record, and the occupancy tracker observes it in the same pass.
func (e *Engine) parse(r io.Reader) ([]trace.Record, *occupancy.Tracker, int64, error) {
	parser := &trace.Parser{
		BlockSize:     e.cfg.BlockSize,
		TargetSize:    e.cfg.TargetSize,
		Rounding:      e.cfg.Rounding,
		SkipMalformed: e.cfg.SkipMalformed,
	}
	tracker := occupancy.NewTracker(e.cfg.TargetSize, e.cfg.BlockSize)

	var parsed int64
	res, err := parser.Parse(r, func(rec trace.Record) {
		tracker.Observe(rec)

		parsed++
		if e.cfg.ProgressEvery > 0 && parsed%e.cfg.ProgressEvery == 0 {
			e.logger.Info("parsing trace", zap.Int64("records", parsed))
		}
	})
	if err != nil {
		return nil, nil, 0, err
	}

	e.logger.Info("trace parsed",
		zap.Int("records", len(res.Records)),
		zap.Int64("skipped", res.Skipped),
		zap.Int("warmupBlocks", len(tracker.WarmupBlocks())))

	return res.Records, tracker, res.Skipped, nil
}

// warmup writes one zero-filled block to every listed block offset, in
// warm-up-sequence order, then durably flushes the target. A single
// reusable aligned buffer serves every write; the payload does not matter,
// only that the block becomes valid.
func (e *Engine) warmup(blocks []int64) error {
	buf := target.AlignedBuffer(e.cfg.BlockSize, target.Alignment(e.cfg.BlockSize))

	for i, blk := range blocks {
		n, err := e.target.WriteAt(buf, blockmath.BlockOffset(blk, e.cfg.BlockSize))
		if err != nil {
			return &WarmupError{BlockIdx: blk, Err: err}
		}
		if int64(n) != e.cfg.BlockSize {
			return &WarmupError{BlockIdx: blk, Err: fmt.Errorf("short write: %d of %d bytes", n, e.cfg.BlockSize)}
		}

		if e.cfg.ProgressEvery > 0 && int64(i+1)%e.cfg.ProgressEvery == 0 {
			e.logger.Info("warmup progress",
				zap.Int("written", i+1),
				zap.Int("total", len(blocks)))
		}
	}

	if err := e.target.Sync(); err != nil {
		return fmt.Errorf("error flushing target after warmup: %w", err)
	}

	return nil
}

// replay issues the records in original trace order, one positioned
// transfer per record, timing each operation individually from just before
// the call to just after it returns.
func (e *Engine) replay(records []trace.Record, report *Report) error {
	var stats Stats
	align := target.Alignment(e.cfg.BlockSize)

	replayStart := time.Now()

	for i, rec := range records {
		buf := target.AlignedBuffer(rec.Length, align)

		var (
			n   int
			err error
		)

		opStart := time.Now()
		if rec.Direction == trace.DirectionRead {
			n, err = e.target.ReadAt(buf, rec.Address)
		} else {
			n, err = e.target.WriteAt(buf, rec.Address)
		}
		elapsed := time.Since(opStart)

		if err != nil {
			return &ReplayError{Index: int64(i), Address: rec.Address, Direction: rec.Direction, Err: err}
		}
		if int64(n) != rec.Length {
			return &ReplayError{
				Index:     int64(i),
				Address:   rec.Address,
				Direction: rec.Direction,
				Err:       fmt.Errorf("short transfer: %d of %d bytes", n, rec.Length),
			}
		}

		stats.Observe(rec.Direction, rec.Length, elapsed)

		if e.cfg.ProgressEvery > 0 && int64(i+1)%e.cfg.ProgressEvery == 0 {
			e.logger.Info("replay progress",
				zap.Int("processed", i+1),
				zap.Int("total", len(records)))
		}
	}

	report.ReplayDuration = time.Since(replayStart)
	report.Read = stats.Read()
	report.Write = stats.Write()

	flushStart := time.Now()
	if err := e.target.Sync(); err != nil {
		return fmt.Errorf("error flushing target after replay: %w", err)
	}
	report.FlushDuration = time.Since(flushStart)

	return nil
}
