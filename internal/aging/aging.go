// Package aging synthetically ages a block storage device: it prefills a
// fraction of the device and then performs repeated rounds of randomized
// block overwrites, giving log-structured backends steady-state
// fragmentation before a benchmark run.
package aging

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/storagelab/blkreplay/internal/blockmath"
	"github.com/storagelab/blkreplay/internal/target"
)

// Config holds the aging parameters.
type Config struct {
	// TotalBytes is the device range to prefill over; truncated to a
	// block boundary.
	TotalBytes int64
	// BatchBytes is the amount written per overwrite round. Random
	// overwrites are confined to the first BatchBytes of the device to
	// keep reclaimed space concentrated.
	BatchBytes int64
	// BlockSize is the write granularity.
	BlockSize int64
	// UsedRate is the fraction of TotalBytes prefilled before the rounds.
	UsedRate float64
	// Interval is the pause between rounds, giving background cleaning a
	// window to run.
	Interval time.Duration
	// Rounds is the number of overwrite rounds.
	Rounds int
	// Writers is the number of concurrent prefill writers.
	Writers int
	// Seed seeds the overwrite RNG; zero means time-based.
	Seed int64
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0, got %d", c.BlockSize)
	}
	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("block size must be a power of two, got %d", c.BlockSize)
	}
	if c.TotalBytes < c.BlockSize {
		return fmt.Errorf("total bytes %d smaller than one block", c.TotalBytes)
	}
	if c.BatchBytes < c.BlockSize {
		return fmt.Errorf("batch bytes %d smaller than one block", c.BatchBytes)
	}
	if c.UsedRate < 0 || c.UsedRate > 1 {
		return fmt.Errorf("used rate must be in [0, 1], got %f", c.UsedRate)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("rounds must be >= 1, got %d", c.Rounds)
	}
	if c.Writers < 1 {
		return fmt.Errorf("writers must be >= 1, got %d", c.Writers)
	}

	return nil
}

// Runner ages one open target.
type Runner struct {
	cfg    Config
	target target.Target
	logger *zap.Logger
}

// NewRunner validates cfg and binds the runner to an open target.
func NewRunner(cfg Config, tgt target.Target, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid aging config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{cfg: cfg, target: tgt, logger: logger}, nil
}

// Run prefills the device, then performs the overwrite rounds with the
// configured pause between them.
func (r *Runner) Run() error {
	prefillBytes := blockmath.RoundDown(int64(float64(r.cfg.TotalBytes)*r.cfg.UsedRate), r.cfg.BlockSize)

	if prefillBytes > 0 {
		r.logger.Info("prefilling device",
			zap.Int64("bytes", prefillBytes),
			zap.Int("writers", r.cfg.Writers))

		start := time.Now()
		if err := r.prefill(prefillBytes); err != nil {
			return err
		}

		r.logger.Info("prefill complete", zap.Duration("elapsed", time.Since(start)))
	}

	return r.runRounds()
}

// prefill zero-fills [0, bytes) one block at a time, split across the
// configured number of writers as contiguous spans.
func (r *Runner) prefill(bytes int64) error {
	blocks := bytes / r.cfg.BlockSize
	span := (blocks + int64(r.cfg.Writers) - 1) / int64(r.cfg.Writers)

	var g errgroup.Group
	for w := 0; w < r.cfg.Writers; w++ {
		first := int64(w) * span
		last := min(first+span, blocks)
		if first >= last {
			break
		}

		g.Go(func() error {
			buf := target.AlignedBuffer(r.cfg.BlockSize, target.Alignment(r.cfg.BlockSize))

			for blk := first; blk < last; blk++ {
				if err := writeFull(r.target, buf, blockmath.BlockOffset(blk, r.cfg.BlockSize)); err != nil {
					return fmt.Errorf("prefill write failed at block %d: %w", blk, err)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := r.target.Sync(); err != nil {
		return fmt.Errorf("error flushing target after prefill: %w", err)
	}

	return nil
}

// runRounds performs the randomized overwrite rounds, flushing and logging
// per-round throughput, with the configured sleep between rounds.
func (r *Runner) runRounds() error {
	seed := r.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	blocksPerRound := r.cfg.BatchBytes / r.cfg.BlockSize
	buf := target.AlignedBuffer(r.cfg.BlockSize, target.Alignment(r.cfg.BlockSize))

	for round := 0; round < r.cfg.Rounds; round++ {
		start := time.Now()

		for i := int64(0); i < blocksPerRound; i++ {
			blk := rng.Int63n(blocksPerRound)
			if err := writeFull(r.target, buf, blockmath.BlockOffset(blk, r.cfg.BlockSize)); err != nil {
				return fmt.Errorf("overwrite failed in round %d at block %d: %w", round, blk, err)
			}
		}

		if err := r.target.Sync(); err != nil {
			return fmt.Errorf("error flushing target after round %d: %w", round, err)
		}

		elapsed := time.Since(start)
		r.logger.Info("round complete",
			zap.Int("round", round),
			zap.Float64("throughputMiBps", float64(r.cfg.BatchBytes)/(1<<20)/elapsed.Seconds()),
			zap.Duration("elapsed", elapsed))

		if round+1 < r.cfg.Rounds && r.cfg.Interval > 0 {
			time.Sleep(r.cfg.Interval)
		}
	}

	return nil
}

// writeFull issues positioned writes until the whole buffer is on the
// target, tolerating short writes that carry no error.
func writeFull(tgt target.Target, buf []byte, off int64) error {
	written := 0
	for written < len(buf) {
		n, err := tgt.WriteAt(buf[written:], off+int64(written))
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("write stalled at offset %d", off+int64(written))
		}
		written += n
	}

	return nil
}
