// Package occupancy tracks which blocks have been written during a single
// forward scan of a trace, and accumulates the blocks that are read before
// ever being written (the warm-up set).
package occupancy

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/storagelab/blkreplay/internal/blockmath"
	"github.com/storagelab/blkreplay/internal/trace"
)

// Tracker is a dense bitmap over the addressable block range paired with an
// insertion-ordered list of warm-up block indices. A bit, once set, stays
// set for the duration of the pass. The tracker is owned by the single
// goroutine driving the parse pass, so it takes no locks.
type Tracker struct {
	written   *bitset.BitSet
	warmup    []int64
	blockSize int64
}

// NewTracker sizes the bitmap for a target of targetSize bytes.
func NewTracker(targetSize, blockSize int64) *Tracker {
	return &Tracker{
		written:   bitset.New(uint(blockmath.TotalBlocks(targetSize, blockSize))),
		blockSize: blockSize,
	}
}

// Observe is called once per parsed record, in trace order. A write marks
// every covered block as valid. A read appends every still-unwritten
// covered block to the warm-up sequence and marks it immediately, so later
// reads of the same block do not re-add it.
func (t *Tracker) Observe(rec trace.Record) {
	first := blockmath.BlockIdx(rec.Address, t.blockSize)
	count := rec.Length / t.blockSize

	switch rec.Direction {
	case trace.DirectionWrite:
		for b := first; b < first+count; b++ {
			t.written.Set(uint(b))
		}
	case trace.DirectionRead:
		for b := first; b < first+count; b++ {
			if !t.written.Test(uint(b)) {
				t.warmup = append(t.warmup, b)
				t.written.Set(uint(b))
			}
		}
	}
}

// Written reports whether the block at the given index was observed as
// written (or scheduled for warm-up) so far.
func (t *Tracker) Written(idx int64) bool {
	return t.written.Test(uint(idx))
}

// WarmupBlocks returns the block indices that must be materialized before
// replay, in the order they were first observed. The returned slice is the
// tracker's own; callers must not mutate it while observing continues.
func (t *Tracker) WarmupBlocks() []int64 {
	return t.warmup
}
