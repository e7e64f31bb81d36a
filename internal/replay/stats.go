package replay

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/storagelab/blkreplay/internal/trace"
)

// DirectionStats accumulates the per-direction counters: operation count,
// bytes transferred and latency summed across all operations of that
// direction.
type DirectionStats struct {
	Ops     int64
	Bytes   int64
	Latency time.Duration
}

// Stats aggregates per-direction counters as operations complete. Derived
// metrics (bandwidth, averages) are computed at report time only.
type Stats struct {
	read  DirectionStats
	write DirectionStats
}

// Observe attributes one completed operation to its direction bucket.
func (s *Stats) Observe(dir trace.Direction, bytes int64, elapsed time.Duration) {
	bucket := &s.read
	if dir == trace.DirectionWrite {
		bucket = &s.write
	}

	bucket.Ops++
	bucket.Bytes += bytes
	bucket.Latency += elapsed
}

// Read returns the read-direction counters.
func (s *Stats) Read() DirectionStats {
	return s.read
}

// Write returns the write-direction counters.
func (s *Stats) Write() DirectionStats {
	return s.write
}

// Report is the summary of a completed run.
type Report struct {
	Parsed  int64
	Skipped int64

	WarmupBlocks   int64
	WarmupDuration time.Duration

	Read  DirectionStats
	Write DirectionStats

	// ReplayDuration is the wall-clock duration of the replay phase. The
	// final durable flush is accounted separately in FlushDuration, not
	// folded into per-operation latency.
	ReplayDuration time.Duration
	FlushDuration  time.Duration
}

// TotalOps returns the number of replayed operations.
func (r *Report) TotalOps() int64 {
	return r.Read.Ops + r.Write.Ops
}

// TotalBytes returns the bytes moved during replay.
func (r *Report) TotalBytes() int64 {
	return r.Read.Bytes + r.Write.Bytes
}

// Bandwidth returns the average replay bandwidth in bytes per second:
// total bytes over the wall-clock duration of the replay phase, not a sum
// of per-operation bandwidths.
func (r *Report) Bandwidth() float64 {
	sec := r.ReplayDuration.Seconds()
	if sec <= 0 {
		return 0
	}

	return float64(r.TotalBytes()) / sec
}

// String renders the final report block.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Trace Replay Summary:\n")
	fmt.Fprintf(&b, "--------------------------------\n")
	fmt.Fprintf(&b, "Total Requests: %d\n", r.TotalOps())
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped Lines:  %d\n", r.Skipped)
	}
	fmt.Fprintf(&b, "Total Data:     %s\n", humanize.IBytes(uint64(r.TotalBytes())))
	fmt.Fprintf(&b, "Total Time:     %.3f seconds\n", r.ReplayDuration.Seconds())
	fmt.Fprintf(&b, "Avg Bandwidth:  %s/s\n", humanize.IBytes(uint64(r.Bandwidth())))
	fmt.Fprintf(&b, "Read Latency:   %.3f ms (%d ops, %s)\n",
		float64(r.Read.Latency.Microseconds())/1000.0, r.Read.Ops, humanize.IBytes(uint64(r.Read.Bytes)))
	fmt.Fprintf(&b, "Write Latency:  %.3f ms (%d ops, %s)\n",
		float64(r.Write.Latency.Microseconds())/1000.0, r.Write.Ops, humanize.IBytes(uint64(r.Write.Bytes)))
	if r.WarmupBlocks > 0 {
		fmt.Fprintf(&b, "Warmup:         %d blocks in %.3f seconds\n", r.WarmupBlocks, r.WarmupDuration.Seconds())
	}
	fmt.Fprintf(&b, "Flush Time:     %.3f seconds\n", r.FlushDuration.Seconds())

	return b.String()
}
