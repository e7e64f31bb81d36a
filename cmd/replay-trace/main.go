package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storagelab/blkreplay/internal/blockmath"
	"github.com/storagelab/blkreplay/internal/cfg"
	"github.com/storagelab/blkreplay/internal/logger"
	"github.com/storagelab/blkreplay/internal/replay"
	"github.com/storagelab/blkreplay/internal/target"
	"github.com/storagelab/blkreplay/internal/trace"
)

type options struct {
	blockSize     int64
	targetSize    int64
	progressEvery int64
	rounding      string
	warmupMode    string
	warmupMarkers string
	useMmap       bool
	directIO      bool
	preallocate   bool
	skipMalformed bool
	debug         bool
}

func main() {
	os.Exit(run())
}

func run() int {
	defaults, err := cfg.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment configuration: %v\n", err)

		return 2
	}

	var opts options

	f := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	f.Int64Var(&opts.blockSize, "block-size", defaults.BlockSize, "block size in bytes")
	f.Int64Var(&opts.targetSize, "target-size", defaults.TargetSize, "addressable target size in bytes (regular files)")
	f.Int64Var(&opts.progressEvery, "progress", defaults.ProgressEvery, "log progress every N records (0 disables)")
	f.StringVar(&opts.rounding, "rounding", "down", "offset rounding policy (down or up)")
	f.StringVar(&opts.warmupMode, "warmup", "auto", "warmup policy (auto, always or never)")
	f.StringVar(&opts.warmupMarkers, "warmup-markers", strings.Join(defaults.WarmupMarkers, ","),
		"comma-separated path substrings that trigger warmup in auto mode")
	f.BoolVar(&opts.useMmap, "mmap", false, "use a memory-mapped target instead of direct file I/O")
	f.BoolVar(&opts.directIO, "direct", true, "open the target with O_DIRECT")
	f.BoolVar(&opts.preallocate, "preallocate", true, "preallocate regular-file targets")
	f.BoolVar(&opts.skipMalformed, "skip-malformed", false, "skip and count malformed trace lines instead of failing")
	f.BoolVar(&opts.debug, "debug", defaults.Debug, "enable debug logging")
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <target_path> <trace_file>\n", os.Args[0])
		f.PrintDefaults()
	}
	_ = f.Parse(os.Args[1:])

	if f.NArg() != 2 {
		f.Usage()

		return 2
	}
	targetPath, tracePath := f.Arg(0), f.Arg(1)

	rounding, err := trace.ParseRoundingPolicy(opts.rounding)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 2
	}

	needsWarmup, err := warmupPolicy(opts.warmupMode, opts.warmupMarkers)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 2
	}

	l, err := logger.New(logger.Config{
		ServiceName: "replay-trace",
		IsDebug:     opts.debug,
		InitialFields: []zap.Field{
			zap.String("run_id", uuid.NewString()),
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building logger: %v\n", err)

		return 1
	}
	defer l.Sync()

	traceFile, err := os.Open(tracePath)
	if err != nil {
		l.Error("error opening trace file", zap.String("path", tracePath), zap.Error(err))

		return 1
	}
	defer traceFile.Close()

	tgt, err := openTarget(targetPath, opts)
	if err != nil {
		l.Error("error opening target", zap.String("path", targetPath), zap.Error(err))

		return 1
	}
	defer tgt.Close()

	// Block devices report their real capacity, which can be smaller than
	// the requested -target-size. Replay against what the target actually
	// addresses.
	targetSize := effectiveTargetSize(tgt, opts.blockSize)

	engine, err := replay.NewEngine(replay.Config{
		BlockSize:     opts.blockSize,
		TargetSize:    targetSize,
		Rounding:      rounding,
		SkipMalformed: opts.skipMalformed,
		NeedsWarmup:   needsWarmup,
		ProgressEvery: opts.progressEvery,
	}, tgt, targetPath, l)
	if err != nil {
		l.Error("error configuring replay engine", zap.Error(err))

		return 2
	}

	l.Info("starting replay run",
		zap.String("target", targetPath),
		zap.String("trace", tracePath),
		zap.Int64("blockSize", opts.blockSize),
		zap.Int64("targetSize", targetSize),
		zap.Stringer("rounding", rounding))

	report, err := engine.Run(traceFile)
	if err != nil {
		l.Error("replay run failed", zap.Error(err))

		return 1
	}

	fmt.Print(report.String())

	return 0
}

// effectiveTargetSize trims the target's reported capacity down to a whole
// number of blocks.
func effectiveTargetSize(tgt target.Target, blockSize int64) int64 {
	return blockmath.RoundDown(tgt.Size(), blockSize)
}

func openTarget(path string, opts options) (target.Target, error) {
	if opts.useMmap {
		return target.OpenMmap(path, opts.targetSize)
	}

	return target.Open(path, target.Options{
		Size:        opts.targetSize,
		DirectIO:    opts.directIO,
		Preallocate: opts.preallocate,
	})
}

// warmupPolicy builds the predicate deciding whether the warmup phase runs
// for a given target identifier.
func warmupPolicy(mode, markers string) (func(string) bool, error) {
	switch mode {
	case "always":
		return func(string) bool { return true }, nil
	case "never":
		return nil, nil
	case "auto":
		var list []string
		for _, m := range strings.Split(markers, ",") {
			if m = strings.TrimSpace(m); m != "" {
				list = append(list, m)
			}
		}

		return func(id string) bool {
			for _, m := range list {
				if strings.Contains(id, m) {
					return true
				}
			}

			return false
		}, nil
	default:
		return nil, fmt.Errorf("invalid warmup mode: %s (must be 'auto', 'always' or 'never')", mode)
	}
}
