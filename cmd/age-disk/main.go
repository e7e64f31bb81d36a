package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storagelab/blkreplay/internal/aging"
	"github.com/storagelab/blkreplay/internal/cfg"
	"github.com/storagelab/blkreplay/internal/logger"
	"github.com/storagelab/blkreplay/internal/target"
)

func main() {
	os.Exit(run())
}

func run() int {
	defaults, err := cfg.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment configuration: %v\n", err)

		return 2
	}

	var (
		totalGiB    int64
		batchGiB    int64
		usedRate    float64
		interval    time.Duration
		rounds      int
		writers     int
		seed        int64
		directIO    bool
		preallocate bool
		debug       bool
	)

	f := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	f.Int64Var(&totalGiB, "total", 100, "device range to age, in GiB")
	f.Int64Var(&batchGiB, "batch", 10, "bytes written per overwrite round, in GiB")
	f.Float64Var(&usedRate, "used-rate", 0.8, "fraction of the range prefilled before the rounds")
	f.DurationVar(&interval, "interval", 90*time.Second, "pause between rounds")
	f.IntVar(&rounds, "rounds", 11, "number of overwrite rounds")
	f.IntVar(&writers, "writers", 1, "concurrent prefill writers")
	f.Int64Var(&seed, "seed", 0, "overwrite RNG seed (0 = time-based)")
	f.BoolVar(&directIO, "direct", true, "open the target with O_DIRECT")
	f.BoolVar(&preallocate, "preallocate", false, "preallocate regular-file targets")
	f.BoolVar(&debug, "debug", defaults.Debug, "enable debug logging")
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <target_path>\n", os.Args[0])
		f.PrintDefaults()
	}
	_ = f.Parse(os.Args[1:])

	if f.NArg() != 1 {
		f.Usage()

		return 2
	}
	targetPath := f.Arg(0)

	l, err := logger.New(logger.Config{
		ServiceName: "age-disk",
		IsDebug:     debug,
		InitialFields: []zap.Field{
			zap.String("run_id", uuid.NewString()),
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building logger: %v\n", err)

		return 1
	}
	defer l.Sync()

	totalBytes := totalGiB << 30

	tgt, err := target.Open(targetPath, target.Options{
		Size:        totalBytes,
		DirectIO:    directIO,
		Preallocate: preallocate,
	})
	if err != nil {
		l.Error("error opening target", zap.String("path", targetPath), zap.Error(err))

		return 1
	}
	defer tgt.Close()

	runner, err := aging.NewRunner(aging.Config{
		TotalBytes: totalBytes,
		BatchBytes: batchGiB << 30,
		BlockSize:  defaults.BlockSize,
		UsedRate:   usedRate,
		Interval:   interval,
		Rounds:     rounds,
		Writers:    writers,
		Seed:       seed,
	}, tgt, l)
	if err != nil {
		l.Error("error configuring aging runner", zap.Error(err))

		return 2
	}

	l.Info("starting aging run",
		zap.String("target", targetPath),
		zap.Int64("totalBytes", totalBytes),
		zap.Int("rounds", rounds))

	if err := runner.Run(); err != nil {
		l.Error("aging run failed", zap.Error(err))

		return 1
	}

	return 0
}
