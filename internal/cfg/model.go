package cfg

import (
	"github.com/caarlos0/env/v11"
)

// Config carries the environment-driven defaults shared by the CLIs.
// Per-run options (target path, trace file, policies) come from flags.
type Config struct {
	// BlockSize is the minimum transfer granularity of the target.
	BlockSize int64 `env:"BLKREPLAY_BLOCK_SIZE"     envDefault:"4096"`
	// TargetSize is the addressable size assumed for regular-file
	// targets. Defaults to 50 GiB, the size the recorded traces were
	// captured against.
	TargetSize int64 `env:"BLKREPLAY_TARGET_SIZE"    envDefault:"53687091200"`
	// ProgressEvery is the record interval between progress log lines.
	ProgressEvery int64 `env:"BLKREPLAY_PROGRESS_EVERY" envDefault:"500000"`
	// WarmupMarkers lists path substrings identifying backends whose
	// never-written blocks read as undefined content and therefore need
	// the warm-up phase.
	WarmupMarkers []string `env:"BLKREPLAY_WARMUP_MARKERS" envSeparator:","`
	// Debug enables debug-level logging.
	Debug bool `env:"BLKREPLAY_DEBUG"`
}

func Parse() (Config, error) {
	return env.ParseAs[Config]()
}
