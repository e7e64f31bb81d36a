package trace

import "fmt"

// Direction is the I/O direction of a trace record.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "Read"
	case DirectionWrite:
		return "Write"
	default:
		return "unknown"
	}
}

// ParseDirection parses an operation token into a Direction. The match is
// case-sensitive: trace files carry exactly "Read" or "Write" and anything
// else is a malformed record, not a coercible one.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "Read":
		return DirectionRead, nil
	case "Write":
		return DirectionWrite, nil
	default:
		return 0, fmt.Errorf("invalid operation type: %q (must be 'Read' or 'Write')", s)
	}
}

// RoundingPolicy selects how a misaligned trace offset is moved onto a
// block boundary. Rounding down never skips device range near byte 0, so it
// is the default; rounding up matches targets that reject accesses before
// the advanced boundary.
type RoundingPolicy int

const (
	RoundDown RoundingPolicy = iota
	RoundUp
)

// String returns the string representation of RoundingPolicy.
func (p RoundingPolicy) String() string {
	switch p {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "down"
	}
}

// ParseRoundingPolicy parses a string into a RoundingPolicy.
func ParseRoundingPolicy(s string) (RoundingPolicy, error) {
	switch s {
	case "down":
		return RoundDown, nil
	case "up":
		return RoundUp, nil
	default:
		return RoundDown, fmt.Errorf("invalid rounding policy: %s (must be 'down' or 'up')", s)
	}
}

// Record is one normalized I/O operation. Address and Length are aligned to
// the block size and the whole access fits inside the target; records are
// never mutated after normalization.
type Record struct {
	Direction Direction
	Address   int64
	Length    int64
}
