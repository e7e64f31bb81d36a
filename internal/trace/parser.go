package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/storagelab/blkreplay/internal/blockmath"
)

// Trace lines are fixed-column CSV:
//
//	<timestamp>,<hostname>,<device-index>,<Read|Write>,<byte-offset>,<byte-length>[,...ignored]
//
// The first three columns are discarded unconditionally.
const (
	skippedColumns  = 3
	requiredColumns = skippedColumns + 3

	// maxLineSize bounds a single trace line. MSR-style traces stay well
	// under this even with trailing columns.
	maxLineSize = 64 * 1024
)

// ParseError reports a malformed trace line. The line number and raw
// content identify the offending record; the parser does not attempt
// partial recovery mid-line.
type ParseError struct {
	Line    int64
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed trace line %d: %q: %v", e.Line, e.Content, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser normalizes raw trace lines to the target's constraints.
type Parser struct {
	// BlockSize is the alignment unit of the target; offsets and lengths
	// are normalized to whole multiples of it.
	BlockSize int64
	// TargetSize is the addressable size of the target in bytes. It must
	// be a multiple of BlockSize.
	TargetSize int64
	// Rounding selects how misaligned offsets are moved onto a block
	// boundary.
	Rounding RoundingPolicy
	// SkipMalformed makes the parser count and drop malformed lines
	// instead of failing the run. Off by default: silently dropping
	// operations would make replay statistics meaningless.
	SkipMalformed bool
}

// Result is the output of a full parse pass.
type Result struct {
	// Records holds the normalized operations in original trace order.
	// Replay order must equal this order.
	Records []Record
	// Skipped counts malformed lines dropped in SkipMalformed mode.
	Skipped int64
}

// Parse consumes the whole trace, appending one normalized Record per line
// in input order. observe, if non-nil, is invoked once per record in the
// same pass, immediately after normalization.
func (p *Parser) Parse(r io.Reader, observe func(Record)) (*Result, error) {
	res := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var lineNo int64
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := p.ParseLine(line)
		if err != nil {
			if p.SkipMalformed {
				res.Skipped++

				continue
			}

			return nil, &ParseError{Line: lineNo, Content: line, Err: err}
		}

		res.Records = append(res.Records, rec)

		if observe != nil {
			observe(rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading trace: %w", err)
	}

	return res, nil
}

// ParseLine normalizes a single trace line into a Record.
func (p *Parser) ParseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) < requiredColumns {
		return Record{}, fmt.Errorf("expected at least %d comma-delimited fields, got %d", requiredColumns, len(fields))
	}

	dir, err := ParseDirection(fields[skippedColumns])
	if err != nil {
		return Record{}, err
	}

	rawOff, err := strconv.ParseInt(fields[skippedColumns+1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid byte offset %q: %w", fields[skippedColumns+1], err)
	}
	if rawOff < 0 {
		return Record{}, fmt.Errorf("negative byte offset %d", rawOff)
	}

	rawLen, err := strconv.ParseInt(fields[skippedColumns+2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid byte length %q: %w", fields[skippedColumns+2], err)
	}
	if rawLen <= 0 {
		return Record{}, fmt.Errorf("non-positive byte length %d", rawLen)
	}

	return p.normalize(dir, rawOff, rawLen)
}

// normalize applies the alignment and trace-fitting policies. The resulting
// access is always full-length and fully inside the target.
func (p *Parser) normalize(dir Direction, rawOff, rawLen int64) (Record, error) {
	if rawLen > p.TargetSize {
		return Record{}, fmt.Errorf("length %d exceeds target size %d", rawLen, p.TargetSize)
	}

	// Fold addresses beyond the addressable range back into range rather
	// than rejecting them. Folding before rounding keeps the boundary
	// arithmetic overflow-free for arbitrary recorded offsets; rounding
	// up can then land at most on TargetSize itself, which folds to 0.
	off := rawOff % p.TargetSize
	switch p.Rounding {
	case RoundUp:
		off = blockmath.RoundUp(off, p.BlockSize)
	default:
		off = blockmath.RoundDown(off, p.BlockSize)
	}
	off %= p.TargetSize

	// TargetSize is a block multiple, so the rounded length stays within
	// the guard above.
	length := blockmath.RoundUp(rawLen, p.BlockSize)

	// Pull the offset back so the operation fits exactly at the tail of
	// the target. The access still executes at full length.
	if off+length > p.TargetSize {
		off = p.TargetSize - length
	}

	return Record{Direction: dir, Address: off, Length: length}, nil
}
