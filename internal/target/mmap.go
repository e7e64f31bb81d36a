package target

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mmap is a memory-mapped file Target. It is used for functional runs on
// filesystems that reject O_DIRECT and for exercising the replay pipeline
// in tests; latency figures measured through it reflect page-cache copies,
// not device behavior.
type Mmap struct {
	file *os.File
	mmap mmap.MMap
	path string
	size int64
}

// OpenMmap creates (or truncates to size) a file at path and maps it
// read-write.
func OpenMmap(path string, size int64) (*Mmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	if err := f.Truncate(size); err != nil {
		f.Close()

		return nil, &OpenError{Path: path, Err: fmt.Errorf("error allocating file: %w", err)}
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()

		return nil, &OpenError{Path: path, Err: fmt.Errorf("error mapping file: %w", err)}
	}

	return &Mmap{
		file: f,
		mmap: mm,
		path: path,
		size: int64(len(mm)),
	}, nil
}

func (m *Mmap) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	if off >= m.size {
		return 0, io.EOF
	}

	n := copy(b, m.mmap[off:])
	if n < len(b) {
		return n, io.EOF
	}

	return n, nil
}

func (m *Mmap) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	if off >= m.size {
		return 0, fmt.Errorf("write at offset %d beyond mapping of %d bytes", off, m.size)
	}

	n := copy(m.mmap[off:], b)
	if n < len(b) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

func (m *Mmap) Sync() error {
	return m.mmap.Flush()
}

func (m *Mmap) Close() error {
	flushErr := m.mmap.Flush()

	mmapErr := m.mmap.Unmap()
	closeErr := m.file.Close()

	return errors.Join(flushErr, mmapErr, closeErr)
}

func (m *Mmap) Size() int64 {
	return m.size
}

// Path returns the path the target was created from.
func (m *Mmap) Path() string {
	return m.path
}
