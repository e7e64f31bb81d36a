// Package target opens and sizes the raw block device or regular file a
// replay run is issued against, and provides the aligned scratch buffers
// unbuffered access requires.
package target

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Target is an open replay destination. Offsets are byte offsets; callers
// keep them and the buffer lengths aligned to the block size when the
// target was opened with direct access.
type Target interface {
	io.ReaderAt
	io.WriterAt
	// Sync durably flushes all issued writes.
	Sync() error
	Close() error
	// Size is the addressable size in bytes.
	Size() int64
}

// OpenError reports a target that could not be opened or sized.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("error opening target %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Options configures how a target is opened.
type Options struct {
	// Size is the addressable size for regular files. For block devices
	// the device's own size is used, clamped to Size when Size is smaller.
	Size int64
	// DirectIO opens the target with O_DIRECT, bypassing the page cache.
	// Transfers must then be block-aligned in offset, length and buffer
	// address.
	DirectIO bool
	// Preallocate forces physical allocation of the full addressable size
	// for regular files, so random-offset direct writes cannot fail on
	// sparse-file gaps. Falls back to a plain length extension when the
	// filesystem does not support fallocate.
	Preallocate bool
}

// File is a Target backed by a raw block device or a regular file.
type File struct {
	file *os.File
	path string
	size int64
}

// Open opens path read-write, sizing and preallocating it per opts.
func Open(path string, opts Options) (*File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if opts.DirectIO {
		flags |= unix.O_DIRECT
	}

	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, &OpenError{Path: path, Err: err}
	}

	size := opts.Size
	if isBlockDevice(info) {
		devSize, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()

			return nil, &OpenError{Path: path, Err: fmt.Errorf("error sizing block device: %w", err)}
		}

		if size <= 0 || size > devSize {
			size = devSize
		}
	} else {
		if size <= 0 {
			f.Close()

			return nil, &OpenError{Path: path, Err: fmt.Errorf("regular file target requires an explicit size")}
		}

		if err := allocate(f, size, opts.Preallocate); err != nil {
			f.Close()

			return nil, &OpenError{Path: path, Err: err}
		}
	}

	return &File{file: f, path: path, size: size}, nil
}

func (t *File) ReadAt(b []byte, off int64) (int, error) {
	return t.file.ReadAt(b, off)
}

func (t *File) WriteAt(b []byte, off int64) (int, error) {
	return t.file.WriteAt(b, off)
}

func (t *File) Sync() error {
	return t.file.Sync()
}

func (t *File) Close() error {
	return t.file.Close()
}

func (t *File) Size() int64 {
	return t.size
}

// Path returns the path the target was opened from. The warm-up policy is
// a predicate over this identifier.
func (t *File) Path() string {
	return t.path
}

func isBlockDevice(info os.FileInfo) bool {
	mode := info.Mode()

	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}
