package target

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// allocate extends a regular file to size bytes. With preallocate set it
// forces physical block allocation (fallocate mode 0 grows the file size as
// well); filesystems without fallocate support get the plain truncate
// fallback instead.
func allocate(f *os.File, size int64, preallocate bool) error {
	if preallocate {
		err := unix.Fallocate(int(f.Fd()), 0, 0, size)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.ENOSYS) {
			return err
		}
	}

	return f.Truncate(size)
}
