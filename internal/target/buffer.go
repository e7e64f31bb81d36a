package target

import (
	"os"
	"unsafe"
)

// Alignment returns the buffer alignment direct access requires: the block
// size or the system page size, whichever is larger.
func Alignment(blockSize int64) int64 {
	if pageSize := int64(os.Getpagesize()); pageSize > blockSize {
		return pageSize
	}

	return blockSize
}

// AlignedBuffer allocates a zeroed buffer of the given size whose base
// address is aligned to align bytes. align must be a power of two. The Go
// allocator gives no alignment guarantee beyond the word size, so the
// buffer is over-allocated and sliced at the first aligned byte.
func AlignedBuffer(size, align int64) []byte {
	buf := make([]byte, size+align)

	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := int64(uintptr(align) - (addr & uintptr(align-1)))
	if offset == align {
		offset = 0
	}

	return buf[offset : offset+size : offset+size]
}
