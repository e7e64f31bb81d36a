// Package blockmath holds the block index/offset arithmetic shared by the
// trace parser, the occupancy tracker and the targets.
package blockmath

// TotalBlocks returns the number of blocks needed to cover size bytes.
func TotalBlocks(size, blockSize int64) int64 {
	return (size + blockSize - 1) / blockSize
}

// BlockIdx returns the index of the block containing the byte offset.
func BlockIdx(off, blockSize int64) int64 {
	return off / blockSize
}

// BlockOffset returns the byte offset of the block with the given index.
func BlockOffset(idx, blockSize int64) int64 {
	return idx * blockSize
}

// RoundDown truncates n to the containing block boundary.
func RoundDown(n, blockSize int64) int64 {
	return (n / blockSize) * blockSize
}

// RoundUp advances n to the next block boundary. Values already on a
// boundary are returned unchanged.
func RoundUp(n, blockSize int64) int64 {
	return ((n + blockSize - 1) / blockSize) * blockSize
}
