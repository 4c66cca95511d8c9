package checksum

// Range is an inclusive key range [Lo, Hi].
type Range struct {
	Lo int64 `json:"lo"`
	Hi int64 `json:"hi"`
}

// ChunkCount returns ceil((max-min+1)/size), the number of chunks covering
// [min, max]. Arithmetic is done in uint64 so ranges spanning the whole
// int64 domain do not overflow.
func ChunkCount(min, max, size int64) int64 {
	if max < min || size <= 0 {
		return 0
	}
	span := uint64(max) - uint64(min)
	n := span / uint64(size)
	if n >= uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(n) + 1
}

// ChunkAt returns the i-th chunk of [min, max]. The last chunk may be
// shorter than size.
func ChunkAt(min, max, size, i int64) Range {
	lo := int64(uint64(min) + uint64(i)*uint64(size))
	if uint64(size-1) >= uint64(max)-uint64(lo) {
		return Range{Lo: lo, Hi: max}
	}
	return Range{Lo: lo, Hi: lo + size - 1}
}

// ChunkRanges partitions [min, max] into consecutive, non-overlapping
// ranges of at most size keys.
func ChunkRanges(min, max, size int64) []Range {
	var ranges []Range
	for i, n := int64(0), ChunkCount(min, max, size); i < n; i++ {
		ranges = append(ranges, ChunkAt(min, max, size, i))
	}
	return ranges
}
