package state

// compareData is the hot path of the whole engine: it loads the data
// bits into one or two machine words and compares them as unsigned
// integers instead of byte-wise. Go has no template specialization, so
// the size split is a runtime branch on length; the branch is entirely
// predictable since the record size is constant for the lifetime of a
// run.
func compareData(a, b []byte) int {
	n := len(a)
	switch {
	case n <= 8:
		return cmpU64(loadWord(a), loadWord(b))
	case n <= 16:
		ah, bh := loadWord(a[:n-8]), loadWord(b[:n-8])
		if ah != bh {
			return cmpU64(ah, bh)
		}
		return cmpU64(loadWord(a[n-8:]), loadWord(b[n-8:]))
	default:
		return compareBytes(a, b)
	}
}

// loadWord big-endian-loads up to 8 bytes into a uint64, left-padding with
// zero as if the slice were right-aligned in a wider word. This turns a
// big-endian-lexicographic byte compare into a plain unsigned integer
// compare.
func loadWord(b []byte) uint64 {
	var w uint64
	for _, x := range b {
		w = w<<8 | uint64(x)
	}
	return w
}

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareBytes is the byte-wise fallback for oversized records (>16
// data bytes).
func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
