// Package sizing converts offsets and lengths read from archive headers into
// Go sizes, failing instead of wrapping when a value is out of range.
package sizing

import (
	"math"
	"math/bits"
)

type unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// ToInt64 converts n to int64, returning err if it does not fit.
func ToInt64[T unsigned](n T, err error) (int64, error) {
	if uint64(n) > math.MaxInt64 {
		return 0, err
	}
	return int64(n), nil
}

// AddUint64 returns a+b and false if the sum wraps.
func AddUint64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// Within reports whether [off, off+n) lies inside a file of the given size.
func Within(off, n uint64, size int64) bool {
	if size < 0 {
		return false
	}
	end, ok := AddUint64(off, n)
	return ok && end <= uint64(size)
}

// AlignUp rounds n up to a multiple of align. Data file records use an
// alignment of 128.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
