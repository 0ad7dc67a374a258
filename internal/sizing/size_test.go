package sizing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		off  uint64
		n    uint64
		size int64
		want bool
	}{
		{"inside", 0, 10, 10, true},
		{"past end", 5, 6, 10, false},
		{"empty at end", 10, 0, 10, true},
		{"wraps", math.MaxUint64, 2, 10, false},
		{"negative size", 0, 0, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Within(tt.off, tt.n, tt.size))
		})
	}
}

func TestAlignUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0), AlignUp(0, 128))
	assert.Equal(t, uint64(128), AlignUp(1, 128))
	assert.Equal(t, uint64(128), AlignUp(128, 128))
	assert.Equal(t, uint64(256), AlignUp(129, 128))
}

func TestToInt64(t *testing.T) {
	t.Parallel()

	n, err := ToInt64(uint32(4096), errOverflow)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), n)

	n64, err := ToInt64(uint64(math.MaxInt64), errOverflow)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), n64)

	_, err = ToInt64(uint64(math.MaxInt64)+1, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(1<<40, 128)
	assert.True(t, ok)
	assert.Equal(t, uint64(1<<40+128), sum)

	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}
