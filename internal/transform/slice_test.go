package transform

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/internal/schema"
)

func TestComputeSliceID_Numeric(t *testing.T) {
	tests := []struct {
		raw        string
		sliceCount int
		expected   int
	}{
		{"0", 4, 0},
		{"10", 4, 2},
		{"11", 4, 3},
		{"1000003", 7, 1000003 % 7},
		{"-3", 4, 1}, // non-negative modulo
		{"-8", 4, 0},
		{"9223372036854775807", 16, 15},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ComputeSliceID(tt.raw, schema.TypeInt64, tt.sliceCount)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestComputeSliceID_Deterministic(t *testing.T) {
	for _, dtype := range []schema.FieldType{schema.TypeInt64, schema.TypeBytes} {
		raw := "12345"
		first, err := ComputeSliceID(raw, dtype, 16)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			got, err := ComputeSliceID(raw, dtype, 16)
			require.NoError(t, err)
			assert.Equal(t, first, got, "dtype %s must be deterministic", dtype)
		}
	}
}

func TestComputeSliceID_Range(t *testing.T) {
	for _, sliceCount := range []int{1, 2, 3, 7, 64} {
		for i := 0; i < 200; i++ {
			got, err := ComputeSliceID(fmt.Sprintf("%d", i*31-100), schema.TypeInt64, sliceCount)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, sliceCount)

			got, err = ComputeSliceID(fmt.Sprintf("node-%d", i), schema.TypeBytes, sliceCount)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, 0)
			assert.Less(t, got, sliceCount)
		}
	}
}

func TestComputeSliceID_Errors(t *testing.T) {
	_, err := ComputeSliceID("not-a-number", schema.TypeInt64, 4)
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = ComputeSliceID("12.5", schema.TypeInt64, 4)
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = ComputeSliceID("1.0", schema.TypeFloat32, 4)
	assert.ErrorIs(t, err, ErrBadValue, "float identifiers are not partitionable")

	_, err = ComputeSliceID("10", schema.TypeInt64, 0)
	assert.Error(t, err)

	_, err = ComputeSliceID("10", schema.TypeInt64, -2)
	assert.Error(t, err)
}

func TestComputeSliceID_BytesSpread(t *testing.T) {
	// Not a statistical test, just a sanity check that the content hash does
	// not collapse everything into one slice.
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		s, err := ComputeSliceID(fmt.Sprintf("user-%d", i), schema.TypeBytes, 8)
		require.NoError(t, err)
		seen[s] = true
	}
	assert.Greater(t, len(seen), 1)
}
