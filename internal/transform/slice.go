// Package transform converts raw field tuples into canonical binary records
// and computes the destination slice for an entity from its primary identifier.
package transform

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/graphmill/graphmill/internal/schema"
)

var (
	// ErrBadValue marks a raw token that cannot be parsed as its declared type.
	// This is the dominant per-record recoverable failure.
	ErrBadValue = errors.New("malformed field value")
	// ErrFieldCount marks a record whose field group count does not match the schema.
	ErrFieldCount = errors.New("field count mismatch")
	// ErrSingleToken marks an identifier field that does not carry exactly one token.
	ErrSingleToken = errors.New("identifier fields take exactly one token")
)

// ComputeSliceID computes the destination slice for an entity from its primary
// raw identifier. The function is deterministic for the lifetime of a
// sliceCount configuration: numeric identifiers partition by non-negative
// modulo of the parsed value, byte identifiers by xxhash64 of the content
// modulo sliceCount. Changing sliceCount invalidates all prior assignments.
func ComputeSliceID(raw string, dtype schema.FieldType, sliceCount int) (int, error) {
	if sliceCount <= 0 {
		return 0, fmt.Errorf("slice count must be positive, got %d", sliceCount)
	}

	switch dtype {
	case schema.TypeInt64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an int64 identifier", ErrBadValue, raw)
		}
		m := v % int64(sliceCount)
		if m < 0 {
			m += int64(sliceCount)
		}
		return int(m), nil

	case schema.TypeBytes:
		return int(xxhash.Sum64String(raw) % uint64(sliceCount)), nil

	default:
		return 0, fmt.Errorf("%w: cannot partition on a %s identifier", ErrBadValue, dtype)
	}
}
