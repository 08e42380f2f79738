package conv

import (
	"math"

	"github.com/cockroachdb/errors"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("conv: integer overflow")

// IntToUint32 converts v, failing when it is negative or above MaxUint32.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, errors.Wrapf(ErrOverflow, "%d does not fit uint32", v)
	}
	return uint32(v), nil
}

// Uint32s converts each of vs with IntToUint32 and stops at the first
// failure.
func Uint32s(vs ...int) ([]uint32, error) {
	out := make([]uint32, len(vs))
	for i, v := range vs {
		u, err := IntToUint32(v)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}
