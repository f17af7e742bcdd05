package azs

import (
	"errors"
	"math"
)

// PageSize is the alignment unit for page blob writes and lengths.
const PageSize = 512

var (
	ErrZeroUnit      = errors.New("alignment unit must be greater than zero")
	ErrAlignOverflow = errors.New("aligned length overflows uint64")
)

// RoundUp returns the smallest multiple of unit that is >= x.
func RoundUp(x, unit uint64) (uint64, error) {
	if unit == 0 {
		return 0, ErrZeroUnit
	}
	rem := x % unit
	if rem == 0 {
		return x, nil
	}
	pad := unit - rem
	if x > math.MaxUint64-pad {
		return 0, ErrAlignOverflow
	}
	return x + pad, nil
}

// pageAlign rounds a non-negative length up to the next page boundary.
func pageAlign(n int64) (int64, error) {
	if n < 0 {
		return 0, &ConversionError{What: "length", Value: n}
	}
	v, err := RoundUp(uint64(n), PageSize)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt64 {
		return 0, &ConversionError{What: "aligned length", Value: n}
	}
	return int64(v), nil
}
