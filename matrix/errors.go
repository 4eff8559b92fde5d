// SPDX-License-Identifier: MIT
// Package matrix: sentinel error set.
// All kernels return these sentinels (optionally wrapped with a call-site tag)
// and tests check them via errors.Is. No kernel panics on user input.

package matrix

import (
	"errors"
	"fmt"
)

// Every message is prefixed with "matrix: ..." for easy grepping across logs.
var (
	// ErrInvalidDimensions indicates that requested matrix dimensions are non-positive.
	ErrInvalidDimensions = errors.New("matrix: dimensions must be > 0")

	// ErrOutOfRange indicates that an index (row or column) is outside valid bounds.
	ErrOutOfRange = errors.New("matrix: index out of range")

	// ErrDimensionMismatch indicates incompatible dimensions between operands,
	// e.g. Hadamard of different shapes or a row-target vector of the wrong length.
	ErrDimensionMismatch = errors.New("matrix: dimension mismatch")

	// ErrDataLength indicates that a backing slice does not hold rows*cols values.
	ErrDataLength = errors.New("matrix: data length does not match shape")

	// ErrNilMatrix indicates that a nil matrix, mask or vector was used.
	ErrNilMatrix = errors.New("matrix: nil receiver")

	// ErrNaNInf signals a NaN or ±Inf value where finite values are required.
	ErrNaNInf = errors.New("matrix: NaN or Inf encountered")

	// ErrNegative signals a negative value where the data must be non-negative
	// (trip matrices and trip-end targets).
	ErrNegative = errors.New("matrix: negative value encountered")

	// ErrBadBounds indicates a clip range with a non-finite bound.
	ErrBadBounds = errors.New("matrix: invalid bounds")
)

// matrixErrorf wraps an underlying error with the given call-site tag.
func matrixErrorf(tag string, err error) error {
	return fmt.Errorf("%s: %w", tag, err)
}
