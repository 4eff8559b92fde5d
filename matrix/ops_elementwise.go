// SPDX-License-Identifier: MIT
// Package: matrix
//
// Purpose:
//   - Provide small element-wise and broadcast kernels shared by the furness,
//     calibration and coordinator layers.
//   - Keep all loops deterministic and cache-friendly over the flat buffer.
//
// Determinism & Performance:
//   - Fixed loop orders (i→j or flat 0..n-1).
//   - In-place variants (ScaleRows, ScaleCols, AddInPlace) allocate nothing.
//   - Out-of-place variants allocate exactly one output Dense.

package matrix

import "math"

// ScaleRows multiplies row i of m by factors[i] in place.
// Time: O(r*c). Space: O(1).
func ScaleRows(m *Dense, factors []float64) error {
	if err := ValidateNotNil(m); err != nil {
		return matrixErrorf("ScaleRows", err)
	}
	if err := ValidateVecLen(factors, m.r); err != nil {
		return matrixErrorf("ScaleRows", err)
	}
	for i := 0; i < m.r; i++ {
		f := factors[i]
		base := i * m.c
		for j := 0; j < m.c; j++ {
			m.data[base+j] *= f
		}
	}

	return nil
}

// ScaleCols multiplies column j of m by factors[j] in place.
// Time: O(r*c). Space: O(1).
func ScaleCols(m *Dense, factors []float64) error {
	if err := ValidateNotNil(m); err != nil {
		return matrixErrorf("ScaleCols", err)
	}
	if err := ValidateVecLen(factors, m.c); err != nil {
		return matrixErrorf("ScaleCols", err)
	}
	for i := 0; i < m.r; i++ {
		base := i * m.c
		for j := 0; j < m.c; j++ {
			m.data[base+j] *= factors[j]
		}
	}

	return nil
}

// Scale returns alpha*m as a new matrix.
func Scale(m *Dense, alpha float64) (*Dense, error) {
	if err := ValidateNotNil(m); err != nil {
		return nil, matrixErrorf("Scale", err)
	}
	out := ZerosLike(m)
	for k, v := range m.data {
		out.data[k] = alpha * v
	}

	return out, nil
}

// Hadamard returns the element-wise product a⊙b.
//
//	out[i,j] = a[i,j] * b[i,j]
//
// Applies perceived factors to a cost matrix and, in the Jacobian estimate,
// rescales a perturbed seed by the last furness ratio.
//
// Determinism:
//   - Flat 0..(r*c−1) traversal.
//
// Complexity:
//   - Time O(r*c), Space O(r*c).
//
// Notes:
//   - Hadamard is not matrix multiplication.
func Hadamard(a, b *Dense) (*Dense, error) {
	if err := ValidateSameShape(a, b); err != nil {
		return nil, matrixErrorf("Hadamard", err)
	}
	out := ZerosLike(a)
	for k := range a.data {
		out.data[k] = a.data[k] * b.data[k]
	}

	return out, nil
}

// Add returns a+b as a new matrix.
func Add(a, b *Dense) (*Dense, error) {
	if err := ValidateSameShape(a, b); err != nil {
		return nil, matrixErrorf("Add", err)
	}
	out := a.Clone()
	for k, v := range b.data {
		out.data[k] += v
	}

	return out, nil
}

// AddInPlace accumulates b into dst (dst += b).
// Time: O(r*c). Space: O(1). Returns ErrDimensionMismatch on shape mismatch
// and leaves dst untouched in that case.
func AddInPlace(dst, b *Dense) error {
	if err := ValidateSameShape(dst, b); err != nil {
		return matrixErrorf("AddInPlace", err)
	}
	for k, v := range b.data {
		dst.data[k] += v
	}

	return nil
}

// DivideOrZero returns a/b element-wise, writing 0 where b is 0.
//
//	out[i,j] = a[i,j] / b[i,j]   if b[i,j] != 0
//	out[i,j] = 0                 otherwise
//
// Used for furness factors (final/seed) where empty seed cells carry no signal.
//
// Complexity:
//   - Time O(r*c), Space O(r*c).
//
// Notes:
//   - 0/0 and x/0 both give 0, never NaN or ±Inf.
func DivideOrZero(a, b *Dense) (*Dense, error) {
	if err := ValidateSameShape(a, b); err != nil {
		return nil, matrixErrorf("DivideOrZero", err)
	}
	out := ZerosLike(a)
	for k := range a.data {
		if b.data[k] == 0 {
			continue
		}
		out.data[k] = a.data[k] / b.data[k]
	}

	return out, nil
}

// Clip returns a copy of m with every element clamped to [lo, hi].
//
//	out[i,j] = min(max(m[i,j], lo), hi)
//
// Policy:
//   - lo and hi must be finite with lo <= hi, otherwise ErrBadBounds.
//   - NaN elements are preserved so upstream faults stay visible.
//
// Complexity: Time O(r*c). Space O(r*c).
func Clip(m *Dense, lo, hi float64) (*Dense, error) {
	if err := ValidateNotNil(m); err != nil {
		return nil, matrixErrorf("Clip", err)
	}
	if isNonFinite(lo) || isNonFinite(hi) || lo > hi {
		return nil, matrixErrorf("Clip", ErrBadBounds)
	}
	out := ZerosLike(m)
	for k, v := range m.data {
		out.data[k] = math.Min(math.Max(v, lo), hi)
		if math.IsNaN(v) {
			out.data[k] = v
		}
	}

	return out, nil
}

// Apply returns f applied to every element of m.
func Apply(m *Dense, f func(float64) float64) (*Dense, error) {
	if err := ValidateNotNil(m); err != nil {
		return nil, matrixErrorf("Apply", err)
	}
	out := ZerosLike(m)
	for k, v := range m.data {
		out.data[k] = f(v)
	}

	return out, nil
}

// Masked returns a copy of m with every cell outside mask set to zero.
//
// Each area builds its partial seed with Masked before submitting it to the
// global furness.
//
// Complexity: Time O(r*c). Space O(r*c).
func Masked(m *Dense, mask *Mask) (*Dense, error) {
	if err := ValidateNotNil(m); err != nil {
		return nil, matrixErrorf("Masked", err)
	}
	if mask == nil {
		return nil, matrixErrorf("Masked", ErrNilMatrix)
	}
	if mask.r != m.r || mask.c != m.c {
		return nil, matrixErrorf("Masked", ErrDimensionMismatch)
	}
	out := ZerosLike(m)
	for k, keep := range mask.data {
		if keep {
			out.data[k] = m.data[k]
		}
	}

	return out, nil
}
