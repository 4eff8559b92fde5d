// SPDX-License-Identifier: MIT
// Package: matrix
//
// Purpose:
//   - Reductions used by balancing and scoring code.
//
// Exposed API:
//   - Sum(m)      -> Σ m[i,j]
//   - RowSums(m)  -> trip productions per origin
//   - ColSums(m)  -> trip attractions per destination
//   - SumVec(x)   -> Σ x
//
// Determinism & Performance:
//   - Each reduction sums in a fixed order so repeated runs over the same
//     input agree bit-for-bit.
//   - Single pass over the flat buffer; ColSums walks rows to stay
//     cache-friendly instead of striding down columns.

package matrix

// Sum returns the total of all elements of m (0 for nil).
// Complexity: O(r*c).
func Sum(m *Dense) float64 {
	if m == nil {
		return 0
	}
	var s float64
	for _, v := range m.data {
		s += v
	}

	return s
}

// RowSums returns a vector whose i-th entry is Σ_j m[i,j].
//
// Implementation:
//   - Stage 1: walk row i over its contiguous slice data[i*c:(i+1)*c].
//   - Stage 2: store the running sum in out[i].
//
// Complexity: O(r*c) time, O(r) space.
//
// Notes:
//   - m must be non-nil; callers validate shapes once at their boundary.
func RowSums(m *Dense) []float64 {
	out := make([]float64, m.r)
	for i := 0; i < m.r; i++ {
		base := i * m.c
		var s float64
		for j := 0; j < m.c; j++ {
			s += m.data[base+j]
		}
		out[i] = s
	}

	return out
}

// ColSums returns a vector whose j-th entry is Σ_i m[i,j].
//
// Implementation:
//   - Accumulates row by row into out[j], so memory is read sequentially.
//
// Complexity: O(r*c) time, O(c) space.
func ColSums(m *Dense) []float64 {
	out := make([]float64, m.c)
	for i := 0; i < m.r; i++ {
		base := i * m.c
		for j := 0; j < m.c; j++ {
			out[j] += m.data[base+j]
		}
	}

	return out
}

// SumVec returns Σ x.
func SumVec(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}

	return s
}
