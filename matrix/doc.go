// Package matrix provides the dense numeric containers used by the trip
// distribution pipeline.
//
// The matrix package provides:
//
//   - Dense, a row-major float64 matrix backed by a single flat slice. Trip
//     matrices, cost matrices, seed matrices and perceived-factor matrices are
//     all Dense values.
//   - Labels, an integer-coded matrix of the same shape that assigns every
//     cell to a calibration area (or to an "ignore" sentinel).
//   - Mask, a boolean cell selector derived from Labels.
//   - Small deterministic kernels: RowSums, ColSums, ScaleRows, ScaleCols,
//     Hadamard, DivideOrZero, Clip, Apply, Masked, Split and Merge.
//
// All kernels run fixed i→j loops over the flat buffer so results are
// reproducible bit-for-bit across runs. Errors are package sentinels matched
// with errors.Is.
package matrix
