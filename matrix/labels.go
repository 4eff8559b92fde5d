// SPDX-License-Identifier: MIT
// Package: matrix
//
// Purpose:
//   - Partition the cells of a trip matrix into calibration areas.
//
// Exposed API:
//   - Labels (integer area id per cell, IgnoreLabel for no area)
//   - Mask (boolean cell selector), Labels.Mask, Masked
//   - Split(m, labels) -> one part per label; Merge(parts) -> Σ parts
//
// Invariants:
//   - Labels, Mask and the matrices they apply to share one shape.
//   - Split followed by Merge reproduces the input exactly.

package matrix

import (
	"fmt"
	"sort"
)

// IgnoreLabel marks cells that belong to no calibration area.
const IgnoreLabel = -1

// Labels assigns an integer area id to every cell of an r×c matrix.
type Labels struct {
	r, c int
	data []int
}

// NewLabels wraps a row-major label slice of length rows*cols (copied).
func NewLabels(rows, cols int, data []int) (*Labels, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrInvalidDimensions
	}
	if len(data) != rows*cols {
		return nil, matrixErrorf("NewLabels", ErrDataLength)
	}
	l := &Labels{r: rows, c: cols, data: make([]int, len(data))}
	copy(l.data, data)

	return l, nil
}

// NewLabelsRows builds Labels from a rectangular slice of rows.
func NewLabelsRows(rows [][]int) (*Labels, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrInvalidDimensions
	}
	r, c := len(rows), len(rows[0])
	flat := make([]int, 0, r*c)
	for _, row := range rows {
		if len(row) != c {
			return nil, matrixErrorf("NewLabelsRows", ErrDataLength)
		}
		flat = append(flat, row...)
	}

	return &Labels{r: r, c: c, data: flat}, nil
}

// Rows returns the number of rows.
func (l *Labels) Rows() int { return l.r }

// Cols returns the number of columns.
func (l *Labels) Cols() int { return l.c }

// At returns the label of cell (row, col).
func (l *Labels) At(row, col int) (int, error) {
	if row < 0 || row >= l.r || col < 0 || col >= l.c {
		return 0, fmt.Errorf("Labels.At(%d,%d): %w", row, col, ErrOutOfRange)
	}

	return l.data[row*l.c+col], nil
}

// Unique returns the distinct labels in ascending order, skipping any listed in exclude.
func (l *Labels) Unique(exclude ...int) []int {
	skip := make(map[int]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	seen := make(map[int]struct{})
	out := make([]int, 0)
	for _, v := range l.data {
		if _, ok := skip[v]; ok {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)

	return out
}

// Mask returns the cells whose label equals label.
func (l *Labels) Mask(label int) *Mask {
	m := &Mask{r: l.r, c: l.c, data: make([]bool, len(l.data))}
	for k, v := range l.data {
		m.data[k] = v == label
	}

	return m
}

// Mask selects a subset of the cells of an r×c matrix.
type Mask struct {
	r, c int
	data []bool
}

// NewMask wraps a row-major boolean slice of length rows*cols (copied).
func NewMask(rows, cols int, data []bool) (*Mask, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrInvalidDimensions
	}
	if len(data) != rows*cols {
		return nil, matrixErrorf("NewMask", ErrDataLength)
	}
	m := &Mask{r: rows, c: cols, data: make([]bool, len(data))}
	copy(m.data, data)

	return m, nil
}

// Rows returns the number of rows.
func (m *Mask) Rows() int { return m.r }

// Cols returns the number of columns.
func (m *Mask) Cols() int { return m.c }

// At reports whether (row, col) is selected. Out-of-range cells are not.
func (m *Mask) At(row, col int) bool {
	if row < 0 || row >= m.r || col < 0 || col >= m.c {
		return false
	}

	return m.data[row*m.c+col]
}

// Count returns the number of selected cells.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.data {
		if v {
			n++
		}
	}

	return n
}

// Split divides m into one matrix per distinct label.
//
// Purpose:
//   - Hand each calibration area its share of a globally balanced matrix.
//
// Implementation:
//   - Every label present in labels, IgnoreLabel included, gets a part of
//     m's shape holding m's value on its own cells and 0 elsewhere.
//   - Parts partition m: Merge(Split(m, labels)) reproduces m exactly.
//
// Complexity: O(r*c) time, O(k*r*c) memory for k distinct labels.
//
// Notes:
//   - Callers that only want areas drop parts[IgnoreLabel].
func Split(m *Dense, labels *Labels) (map[int]*Dense, error) {
	if err := ValidateNotNil(m); err != nil {
		return nil, matrixErrorf("Split", err)
	}
	if labels == nil {
		return nil, matrixErrorf("Split", ErrNilMatrix)
	}
	if labels.r != m.r || labels.c != m.c {
		return nil, matrixErrorf("Split", ErrDimensionMismatch)
	}
	parts := make(map[int]*Dense)
	for _, id := range labels.Unique() {
		parts[id] = ZerosLike(m)
	}
	for k, id := range labels.data {
		parts[id].data[k] = m.data[k]
	}

	return parts, nil
}

// Merge sums the given parts into a single matrix.
//
// Implementation:
//   - Stage 1: sort keys ascending so the summation order is fixed.
//   - Stage 2: clone the first part, AddInPlace the rest.
//
// Errors:
//   - ErrNilMatrix for an empty map or a nil part.
//   - ErrDimensionMismatch when parts differ in shape.
//
// Complexity: O(k*r*c) time for k parts, O(r*c) memory.
func Merge(parts map[int]*Dense) (*Dense, error) {
	if len(parts) == 0 {
		return nil, matrixErrorf("Merge", ErrNilMatrix)
	}
	keys := make([]int, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var out *Dense
	for _, k := range keys {
		p := parts[k]
		if out == nil {
			if err := ValidateNotNil(p); err != nil {
				return nil, matrixErrorf("Merge", err)
			}
			out = p.Clone()
			continue
		}
		if err := AddInPlace(out, p); err != nil {
			return nil, matrixErrorf("Merge", err)
		}
	}

	return out, nil
}
