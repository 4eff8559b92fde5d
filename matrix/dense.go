// SPDX-License-Identifier: MIT
// Package: matrix
//
// Purpose:
//   - Define Dense, the single numeric container of the module: trip, cost,
//     seed and perceived-factor matrices are all Dense values.
//   - Keep storage flat and row-major so kernels index data[i*c+j] directly.
//
// Exposed API:
//   - NewDense / NewDenseFrom / NewDenseRows / NewFilled / ZerosLike
//   - At / Set (bounds-checked), RawRow / Data (shared views), Clone
//
// Determinism & Performance:
//   - Constructors copy caller data; views (RawRow, Data) never copy.
//   - Element access is O(1); no method panics on user input.

package matrix

import (
	"fmt"
	"strings"
)

// denseErrorf wraps an underlying error with Dense method context.
func denseErrorf(method string, row, col int, err error) error {
	return fmt.Errorf("Dense.%s(%d,%d): %w", method, row, col, err)
}

// Dense is a row-major matrix of float64 values.
//
// Implementation:
//   - r is rows, c is columns, and data holds r*c elements in row-major order.
//   - Shape is fixed at construction; only element values change.
//
// Notes:
//   - A Dense is not safe for concurrent mutation. Readers may share one
//     when nobody writes, which is how cost matrices travel between areas.
type Dense struct {
	r, c int       // number of rows and columns
	data []float64 // flat backing storage, length == r*c
}

// NewDense creates an r×c Dense matrix initialized to zeros.
// Stage 1 (Validate): ensure rows and cols > 0.
// Stage 2 (Prepare): allocate flat backing slice.
// Complexity: O(r*c) time and memory.
func NewDense(rows, cols int) (*Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrInvalidDimensions
	}

	return &Dense{r: rows, c: cols, data: make([]float64, rows*cols)}, nil
}

// NewDenseFrom creates an r×c Dense holding a copy of data (row-major).
//
// Errors:
//   - ErrInvalidDimensions when rows or cols <= 0.
//   - ErrDataLength when len(data) != rows*cols.
//
// Complexity: O(r*c) time and memory.
func NewDenseFrom(rows, cols int, data []float64) (*Dense, error) {
	m, err := NewDense(rows, cols)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*cols {
		return nil, matrixErrorf("NewDenseFrom", ErrDataLength)
	}
	copy(m.data, data)

	return m, nil
}

// NewDenseRows builds a Dense from a rectangular slice of rows.
// Handy for fixtures and CSV ingestion; ragged input returns ErrDataLength.
func NewDenseRows(rows [][]float64) (*Dense, error) {
	if len(rows) == 0 {
		return nil, ErrInvalidDimensions
	}
	m, err := NewDense(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != m.c {
			return nil, matrixErrorf("NewDenseRows", ErrDataLength)
		}
		copy(m.data[i*m.c:(i+1)*m.c], row)
	}

	return m, nil
}

// NewFilled returns an r×c Dense with every element set to v.
// Used for neutral perceived-factor matrices (v=1) and uniform seeds.
func NewFilled(rows, cols int, v float64) (*Dense, error) {
	m, err := NewDense(rows, cols)
	if err != nil {
		return nil, err
	}
	for k := range m.data {
		m.data[k] = v
	}

	return m, nil
}

// ZerosLike returns a new zero matrix with the same shape as m.
func ZerosLike(m *Dense) *Dense {
	return &Dense{r: m.r, c: m.c, data: make([]float64, len(m.data))}
}

// Rows returns the number of rows in the matrix.
func (m *Dense) Rows() int { return m.r }

// Cols returns the number of columns in the matrix.
func (m *Dense) Cols() int { return m.c }

// Shape returns (rows, cols).
func (m *Dense) Shape() (int, int) { return m.r, m.c }

// indexOf computes the flat index for (row, col) or returns ErrOutOfRange.
func (m *Dense) indexOf(method string, row, col int) (int, error) {
	if row < 0 || row >= m.r || col < 0 || col >= m.c {
		return 0, denseErrorf(method, row, col, ErrOutOfRange)
	}

	return row*m.c + col, nil
}

// At retrieves the element at (row, col).
// Complexity: O(1).
func (m *Dense) At(row, col int) (float64, error) {
	idx, err := m.indexOf("At", row, col)
	if err != nil {
		return 0, err
	}

	return m.data[idx], nil
}

// Set assigns value v at (row, col).
// Complexity: O(1).
func (m *Dense) Set(row, col int, v float64) error {
	idx, err := m.indexOf("Set", row, col)
	if err != nil {
		return err
	}
	m.data[idx] = v

	return nil
}

// RawRow returns row i as a slice sharing the matrix storage.
// Writes through the slice mutate the matrix. i must be in [0, Rows()).
func (m *Dense) RawRow(i int) []float64 {
	return m.data[i*m.c : (i+1)*m.c : (i+1)*m.c]
}

// Data returns the flat row-major backing slice (shared, not copied).
func (m *Dense) Data() []float64 { return m.data }

// Clone returns a deep copy of the Dense matrix.
//
// Complexity: O(r*c) time and memory for copy.
//
// Notes:
//   - Furness and the calibrator clone before mutating so inputs stay intact.
func (m *Dense) Clone() *Dense {
	copyData := make([]float64, len(m.data))
	copy(copyData, m.data)

	return &Dense{r: m.r, c: m.c, data: copyData}
}

// String implements fmt.Stringer for easy debugging.
func (m *Dense) String() string {
	var sb strings.Builder
	for i := 0; i < m.r; i++ {
		sb.WriteByte('[')
		for j := 0; j < m.c; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", m.data[i*m.c+j])
		}
		sb.WriteString("]\n")
	}

	return sb.String()
}
