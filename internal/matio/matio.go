// SPDX-License-Identifier: MIT

// Package matio reads and writes headerless numeric CSV files: dense
// matrices, trip-end vectors and area label matrices.
package matio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/katalvlaran/tripdist/matrix"
)

// ErrEmpty indicates a file with no data rows.
var ErrEmpty = errors.New("matio: no data")

func readRecords(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("matio: %w", err)
	}
	if len(recs) == 0 {
		return nil, ErrEmpty
	}

	return recs, nil
}

func parseFloat(s string, row, col int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("matio: row %d col %d: %w", row+1, col+1, err)
	}

	return v, nil
}

// ReadDense parses a rectangular CSV of numbers.
func ReadDense(r io.Reader) (*matrix.Dense, error) {
	recs, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, len(recs))
	for i, rec := range recs {
		rows[i] = make([]float64, len(rec))
		for j, s := range rec {
			if rows[i][j], err = parseFloat(s, i, j); err != nil {
				return nil, err
			}
		}
	}

	return matrix.NewDenseRows(rows)
}

// ReadVector parses a single row or a single column of numbers.
func ReadVector(r io.Reader) ([]float64, error) {
	m, err := ReadDense(r)
	if err != nil {
		return nil, err
	}
	if m.Rows() != 1 && m.Cols() != 1 {
		return nil, fmt.Errorf("matio: vector must be one row or one column, got %dx%d: %w",
			m.Rows(), m.Cols(), matrix.ErrInvalidDimensions)
	}

	return append([]float64(nil), m.Data()...), nil
}

// ReadLabels parses a rectangular CSV of integer labels.
func ReadLabels(r io.Reader) (*matrix.Labels, error) {
	recs, err := readRecords(r)
	if err != nil {
		return nil, err
	}
	rows := make([][]int, len(recs))
	for i, rec := range recs {
		rows[i] = make([]int, len(rec))
		for j, s := range rec {
			v, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("matio: row %d col %d: %w", i+1, j+1, err)
			}
			rows[i][j] = v
		}
	}

	return matrix.NewLabelsRows(rows)
}

// WriteDense writes m as CSV using the shortest exact float form.
func WriteDense(w io.Writer, m *matrix.Dense) error {
	if err := matrix.ValidateNotNil(m); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	rec := make([]string, m.Cols())
	for i := 0; i < m.Rows(); i++ {
		for j, v := range m.RawRow(i) {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()

	return cw.Error()
}

// ReadDenseFile opens path and calls ReadDense.
func ReadDenseFile(path string) (*matrix.Dense, error) {
	return readFile(path, ReadDense)
}

// ReadVectorFile opens path and calls ReadVector.
func ReadVectorFile(path string) ([]float64, error) {
	return readFile(path, ReadVector)
}

// ReadLabelsFile opens path and calls ReadLabels.
func ReadLabelsFile(path string) (*matrix.Labels, error) {
	return readFile(path, ReadLabels)
}

// WriteDenseFile creates (or truncates) path and writes m.
func WriteDenseFile(path string, m *matrix.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("matio: %w", err)
	}
	if err := WriteDense(f, m); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("matio: %w", err)
	}
	defer f.Close()

	v, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}

	return v, nil
}
