// SPDX-License-Identifier: MIT
// Package matrix_test contains test helpers
//
// Purpose:
//   - Provide small, deterministic fixtures for the kernels.
//   - Keep all data finite and well-formed to avoid numeric-policy interference.

package matrix_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/tripdist/matrix"
)

// mustRows builds a Dense from literal rows or fails the test.
func mustRows(t *testing.T, rows [][]float64) *matrix.Dense {
	t.Helper()
	m, err := matrix.NewDenseRows(rows)
	require.NoError(t, err)

	return m
}

// mustAt reads (i,j) or fails the test.
func mustAt(t *testing.T, m *matrix.Dense, i, j int) float64 {
	t.Helper()
	v, err := m.At(i, j)
	require.NoError(t, err)

	return v
}

// requireRows asserts m equals want element-wise within tol.
func requireRows(t *testing.T, want [][]float64, m *matrix.Dense, tol float64) {
	t.Helper()
	require.Equal(t, len(want), m.Rows(), "rows")
	for i, row := range want {
		require.Equal(t, len(row), m.Cols(), "cols")
		for j, w := range row {
			require.InDelta(t, w, mustAt(t, m, i, j), tol, "cell (%d,%d)", i, j)
		}
	}
}
