// SPDX-License-Identifier: MIT

package matrix_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/matrix"
)

func TestLabels_UniqueAndMask(t *testing.T) {
	t.Parallel()
	l, err := matrix.NewLabelsRows([][]int{{2, 1}, {-1, 2}})
	require.NoError(t, err)

	require.Equal(t, []int{-1, 1, 2}, l.Unique())
	require.Equal(t, []int{1, 2}, l.Unique(matrix.IgnoreLabel))

	m := l.Mask(2)
	require.Equal(t, 2, m.Count())
	require.True(t, m.At(0, 0))
	require.False(t, m.At(0, 1))
	require.False(t, m.At(5, 5))

	v, err := l.At(1, 0)
	require.NoError(t, err)
	require.Equal(t, matrix.IgnoreLabel, v)
}

func TestSplitMerge_IgnoreRegionIsKept(t *testing.T) {
	t.Parallel()
	m := mustRows(t, [][]float64{{1, 2}, {3, 4}})
	l, err := matrix.NewLabels(2, 2, []int{0, 1, -1, 0})
	require.NoError(t, err)

	parts, err := matrix.Split(m, l)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	requireRows(t, [][]float64{{1, 0}, {0, 4}}, parts[0], 0)
	requireRows(t, [][]float64{{0, 2}, {0, 0}}, parts[1], 0)
	requireRows(t, [][]float64{{0, 0}, {3, 0}}, parts[matrix.IgnoreLabel], 0)

	merged, err := matrix.Merge(parts)
	require.NoError(t, err)
	require.Equal(t, m.Data(), merged.Data())
}

func TestSplitMerge_FurnessedRoundTrip(t *testing.T) {
	t.Parallel()
	seed := mustRows(t, [][]float64{
		{1, 6, 8, 9},
		{6, 2, 7, 8},
		{8, 7, 3, 6},
		{9, 8, 6, 1},
	})
	res, err := furness.DoublyConstrained(context.Background(), seed,
		[]float64{40, 60, 50, 50}, []float64{45, 55, 50, 50}, furness.DefaultOptions())
	require.NoError(t, err)

	l, err := matrix.NewLabelsRows([][]int{
		{0, 0, 0, -1},
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{-1, 1, 1, 1},
	})
	require.NoError(t, err)

	parts, err := matrix.Split(res.Matrix, l)
	require.NoError(t, err)
	require.Contains(t, parts, matrix.IgnoreLabel)

	for id, part := range parts {
		mask := l.Mask(id)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if !mask.At(i, j) {
					require.Zero(t, mustAt(t, part, i, j), "label %d cell (%d,%d)", id, i, j)
				}
			}
		}
	}
	areas := map[int]*matrix.Dense{0: parts[0], 1: parts[1]}
	for _, part := range areas {
		require.Zero(t, mustAt(t, part, 0, 3))
		require.Zero(t, mustAt(t, part, 3, 0))
	}

	merged, err := matrix.Merge(parts)
	require.NoError(t, err)
	require.Equal(t, res.Matrix.Data(), merged.Data())
}

func TestMasked(t *testing.T) {
	t.Parallel()
	m := mustRows(t, [][]float64{{1, 2}, {3, 4}})
	mask, err := matrix.NewMask(2, 2, []bool{true, false, false, true})
	require.NoError(t, err)

	out, err := matrix.Masked(m, mask)
	require.NoError(t, err)
	requireRows(t, [][]float64{{1, 0}, {0, 4}}, out, 0)

	small, err := matrix.NewMask(1, 1, []bool{true})
	require.NoError(t, err)
	_, err = matrix.Masked(m, small)
	require.ErrorIs(t, err, matrix.ErrDimensionMismatch)
}

func TestLabels_Errors(t *testing.T) {
	t.Parallel()
	_, err := matrix.NewLabels(2, 2, []int{1})
	require.ErrorIs(t, err, matrix.ErrDataLength)
	_, err = matrix.NewLabelsRows([][]int{{1, 2}, {3}})
	require.ErrorIs(t, err, matrix.ErrDataLength)

	m := mustRows(t, [][]float64{{1, 2}})
	l, err := matrix.NewLabels(1, 1, []int{0})
	require.NoError(t, err)
	_, err = matrix.Split(m, l)
	require.ErrorIs(t, err, matrix.ErrDimensionMismatch)

	_, err = matrix.Merge(nil)
	require.ErrorIs(t, err, matrix.ErrNilMatrix)
}
