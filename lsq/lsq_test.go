// SPDX-License-Identifier: MIT

package lsq_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/tripdist/lsq"
)

// expDecay returns residuals y_i − a·exp(−b·t_i) for a synthetic curve.
func expDecay(a, b float64) (lsq.ResidualFunc, []float64) {
	ts := []float64{0, 0.5, 1, 1.5, 2, 3, 4}
	ys := make([]float64, len(ts))
	for i, t := range ts {
		ys[i] = a * math.Exp(-b*t)
	}
	f := func(_ context.Context, x []float64) ([]float64, error) {
		r := make([]float64, len(ts))
		for i, t := range ts {
			r[i] = ys[i] - x[0]*math.Exp(-x[1]*t)
		}
		return r, nil
	}

	return f, ts
}

func TestSolve_UnboundedFiniteDifference(t *testing.T) {
	t.Parallel()
	f, _ := expDecay(3, 0.7)

	res, err := lsq.Solve(context.Background(), lsq.Problem{Residual: f, X0: []float64{1, 0.1}}, lsq.DefaultSettings())
	require.NoError(t, err)
	assert.True(t, res.Success(), res.Status.String())
	assert.InDelta(t, 3, res.X[0], 1e-5)
	assert.InDelta(t, 0.7, res.X[1], 1e-5)
	assert.Less(t, res.Cost, 1e-10)
}

func TestSolve_AnalyticJacobian(t *testing.T) {
	t.Parallel()
	f, ts := expDecay(2, 0.3)
	jac := func(_ context.Context, x []float64) (*mat.Dense, error) {
		J := mat.NewDense(len(ts), 2, nil)
		for i, t := range ts {
			e := math.Exp(-x[1] * t)
			J.Set(i, 0, -e)
			J.Set(i, 1, x[0]*t*e)
		}
		return J, nil
	}

	res, err := lsq.Solve(context.Background(), lsq.Problem{Residual: f, Jacobian: jac, X0: []float64{1, 1}}, lsq.DefaultSettings())
	require.NoError(t, err)
	assert.InDelta(t, 2, res.X[0], 1e-6)
	assert.InDelta(t, 0.3, res.X[1], 1e-6)
}

func TestSolve_ActiveBound(t *testing.T) {
	t.Parallel()
	// Minimum of (x-5)² lies outside [0, 2]; the solver must stop on the bound.
	f := func(_ context.Context, x []float64) ([]float64, error) {
		return []float64{x[0] - 5}, nil
	}
	res, err := lsq.Solve(context.Background(), lsq.Problem{
		Residual: f, X0: []float64{10}, Lower: []float64{0}, Upper: []float64{2},
	}, lsq.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.X[0])
	assert.True(t, res.Success())
}

func TestSolve_MaxEvaluations(t *testing.T) {
	t.Parallel()
	f, _ := expDecay(3, 0.7)
	s := lsq.DefaultSettings()
	s.MaxEvaluations = 2
	s.FTol, s.XTol, s.GTol = 0, 0, 0

	res, err := lsq.Solve(context.Background(), lsq.Problem{Residual: f, X0: []float64{1, 0.1}}, s)
	require.NoError(t, err)
	assert.Equal(t, lsq.StatusMaxEvaluations, res.Status)
	assert.LessOrEqual(t, res.Evaluations, 2)
	assert.False(t, res.Success())
}

func TestSolve_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, err := lsq.Solve(ctx, lsq.Problem{X0: []float64{1}}, lsq.DefaultSettings())
	require.ErrorIs(t, err, lsq.ErrNoResidual)

	f := func(_ context.Context, x []float64) ([]float64, error) { return []float64{x[0]}, nil }
	_, err = lsq.Solve(ctx, lsq.Problem{Residual: f, X0: []float64{1}, Lower: []float64{2}, Upper: []float64{1}}, lsq.DefaultSettings())
	require.ErrorIs(t, err, lsq.ErrBounds)

	nan := func(_ context.Context, x []float64) ([]float64, error) { return []float64{math.NaN()}, nil }
	_, err = lsq.Solve(ctx, lsq.Problem{Residual: nan, X0: []float64{1}}, lsq.DefaultSettings())
	require.ErrorIs(t, err, lsq.ErrNonFinite)

	boom := errors.New("boom")
	bad := func(_ context.Context, x []float64) ([]float64, error) { return nil, boom }
	_, err = lsq.Solve(ctx, lsq.Problem{Residual: bad, X0: []float64{1}}, lsq.DefaultSettings())
	require.ErrorIs(t, err, boom)

	wrong := func(_ context.Context, x []float64) (*mat.Dense, error) { return mat.NewDense(2, 1, nil), nil }
	_, err = lsq.Solve(ctx, lsq.Problem{Residual: f, Jacobian: wrong, X0: []float64{1}}, lsq.DefaultSettings())
	require.ErrorIs(t, err, lsq.ErrShape)
}
