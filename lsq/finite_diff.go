// SPDX-License-Identifier: MIT

package lsq

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// finiteDifference builds a forward-difference Jacobian. The step for x_i is
// rel*max(1, |x_i|), flipped to a backward step when x_i+h leaves the bounds.
// The residual at x is recomputed once per call.
func finiteDifference(f ResidualFunc, lo, hi []float64, rel float64) JacobianFunc {
	return func(ctx context.Context, x []float64) (*mat.Dense, error) {
		f0, err := f(ctx, x)
		if err != nil {
			return nil, err
		}
		m, n := len(f0), len(x)
		J := mat.NewDense(m, n, nil)
		xp := append([]float64(nil), x...)
		for j := 0; j < n; j++ {
			h := rel * math.Max(1, math.Abs(x[j]))
			if x[j]+h > hi[j] {
				h = -h
			}
			if x[j]+h < lo[j] {
				h = 0
			}
			if h == 0 {
				continue
			}
			xp[j] = x[j] + h
			fj, err := f(ctx, xp)
			xp[j] = x[j]
			if err != nil {
				return nil, err
			}
			for i := 0; i < m; i++ {
				J.Set(i, j, (fj[i]-f0[i])/h)
			}
		}

		return J, nil
	}
}
