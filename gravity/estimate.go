// SPDX-License-Identifier: MIT

package gravity

import (
	"context"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/lsq"
)

// EstimateInitParams fits fn to target using only the band average costs:
// the cost function evaluated at each band's average cost, normalised, is
// compared with the target shares. No furness runs, so the fit is cheap and
// coarse. Functions implementing costfn.EstimateRefiner adjust the result.
func EstimateInitParams(ctx context.Context, fn costfn.CostFunction, target *costdist.Distribution, init costfn.Params) (costfn.Params, error) {
	x0, err := costfn.Ordered(fn, init)
	if err != nil {
		return nil, err
	}
	lo, hi := costfn.Bounds(fn)
	aveCosts := target.AveCosts()
	shares := target.BandShares()

	res, err := lsq.Solve(ctx, lsq.Problem{
		Residual: func(_ context.Context, x []float64) ([]float64, error) {
			p, err := costfn.Named(fn, x)
			if err != nil {
				return nil, err
			}
			vals, err := fn.CalculateValues(aveCosts, p)
			if err != nil {
				return nil, err
			}
			var total float64
			for _, v := range vals {
				total += v
			}
			out := make([]float64, len(shares))
			for i := range shares {
				est := 0.0
				if total != 0 {
					est = vals[i] / total
				}
				out[i] = shares[i] - est
			}
			return out, nil
		},
		X0:    x0,
		Lower: lo,
		Upper: hi,
	}, lsq.DefaultSettings())
	if err != nil {
		return nil, err
	}

	est, err := costfn.Named(fn, res.X)
	if err != nil {
		return nil, err
	}
	if r, ok := fn.(costfn.EstimateRefiner); ok {
		est = r.RefineEstimate(est)
	}

	return est, nil
}
