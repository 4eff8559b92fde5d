// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/internal/metrics"
	"github.com/katalvlaran/tripdist/matrix"
)

// perceivedCost returns the cost matrix the cost function sees in this run.
func (c *Calibrator) perceivedCost(r *run) (*matrix.Dense, error) {
	if r.perceived == nil {
		return c.cfg.CostMatrix, nil
	}

	return matrix.Hadamard(c.cfg.CostMatrix, r.perceived)
}

// seed evaluates the cost function over cost and restricts it to the area.
func (c *Calibrator) seed(cost *matrix.Dense, p costfn.Params) (*matrix.Dense, error) {
	seed, err := c.cfg.CostFunction.Calculate(cost, p)
	if err != nil {
		return nil, err
	}
	if !isFinite(seed) {
		return nil, fmt.Errorf("%w (params %v)", ErrNonFinite, p)
	}
	if c.mask != nil {
		return matrix.Masked(seed, c.mask)
	}

	return seed, nil
}

// evaluate runs one residual evaluation: seed, furness, band shares,
// convergence, residuals. It logs the evaluation and records it on r.
func (c *Calibrator) evaluate(ctx context.Context, r *run, p costfn.Params, step float64) (*State, error) {
	cost, err := c.perceivedCost(r)
	if err != nil {
		return nil, err
	}
	seed, err := c.seed(cost, p)
	if err != nil {
		return nil, err
	}
	res, err := c.provider.GravityFurness(ctx, seed)
	if err != nil {
		return nil, err
	}

	// Band shares are always measured against the true cost matrix.
	shares, err := costdist.BandShare(res.Matrix, c.cfg.CostMatrix, c.edges)
	if err != nil {
		return nil, err
	}
	conv, err := costdist.Convergence(shares, c.targetShares)
	if err != nil {
		return nil, err
	}
	residuals := make([]float64, len(shares))
	for i := range shares {
		residuals[i] = c.targetShares[i] - shares[i]
	}

	st := &State{
		Loop:              r.loop,
		Started:           r.loopStart,
		Finished:          time.Now(),
		Params:            p.Clone(),
		Seed:              seed,
		Achieved:          res.Matrix,
		BandShares:        shares,
		Convergence:       conv,
		Residuals:         residuals,
		FurnessIterations: res.Iterations,
		FurnessRMSE:       res.RMSE,
		FurnessConverged:  res.Converged,
	}
	if err := c.appendLog(ctx, st); err != nil {
		return nil, err
	}
	r.record(st)
	metrics.RecordEvaluation(c.name, conv)
	c.logger.Debug("evaluation",
		zap.Int("loop", st.Loop),
		zap.Any("params", st.Params),
		zap.Int("furness_iters", st.FurnessIterations),
		zap.Float64("furness_rmse", st.FurnessRMSE),
		zap.Float64("convergence", conv))

	if c.eager {
		if st.Jacobian, err = c.jacobian(ctx, r, st, step); err != nil {
			return nil, err
		}
	}

	return st, nil
}

func (c *Calibrator) appendLog(ctx context.Context, st *State) error {
	if len(c.sinks) == 0 {
		return nil
	}
	rec := LogRecord{
		Area:              c.name,
		Loop:              st.Loop,
		Runtime:           st.Runtime(),
		ParamNames:        c.cfg.CostFunction.ParamNames(),
		Params:            st.Params,
		FurnessIterations: st.FurnessIterations,
		FurnessRMSE:       st.FurnessRMSE,
		Convergence:       st.Convergence,
	}
	var errs error
	for _, s := range c.sinks {
		errs = multierr.Append(errs, s.Append(ctx, rec))
	}

	return errs
}

// jacobian approximates ∂residual/∂param around st.
//
// The furness effect is approximated by the ratio Achieved/Seed of st: each
// perturbed seed is multiplied by that ratio, rescaled to the achieved total,
// and balanced to the achieved margins with the looser jacobian furness.
// Column k is (achieved shares − perturbed shares) / h_k.
func (c *Calibrator) jacobian(ctx context.Context, r *run, st *State, step float64) (*mat.Dense, error) {
	fn := c.cfg.CostFunction
	names := fn.ParamNames()
	J := mat.NewDense(len(st.BandShares), len(names), nil)

	ratio, err := matrix.DivideOrZero(st.Achieved, st.Seed)
	if err != nil {
		return nil, err
	}
	cost, err := c.perceivedCost(r)
	if err != nil {
		return nil, err
	}
	total := matrix.Sum(st.Achieved)
	rows := matrix.RowSums(st.Achieved)
	cols := matrix.ColSums(st.Achieved)

	for k, name := range names {
		h := st.Params[name] * step
		if h == 0 {
			h = step
		}
		adj := st.Params.Clone()
		adj[name] += h

		pert, err := c.seed(cost, adj)
		if err != nil {
			return nil, err
		}
		est, err := matrix.Hadamard(pert, ratio)
		if err != nil {
			return nil, err
		}
		if s := matrix.Sum(est); s != 0 {
			if est, err = matrix.Scale(est, total/s); err != nil {
				return nil, err
			}
		}
		res, err := c.provider.JacobianFurness(ctx, est, rows, cols)
		if err != nil {
			return nil, err
		}
		shares, err := costdist.BandShare(res.Matrix, c.cfg.CostMatrix, c.edges)
		if err != nil {
			return nil, err
		}
		for i := range shares {
			J.Set(i, k, (st.BandShares[i]-shares[i])/h)
		}
	}

	return J, nil
}
