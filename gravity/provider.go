// SPDX-License-Identifier: MIT

package gravity

import (
	"context"

	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/matrix"
)

// FurnessProvider balances seeds on behalf of a Calibrator. The local
// provider runs the furness in-process; the coordinated provider hands the
// seed to a shared aggregator and waits for this area's share of the result.
type FurnessProvider interface {
	// GravityFurness balances seed to the calibration's fixed trip ends.
	GravityFurness(ctx context.Context, seed *matrix.Dense) (furness.Result, error)
	// JacobianFurness balances a perturbed seed to the given margins with
	// the looser jacobian settings.
	JacobianFurness(ctx context.Context, seed *matrix.Dense, rowTargets, colTargets []float64) (furness.Result, error)
}

// LocalProvider runs both furness kinds in the calling goroutine.
type LocalProvider struct {
	RowTargets []float64
	ColTargets []float64
	Gravity    furness.Options
	Jacobian   furness.Options
}

// NewLocalProvider returns a provider with the single-area defaults:
// gravity tol/maxIters as given (0 selects defaults), jacobian 1e-6/20
// without non-convergence warnings.
func NewLocalProvider(rows, cols []float64, tol float64, maxIters int, logger *zap.Logger) *LocalProvider {
	return &LocalProvider{
		RowTargets: rows,
		ColTargets: cols,
		Gravity: furness.Options{
			Tol: tol, MaxIters: maxIters, WarnOnNonConvergence: true,
			Kind: "gravity", Logger: logger,
		},
		Jacobian: furness.Options{
			Tol: DefaultJacobianFurnessTol, MaxIters: DefaultJacobianFurnessMaxIters,
			Kind: "jacobian", Logger: logger,
		},
	}
}

// GravityFurness implements FurnessProvider.
func (p *LocalProvider) GravityFurness(ctx context.Context, seed *matrix.Dense) (furness.Result, error) {
	return furness.DoublyConstrained(ctx, seed, p.RowTargets, p.ColTargets, p.Gravity)
}

// JacobianFurness implements FurnessProvider.
func (p *LocalProvider) JacobianFurness(ctx context.Context, seed *matrix.Dense, rows, cols []float64) (furness.Result, error) {
	return furness.DoublyConstrained(ctx, seed, rows, cols, p.Jacobian)
}
