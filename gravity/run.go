// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"fmt"

	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/matrix"
)

// Run distributes trip ends with a fixed set of cost parameters: the seed is
// fn(cost, params) and is balanced to rows/cols. params must name exactly the
// parameters fn declares.
func Run(ctx context.Context, fn costfn.CostFunction, cost *matrix.Dense, params costfn.Params,
	rows, cols []float64, opts furness.Options) (furness.Result, error) {
	if fn == nil {
		return furness.Result{}, configErrorf("cost function is required")
	}
	if err := fn.ValidateParams(params); err != nil {
		return furness.Result{}, err
	}
	seed, err := fn.Calculate(cost, params)
	if err != nil {
		return furness.Result{}, err
	}
	if !isFinite(seed) {
		return furness.Result{}, fmt.Errorf("%w (params %v)", ErrNonFinite, params)
	}

	return furness.DoublyConstrained(ctx, seed, rows, cols, opts)
}
