// SPDX-License-Identifier: MIT

// Package furness implements doubly constrained matrix balancing: rows and
// columns of a seed matrix are rescaled alternately until both margins match
// their targets (iterative proportional fitting).
//
// DoublyConstrained is stateless and safe for concurrent use on disjoint
// inputs. The seed is never mutated.
package furness

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/internal/logging"
	"github.com/katalvlaran/tripdist/internal/metrics"
	"github.com/katalvlaran/tripdist/matrix"
)

// Defaults used when Options fields are zero.
const (
	DefaultTol      = 1e-9
	DefaultMaxIters = 5000
)

// ErrBadOptions indicates a negative tolerance or iteration cap.
var ErrBadOptions = errors.New("furness: tolerance and max iterations must be non-negative")

// Options configures DoublyConstrained. Zero values select the defaults, so
// a tolerance of exactly 0 or a zero pass budget cannot be requested; use a
// tiny Tol such as 1e-300 to run the full MaxIters.
//   - Tol: stop once the margin RMSE falls below Tol (0 means 1e-9).
//   - MaxIters: cap on row+column passes (0 means 5000).
//   - WarnOnNonConvergence: log a warning when MaxIters is exhausted.
//   - Kind: metrics label, e.g. "gravity" or "jacobian" (default "gravity").
//   - Logger: receives warnings (default no-op).
type Options struct {
	Tol                  float64
	MaxIters             int
	WarnOnNonConvergence bool
	Kind                 string
	Logger               *zap.Logger
}

// DefaultOptions returns the standard gravity-furness settings.
func DefaultOptions() Options {
	return Options{Tol: DefaultTol, MaxIters: DefaultMaxIters, WarnOnNonConvergence: true}
}

func (o *Options) normalize() error {
	if o.Tol < 0 || o.MaxIters < 0 || math.IsNaN(o.Tol) {
		return ErrBadOptions
	}
	if o.Tol == 0 {
		o.Tol = DefaultTol
	}
	if o.MaxIters == 0 {
		o.MaxIters = DefaultMaxIters
	}
	if o.Kind == "" {
		o.Kind = "gravity"
	}
	o.Logger = logging.OrNop(o.Logger)

	return nil
}

// Result is the immutable outcome of one furness run.
type Result struct {
	Matrix     *matrix.Dense
	Iterations int
	RMSE       float64
	Converged  bool
}

// DoublyConstrained balances seed to rowTargets/colTargets.
//
// Steps per iteration:
//  1. Scale each row by target/sum (0/0 treated as 0).
//  2. Scale each column by target/sum (0/0 treated as 0).
//  3. RMSE = sqrt((Σ row diff² + Σ col diff²) / (R + C)); stop when < Tol.
//
// A NaN RMSE stops the loop. Reaching MaxIters without meeting Tol is not an
// error: the best-effort matrix is returned with Converged=false and, when
// requested, a warning is logged.
//
// Complexity: O(MaxIters * R * C) time, O(R * C) memory.
func DoublyConstrained(ctx context.Context, seed *matrix.Dense, rowTargets, colTargets []float64, opts Options) (Result, error) {
	if err := opts.normalize(); err != nil {
		return Result{}, err
	}
	if err := matrix.ValidateNonNegative(seed); err != nil {
		return Result{}, fmt.Errorf("furness: seed: %w", err)
	}
	if err := matrix.ValidateVecLen(rowTargets, seed.Rows()); err != nil {
		return Result{}, fmt.Errorf("furness: row targets: %w", err)
	}
	if err := matrix.ValidateVecLen(colTargets, seed.Cols()); err != nil {
		return Result{}, fmt.Errorf("furness: col targets: %w", err)
	}
	if err := matrix.ValidateNonNegativeVec(rowTargets); err != nil {
		return Result{}, fmt.Errorf("furness: row targets: %w", err)
	}
	if err := matrix.ValidateNonNegativeVec(colTargets); err != nil {
		return Result{}, fmt.Errorf("furness: col targets: %w", err)
	}

	m := seed.Clone()
	rowFactors := make([]float64, seed.Rows())
	colFactors := make([]float64, seed.Cols())
	rmse := math.Inf(1)
	iters := 0

	for iters < opts.MaxIters {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		fitFactors(rowFactors, matrix.RowSums(m), rowTargets)
		_ = matrix.ScaleRows(m, rowFactors)
		fitFactors(colFactors, matrix.ColSums(m), colTargets)
		_ = matrix.ScaleCols(m, colFactors)
		iters++

		rmse = marginRMSE(m, rowTargets, colTargets)
		if rmse < opts.Tol {
			break
		}
		if math.IsNaN(rmse) {
			opts.Logger.Warn("furness produced NaN RMSE, stopping early",
				zap.String("kind", opts.Kind), zap.Int("iterations", iters))
			break
		}
	}

	converged := rmse < opts.Tol
	if !converged && opts.WarnOnNonConvergence {
		opts.Logger.Warn("furness exhausted iterations before reaching tolerance",
			zap.String("kind", opts.Kind),
			zap.Int("iterations", iters),
			zap.Float64("rmse", rmse),
			zap.Float64("tol", opts.Tol))
	}
	metrics.RecordFurness(opts.Kind, iters, converged)

	return Result{Matrix: m, Iterations: iters, RMSE: rmse, Converged: converged}, nil
}

// fitFactors writes target/sum into dst, or 0 when sum is 0.
func fitFactors(dst, sums, targets []float64) {
	for i, s := range sums {
		if s == 0 {
			dst[i] = 0
			continue
		}
		dst[i] = targets[i] / s
	}
}

func marginRMSE(m *matrix.Dense, rowTargets, colTargets []float64) float64 {
	var sq float64
	for i, s := range matrix.RowSums(m) {
		d := s - rowTargets[i]
		sq += d * d
	}
	for j, s := range matrix.ColSums(m) {
		d := s - colTargets[j]
		sq += d * d
	}

	return math.Sqrt(sq / float64(len(rowTargets)+len(colTargets)))
}
