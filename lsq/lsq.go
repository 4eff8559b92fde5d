// SPDX-License-Identifier: MIT

// Package lsq solves bound-constrained nonlinear least-squares problems,
// minimising 0.5*‖r(x)‖² subject to lo ≤ x ≤ hi.
//
// The solver is a Levenberg–Marquardt iteration whose trial points are
// projected onto the bounds, with Nielsen damping updates. Linear systems are
// solved with gonum's Cholesky factorisation, falling back to a general solve
// when the damped normal matrix is not positive definite.
package lsq

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoResidual is returned when Problem.Residual is nil.
	ErrNoResidual = errors.New("lsq: residual function is required")

	// ErrBounds indicates bounds of the wrong length or lo > hi.
	ErrBounds = errors.New("lsq: invalid bounds")

	// ErrNonFinite indicates the residual at the starting point is not finite.
	ErrNonFinite = errors.New("lsq: residuals at the starting point are not finite")

	// ErrShape indicates a Jacobian whose shape disagrees with the problem.
	ErrShape = errors.New("lsq: jacobian shape mismatch")
)

// ResidualFunc evaluates the residual vector at x.
type ResidualFunc func(ctx context.Context, x []float64) ([]float64, error)

// JacobianFunc evaluates the m×n Jacobian of the residuals at x.
// It is always called at the most recently evaluated residual point.
type JacobianFunc func(ctx context.Context, x []float64) (*mat.Dense, error)

// Problem describes one least-squares fit. Lower/Upper may be nil (unbounded).
type Problem struct {
	Residual ResidualFunc
	Jacobian JacobianFunc
	X0       []float64
	Lower    []float64
	Upper    []float64
}

// Settings controls termination.
//   - FTol: stop when an accepted step reduces the cost by ≤ FTol*cost.
//   - XTol: stop when ‖step‖ ≤ XTol*(XTol + ‖x‖).
//   - GTol: stop when the projected gradient ‖·‖∞ ≤ GTol.
//   - MaxEvaluations: residual evaluation budget (default 100*n).
//   - DiffStep: relative step for finite-difference Jacobians (default 1e-8).
type Settings struct {
	FTol           float64
	XTol           float64
	GTol           float64
	MaxEvaluations int
	DiffStep       float64
}

// DefaultSettings mirrors the conventional least-squares defaults.
func DefaultSettings() Settings {
	return Settings{FTol: 1e-8, XTol: 1e-8, GTol: 1e-8, DiffStep: 1e-8}
}

// Status reports why the solver stopped.
type Status int

const (
	StatusMaxEvaluations Status = iota
	StatusGTol
	StatusFTol
	StatusXTol
)

func (s Status) String() string {
	switch s {
	case StatusGTol:
		return "gtol satisfied"
	case StatusFTol:
		return "ftol satisfied"
	case StatusXTol:
		return "xtol satisfied"
	default:
		return "maximum evaluations reached"
	}
}

// Result is the solver outcome. X is the best point found.
type Result struct {
	X           []float64
	Residuals   []float64
	Cost        float64
	Evaluations int
	Jacobians   int
	Status      Status
}

// Success reports whether a tolerance was met.
func (r Result) Success() bool { return r.Status != StatusMaxEvaluations }

// Solve runs the bounded Levenberg–Marquardt iteration.
//
// Steps:
//  1. Project X0 onto the bounds and evaluate r, J.
//  2. Stop if the projected gradient is below GTol.
//  3. Solve (JᵀJ + λ·D) h = −Jᵀr, project x+h, stop on XTol.
//  4. Accept if the cost drops (shrink λ by the gain ratio), else grow λ.
//  5. After an accepted step check FTol, then re-evaluate J.
func Solve(ctx context.Context, p Problem, s Settings) (Result, error) {
	if p.Residual == nil {
		return Result{}, ErrNoResidual
	}
	n := len(p.X0)
	lo, hi, err := bounds(p, n)
	if err != nil {
		return Result{}, err
	}
	if s.MaxEvaluations <= 0 {
		s.MaxEvaluations = 100 * n
	}
	if s.DiffStep <= 0 {
		s.DiffStep = 1e-8
	}
	jac := p.Jacobian
	if jac == nil {
		jac = finiteDifference(p.Residual, lo, hi, s.DiffStep)
	}

	x := project(append([]float64(nil), p.X0...), lo, hi)
	r, err := p.Residual(ctx, x)
	if err != nil {
		return Result{}, err
	}
	nfev, njev := 1, 0
	cost := halfSquaredNorm(r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Result{}, ErrNonFinite
	}
	J, err := jac(ctx, x)
	if err != nil {
		return Result{}, err
	}
	njev++
	if rr, cc := J.Dims(); rr != len(r) || cc != n {
		return Result{}, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrShape, rr, cc, len(r), n)
	}

	result := func(st Status) Result {
		return Result{X: x, Residuals: r, Cost: cost, Evaluations: nfev, Jacobians: njev, Status: st}
	}

	var lambda float64
	nu := 2.0
	for {
		A, g := normalEquations(J, r)
		if projectedGradientNorm(x, g, lo, hi) <= s.GTol {
			return result(StatusGTol), nil
		}
		if lambda == 0 {
			lambda = 1e-3 * maxDiag(A)
			if lambda == 0 {
				lambda = 1e-3
			}
		}

		accepted := false
		for !accepted {
			if err := ctx.Err(); err != nil {
				return result(StatusMaxEvaluations), err
			}
			h := dampedStep(A, g, lambda)
			xNew := project(floats.AddTo(make([]float64, n), x, h), lo, hi)
			step := floats.SubTo(make([]float64, n), xNew, x)
			if floats.Norm(step, 2) <= s.XTol*(s.XTol+floats.Norm(x, 2)) {
				return result(StatusXTol), nil
			}
			if nfev >= s.MaxEvaluations {
				return result(StatusMaxEvaluations), nil
			}

			rNew, err := p.Residual(ctx, xNew)
			if err != nil {
				return result(StatusMaxEvaluations), err
			}
			nfev++
			costNew := halfSquaredNorm(rNew)
			if math.IsNaN(costNew) || math.IsInf(costNew, 0) || costNew >= cost {
				lambda *= nu
				nu *= 2
				continue
			}

			actual := cost - costNew
			predicted := predictedReduction(A, g, step)
			rho := 1.0
			if predicted > 0 {
				rho = actual / predicted
			}
			lambda *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
			nu = 2

			oldCost := cost
			x, r, cost = xNew, rNew, costNew
			accepted = true
			if actual <= s.FTol*oldCost {
				return result(StatusFTol), nil
			}
		}

		if J, err = jac(ctx, x); err != nil {
			return result(StatusMaxEvaluations), err
		}
		njev++
	}
}

func bounds(p Problem, n int) (lo, hi []float64, err error) {
	lo, hi = p.Lower, p.Upper
	if lo == nil {
		lo = make([]float64, n)
		for i := range lo {
			lo[i] = math.Inf(-1)
		}
	}
	if hi == nil {
		hi = make([]float64, n)
		for i := range hi {
			hi[i] = math.Inf(1)
		}
	}
	if len(lo) != n || len(hi) != n {
		return nil, nil, ErrBounds
	}
	for i := range lo {
		if lo[i] > hi[i] {
			return nil, nil, ErrBounds
		}
	}

	return lo, hi, nil
}

func project(x, lo, hi []float64) []float64 {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], lo[i]), hi[i])
	}

	return x
}

func halfSquaredNorm(r []float64) float64 { return 0.5 * floats.Dot(r, r) }

// normalEquations returns JᵀJ and Jᵀr.
func normalEquations(J *mat.Dense, r []float64) (*mat.SymDense, []float64) {
	_, n := J.Dims()
	A := mat.NewSymDense(n, nil)
	A.SymOuterK(1, J.T())
	var g mat.VecDense
	g.MulVec(J.T(), mat.NewVecDense(len(r), r))

	return A, vecData(&g)
}

// projectedGradientNorm zeroes gradient components blocked by an active bound.
func projectedGradientNorm(x, g, lo, hi []float64) float64 {
	var norm float64
	for i, gi := range g {
		if (x[i] <= lo[i] && gi > 0) || (x[i] >= hi[i] && gi < 0) {
			continue
		}
		norm = math.Max(norm, math.Abs(gi))
	}

	return norm
}

func maxDiag(A *mat.SymDense) float64 {
	var m float64
	for i := 0; i < A.SymmetricDim(); i++ {
		m = math.Max(m, A.At(i, i))
	}

	return m
}

// dampedStep solves (A + λ·diag(max(diag A, 1e-12))) h = −g.
func dampedStep(A *mat.SymDense, g []float64, lambda float64) []float64 {
	n := len(g)
	M := mat.NewSymDense(n, nil)
	M.CopySym(A)
	for i := 0; i < n; i++ {
		d := math.Max(A.At(i, i), 1e-12)
		M.SetSym(i, i, A.At(i, i)+lambda*d)
	}
	neg := make([]float64, n)
	floats.ScaleTo(neg, -1, g)
	b := mat.NewVecDense(n, neg)

	var h mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(M) {
		if err := chol.SolveVecTo(&h, b); err == nil {
			return vecData(&h)
		}
	}
	if err := h.SolveVec(M, b); err == nil {
		return vecData(&h)
	}

	// Singular system: fall back to a scaled steepest-descent step.
	floats.Scale(1/(1+lambda), neg)
	return neg
}

// predictedReduction is the model decrease −gᵀh − ½hᵀAh.
func predictedReduction(A *mat.SymDense, g, h []float64) float64 {
	hv := mat.NewVecDense(len(h), h)
	var Ah mat.VecDense
	Ah.MulVec(A, hv)

	return -floats.Dot(g, h) - 0.5*mat.Dot(hv, &Ah)
}

func vecData(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}

	return out
}
