// SPDX-License-Identifier: MIT

// Package costfn defines the cost-function boundary consumed by the gravity
// model: a named mapping from travel cost to unnormalised trip propensity,
// with a declared parameter order, per-parameter bounds and a validation
// contract. Built-ins cover the common deterrence curves.
//
// Values are immutable after construction and safe for concurrent use.
package costfn

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/katalvlaran/tripdist/matrix"
)

var (
	// ErrParamMismatch is matched by every ParamError.
	ErrParamMismatch = errors.New("costfn: parameters do not match declared names")

	// ErrUnknownFunction is returned by ByName for unregistered names.
	ErrUnknownFunction = errors.New("costfn: unknown cost function")

	// ErrArgCount indicates an ordered argument slice of the wrong length.
	ErrArgCount = errors.New("costfn: wrong number of ordered arguments")
)

// Params maps parameter names to values.
type Params map[string]float64

// Clone returns an independent copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// ParamError reports the names missing from, or unexpected in, a parameter set.
type ParamError struct {
	Function string
	Missing  []string
	Extra    []string
}

func (e *ParamError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Extra, ", "))
	}

	return fmt.Sprintf("costfn: %s parameters: %s", e.Function, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrParamMismatch) hold for every ParamError.
func (e *ParamError) Is(target error) bool { return target == ErrParamMismatch }

// CostFunction is the capability the calibrator consumes.
type CostFunction interface {
	// Name identifies the function, e.g. "exponential".
	Name() string
	// ParamNames is the declared parameter order.
	ParamNames() []string
	// ParamMin and ParamMax are the per-parameter bounds.
	ParamMin() Params
	ParamMax() Params
	// ValidateParams fails with *ParamError unless p names exactly ParamNames.
	ValidateParams(p Params) error
	// Calculate maps every cost cell to a propensity of the same shape.
	Calculate(cost *matrix.Dense, p Params) (*matrix.Dense, error)
	// CalculateValues maps a cost vector to propensities.
	CalculateValues(cost []float64, p Params) ([]float64, error)
}

// EstimateRefiner is implemented by cost functions that adjust a coarse
// initial-parameter estimate before calibration starts.
type EstimateRefiner interface {
	RefineEstimate(p Params) Params
}

// Kernel evaluates one cost value given arguments in declared order.
type Kernel func(cost float64, args []float64) float64

// Function is the concrete CostFunction used by every built-in.
type Function struct {
	name   string
	order  []string
	min    []float64
	max    []float64
	kernel Kernel
	refine func(Params) Params
}

// Option customises a Function at construction.
type Option func(*Function) error

// WithBounds overrides the bounds of one parameter.
func WithBounds(name string, lo, hi float64) Option {
	return func(f *Function) error {
		idx := f.indexOf(name)
		if idx < 0 {
			return &ParamError{Function: f.name, Extra: []string{name}}
		}
		if lo > hi {
			return fmt.Errorf("costfn: bounds for %s: min %g > max %g", name, lo, hi)
		}
		f.min[idx], f.max[idx] = lo, hi

		return nil
	}
}

// WithEstimateRefinement installs a hook applied to coarse initial estimates.
func WithEstimateRefinement(fn func(Params) Params) Option {
	return func(f *Function) error {
		f.refine = fn
		return nil
	}
}

// New builds a Function. order, lo and hi must have equal length.
func New(name string, order []string, lo, hi []float64, kernel Kernel, opts ...Option) (*Function, error) {
	if len(order) == 0 || len(order) != len(lo) || len(order) != len(hi) {
		return nil, fmt.Errorf("costfn: %s: order/min/max length mismatch", name)
	}
	if kernel == nil {
		return nil, fmt.Errorf("costfn: %s: nil kernel", name)
	}
	f := &Function{
		name:   name,
		order:  append([]string(nil), order...),
		min:    append([]float64(nil), lo...),
		max:    append([]float64(nil), hi...),
		kernel: kernel,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *Function) indexOf(name string) int {
	for i, n := range f.order {
		if n == name {
			return i
		}
	}

	return -1
}

// Name implements CostFunction.
func (f *Function) Name() string { return f.name }

// ParamNames implements CostFunction. The returned slice is a copy.
func (f *Function) ParamNames() []string { return append([]string(nil), f.order...) }

// ParamMin implements CostFunction.
func (f *Function) ParamMin() Params { return f.zip(f.min) }

// ParamMax implements CostFunction.
func (f *Function) ParamMax() Params { return f.zip(f.max) }

func (f *Function) zip(vals []float64) Params {
	p := make(Params, len(f.order))
	for i, n := range f.order {
		p[n] = vals[i]
	}

	return p
}

// ValidateParams implements CostFunction.
func (f *Function) ValidateParams(p Params) error {
	var missing, extra []string
	for _, n := range f.order {
		if _, ok := p[n]; !ok {
			missing = append(missing, n)
		}
	}
	for n := range p {
		if f.indexOf(n) < 0 {
			extra = append(extra, n)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)

	return &ParamError{Function: f.name, Missing: missing, Extra: extra}
}

// Calculate implements CostFunction.
func (f *Function) Calculate(cost *matrix.Dense, p Params) (*matrix.Dense, error) {
	if err := matrix.ValidateNotNil(cost); err != nil {
		return nil, err
	}
	args, err := Ordered(f, p)
	if err != nil {
		return nil, err
	}

	return matrix.Apply(cost, func(c float64) float64 { return f.kernel(c, args) })
}

// CalculateValues implements CostFunction.
func (f *Function) CalculateValues(cost []float64, p Params) ([]float64, error) {
	args, err := Ordered(f, p)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cost))
	for i, c := range cost {
		out[i] = f.kernel(c, args)
	}

	return out, nil
}

// RefineEstimate implements EstimateRefiner. Without a hook it returns p.
func (f *Function) RefineEstimate(p Params) Params {
	if f.refine == nil {
		return p
	}

	return f.refine(p.Clone())
}

// Ordered validates p against fn and returns its values in declared order.
func Ordered(fn CostFunction, p Params) ([]float64, error) {
	if err := fn.ValidateParams(p); err != nil {
		return nil, err
	}
	names := fn.ParamNames()
	out := make([]float64, len(names))
	for i, n := range names {
		out[i] = p[n]
	}

	return out, nil
}

// Named converts ordered arguments back into Params.
func Named(fn CostFunction, args []float64) (Params, error) {
	names := fn.ParamNames()
	if len(args) != len(names) {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrArgCount, len(names), len(args))
	}
	p := make(Params, len(names))
	for i, n := range names {
		p[n] = args[i]
	}

	return p, nil
}

// Bounds returns the lower and upper bounds of fn in declared order.
func Bounds(fn CostFunction) (lo, hi []float64) {
	names := fn.ParamNames()
	mn, mx := fn.ParamMin(), fn.ParamMax()
	lo = make([]float64, len(names))
	hi = make([]float64, len(names))
	for i, n := range names {
		lo[i], hi[i] = mn[n], mx[n]
	}

	return lo, hi
}
