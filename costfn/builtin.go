// SPDX-License-Identifier: MIT

package costfn

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Built-in function names accepted by ByName.
const (
	NameExponential = "exponential"
	NameTanner      = "tanner"
	NameLogNormal   = "log_normal"
	NamePower       = "power"
)

// Exponential is f(c) = exp(-beta*c).
func Exponential(opts ...Option) (*Function, error) {
	return New(NameExponential, []string{"beta"}, []float64{0}, []float64{5},
		func(c float64, a []float64) float64 { return math.Exp(-a[0] * c) },
		opts...)
}

// Tanner is f(c) = c^alpha * exp(beta*c). Non-positive costs map to 0.
func Tanner(opts ...Option) (*Function, error) {
	return New(NameTanner, []string{"alpha", "beta"}, []float64{-5, -5}, []float64{5, 5},
		func(c float64, a []float64) float64 {
			if c <= 0 {
				return 0
			}
			return math.Pow(c, a[0]) * math.Exp(a[1]*c)
		},
		opts...)
}

// LogNormal is the log-normal density in cost with shape sigma and location mu.
// Non-positive costs map to 0. Coarse estimates are refined by scaling sigma
// by 0.8 and mu by 0.5.
func LogNormal(opts ...Option) (*Function, error) {
	refine := WithEstimateRefinement(func(p Params) Params {
		p["sigma"] *= 0.8
		p["mu"] *= 0.5
		return p
	})

	return New(NameLogNormal, []string{"sigma", "mu"}, []float64{0.01, 0}, []float64{5, 10},
		func(c float64, a []float64) float64 {
			sigma, mu := a[0], a[1]
			if c <= 0 || sigma <= 0 {
				return 0
			}
			z := (math.Log(c) - mu) / sigma
			return math.Exp(-0.5*z*z) / (c * sigma * math.Sqrt(2*math.Pi))
		},
		append([]Option{refine}, opts...)...)
}

// Power is f(c) = c^-alpha. Non-positive costs map to 0.
func Power(opts ...Option) (*Function, error) {
	return New(NamePower, []string{"alpha"}, []float64{0}, []float64{5},
		func(c float64, a []float64) float64 {
			if c <= 0 {
				return 0
			}
			return math.Pow(c, -a[0])
		},
		opts...)
}

var registry = map[string]func(...Option) (*Function, error){
	NameExponential: Exponential,
	NameTanner:      Tanner,
	NameLogNormal:   LogNormal,
	NamePower:       Power,
}

// ByName returns the built-in named name (case-insensitive).
func ByName(name string, opts ...Option) (*Function, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownFunction, name, strings.Join(Names(), ", "))
	}

	return ctor(opts...)
}

// Names lists the built-in function names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)

	return out
}
