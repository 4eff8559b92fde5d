// SPDX-License-Identifier: MIT

// Package costdist holds the trip-length (cost) distribution type and the
// pure numerical helpers used to score a trip matrix against it: band
// shares, average cost per band, cell counts per band, intrazonal infill,
// the curve convergence score, and distribution generation.
package costdist

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoBands is returned for a distribution without bands.
	ErrNoBands = errors.New("costdist: distribution has no bands")

	// ErrBandOrder indicates non-contiguous or non-increasing bands.
	ErrBandOrder = errors.New("costdist: bands must be contiguous and increasing")

	// ErrNegativeTrips indicates a band with negative or non-finite trips.
	ErrNegativeTrips = errors.New("costdist: band trips must be finite and non-negative")

	// ErrBadEdges indicates fewer than two bin edges or non-increasing edges.
	ErrBadEdges = errors.New("costdist: bin edges must be increasing with at least two values")

	// ErrLengthMismatch indicates vectors of differing lengths.
	ErrLengthMismatch = errors.New("costdist: length mismatch")
)

// Band is one row of a target cost distribution.
type Band struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	Trips   float64 `json:"trips" yaml:"trips"`
	AveCost float64 `json:"ave_km" yaml:"ave_km"`
}

// Distribution is an ordered, contiguous sequence of bands.
// Construct with NewDistribution so average costs are filled in.
type Distribution struct {
	bands []Band
}

// NewDistribution validates bands and fills missing average costs.
// A zero or NaN AveCost defaults to the band's Min.
func NewDistribution(bands []Band) (*Distribution, error) {
	if len(bands) == 0 {
		return nil, ErrNoBands
	}
	out := make([]Band, len(bands))
	for i, b := range bands {
		if !(b.Min < b.Max) || math.IsNaN(b.Min) || math.IsNaN(b.Max) {
			return nil, fmt.Errorf("band %d [%g, %g): %w", i, b.Min, b.Max, ErrBandOrder)
		}
		if i > 0 && b.Min != bands[i-1].Max {
			return nil, fmt.Errorf("band %d starts at %g, previous ends at %g: %w", i, b.Min, bands[i-1].Max, ErrBandOrder)
		}
		if b.Trips < 0 || math.IsNaN(b.Trips) || math.IsInf(b.Trips, 0) {
			return nil, fmt.Errorf("band %d: %w", i, ErrNegativeTrips)
		}
		if b.AveCost == 0 || math.IsNaN(b.AveCost) {
			b.AveCost = b.Min
		}
		out[i] = b
	}

	return &Distribution{bands: out}, nil
}

// NewFromShares builds a distribution from bin edges and band shares.
func NewFromShares(edges, shares []float64) (*Distribution, error) {
	if err := validateEdges(edges); err != nil {
		return nil, err
	}
	if len(shares) != len(edges)-1 {
		return nil, ErrLengthMismatch
	}
	bands := make([]Band, len(shares))
	for i, s := range shares {
		bands[i] = Band{Min: edges[i], Max: edges[i+1], Trips: s}
	}

	return NewDistribution(bands)
}

// Len returns the number of bands.
func (d *Distribution) Len() int { return len(d.bands) }

// Bands returns a copy of the bands.
func (d *Distribution) Bands() []Band { return append([]Band(nil), d.bands...) }

// BinEdges returns [min_0, max_0, max_1, ...].
func (d *Distribution) BinEdges() []float64 {
	edges := make([]float64, 0, len(d.bands)+1)
	edges = append(edges, d.bands[0].Min)
	for _, b := range d.bands {
		edges = append(edges, b.Max)
	}

	return edges
}

// MinBounds returns every band's lower bound.
func (d *Distribution) MinBounds() []float64 {
	out := make([]float64, len(d.bands))
	for i, b := range d.bands {
		out[i] = b.Min
	}

	return out
}

// MaxBounds returns every band's upper bound.
func (d *Distribution) MaxBounds() []float64 {
	out := make([]float64, len(d.bands))
	for i, b := range d.bands {
		out[i] = b.Max
	}

	return out
}

// AveCosts returns every band's average cost.
func (d *Distribution) AveCosts() []float64 {
	out := make([]float64, len(d.bands))
	for i, b := range d.bands {
		out[i] = b.AveCost
	}

	return out
}

// Trips returns every band's trip count.
func (d *Distribution) Trips() []float64 {
	out := make([]float64, len(d.bands))
	for i, b := range d.bands {
		out[i] = b.Trips
	}

	return out
}

// BandShares returns trips / Σ trips, or zeros when there are no trips.
func (d *Distribution) BandShares() []float64 {
	return normalise(d.Trips())
}

// normalise divides x by its sum in place and returns it; a zero sum gives zeros.
func normalise(x []float64) []float64 {
	var total float64
	for _, v := range x {
		total += v
	}
	if total == 0 || math.IsNaN(total) {
		for i := range x {
			x[i] = 0
		}
		return x
	}
	for i := range x {
		x[i] /= total
	}

	return x
}

func validateEdges(edges []float64) error {
	if len(edges) < 2 {
		return ErrBadEdges
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return ErrBadEdges
		}
	}

	return nil
}
