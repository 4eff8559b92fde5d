// SPDX-License-Identifier: MIT

package costdist

import (
	"fmt"
	"math"

	"github.com/katalvlaran/tripdist/matrix"
)

// bandIndex returns the band holding c under histogram rules, or -1.
// Bands are [e_i, e_i+1) except the last, which also holds its upper edge.
func bandIndex(c float64, edges []float64) int {
	last := len(edges) - 1
	if c < edges[0] || c > edges[last] || math.IsNaN(c) {
		return -1
	}
	if c == edges[last] {
		return last - 1
	}
	lo, hi := 0, last
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if c >= edges[mid] {
			lo = mid
		} else {
			hi = mid
		}
	}

	return lo
}

// BandShare bins weights by cost over edges and normalises to shares.
// An all-zero weight total yields a zero vector. Costs outside the edges
// are ignored.
func BandShare(weights, cost *matrix.Dense, edges []float64) ([]float64, error) {
	if err := matrix.ValidateSameShape(weights, cost); err != nil {
		return nil, fmt.Errorf("BandShare: %w", err)
	}
	if err := validateEdges(edges); err != nil {
		return nil, err
	}
	hist := make([]float64, len(edges)-1)
	w, c := weights.Data(), cost.Data()
	for k := range w {
		if b := bandIndex(c[k], edges); b >= 0 {
			hist[b] += w[k]
		}
	}

	return normalise(hist), nil
}

// AverageCostInBands returns the trip-weighted mean cost in each
// [min, max) band, falling back to min for bands without trips.
func AverageCostInBands(trips, cost *matrix.Dense, minBounds, maxBounds []float64) ([]float64, error) {
	if err := matrix.ValidateSameShape(trips, cost); err != nil {
		return nil, fmt.Errorf("AverageCostInBands: %w", err)
	}
	if len(minBounds) != len(maxBounds) {
		return nil, ErrLengthMismatch
	}
	t, c := trips.Data(), cost.Data()
	out := make([]float64, len(minBounds))
	for b := range minBounds {
		var dist, n float64
		for k := range c {
			if c[k] >= minBounds[b] && c[k] < maxBounds[b] {
				dist += t[k] * c[k]
				n += t[k]
			}
		}
		if n == 0 {
			out[b] = minBounds[b]
			continue
		}
		out[b] = dist / n
	}

	return out, nil
}

// CellsInBounds counts the cost cells falling in each [min, max) band.
func CellsInBounds(cost *matrix.Dense, minBounds, maxBounds []float64) ([]int, error) {
	if err := matrix.ValidateNotNil(cost); err != nil {
		return nil, fmt.Errorf("CellsInBounds: %w", err)
	}
	if len(minBounds) != len(maxBounds) {
		return nil, ErrLengthMismatch
	}
	out := make([]int, len(minBounds))
	for b := range minBounds {
		for _, v := range cost.Data() {
			if v >= minBounds[b] && v < maxBounds[b] {
				out[b]++
			}
		}
	}

	return out, nil
}

// IntrazonalInfill returns a copy of cost whose diagonal is factor times the
// smallest non-zero off-diagonal cost in that row, or 0 if the row has none.
// Off-diagonal cells are unchanged.
func IntrazonalInfill(cost *matrix.Dense, factor float64) (*matrix.Dense, error) {
	if err := matrix.ValidateNotNil(cost); err != nil {
		return nil, fmt.Errorf("IntrazonalInfill: %w", err)
	}
	out := cost.Clone()
	r, c := cost.Shape()
	n := r
	if c < n {
		n = c
	}
	for i := 0; i < n; i++ {
		row := cost.RawRow(i)
		best := math.Inf(1)
		for j, v := range row {
			if j == i || v == 0 {
				continue
			}
			if v < best {
				best = v
			}
		}
		infill := 0.0
		if !math.IsInf(best, 1) {
			infill = factor * best
		}
		out.RawRow(i)[i] = infill
	}

	return out, nil
}

// Convergence scores how closely achieved matches target:
// max(0, 1 − Σ(a−t)² / Σ(t−mean t)²). A target without variance scores 1
// on an exact match and 0 otherwise. NaN scores 0.
func Convergence(achieved, target []float64) (float64, error) {
	if len(achieved) != len(target) {
		return 0, ErrLengthMismatch
	}
	if len(target) == 0 {
		return 0, nil
	}
	var mean float64
	for _, v := range target {
		mean += v
	}
	mean /= float64(len(target))

	var sse, sst float64
	for i := range target {
		d := achieved[i] - target[i]
		sse += d * d
		m := target[i] - mean
		sst += m * m
	}
	if sst == 0 {
		if sse == 0 {
			return 1, nil
		}
		return 0, nil
	}
	score := 1 - sse/sst
	if math.IsNaN(score) || score < 0 {
		return 0, nil
	}

	return score, nil
}

// Generate bins an observed trip matrix by cost into a Distribution with
// trips and trip-weighted average cost per band.
func Generate(trips, cost *matrix.Dense, edges []float64) (*Distribution, error) {
	if err := matrix.ValidateSameShape(trips, cost); err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	if err := validateEdges(edges); err != nil {
		return nil, err
	}
	nb := len(edges) - 1
	bandTrips := make([]float64, nb)
	bandDist := make([]float64, nb)
	t, c := trips.Data(), cost.Data()
	for k := range t {
		if b := bandIndex(c[k], edges); b >= 0 {
			bandTrips[b] += t[k]
			bandDist[b] += t[k] * c[k]
		}
	}
	bands := make([]Band, nb)
	for b := 0; b < nb; b++ {
		bands[b] = Band{Min: edges[b], Max: edges[b+1], Trips: bandTrips[b]}
		if bandTrips[b] > 0 {
			bands[b].AveCost = bandDist[b] / bandTrips[b]
		}
	}

	return NewDistribution(bands)
}
