// SPDX-License-Identifier: MIT

package gravity

import (
	"math"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/matrix"
)

// Perceived factors are clipped to this range.
const (
	MinPerceivedFactor = 0.5
	MaxPerceivedFactor = 2.0
)

// BandFactors returns clip(sqrt(achieved/target), 0.5, 2) per band, with 1
// where the target share is zero.
func BandFactors(achieved, target []float64) ([]float64, error) {
	if len(achieved) != len(target) {
		return nil, costdist.ErrLengthMismatch
	}
	out := make([]float64, len(target))
	for i := range target {
		f := 1.0
		if target[i] > 0 {
			f = math.Sqrt(achieved[i] / target[i])
		}
		if math.IsNaN(f) {
			f = 1
		}
		out[i] = math.Min(math.Max(f, MinPerceivedFactor), MaxPerceivedFactor)
	}

	return out, nil
}

// PerceivedFactors broadcasts per-band factors over the cost matrix: a cell
// whose cost lies in [min, max) of a band takes that band's factor; other
// cells take 1.
func PerceivedFactors(cost *matrix.Dense, target *costdist.Distribution, achieved []float64) (*matrix.Dense, error) {
	factors, err := BandFactors(achieved, target.BandShares())
	if err != nil {
		return nil, err
	}
	r, c := cost.Shape()
	out, err := matrix.NewFilled(r, c, 1)
	if err != nil {
		return nil, err
	}
	mins, maxs := target.MinBounds(), target.MaxBounds()
	data, costs := out.Data(), cost.Data()
	for b, f := range factors {
		for k, v := range costs {
			if v >= mins[b] && v < maxs[b] {
				data[k] *= f
			}
		}
	}

	return out, nil
}
