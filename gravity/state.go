// SPDX-License-Identifier: MIT

package gravity

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/matrix"
)

// State is the snapshot produced by one residual evaluation. It is created
// once per candidate parameter vector and not mutated afterwards.
type State struct {
	Loop     int
	Started  time.Time
	Finished time.Time
	Params   costfn.Params

	// Seed is the unbalanced matrix built by the cost function (area-masked
	// in multi-area runs). Achieved is its balanced counterpart.
	Seed     *matrix.Dense
	Achieved *matrix.Dense

	BandShares  []float64
	Convergence float64
	Residuals   []float64

	FurnessIterations int
	FurnessRMSE       float64
	FurnessConverged  bool

	// Jacobian is filled eagerly in coordinated runs.
	Jacobian *mat.Dense
}

// Runtime is the wall time attributed to this evaluation.
func (s *State) Runtime() time.Duration { return s.Finished.Sub(s.Started) }

// run carries the mutable bookkeeping of one Calibrate call. It never
// escapes that call, so a Calibrator may serve concurrent calls.
type run struct {
	loop      int
	loopStart time.Time
	perceived *matrix.Dense

	last *State

	initialParams      costfn.Params
	initialConvergence float64
	evaluations        int
}

func newRun() *run {
	return &run{loop: 1, loopStart: time.Now()}
}

// record stores st as the latest state and advances the loop counter.
func (r *run) record(st *State) {
	if r.initialParams == nil {
		r.initialParams = st.Params.Clone()
		r.initialConvergence = st.Convergence
	}
	r.last = st
	r.loop++
	r.evaluations++
	r.loopStart = time.Now()
}
