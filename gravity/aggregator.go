// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/internal/metrics"
	"github.com/katalvlaran/tripdist/matrix"
)

// jacobianRequest is one area's perturbed seed with its own margins.
type jacobianRequest struct {
	seed *matrix.Dense
	rows []float64
	cols []float64
}

// combineFunc turns one round of submissions into a global furness result.
type combineFunc[Req any] func(ctx context.Context, subs map[int]Req) (furness.Result, error)

// aggregator serves rendezvous rounds until every area has left or ctx ends.
type aggregator[Req any] struct {
	kind    string
	ids     []int
	labels  *matrix.Labels
	rv      *rendezvous[Req]
	combine combineFunc[Req]
	logger  *zap.Logger
}

// run loops: gather from every active area, combine, split the balanced
// matrix back by area label, reply. Reply channels are closed on exit.
func (a *aggregator[Req]) run(ctx context.Context) error {
	defer a.rv.closeReplies()

	active := a.ids
	rounds := 0
	for len(active) > 0 {
		subs, remaining, err := a.rv.gather(ctx, active)
		if err != nil {
			return err
		}
		if len(remaining) < len(active) {
			a.logger.Debug("areas left aggregator",
				zap.String("aggregator", a.kind),
				zap.Int("active", len(remaining)))
		}
		active = remaining
		if len(subs) == 0 {
			continue
		}

		res, err := a.combine(ctx, subs)
		if err != nil {
			return fmt.Errorf("gravity: %s aggregator round %d: %w", a.kind, rounds+1, err)
		}
		parts, err := matrix.Split(res.Matrix, a.labels)
		if err != nil {
			return fmt.Errorf("gravity: %s aggregator round %d: %w", a.kind, rounds+1, err)
		}
		for _, id := range sortedKeys(subs) {
			part, ok := parts[id]
			if !ok {
				return fmt.Errorf("gravity: %s aggregator: area %d has no cells", a.kind, id)
			}
			a.rv.reply(id, furness.Result{
				Matrix:     part,
				Iterations: res.Iterations,
				RMSE:       res.RMSE,
				Converged:  res.Converged,
			})
		}
		rounds++
		metrics.RecordRound(a.kind, len(active))
	}
	a.logger.Debug("aggregator finished", zap.String("aggregator", a.kind), zap.Int("rounds", rounds))

	return nil
}

// gravityCombine sums the latest seed of every area, including areas that
// have already finished (their last seed stays in the global matrix), and
// balances the sum to the global trip ends.
func gravityCombine(rows, cols []float64, opts furness.Options) combineFunc[*matrix.Dense] {
	latest := make(map[int]*matrix.Dense)
	return func(ctx context.Context, subs map[int]*matrix.Dense) (furness.Result, error) {
		for id, s := range subs {
			latest[id] = s
		}
		global, err := matrix.Merge(latest)
		if err != nil {
			return furness.Result{}, err
		}

		return furness.DoublyConstrained(ctx, global, rows, cols, opts)
	}
}

// jacobianCombine sums the submitted seeds and the submitters' own margins
// and balances with the jacobian settings.
func jacobianCombine(opts furness.Options) combineFunc[jacobianRequest] {
	return func(ctx context.Context, subs map[int]jacobianRequest) (furness.Result, error) {
		var (
			global     *matrix.Dense
			rows, cols []float64
		)
		for _, id := range sortedKeys(subs) {
			req := subs[id]
			if global == nil {
				global = req.seed.Clone()
				rows = append([]float64(nil), req.rows...)
				cols = append([]float64(nil), req.cols...)
				continue
			}
			if err := matrix.AddInPlace(global, req.seed); err != nil {
				return furness.Result{}, err
			}
			if len(req.rows) != len(rows) || len(req.cols) != len(cols) {
				return furness.Result{}, matrix.ErrDimensionMismatch
			}
			for i, v := range req.rows {
				rows[i] += v
			}
			for j, v := range req.cols {
				cols[j] += v
			}
		}

		return furness.DoublyConstrained(ctx, global, rows, cols, opts)
	}
}

// areaProvider is the FurnessProvider handed to each area's Calibrator.
type areaProvider struct {
	id  int
	grv *rendezvous[*matrix.Dense]
	jac *rendezvous[jacobianRequest]
}

func (p *areaProvider) GravityFurness(ctx context.Context, seed *matrix.Dense) (furness.Result, error) {
	return p.grv.exchange(ctx, p.id, seed)
}

func (p *areaProvider) JacobianFurness(ctx context.Context, seed *matrix.Dense, rows, cols []float64) (furness.Result, error) {
	return p.jac.exchange(ctx, p.id, jacobianRequest{seed: seed, rows: rows, cols: cols})
}
