// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/internal/logging"
	"github.com/katalvlaran/tripdist/matrix"
)

// CoordinatorConfig is the multi-area calibration input. Every label in
// AreaLabels other than matrix.IgnoreLabel must appear in AreaNames and
// Targets.
type CoordinatorConfig struct {
	RowTargets          []float64
	ColTargets          []float64
	CostFunction        costfn.CostFunction
	CostMatrix          *matrix.Dense
	AreaLabels          *matrix.Labels
	AreaNames           map[int]string
	Targets             map[int]*costdist.Distribution
	TargetConvergence   float64
	FurnessMaxIters     int
	FurnessTol          float64
	UsePerceivedFactors bool
	// RunningLogPath is split per area into <dir>/<area name>/<file>.
	// <dir> must exist; area directories are created on demand.
	RunningLogPath string

	JacobianFurnessTol      float64
	JacobianFurnessMaxIters int
}

// MultiOutcome holds the per-area outcomes of a coordinated calibration.
type MultiOutcome struct {
	Areas map[int]*Outcome
}

// OptimalParams returns the optimal parameters keyed by area id.
func (m *MultiOutcome) OptimalParams() map[int]costfn.Params {
	out := make(map[int]costfn.Params, len(m.Areas))
	for id, o := range m.Areas {
		out[id] = o.OptimalParams
	}

	return out
}

// Coordinator calibrates several areas concurrently while balancing one
// global trip matrix per round.
//
// Each Calibrate call starts one goroutine per area plus a gravity and a
// jacobian aggregator. Areas exchange seeds with the aggregators over
// capacity-one channels; an aggregator waits for every active area before
// it furnesses, so rounds stay aligned across areas.
type Coordinator struct {
	cfg    CoordinatorConfig
	ids    []int
	masks  map[int]*matrix.Mask
	logger *zap.Logger
	sinks  []LogSink
}

// NewCoordinator validates cfg. No goroutine or channel exists until Calibrate.
func NewCoordinator(cfg CoordinatorConfig, opts ...Option) (*Coordinator, error) {
	s := settings{}
	for _, o := range opts {
		o(&s)
	}

	if cfg.AreaLabels == nil || cfg.CostMatrix == nil {
		return nil, configErrorf("area labels and cost matrix are required")
	}
	if cfg.AreaLabels.Rows() != cfg.CostMatrix.Rows() || cfg.AreaLabels.Cols() != cfg.CostMatrix.Cols() {
		return nil, fmt.Errorf("%w: area labels: %w", ErrConfig, matrix.ErrDimensionMismatch)
	}
	ids := cfg.AreaLabels.Unique(matrix.IgnoreLabel)
	if len(ids) == 0 {
		return nil, configErrorf("no calibration areas in label matrix")
	}
	for _, id := range ids {
		if _, ok := cfg.AreaNames[id]; !ok {
			return nil, fmt.Errorf("%w: area %d has no name", ErrUnknownArea, id)
		}
		if cfg.Targets[id] == nil {
			return nil, fmt.Errorf("%w: area %d has no target distribution", ErrUnknownArea, id)
		}
	}
	if cfg.RunningLogPath != "" {
		dir := filepath.Dir(cfg.RunningLogPath)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("gravity: running log directory %q: %w", dir, fs.ErrNotExist)
		}
	}
	if cfg.JacobianFurnessTol == 0 {
		cfg.JacobianFurnessTol = DefaultJacobianFurnessTol
	}
	if cfg.JacobianFurnessMaxIters == 0 {
		cfg.JacobianFurnessMaxIters = DefaultMultiAreaJacobianFurnessMaxIters
	}

	c := &Coordinator{
		cfg:    cfg,
		ids:    ids,
		masks:  make(map[int]*matrix.Mask, len(ids)),
		logger: logging.OrNop(s.logger),
		sinks:  s.sinks,
	}
	for _, id := range ids {
		c.masks[id] = cfg.AreaLabels.Mask(id)
		areaCfg := c.areaConfig(id)
		if err := validateConfig(&areaCfg); err != nil {
			return nil, fmt.Errorf("area %d: %w", id, err)
		}
	}

	return c, nil
}

// Areas returns the calibration area ids in ascending order.
func (c *Coordinator) Areas() []int { return append([]int(nil), c.ids...) }

func (c *Coordinator) areaConfig(id int) Config {
	cfg := Config{
		RowTargets:          c.cfg.RowTargets,
		ColTargets:          c.cfg.ColTargets,
		CostFunction:        c.cfg.CostFunction,
		CostMatrix:          c.cfg.CostMatrix,
		Target:              c.cfg.Targets[id],
		TargetConvergence:   c.cfg.TargetConvergence,
		FurnessMaxIters:     c.cfg.FurnessMaxIters,
		FurnessTol:          c.cfg.FurnessTol,
		UsePerceivedFactors: c.cfg.UsePerceivedFactors,
	}
	if c.cfg.RunningLogPath != "" {
		dir, file := filepath.Split(c.cfg.RunningLogPath)
		cfg.RunningLogPath = filepath.Join(dir, c.cfg.AreaNames[id], file)
	}

	return cfg
}

// Calibrate runs every area to completion and returns their outcomes.
//
// Layout:
//   - one goroutine per area, each running a Calibrator whose provider
//     exchanges seeds over capacity-one channels;
//   - a gravity aggregator that merges the latest seed of every area,
//     furnesses the global matrix and splits it back by label;
//   - a jacobian aggregator that does the same for perturbed seeds.
//
// Shutdown: an area closes its request channels when it returns; the
// aggregators exit once every request channel is closed and then close the
// reply channels, so no goroutine outlives the call.
//
// An area that fails is reported as an *AreaError and leaves the rendezvous
// without stopping the others. An aggregator failure cancels every area.
// All errors are combined; outcomes of successful areas are returned even
// when err is non-nil.
func (c *Coordinator) Calibrate(ctx context.Context, init costfn.Params, opts CalibrateOptions) (*MultiOutcome, error) {
	if c.cfg.CostFunction == nil {
		return nil, configErrorf("cost function is required")
	}
	if err := c.cfg.CostFunction.ValidateParams(init); err != nil {
		return nil, err
	}

	grv := newRendezvous[*matrix.Dense](c.ids)
	jac := newRendezvous[jacobianRequest](c.ids)

	// Build every calibrator before any goroutine starts so a configuration
	// error leaves nothing running.
	cals := make(map[int]*Calibrator, len(c.ids))
	for _, id := range c.ids {
		areaCfg := c.areaConfig(id)
		if areaCfg.RunningLogPath != "" {
			if err := os.MkdirAll(filepath.Dir(areaCfg.RunningLogPath), 0o755); err != nil {
				return nil, fmt.Errorf("gravity: area %d log directory: %w", id, err)
			}
		}
		areaOpts := []Option{
			WithLogger(c.logger),
			WithName(c.cfg.AreaNames[id]),
			WithFurnessProvider(&areaProvider{id: id, grv: grv, jac: jac}),
			withArea(c.masks[id]),
		}
		for _, sink := range c.sinks {
			areaOpts = append(areaOpts, WithLogSink(sink))
		}
		cal, err := NewCalibrator(areaCfg, areaOpts...)
		if err != nil {
			return nil, &AreaError{Area: id, Name: c.cfg.AreaNames[id], Err: err}
		}
		cals[id] = cal
	}

	aggCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	gravityAgg := &aggregator[*matrix.Dense]{
		kind: "gravity", ids: c.ids, labels: c.cfg.AreaLabels, rv: grv, logger: c.logger,
		combine: gravityCombine(c.cfg.RowTargets, c.cfg.ColTargets, furness.Options{
			Tol: c.cfg.FurnessTol, MaxIters: c.cfg.FurnessMaxIters, WarnOnNonConvergence: true,
			Kind: "gravity", Logger: c.logger,
		}),
	}
	jacobianAgg := &aggregator[jacobianRequest]{
		kind: "jacobian", ids: c.ids, labels: c.cfg.AreaLabels, rv: jac, logger: c.logger,
		combine: jacobianCombine(furness.Options{
			Tol: c.cfg.JacobianFurnessTol, MaxIters: c.cfg.JacobianFurnessMaxIters,
			Kind: "jacobian", Logger: c.logger,
		}),
	}

	var aggs errgroup.Group
	for _, serve := range []func(context.Context) error{gravityAgg.run, jacobianAgg.run} {
		aggs.Go(func() error {
			err := serve(aggCtx)
			if err != nil {
				cancel()
			}
			return err
		})
	}

	var (
		areas    errgroup.Group
		mu       sync.Mutex
		outcomes = make(map[int]*Outcome, len(c.ids))
		areaErrs error
	)
	for _, id := range c.ids {
		cal := cals[id]
		areas.Go(func() error {
			defer jac.leave(id)
			defer grv.leave(id)

			out, err := cal.Calibrate(aggCtx, init, opts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Error("area calibration failed", zap.Int("area", id), zap.String("name", cal.Name()), zap.Error(err))
				areaErrs = multierr.Append(areaErrs, &AreaError{Area: id, Name: cal.Name(), Err: err})
				return nil
			}
			c.logger.Info("area calibration finished",
				zap.Int("area", id),
				zap.String("name", cal.Name()),
				zap.Any("params", out.OptimalParams),
				zap.Float64("convergence", out.Final.Convergence))
			outcomes[id] = out
			return nil
		})
	}

	_ = areas.Wait()
	aggErr := aggs.Wait()

	return &MultiOutcome{Areas: outcomes}, multierr.Combine(areaErrs, aggErr)
}
