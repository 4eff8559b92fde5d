// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/internal/logging"
	"github.com/katalvlaran/tripdist/lsq"
	"github.com/katalvlaran/tripdist/matrix"
)

// Defaults for the calibration loop.
const (
	DefaultTargetConvergence                = 0.9
	DefaultJacobianFurnessTol               = 1e-6
	DefaultJacobianFurnessMaxIters          = 20
	DefaultMultiAreaJacobianFurnessMaxIters = 50

	// Perceived factors are used only when the achieved convergence lies in
	// [target-perceivedLowerMargin, target+perceivedUpperMargin].
	perceivedUpperMargin = 0.03
	perceivedLowerMargin = 0.15
)

// Config is the single-area calibration input. All matrices and vectors are
// read-only for the lifetime of the Calibrator.
type Config struct {
	RowTargets          []float64
	ColTargets          []float64
	CostFunction        costfn.CostFunction
	CostMatrix          *matrix.Dense
	Target              *costdist.Distribution
	TargetConvergence   float64
	FurnessMaxIters     int
	FurnessTol          float64
	UsePerceivedFactors bool
	// RunningLogPath, when set, receives one CSV row per evaluation.
	// Its directory must exist.
	RunningLogPath string
}

// CalibrateOptions controls one Calibrate call.
//   - EstimateInitParams: replace the initial parameters by a coarse fit on
//     band average costs before calibrating.
//   - CalibrateParams: run the optimiser; when false the initial parameters
//     are taken as optimal and evaluated once.
//   - DiffStep: relative parameter step for the Jacobian (default 1e-8).
//   - FTol, XTol: optimiser tolerances (default 1e-4).
//   - MaxEvaluations: residual evaluation budget per optimisation (default 100).
type CalibrateOptions struct {
	EstimateInitParams bool
	CalibrateParams    bool
	DiffStep           float64
	FTol               float64
	XTol               float64
	MaxEvaluations     int
}

// DefaultCalibrateOptions returns the standard calibration settings.
func DefaultCalibrateOptions() CalibrateOptions {
	return CalibrateOptions{CalibrateParams: true, DiffStep: 1e-8, FTol: 1e-4, XTol: 1e-4, MaxEvaluations: 100}
}

func (o *CalibrateOptions) normalize() {
	if o.DiffStep <= 0 {
		o.DiffStep = 1e-8
	}
	if o.FTol <= 0 {
		o.FTol = 1e-4
	}
	if o.XTol <= 0 {
		o.XTol = 1e-4
	}
	if o.MaxEvaluations <= 0 {
		o.MaxEvaluations = 100
	}
}

// Outcome is the result of Calibrate.
type Outcome struct {
	OptimalParams      costfn.Params
	InitialParams      costfn.Params
	InitialConvergence float64
	// Final is the state of the evaluation at OptimalParams.
	Final *State
	// PerceivedFactors is nil unless a perceived-factor pass ran.
	PerceivedFactors        *matrix.Dense
	PerceivedFactorsApplied bool
	MetTarget               bool
	Evaluations             int
	Status                  lsq.Status
}

// Option customises a Calibrator.
type Option func(*settings)

type settings struct {
	logger   *zap.Logger
	provider FurnessProvider
	name     string
	sinks    []LogSink
	mask     *matrix.Mask
	eager    bool
}

// WithLogger sets the structured logger (default no-op).
func WithLogger(l *zap.Logger) Option { return func(s *settings) { s.logger = l } }

// WithFurnessProvider replaces the in-process furness.
func WithFurnessProvider(p FurnessProvider) Option { return func(s *settings) { s.provider = p } }

// WithName labels logs and metrics (default "main").
func WithName(name string) Option { return func(s *settings) { s.name = name } }

// WithLogSink adds a running-log destination alongside the CSV file.
func WithLogSink(sink LogSink) Option {
	return func(s *settings) { s.sinks = append(s.sinks, sink) }
}

// withArea restricts seeds to mask and computes Jacobians eagerly so every
// evaluation issues the same furness request sequence.
func withArea(mask *matrix.Mask) Option {
	return func(s *settings) {
		s.mask = mask
		s.eager = true
	}
}

// Calibrator fits cost-function parameters so the balanced trip matrix
// reproduces a target cost distribution.
type Calibrator struct {
	cfg          Config
	name         string
	logger       *zap.Logger
	provider     FurnessProvider
	sinks        []LogSink
	mask         *matrix.Mask
	eager        bool
	targetShares []float64
	edges        []float64
}

// NewCalibrator validates cfg and builds a Calibrator.
func NewCalibrator(cfg Config, opts ...Option) (*Calibrator, error) {
	s := settings{name: "main"}
	for _, o := range opts {
		o(&s)
	}
	s.logger = logging.OrNop(s.logger)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if s.mask != nil && (s.mask.Rows() != cfg.CostMatrix.Rows() || s.mask.Cols() != cfg.CostMatrix.Cols()) {
		return nil, configErrorf("area mask shape does not match cost matrix")
	}

	c := &Calibrator{
		cfg:          cfg,
		name:         s.name,
		logger:       s.logger.With(zap.String("area", s.name)),
		provider:     s.provider,
		mask:         s.mask,
		eager:        s.eager,
		targetShares: cfg.Target.BandShares(),
		edges:        cfg.Target.BinEdges(),
	}
	if c.provider == nil {
		c.provider = NewLocalProvider(cfg.RowTargets, cfg.ColTargets, cfg.FurnessTol, cfg.FurnessMaxIters, c.logger)
	}
	if cfg.RunningLogPath != "" {
		csvLog, err := NewCSVLog(cfg.RunningLogPath, c.logger)
		if err != nil {
			return nil, err
		}
		c.sinks = append(c.sinks, csvLog)
	}
	c.sinks = append(c.sinks, s.sinks...)

	return c, nil
}

func validateConfig(cfg *Config) error {
	switch {
	case cfg.CostFunction == nil:
		return configErrorf("cost function is required")
	case cfg.CostMatrix == nil:
		return configErrorf("cost matrix is required")
	case cfg.Target == nil:
		return configErrorf("target cost distribution is required")
	}
	if err := matrix.ValidateFinite(cfg.CostMatrix); err != nil {
		return fmt.Errorf("%w: cost matrix: %w", ErrConfig, err)
	}
	if err := matrix.ValidateVecLen(cfg.RowTargets, cfg.CostMatrix.Rows()); err != nil {
		return fmt.Errorf("%w: row targets: %w", ErrConfig, err)
	}
	if err := matrix.ValidateVecLen(cfg.ColTargets, cfg.CostMatrix.Cols()); err != nil {
		return fmt.Errorf("%w: col targets: %w", ErrConfig, err)
	}
	if err := matrix.ValidateNonNegativeVec(cfg.RowTargets); err != nil {
		return fmt.Errorf("%w: row targets: %w", ErrConfig, err)
	}
	if err := matrix.ValidateNonNegativeVec(cfg.ColTargets); err != nil {
		return fmt.Errorf("%w: col targets: %w", ErrConfig, err)
	}
	if cfg.TargetConvergence == 0 {
		cfg.TargetConvergence = DefaultTargetConvergence
	}
	if cfg.TargetConvergence < 0 || cfg.TargetConvergence > 1 {
		return configErrorf("target convergence %g outside [0, 1]", cfg.TargetConvergence)
	}
	if cfg.FurnessTol < 0 || cfg.FurnessMaxIters < 0 {
		return configErrorf("furness tolerance and max iterations must be non-negative")
	}

	return nil
}

// Name returns the calibrator's label.
func (c *Calibrator) Name() string { return c.name }

// Calibrate finds the parameters whose balanced matrix best reproduces the
// target distribution, optionally followed by one perceived-factor pass.
//
// Steps:
//  1. Validate init against the cost function; optionally refine it with
//     EstimateInitParams.
//  2. Run bounded least squares on residuals target − achieved shares
//     (skipped when CalibrateParams is false), then evaluate at the optimum.
//     The first evaluation is kept as the initial convergence.
//  3. When perceived factors are enabled and the convergence lies within
//     [target−0.15, target+0.03], derive factors, apply them to the cost
//     matrix and run step 2 again.
//
// Every evaluation is appended to the running log. Falling short of the
// target convergence is logged as a warning, not returned as an error.
// A Calibrator may run several Calibrate calls concurrently; per-call state
// lives in the call, not in the Calibrator.
func (c *Calibrator) Calibrate(ctx context.Context, init costfn.Params, opts CalibrateOptions) (*Outcome, error) {
	opts.normalize()
	fn := c.cfg.CostFunction
	if err := fn.ValidateParams(init); err != nil {
		return nil, err
	}

	params := init.Clone()
	if opts.EstimateInitParams {
		est, err := EstimateInitParams(ctx, fn, c.cfg.Target, params)
		if err != nil {
			return nil, err
		}
		c.logger.Info("estimated initial parameters", zap.Any("params", est))
		params = est
	}

	r := newRun()
	params, status, err := c.optimise(ctx, r, params, opts)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Status: status}

	if c.cfg.UsePerceivedFactors {
		conv := r.last.Convergence
		upper := c.cfg.TargetConvergence + perceivedUpperMargin
		lower := c.cfg.TargetConvergence - perceivedLowerMargin
		switch {
		case conv > upper:
		case conv < lower:
			c.logger.Warn("calibration did not reach the lower threshold required for perceived factors",
				zap.Float64("target_convergence", c.cfg.TargetConvergence),
				zap.Float64("lower_limit", lower),
				zap.Float64("achieved_convergence", conv))
		default:
			pf, err := PerceivedFactors(c.cfg.CostMatrix, c.cfg.Target, r.last.BandShares)
			if err != nil {
				return nil, err
			}
			r.perceived = pf
			out.PerceivedFactors = pf
			out.PerceivedFactorsApplied = true
			if params, out.Status, err = c.optimise(ctx, r, params, opts); err != nil {
				return nil, err
			}
			if r.last.Convergence < c.cfg.TargetConvergence {
				c.logger.Warn("calibration with perceived factors did not reach the target convergence",
					zap.Float64("target_convergence", c.cfg.TargetConvergence),
					zap.Float64("achieved_convergence", r.last.Convergence))
			}
		}
	}

	out.OptimalParams = params
	out.InitialParams = r.initialParams
	out.InitialConvergence = r.initialConvergence
	out.Final = r.last
	out.MetTarget = r.last.Convergence >= c.cfg.TargetConvergence
	out.Evaluations = r.evaluations

	return out, nil
}

// optimise runs the least-squares loop from params, then evaluates once more
// at the optimum so r.last reflects it.
func (c *Calibrator) optimise(ctx context.Context, r *run, params costfn.Params, opts CalibrateOptions) (costfn.Params, lsq.Status, error) {
	fn := c.cfg.CostFunction
	status := lsq.StatusXTol
	if opts.CalibrateParams {
		x0, err := costfn.Ordered(fn, params)
		if err != nil {
			return nil, 0, err
		}
		lo, hi := costfn.Bounds(fn)
		res, err := lsq.Solve(ctx, lsq.Problem{
			Residual: func(ctx context.Context, x []float64) ([]float64, error) {
				st, err := c.evaluateArgs(ctx, r, x, opts.DiffStep)
				if err != nil {
					return nil, err
				}
				return st.Residuals, nil
			},
			Jacobian: func(ctx context.Context, _ []float64) (*mat.Dense, error) {
				if r.last.Jacobian != nil {
					return r.last.Jacobian, nil
				}
				return c.jacobian(ctx, r, r.last, opts.DiffStep)
			},
			X0:    x0,
			Lower: lo,
			Upper: hi,
		}, lsq.Settings{
			FTol: opts.FTol, XTol: opts.XTol, GTol: 1e-8,
			MaxEvaluations: opts.MaxEvaluations, DiffStep: opts.DiffStep,
		})
		if err != nil {
			return nil, 0, err
		}
		if params, err = costfn.Named(fn, res.X); err != nil {
			return nil, 0, err
		}
		status = res.Status
		c.logger.Debug("least squares finished",
			zap.Stringer("status", res.Status), zap.Int("evaluations", res.Evaluations))
	}

	if _, err := c.evaluate(ctx, r, params, opts.DiffStep); err != nil {
		return nil, 0, err
	}

	return params, status, nil
}

func (c *Calibrator) evaluateArgs(ctx context.Context, r *run, x []float64, step float64) (*State, error) {
	p, err := costfn.Named(c.cfg.CostFunction, x)
	if err != nil {
		return nil, err
	}

	return c.evaluate(ctx, r, p, step)
}

// isFinite reports whether every element of m is finite.
func isFinite(m *matrix.Dense) bool {
	for _, v := range m.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

var _ FurnessProvider = (*LocalProvider)(nil)
