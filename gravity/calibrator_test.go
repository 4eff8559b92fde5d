// SPDX-License-Identifier: MIT

package gravity_test

import (
	"context"
	"encoding/csv"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/gravity"
	"github.com/katalvlaran/tripdist/internal/metrics"
	"github.com/katalvlaran/tripdist/matrix"
)

// optimalBeta balances the two-zone fixture so that 40% of trips cost 2:
// the balanced matrix is [[70,30],[80,120]] with odds ratio 3.5 = exp(5*beta).
var optimalBeta = math.Log(3.5) / 5

func dense(t *testing.T, rows [][]float64) *matrix.Dense {
	t.Helper()
	m, err := matrix.NewDenseRows(rows)
	require.NoError(t, err)

	return m
}

func mustAt(t *testing.T, m *matrix.Dense, i, j int) float64 {
	t.Helper()
	v, err := m.At(i, j)
	require.NoError(t, err)

	return v
}

func exponential(t *testing.T) *costfn.Function {
	t.Helper()
	fn, err := costfn.Exponential(costfn.WithBounds("beta", 0.01, 1))
	require.NoError(t, err)

	return fn
}

func twoBandTarget(t *testing.T, low, high float64) *costdist.Distribution {
	t.Helper()
	d, err := costdist.NewFromShares([]float64{0, 5, 10}, []float64{low, high})
	require.NoError(t, err)

	return d
}

func twoZoneConfig(t *testing.T) gravity.Config {
	t.Helper()

	return gravity.Config{
		RowTargets:   []float64{100, 200},
		ColTargets:   []float64{150, 150},
		CostFunction: exponential(t),
		CostMatrix:   dense(t, [][]float64{{7, 7}, {7, 2}}),
		Target:       twoBandTarget(t, 0.4, 0.6),
	}
}

func observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

func TestCalibrate_RecoversKnownBeta(t *testing.T) {
	cal, err := gravity.NewCalibrator(twoZoneConfig(t), gravity.WithName("two-zone"))
	require.NoError(t, err)

	out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": 0.1}, gravity.DefaultCalibrateOptions())
	require.NoError(t, err)

	assert.InDelta(t, optimalBeta, out.OptimalParams["beta"], 0.01)
	assert.GreaterOrEqual(t, out.Final.Convergence, 0.95)
	assert.True(t, out.MetTarget)
	assert.LessOrEqual(t, out.Evaluations, 100)
	assert.Equal(t, 0.1, out.InitialParams["beta"])
	assert.Less(t, out.InitialConvergence, out.Final.Convergence)
	assert.False(t, out.PerceivedFactorsApplied)
	assert.Nil(t, out.PerceivedFactors)

	assert.InDelta(t, 120, mustAt(t, out.Final.Achieved, 1, 1), 3)
	assert.InDeltaSlice(t, []float64{100, 200}, matrix.RowSums(out.Final.Achieved), 1e-6)
	assert.InDeltaSlice(t, []float64{150, 150}, matrix.ColSums(out.Final.Achieved), 1e-6)
	assert.Len(t, out.Final.Residuals, 2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Evaluations("two-zone")), float64(out.Evaluations))
}

func TestCalibrate_WithoutOptimisation(t *testing.T) {
	cal, err := gravity.NewCalibrator(twoZoneConfig(t))
	require.NoError(t, err)

	opts := gravity.DefaultCalibrateOptions()
	opts.CalibrateParams = false
	out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": 0.3}, opts)
	require.NoError(t, err)

	assert.Equal(t, costfn.Params{"beta": 0.3}, out.OptimalParams)
	assert.Equal(t, 1, out.Evaluations)
	assert.Equal(t, 1, out.Final.Loop)
	assert.Equal(t, out.InitialConvergence, out.Final.Convergence)
}

func TestCalibrate_ParamMismatch(t *testing.T) {
	cal, err := gravity.NewCalibrator(twoZoneConfig(t))
	require.NoError(t, err)

	_, err = cal.Calibrate(context.Background(), costfn.Params{"alpha": 1}, gravity.DefaultCalibrateOptions())
	require.ErrorIs(t, err, costfn.ErrParamMismatch)
	var pe *costfn.ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"beta"}, pe.Missing)
	assert.Equal(t, []string{"alpha"}, pe.Extra)
}

func TestNewCalibrator_InvalidConfig(t *testing.T) {
	cfg := twoZoneConfig(t)
	cfg.RowTargets = []float64{1, 2, 3}
	_, err := gravity.NewCalibrator(cfg)
	assert.ErrorIs(t, err, gravity.ErrConfig)

	cfg = twoZoneConfig(t)
	cfg.CostFunction = nil
	_, err = gravity.NewCalibrator(cfg)
	assert.ErrorIs(t, err, gravity.ErrConfig)

	cfg = twoZoneConfig(t)
	cfg.TargetConvergence = 1.5
	_, err = gravity.NewCalibrator(cfg)
	assert.ErrorIs(t, err, gravity.ErrConfig)
}

func TestNewCalibrator_MissingLogDirectory(t *testing.T) {
	cfg := twoZoneConfig(t)
	cfg.RunningLogPath = filepath.Join(t.TempDir(), "missing", "log.csv")

	_, err := gravity.NewCalibrator(cfg)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
}

func TestCalibrate_WritesRunningLog(t *testing.T) {
	cfg := twoZoneConfig(t)
	cfg.RunningLogPath = filepath.Join(t.TempDir(), "log.csv")
	cal, err := gravity.NewCalibrator(cfg)
	require.NoError(t, err)

	opts := gravity.DefaultCalibrateOptions()
	opts.CalibrateParams = false
	_, err = cal.Calibrate(context.Background(), costfn.Params{"beta": 0.25}, opts)
	require.NoError(t, err)

	f, err := os.Open(cfg.RunningLogPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, []string{"loop_number", "runtime (s)", "beta", "furness_iters", "furness_rmse", "bs_con"}, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "0.25", records[1][2])
}

func TestCalibrate_ExistingLogIsAppended(t *testing.T) {
	cfg := twoZoneConfig(t)
	cfg.RunningLogPath = filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(cfg.RunningLogPath, []byte("loop_number\n"), 0o644))

	logger, logs := observed(zapcore.WarnLevel)
	cal, err := gravity.NewCalibrator(cfg, gravity.WithLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("already exists").Len())

	opts := gravity.DefaultCalibrateOptions()
	opts.CalibrateParams = false
	_, err = cal.Calibrate(context.Background(), costfn.Params{"beta": 0.25}, opts)
	require.NoError(t, err)

	raw, err := os.ReadFile(cfg.RunningLogPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2, "no second header for an existing file")
	assert.Equal(t, "loop_number", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
}

type recordingSink struct{ recs []gravity.LogRecord }

func (s *recordingSink) Append(_ context.Context, rec gravity.LogRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

func TestCalibrate_LoopNumbersIncrease(t *testing.T) {
	sink := &recordingSink{}
	cal, err := gravity.NewCalibrator(twoZoneConfig(t), gravity.WithLogSink(sink), gravity.WithName("loops"))
	require.NoError(t, err)

	out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": 0.1}, gravity.DefaultCalibrateOptions())
	require.NoError(t, err)

	require.Len(t, sink.recs, out.Evaluations)
	for i, rec := range sink.recs {
		assert.Equal(t, i+1, rec.Loop)
		assert.Equal(t, "loops", rec.Area)
		assert.Equal(t, []string{"beta"}, rec.ParamNames)
	}
}

func TestCalibrate_PerceivedFactorsApplied(t *testing.T) {
	cfg := twoZoneConfig(t)
	cfg.UsePerceivedFactors = true
	cfg.TargetConvergence = 0.99
	sink := &recordingSink{}
	cal, err := gravity.NewCalibrator(cfg, gravity.WithLogSink(sink))
	require.NoError(t, err)

	out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": 0.1}, gravity.DefaultCalibrateOptions())
	require.NoError(t, err)

	require.True(t, out.PerceivedFactorsApplied)
	require.NotNil(t, out.PerceivedFactors)
	for _, v := range out.PerceivedFactors.Data() {
		assert.GreaterOrEqual(t, v, gravity.MinPerceivedFactor)
		assert.LessOrEqual(t, v, gravity.MaxPerceivedFactor)
	}
	assert.Equal(t, out.Evaluations, len(sink.recs))
	assert.Equal(t, out.Evaluations, sink.recs[len(sink.recs)-1].Loop)
}

func TestCalibrate_PerceivedFactorsBelowLowerLimit(t *testing.T) {
	cfg := twoZoneConfig(t)
	cfg.UsePerceivedFactors = true
	logger, logs := observed(zapcore.WarnLevel)
	cal, err := gravity.NewCalibrator(cfg, gravity.WithLogger(logger))
	require.NoError(t, err)

	opts := gravity.DefaultCalibrateOptions()
	opts.CalibrateParams = false
	out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": 0.01}, opts)
	require.NoError(t, err)

	assert.False(t, out.PerceivedFactorsApplied)
	assert.False(t, out.MetTarget)
	assert.Less(t, out.Final.Convergence, 0.75)
	assert.Equal(t, 1, logs.FilterMessageSnippet("lower threshold").Len())
}

func TestCalibrate_EstimateInitParams(t *testing.T) {
	cal, err := gravity.NewCalibrator(twoZoneConfig(t))
	require.NoError(t, err)

	opts := gravity.DefaultCalibrateOptions()
	opts.EstimateInitParams = true
	out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": 0.9}, opts)
	require.NoError(t, err)
	assert.NotEqual(t, 0.9, out.InitialParams["beta"])
	assert.InDelta(t, optimalBeta, out.OptimalParams["beta"], 0.01)
}

func TestCalibrate_ConcurrentCallsShareCalibrator(t *testing.T) {
	cal, err := gravity.NewCalibrator(twoZoneConfig(t))
	require.NoError(t, err)

	errs := make(chan error, 2)
	results := make(chan float64, 2)
	for _, beta := range []float64{0.1, 0.5} {
		go func() {
			out, err := cal.Calibrate(context.Background(), costfn.Params{"beta": beta}, gravity.DefaultCalibrateOptions())
			if err == nil {
				results <- out.OptimalParams["beta"]
			}
			errs <- err
		}()
	}
	for range 2 {
		require.NoError(t, <-errs)
		assert.InDelta(t, optimalBeta, <-results, 0.01)
	}
}

func TestCalibrate_CancelledContext(t *testing.T) {
	cal, err := gravity.NewCalibrator(twoZoneConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cal.Calibrate(ctx, costfn.Params{"beta": 0.1}, gravity.DefaultCalibrateOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateInitParams_RecoversExponential(t *testing.T) {
	fn := exponential(t)
	const beta = 0.3
	target, err := costdist.NewDistribution([]costdist.Band{
		{Min: 0, Max: 5, Trips: math.Exp(-beta * 2), AveCost: 2},
		{Min: 5, Max: 10, Trips: math.Exp(-beta * 7), AveCost: 7},
		{Min: 10, Max: 20, Trips: math.Exp(-beta * 13), AveCost: 13},
	})
	require.NoError(t, err)

	est, err := gravity.EstimateInitParams(context.Background(), fn, target, costfn.Params{"beta": 0.5})
	require.NoError(t, err)
	assert.InDelta(t, beta, est["beta"], 1e-4)
}

func TestEstimateInitParams_AppliesRefinement(t *testing.T) {
	fn, err := costfn.New("scaled", []string{"beta"}, []float64{0}, []float64{5},
		func(c float64, a []float64) float64 { return math.Exp(-a[0] * c) },
		costfn.WithEstimateRefinement(func(p costfn.Params) costfn.Params {
			p["beta"] *= 2
			return p
		}))
	require.NoError(t, err)
	target, err := costdist.NewDistribution([]costdist.Band{
		{Min: 0, Max: 5, Trips: math.Exp(-0.2 * 2), AveCost: 2},
		{Min: 5, Max: 10, Trips: math.Exp(-0.2 * 7), AveCost: 7},
	})
	require.NoError(t, err)

	est, err := gravity.EstimateInitParams(context.Background(), fn, target, costfn.Params{"beta": 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, est["beta"], 1e-3)
}

func TestRun_FixedParameters(t *testing.T) {
	cfg := twoZoneConfig(t)
	res, err := gravity.Run(context.Background(), cfg.CostFunction, cfg.CostMatrix,
		costfn.Params{"beta": optimalBeta}, cfg.RowTargets, cfg.ColTargets, furness.DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.InDelta(t, 70, mustAt(t, res.Matrix, 0, 0), 1e-6)
	assert.InDelta(t, 120, mustAt(t, res.Matrix, 1, 1), 1e-6)

	_, err = gravity.Run(context.Background(), cfg.CostFunction, cfg.CostMatrix,
		costfn.Params{"gamma": 1}, cfg.RowTargets, cfg.ColTargets, furness.DefaultOptions())
	assert.ErrorIs(t, err, costfn.ErrParamMismatch)
}

func TestRun_NonFiniteSeed(t *testing.T) {
	fn, err := costfn.Power()
	require.NoError(t, err)
	cost := dense(t, [][]float64{{0, 1}, {1, 0}})
	inf, err := costfn.New("inverse", []string{"k"}, []float64{0}, []float64{1},
		func(c float64, a []float64) float64 { return a[0] / c })
	require.NoError(t, err)

	_, err = gravity.Run(context.Background(), inf, cost, costfn.Params{"k": 1},
		[]float64{1, 1}, []float64{1, 1}, furness.DefaultOptions())
	assert.ErrorIs(t, err, gravity.ErrNonFinite)

	// Power maps zero cost to zero, so the same matrix is fine.
	_, err = gravity.Run(context.Background(), fn, cost, costfn.Params{"alpha": 1},
		[]float64{1, 1}, []float64{1, 1}, furness.DefaultOptions())
	assert.NoError(t, err)
}
