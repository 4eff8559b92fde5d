// SPDX-License-Identifier: MIT

package gravity_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/gravity"
	"github.com/katalvlaran/tripdist/matrix"
)

type CoordinatorSuite struct {
	suite.Suite
	cfg gravity.CoordinatorConfig
}

func (s *CoordinatorSuite) SetupTest() {
	t := s.T()
	fn, err := costfn.Exponential()
	s.Require().NoError(err)
	labels, err := matrix.NewLabelsRows([][]int{
		{0, 0, 0, matrix.IgnoreLabel},
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{matrix.IgnoreLabel, 1, 1, 1},
	})
	s.Require().NoError(err)

	s.cfg = gravity.CoordinatorConfig{
		RowTargets:   []float64{40, 60, 50, 50},
		ColTargets:   []float64{45, 55, 50, 50},
		CostFunction: fn,
		CostMatrix: dense(t, [][]float64{
			{1, 6, 8, 9},
			{6, 2, 7, 8},
			{8, 7, 3, 6},
			{9, 8, 6, 1},
		}),
		AreaLabels: labels,
		AreaNames:  map[int]string{0: "north", 1: "south"},
		Targets: map[int]*costdist.Distribution{
			0: twoBandTarget(t, 0.3, 0.7),
			1: twoBandTarget(t, 0.35, 0.65),
		},
	}
}

func (s *CoordinatorSuite) options() gravity.CalibrateOptions {
	opts := gravity.DefaultCalibrateOptions()
	opts.MaxEvaluations = 30

	return opts
}

func (s *CoordinatorSuite) TestAreasCalibrateIndependently() {
	c, err := gravity.NewCoordinator(s.cfg)
	s.Require().NoError(err)
	s.Equal([]int{0, 1}, c.Areas())

	out, err := c.Calibrate(context.Background(), costfn.Params{"beta": 0.2}, s.options())
	s.Require().NoError(err)
	s.Require().Len(out.Areas, 2)

	params := out.OptimalParams()
	for id, o := range out.Areas {
		s.GreaterOrEqual(params[id]["beta"], 0.0)
		s.LessOrEqual(params[id]["beta"], 5.0)
		s.Require().NotNil(o.Final)
		s.LessOrEqual(o.Evaluations, 30+1, "area %d", id)

		mask := s.cfg.AreaLabels.Mask(id)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if mask.At(i, j) {
					continue
				}
				v, err := o.Final.Achieved.At(i, j)
				s.Require().NoError(err)
				s.Zero(v, "area %d leaked cell (%d,%d)", id, i, j)
				seed, err := o.Final.Seed.At(i, j)
				s.Require().NoError(err)
				s.Zero(seed)
			}
		}
	}
}

func (s *CoordinatorSuite) TestIgnoredCellsGetNoTrips() {
	c, err := gravity.NewCoordinator(s.cfg)
	s.Require().NoError(err)

	opts := s.options()
	opts.CalibrateParams = false
	out, err := c.Calibrate(context.Background(), costfn.Params{"beta": 0.2}, opts)
	s.Require().NoError(err)

	// With one evaluation per area both areas answer the same round, so
	// their parts add up to the balanced global matrix.
	global, err := matrix.Merge(map[int]*matrix.Dense{
		0: out.Areas[0].Final.Achieved,
		1: out.Areas[1].Final.Achieved,
	})
	s.Require().NoError(err)
	s.Zero(mustAt(s.T(), global, 0, 3))
	s.Zero(mustAt(s.T(), global, 3, 0))
	s.InDeltaSlice(s.cfg.ColTargets, matrix.ColSums(global), 1e-3)
}

type failingSink struct{ area string }

func (f failingSink) Append(_ context.Context, rec gravity.LogRecord) error {
	if rec.Area == f.area {
		return errors.New("sink unavailable")
	}
	return nil
}

func (s *CoordinatorSuite) TestFailingAreaDoesNotStopOthers() {
	c, err := gravity.NewCoordinator(s.cfg, gravity.WithLogSink(failingSink{area: "north"}))
	s.Require().NoError(err)

	out, err := c.Calibrate(context.Background(), costfn.Params{"beta": 0.2}, s.options())
	s.Require().Error(err)

	var ae *gravity.AreaError
	s.Require().ErrorAs(err, &ae)
	s.Equal(0, ae.Area)
	s.Equal("north", ae.Name)
	s.Require().NotNil(out)
	s.NotContains(out.Areas, 0)
	s.Contains(out.Areas, 1)
}

func (s *CoordinatorSuite) TestUnknownArea() {
	cfg := s.cfg
	cfg.AreaNames = map[int]string{0: "north"}
	_, err := gravity.NewCoordinator(cfg)
	s.ErrorIs(err, gravity.ErrUnknownArea)

	cfg = s.cfg
	cfg.Targets = map[int]*costdist.Distribution{1: s.cfg.Targets[1]}
	_, err = gravity.NewCoordinator(cfg)
	s.ErrorIs(err, gravity.ErrUnknownArea)
}

func (s *CoordinatorSuite) TestLabelShapeMismatch() {
	cfg := s.cfg
	labels, err := matrix.NewLabelsRows([][]int{{0, 1}, {1, 0}})
	s.Require().NoError(err)
	cfg.AreaLabels = labels
	_, err = gravity.NewCoordinator(cfg)
	s.ErrorIs(err, gravity.ErrConfig)
}

func (s *CoordinatorSuite) TestPerAreaRunningLogs() {
	dir := s.T().TempDir()
	cfg := s.cfg
	cfg.RunningLogPath = filepath.Join(dir, "log.csv")
	c, err := gravity.NewCoordinator(cfg)
	s.Require().NoError(err)

	opts := s.options()
	opts.CalibrateParams = false
	_, err = c.Calibrate(context.Background(), costfn.Params{"beta": 0.2}, opts)
	s.Require().NoError(err)

	for _, name := range []string{"north", "south"} {
		_, err := os.Stat(filepath.Join(dir, name, "log.csv"))
		s.NoError(err, name)
	}

	cfg.RunningLogPath = filepath.Join(dir, "missing", "log.csv")
	_, err = gravity.NewCoordinator(cfg)
	s.True(errors.Is(err, fs.ErrNotExist))
}

func (s *CoordinatorSuite) TestCancelledContext() {
	c, err := gravity.NewCoordinator(s.cfg)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Calibrate(ctx, costfn.Params{"beta": 0.2}, s.options())
	s.ErrorIs(err, context.Canceled)
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func TestPerceivedFactors_Broadcast(t *testing.T) {
	cost := dense(t, [][]float64{{1, 6}, {6, 12}})
	target := twoBandTarget(t, 0.5, 0.5)

	pf, err := gravity.PerceivedFactors(cost, target, []float64{0.125, 0.875})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, mustAt(t, pf, 0, 0), 1e-12)
	assert.InDelta(t, 1.3228756555, mustAt(t, pf, 0, 1), 1e-9)
	assert.InDelta(t, 1.3228756555, mustAt(t, pf, 1, 0), 1e-9)
	assert.Equal(t, 1.0, mustAt(t, pf, 1, 1), "cost outside every band")
}

func TestBandFactors_Clipped(t *testing.T) {
	f, err := gravity.BandFactors([]float64{0.01, 1, 0.3, 0.2}, []float64{0.5, 0.1, 0, 0.2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 2, 1, 1}, f)

	_, err = gravity.BandFactors([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, costdist.ErrLengthMismatch)
}
