// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/internal/matio"
	"github.com/katalvlaran/tripdist/matrix"
)

// inputs are the files shared by every gravity subcommand.
type inputs struct {
	cost *matrix.Dense
	rows []float64
	cols []float64
}

func (a *app) loadInputs() (*inputs, error) {
	in := a.cfg.Input
	if in.CostMatrix == "" || in.RowTargets == "" || in.ColTargets == "" {
		return nil, fmt.Errorf("cost matrix, row targets and column targets are required")
	}
	cost, err := matio.ReadDenseFile(in.CostMatrix)
	if err != nil {
		return nil, err
	}
	if in.IntrazonalInfill > 0 {
		if cost, err = costdist.IntrazonalInfill(cost, in.IntrazonalInfill); err != nil {
			return nil, err
		}
		a.logger.Info("applied intrazonal infill", zap.Float64("factor", in.IntrazonalInfill))
	}
	rows, err := matio.ReadVectorFile(in.RowTargets)
	if err != nil {
		return nil, err
	}
	cols, err := matio.ReadVectorFile(in.ColTargets)
	if err != nil {
		return nil, err
	}

	return &inputs{cost: cost, rows: rows, cols: cols}, nil
}

func readDistribution(path string) (*costdist.Distribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := costdist.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

// initParams returns the configured initial parameters. Parameters left
// unset start at the midpoint of their bounds.
func (a *app) initParams(fn costfn.CostFunction) costfn.Params {
	p := make(costfn.Params, len(fn.ParamNames()))
	lo, hi := fn.ParamMin(), fn.ParamMax()
	for _, n := range fn.ParamNames() {
		if v, ok := a.cfg.Calibration.InitParams[n]; ok {
			p[n] = v
			continue
		}
		p[n] = (lo[n] + hi[n]) / 2
		a.logger.Info("initial parameter not configured, using bound midpoint",
			zap.String("param", n), zap.Float64("value", p[n]))
	}

	return p
}

// areaMaps converts the string-keyed area configuration to label ids.
func (a *app) areaMaps() (map[int]string, map[int]*costdist.Distribution, error) {
	names := make(map[int]string, len(a.cfg.Input.AreaNames))
	for k, v := range a.cfg.Input.AreaNames {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, nil, fmt.Errorf("area name key %q is not an integer label", k)
		}
		names[id] = v
	}

	keys := make([]string, 0, len(a.cfg.Input.AreaTargets))
	for k := range a.cfg.Input.AreaTargets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	targets := make(map[int]*costdist.Distribution, len(keys))
	for _, k := range keys {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, nil, fmt.Errorf("area target key %q is not an integer label", k)
		}
		if targets[id], err = readDistribution(a.cfg.Input.AreaTargets[k]); err != nil {
			return nil, nil, err
		}
	}

	return names, targets, nil
}
