// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/gravity"
)

// runReport is written next to the outputs of every calibration. The
// effective configuration goes to its own file, named by ConfigFile.
type runReport struct {
	RunID      string       `yaml:"run_id,omitempty"`
	ConfigFile string       `yaml:"config_file"`
	Results    []areaResult `yaml:"results"`
	Errors     []string     `yaml:"errors,omitempty"`
}

type areaResult struct {
	Area               string        `yaml:"area"`
	CostFunction       string        `yaml:"cost_function"`
	InitialParams      costfn.Params `yaml:"initial_params"`
	InitialConvergence float64       `yaml:"initial_convergence"`
	OptimalParams      costfn.Params `yaml:"optimal_params"`
	Convergence        float64       `yaml:"convergence"`
	MetTarget          bool          `yaml:"met_target"`
	PerceivedFactors   bool          `yaml:"perceived_factors"`
	Evaluations        int           `yaml:"evaluations"`
	Status             string        `yaml:"status"`
	FurnessIterations  int           `yaml:"furness_iterations"`
	FurnessRMSE        float64       `yaml:"furness_rmse"`
}

func newAreaResult(area, fn string, out *gravity.Outcome) areaResult {
	r := areaResult{
		Area:               area,
		CostFunction:       fn,
		InitialParams:      out.InitialParams,
		InitialConvergence: out.InitialConvergence,
		OptimalParams:      out.OptimalParams,
		MetTarget:          out.MetTarget,
		PerceivedFactors:   out.PerceivedFactorsApplied,
		Evaluations:        out.Evaluations,
		Status:             out.Status.String(),
	}
	if out.Final != nil {
		r.Convergence = out.Final.Convergence
		r.FurnessIterations = out.Final.FurnessIterations
		r.FurnessRMSE = out.Final.FurnessRMSE
	}

	return r
}

func (a *app) writeReport(rep *runReport) error {
	if err := writeFileWith(filepath.Join(a.cfg.Output.Dir, a.cfg.Output.Config), a.cfg.WriteYAML); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	rep.ConfigFile = a.cfg.Output.Config
	sort.Slice(rep.Results, func(i, j int) bool { return rep.Results[i].Area < rep.Results[j].Area })

	err := writeFileWith(filepath.Join(a.cfg.Output.Dir, a.cfg.Output.Report), func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}

		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// writeFileWith creates path and hands it to write. The close error is
// reported when write succeeds.
func writeFileWith(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		return multierr.Append(err, f.Close())
	}

	return f.Close()
}
