// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/katalvlaran/tripdist/config"
	"github.com/katalvlaran/tripdist/internal/matio"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func execute(t *testing.T, args ...string) {
	t.Helper()
	a := &app{v: config.New()}
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, a.teardown())
	require.NoError(t, err)
}

func TestCalibrateCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	cfgFile := writeFile(t, dir, "tripdist.yaml", `
calibration:
  init_params:
    beta: 0.1
`)
	execute(t, "calibrate",
		"--config", cfgFile,
		"--log-level", "warn",
		"--output-dir", out,
		"--cost-matrix", writeFile(t, dir, "cost.csv", "7,7\n7,2\n"),
		"--row-targets", writeFile(t, dir, "rows.csv", "100\n200\n"),
		"--col-targets", writeFile(t, dir, "cols.csv", "150,150\n"),
		"--target-distribution", writeFile(t, dir, "tld.csv", "min,max,trips\n0,5,40\n5,10,60\n"),
	)

	raw, err := os.ReadFile(filepath.Join(out, "run_report.yaml"))
	require.NoError(t, err)
	var rep struct {
		ConfigFile string `yaml:"config_file"`
		Results    []struct {
			Area          string             `yaml:"area"`
			OptimalParams map[string]float64 `yaml:"optimal_params"`
			MetTarget     bool               `yaml:"met_target"`
		} `yaml:"results"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &rep))
	require.Len(t, rep.Results, 1)
	require.Equal(t, "run_config.yaml", rep.ConfigFile)
	rawCfg, err := os.ReadFile(filepath.Join(out, rep.ConfigFile))
	require.NoError(t, err)
	var dumped config.Config
	require.NoError(t, yaml.Unmarshal(rawCfg, &dumped))
	assert.InDelta(t, 0.1, dumped.Calibration.InitParams["beta"], 1e-12)
	assert.Equal(t, out, dumped.Output.Dir)
	assert.Equal(t, "main", rep.Results[0].Area)
	assert.InDelta(t, 0.2506, rep.Results[0].OptimalParams["beta"], 0.01)
	assert.True(t, rep.Results[0].MetTarget)

	assert.FileExists(t, filepath.Join(out, "running_log.csv"))
	achieved, err := matio.ReadDenseFile(filepath.Join(out, "main_achieved.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, achieved.Rows())
}

func TestFurnessCommand(t *testing.T) {
	dir := t.TempDir()
	execute(t, "furness",
		"--output-dir", dir,
		"--seed", writeFile(t, dir, "seed.csv", "1,1\n1,1\n"),
		"--row-targets", writeFile(t, dir, "rows.csv", "10\n30\n"),
		"--col-targets", writeFile(t, dir, "cols.csv", "20\n20\n"),
	)

	m, err := matio.ReadDenseFile(filepath.Join(dir, "furnessed.csv"))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{5, 5, 15, 15}, m.Data(), 1e-9)
}

func TestTLDCommand(t *testing.T) {
	dir := t.TempDir()
	execute(t, "tld",
		"--output-dir", dir,
		"--cost-matrix", writeFile(t, dir, "cost.csv", "1,6\n6,1\n"),
		"--trips", writeFile(t, dir, "trips.csv", "10,5\n5,30\n"),
		"--edges", "0,5,10",
	)

	raw, err := os.ReadFile(filepath.Join(dir, "tld.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "min,max,trips,ave_km,band_share")
	assert.Contains(t, string(raw), "0,5,40,")
}
