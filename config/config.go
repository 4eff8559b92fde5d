// SPDX-License-Identifier: MIT

// Package config loads tripdist run settings from a YAML file, TRIPDIST_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/katalvlaran/tripdist/costfn"
	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/gravity"
)

// EnvPrefix prefixes every environment override, e.g. TRIPDIST_FURNESS_TOL.
const EnvPrefix = "TRIPDIST"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the effective configuration of one tripdist run.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Input       InputConfig       `mapstructure:"input" yaml:"input"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Furness     FurnessConfig     `mapstructure:"furness" yaml:"furness"`
	Jacobian    JacobianConfig    `mapstructure:"jacobian" yaml:"jacobian"`
	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`
}

// InputConfig names the CSV inputs. Area files are keyed by area id.
type InputConfig struct {
	CostMatrix         string            `mapstructure:"cost_matrix" yaml:"cost_matrix"`
	RowTargets         string            `mapstructure:"row_targets" yaml:"row_targets"`
	ColTargets         string            `mapstructure:"col_targets" yaml:"col_targets"`
	TargetDistribution string            `mapstructure:"target_distribution" yaml:"target_distribution,omitempty"`
	AreaLabels         string            `mapstructure:"area_labels" yaml:"area_labels,omitempty"`
	AreaNames          map[string]string `mapstructure:"area_names" yaml:"area_names,omitempty"`
	AreaTargets        map[string]string `mapstructure:"area_targets" yaml:"area_targets,omitempty"`
	IntrazonalInfill   float64           `mapstructure:"intrazonal_infill" yaml:"intrazonal_infill,omitempty"`
}

// OutputConfig places generated files.
type OutputConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	RunningLog string `mapstructure:"running_log" yaml:"running_log"`
	Report     string `mapstructure:"report" yaml:"report"`
	Config     string `mapstructure:"config" yaml:"config"`
}

// StoreConfig enables Postgres persistence when DSN is set.
type StoreConfig struct {
	DSN string `mapstructure:"dsn" yaml:"-"`
}

// FurnessConfig controls the gravity furness.
type FurnessConfig struct {
	Tol      float64 `mapstructure:"tol" yaml:"tol"`
	MaxIters int     `mapstructure:"max_iters" yaml:"max_iters"`
}

// JacobianConfig controls the looser furness used for Jacobian estimates.
type JacobianConfig struct {
	Tol               float64 `mapstructure:"tol" yaml:"tol"`
	MaxIters          int     `mapstructure:"max_iters" yaml:"max_iters"`
	MultiAreaMaxIters int     `mapstructure:"multi_area_max_iters" yaml:"multi_area_max_iters"`
}

// CalibrationConfig holds the cost function and optimiser settings.
type CalibrationConfig struct {
	CostFunction        string             `mapstructure:"cost_function" yaml:"cost_function"`
	InitParams          map[string]float64 `mapstructure:"init_params" yaml:"init_params"`
	TargetConvergence   float64            `mapstructure:"target_convergence" yaml:"target_convergence"`
	UsePerceivedFactors bool               `mapstructure:"use_perceived_factors" yaml:"use_perceived_factors"`
	EstimateInitParams  bool               `mapstructure:"estimate_init_params" yaml:"estimate_init_params"`
	CalibrateParams     bool               `mapstructure:"calibrate_params" yaml:"calibrate_params"`
	DiffStep            float64            `mapstructure:"diff_step" yaml:"diff_step"`
	FTol                float64            `mapstructure:"ftol" yaml:"ftol"`
	XTol                float64            `mapstructure:"xtol" yaml:"xtol"`
	MaxEvaluations      int                `mapstructure:"max_evaluations" yaml:"max_evaluations"`
}

var defaults = map[string]any{
	"log.level":                         "info",
	"log.development":                   false,
	"metrics.addr":                      "",
	"input.cost_matrix":                 "",
	"input.row_targets":                 "",
	"input.col_targets":                 "",
	"input.target_distribution":         "",
	"input.area_labels":                 "",
	"input.intrazonal_infill":           0.0,
	"output.dir":                        ".",
	"output.running_log":                "running_log.csv",
	"output.report":                     "run_report.yaml",
	"output.config":                     "run_config.yaml",
	"store.dsn":                         "",
	"furness.tol":                       furness.DefaultTol,
	"furness.max_iters":                 furness.DefaultMaxIters,
	"jacobian.tol":                      gravity.DefaultJacobianFurnessTol,
	"jacobian.max_iters":                gravity.DefaultJacobianFurnessMaxIters,
	"jacobian.multi_area_max_iters":     gravity.DefaultMultiAreaJacobianFurnessMaxIters,
	"calibration.cost_function":         costfn.NameExponential,
	"calibration.target_convergence":    gravity.DefaultTargetConvergence,
	"calibration.use_perceived_factors": true,
	"calibration.estimate_init_params":  false,
	"calibration.calibrate_params":      true,
	"calibration.diff_step":             1e-8,
	"calibration.ftol":                  1e-4,
	"calibration.xtol":                  1e-4,
	"calibration.max_evaluations":       100,
}

// New returns a viper instance with defaults and environment overrides
// installed. Keys use dots; the matching variable replaces dots with
// underscores: furness.max_iters <- TRIPDIST_FURNESS_MAX_ITERS.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":           "log.level",
	"log-development":     "log.development",
	"metrics-addr":        "metrics.addr",
	"cost-matrix":         "input.cost_matrix",
	"row-targets":         "input.row_targets",
	"col-targets":         "input.col_targets",
	"target-distribution": "input.target_distribution",
	"area-labels":         "input.area_labels",
	"intrazonal-infill":   "input.intrazonal_infill",
	"output-dir":          "output.dir",
	"store-dsn":           "store.dsn",
	"furness-tol":         "furness.tol",
	"furness-max-iters":   "furness.max_iters",
	"cost-function":       "calibration.cost_function",
	"target-convergence":  "calibration.target_convergence",
	"perceived-factors":   "calibration.use_perceived_factors",
	"estimate-init":       "calibration.estimate_init_params",
	"calibrate-params":    "calibration.calibrate_params",
	"max-evaluations":     "calibration.max_evaluations",
}

// RegisterFlags defines the command-line flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	fs.Bool("log-development", false, "human-readable development logging")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.String("cost-matrix", "", "cost matrix CSV")
	fs.String("row-targets", "", "row trip-end targets CSV")
	fs.String("col-targets", "", "column trip-end targets CSV")
	fs.String("target-distribution", "", "target cost distribution CSV")
	fs.String("area-labels", "", "area label matrix CSV")
	fs.Float64("intrazonal-infill", 0, "replace intrazonal costs by this factor of the nearest neighbour (0 disables)")
	fs.String("output-dir", defaults["output.dir"].(string), "directory for logs, matrices and the run report")
	fs.String("store-dsn", "", "Postgres DSN for run persistence")
	fs.Float64("furness-tol", furness.DefaultTol, "furness RMSE tolerance")
	fs.Int("furness-max-iters", furness.DefaultMaxIters, "furness iteration cap")
	fs.String("cost-function", costfn.NameExponential, "cost function: "+strings.Join(costfn.Names(), ", "))
	fs.Float64("target-convergence", gravity.DefaultTargetConvergence, "target curve convergence")
	fs.Bool("perceived-factors", true, "apply perceived cost factors near the target")
	fs.Bool("estimate-init", false, "estimate initial parameters from band average costs")
	fs.Bool("calibrate-params", true, "optimise the cost-function parameters")
	fs.Int("max-evaluations", 100, "optimiser evaluation budget")
}

// BindFlags binds every registered flag present in fs to its key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", name, err)
		}
	}

	return nil
}

// Load reads file (when non-empty) into v, decodes and validates the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks value ranges and the cost function name.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalidf("log.level: %v", err)
	}
	if c.Furness.Tol < 0 || c.Furness.MaxIters < 0 {
		return invalidf("furness tol and max_iters must be >= 0")
	}
	if c.Jacobian.Tol < 0 || c.Jacobian.MaxIters < 0 || c.Jacobian.MultiAreaMaxIters < 0 {
		return invalidf("jacobian tol and max iters must be >= 0")
	}
	cal := c.Calibration
	if !slices.Contains(costfn.Names(), strings.ToLower(strings.TrimSpace(cal.CostFunction))) {
		return invalidf("calibration.cost_function %q (known: %s)", cal.CostFunction, strings.Join(costfn.Names(), ", "))
	}
	if cal.TargetConvergence <= 0 || cal.TargetConvergence > 1 {
		return invalidf("calibration.target_convergence must be in (0, 1], got %g", cal.TargetConvergence)
	}
	if cal.DiffStep <= 0 || cal.FTol <= 0 || cal.XTol <= 0 {
		return invalidf("calibration diff_step, ftol and xtol must be > 0")
	}
	if cal.MaxEvaluations <= 0 {
		return invalidf("calibration.max_evaluations must be > 0, got %d", cal.MaxEvaluations)
	}
	if c.Input.IntrazonalInfill < 0 {
		return invalidf("input.intrazonal_infill must be >= 0")
	}

	return nil
}

// CostFunction resolves the configured built-in.
func (c *Config) CostFunction() (costfn.CostFunction, error) {
	return costfn.ByName(c.Calibration.CostFunction)
}

// FurnessOptions returns the gravity furness settings.
func (c *Config) FurnessOptions() furness.Options {
	return furness.Options{Tol: c.Furness.Tol, MaxIters: c.Furness.MaxIters, WarnOnNonConvergence: true}
}

// CalibrateOptions returns the per-call optimiser settings.
func (c *Config) CalibrateOptions() gravity.CalibrateOptions {
	return gravity.CalibrateOptions{
		EstimateInitParams: c.Calibration.EstimateInitParams,
		CalibrateParams:    c.Calibration.CalibrateParams,
		DiffStep:           c.Calibration.DiffStep,
		FTol:               c.Calibration.FTol,
		XTol:               c.Calibration.XTol,
		MaxEvaluations:     c.Calibration.MaxEvaluations,
	}
}

// WriteYAML dumps the effective configuration. The store DSN is omitted.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	return enc.Close()
}
