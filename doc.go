// SPDX-License-Identifier: MIT

// Package tripdist distributes trips between zones with a gravity model and
// calibrates the model's cost function against an observed trip cost
// distribution.
//
// A run starts from a cost matrix (travel time or distance between every pair
// of zones), row targets (trips produced by each origin) and column targets
// (trips attracted by each destination). A cost function turns the cost matrix
// into a seed, the seed is balanced to the targets with a Furness (iterative
// proportional fitting) pass, and the resulting trip cost distribution is
// compared with the observed one. Calibration searches the cost function's
// parameters until the two distributions agree.
//
// Packages:
//
//	matrix/       Dense float64 matrices, area Labels and Masks, elementwise kernels
//	costfn/       named, bounded cost functions (tanner, exponential, power, ...)
//	costdist/     banded trip cost distributions, shares, convergence, CSV io
//	furness/      doubly constrained balancing with RMSE tracking
//	lsq/          bounded Levenberg–Marquardt least squares
//	gravity/      single-area Calibrator and the multi-area Coordinator
//	config/       viper-backed configuration (file, env, flags)
//	store/        optional PostgreSQL record of runs and evaluations
//	cmd/tripdist  command line entry point
//
// Quick example:
//
//	fn, err := costfn.Tanner()
//	if err != nil {
//		return err
//	}
//	cal, err := gravity.NewCalibrator(gravity.Config{
//		RowTargets:        rows,
//		ColTargets:        cols,
//		CostFunction:      fn,
//		CostMatrix:        cost,
//		Target:            observed,
//		TargetConvergence: 0.95,
//	})
//	if err != nil {
//		return err
//	}
//	out, err := cal.Calibrate(ctx, costfn.Params{"alpha": 1, "beta": -0.1}, gravity.DefaultCalibrateOptions())
//
// Several areas sharing one trip matrix are calibrated together with
// gravity.NewCoordinator, which keeps every area's parameters independent
// while balancing the combined matrix once per evaluation step.
//
//	go install github.com/katalvlaran/tripdist/cmd/tripdist@latest
package tripdist
