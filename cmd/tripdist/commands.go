// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/costdist"
	"github.com/katalvlaran/tripdist/furness"
	"github.com/katalvlaran/tripdist/gravity"
	"github.com/katalvlaran/tripdist/internal/matio"
)

func (a *app) furnessCmd() *cobra.Command {
	var seedPath, out string

	cmd := &cobra.Command{
		Use:   "furness",
		Short: "Balance a seed matrix to row and column targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := matio.ReadDenseFile(seedPath)
			if err != nil {
				return err
			}
			rows, err := matio.ReadVectorFile(a.cfg.Input.RowTargets)
			if err != nil {
				return err
			}
			cols, err := matio.ReadVectorFile(a.cfg.Input.ColTargets)
			if err != nil {
				return err
			}
			opts := a.cfg.FurnessOptions()
			opts.Logger = a.logger
			res, err := furness.DoublyConstrained(cmd.Context(), seed, rows, cols, opts)
			if err != nil {
				return err
			}
			a.logger.Info("furness finished",
				zap.Int("iterations", res.Iterations),
				zap.Float64("rmse", res.RMSE),
				zap.Bool("converged", res.Converged))

			return matio.WriteDenseFile(filepath.Join(a.cfg.Output.Dir, out), res.Matrix)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "seed matrix CSV")
	cmd.Flags().StringVar(&out, "out", "furnessed.csv", "output file name inside the output directory")
	_ = cmd.MarkFlagRequired("seed")

	return cmd
}

func (a *app) calibrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate cost-function parameters for a single area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			in, err := a.loadInputs()
			if err != nil {
				return err
			}
			if a.cfg.Input.TargetDistribution == "" {
				return fmt.Errorf("target distribution is required")
			}
			target, err := readDistribution(a.cfg.Input.TargetDistribution)
			if err != nil {
				return err
			}
			fn, err := a.cfg.CostFunction()
			if err != nil {
				return err
			}

			runID, opts, err := a.startRun(ctx, fn.Name())
			if err != nil {
				return err
			}
			defer func() { a.finishRun(ctx, runID, err) }()

			provider := gravity.NewLocalProvider(in.rows, in.cols, a.cfg.Furness.Tol, a.cfg.Furness.MaxIters, a.logger)
			provider.Jacobian.Tol = a.cfg.Jacobian.Tol
			provider.Jacobian.MaxIters = a.cfg.Jacobian.MaxIters
			opts = append(opts, gravity.WithLogger(a.logger), gravity.WithFurnessProvider(provider))

			cal, err := gravity.NewCalibrator(gravity.Config{
				RowTargets:          in.rows,
				ColTargets:          in.cols,
				CostFunction:        fn,
				CostMatrix:          in.cost,
				Target:              target,
				TargetConvergence:   a.cfg.Calibration.TargetConvergence,
				FurnessMaxIters:     a.cfg.Furness.MaxIters,
				FurnessTol:          a.cfg.Furness.Tol,
				UsePerceivedFactors: a.cfg.Calibration.UsePerceivedFactors,
				RunningLogPath:      filepath.Join(a.cfg.Output.Dir, a.cfg.Output.RunningLog),
			}, opts...)
			if err != nil {
				return err
			}

			out, err := cal.Calibrate(ctx, a.initParams(fn), a.cfg.CalibrateOptions())
			if err != nil {
				return err
			}
			a.logger.Info("calibration finished",
				zap.Any("params", out.OptimalParams),
				zap.Float64("convergence", out.Final.Convergence),
				zap.Bool("met_target", out.MetTarget))

			if err := a.saveOutcome(ctx, runID, cal.Name(), out); err != nil {
				return err
			}
			rep := &runReport{Results: []areaResult{newAreaResult(cal.Name(), fn.Name(), out)}}
			if a.store != nil {
				rep.RunID = runID.String()
			}

			return a.writeReport(rep)
		},
	}
}

func (a *app) calibrateAreasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate-areas",
		Short: "Calibrate one parameter set per area against a shared trip matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			in, err := a.loadInputs()
			if err != nil {
				return err
			}
			if a.cfg.Input.AreaLabels == "" {
				return fmt.Errorf("area labels are required")
			}
			labels, err := matio.ReadLabelsFile(a.cfg.Input.AreaLabels)
			if err != nil {
				return err
			}
			names, targets, err := a.areaMaps()
			if err != nil {
				return err
			}
			fn, err := a.cfg.CostFunction()
			if err != nil {
				return err
			}

			runID, opts, err := a.startRun(ctx, fn.Name())
			if err != nil {
				return err
			}
			defer func() { a.finishRun(ctx, runID, err) }()
			opts = append(opts, gravity.WithLogger(a.logger))

			coord, err := gravity.NewCoordinator(gravity.CoordinatorConfig{
				RowTargets:              in.rows,
				ColTargets:              in.cols,
				CostFunction:            fn,
				CostMatrix:              in.cost,
				AreaLabels:              labels,
				AreaNames:               names,
				Targets:                 targets,
				TargetConvergence:       a.cfg.Calibration.TargetConvergence,
				FurnessMaxIters:         a.cfg.Furness.MaxIters,
				FurnessTol:              a.cfg.Furness.Tol,
				UsePerceivedFactors:     a.cfg.Calibration.UsePerceivedFactors,
				RunningLogPath:          filepath.Join(a.cfg.Output.Dir, a.cfg.Output.RunningLog),
				JacobianFurnessTol:      a.cfg.Jacobian.Tol,
				JacobianFurnessMaxIters: a.cfg.Jacobian.MultiAreaMaxIters,
			}, opts...)
			if err != nil {
				return err
			}

			multi, calErr := coord.Calibrate(ctx, a.initParams(fn), a.cfg.CalibrateOptions())
			if multi == nil {
				return calErr
			}
			rep := &runReport{}
			if a.store != nil {
				rep.RunID = runID.String()
			}
			for _, id := range coord.Areas() {
				out, ok := multi.Areas[id]
				if !ok {
					continue
				}
				if err := a.saveOutcome(ctx, runID, names[id], out); err != nil {
					return err
				}
				rep.Results = append(rep.Results, newAreaResult(names[id], fn.Name(), out))
			}
			if calErr != nil {
				rep.Errors = append(rep.Errors, calErr.Error())
			}
			if err := a.writeReport(rep); err != nil {
				return err
			}

			return calErr
		},
	}
}

func (a *app) tldCmd() *cobra.Command {
	var tripsPath, out string
	var edges []float64

	cmd := &cobra.Command{
		Use:   "tld",
		Short: "Build a trip length distribution from an observed trip matrix",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			trips, err := matio.ReadDenseFile(tripsPath)
			if err != nil {
				return err
			}
			cost, err := matio.ReadDenseFile(a.cfg.Input.CostMatrix)
			if err != nil {
				return err
			}
			dist, err := costdist.Generate(trips, cost, edges)
			if err != nil {
				return err
			}
			shares := dist.BandShares()
			for i, b := range dist.Bands() {
				a.logger.Debug("band",
					zap.Float64("min", b.Min),
					zap.Float64("max", b.Max),
					zap.Float64("trips", b.Trips),
					zap.Float64("share", shares[i]))
			}

			f, err := os.Create(filepath.Join(a.cfg.Output.Dir, out))
			if err != nil {
				return err
			}
			if err := costdist.WriteCSV(f, dist); err != nil {
				f.Close()
				return err
			}

			return f.Close()
		},
	}
	cmd.Flags().StringVar(&tripsPath, "trips", "", "observed trip matrix CSV")
	cmd.Flags().Float64SliceVar(&edges, "edges", []float64{0, 1, 2, 5, 10, 20, 50, 100}, "band edges")
	cmd.Flags().StringVar(&out, "out", "tld.csv", "output file name inside the output directory")
	_ = cmd.MarkFlagRequired("trips")

	return cmd
}

// saveOutcome writes the achieved matrix (and perceived factors) of one
// area and records its parameters in the store.
func (a *app) saveOutcome(ctx context.Context, runID uuid.UUID, area string, out *gravity.Outcome) error {
	if out.Final != nil {
		path := filepath.Join(a.cfg.Output.Dir, area+"_achieved.csv")
		if err := matio.WriteDenseFile(path, out.Final.Achieved); err != nil {
			return err
		}
	}
	if out.PerceivedFactors != nil {
		path := filepath.Join(a.cfg.Output.Dir, area+"_perceived_factors.csv")
		if err := matio.WriteDenseFile(path, out.PerceivedFactors); err != nil {
			return err
		}
	}
	if a.store == nil {
		return nil
	}

	return a.store.SaveOutcome(ctx, runID, area, out)
}
