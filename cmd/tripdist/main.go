// SPDX-License-Identifier: MIT

// Command tripdist balances trip matrices and calibrates gravity-model cost
// functions against observed trip cost distributions.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/katalvlaran/tripdist/config"
	"github.com/katalvlaran/tripdist/gravity"
	"github.com/katalvlaran/tripdist/internal/logging"
	"github.com/katalvlaran/tripdist/store"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	metrics *http.Server
	store   *store.Store
}

func main() {
	a := &app{v: config.New()}
	root := a.rootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if terr := a.teardown(); err == nil {
		err = terr
	}
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tripdist",
		Short:        "Gravity-model trip distribution and calibration",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "YAML configuration file")
	config.RegisterFlags(root.PersistentFlags())
	cobra.CheckErr(config.BindFlags(a.v, root.PersistentFlags()))

	root.AddCommand(a.furnessCmd())
	root.AddCommand(a.calibrateCmd())
	root.AddCommand(a.calibrateAreasCmd())
	root.AddCommand(a.tldCmd())

	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger, err = logging.New(cfg.Log.Level, cfg.Log.Development); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		a.logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	if cfg.Store.DSN != "" {
		if a.store, err = store.Open(ctx, cfg.Store.DSN); err != nil {
			return err
		}
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) teardown() error {
	var err error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = a.metrics.Shutdown(ctx)
	}
	if a.store != nil {
		if cerr := a.store.Close(); err == nil {
			err = cerr
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}

	return err
}

// startRun registers a run in the store, when one is configured, and
// returns the sinks evaluations should be written to.
func (a *app) startRun(ctx context.Context, costFunction string) (uuid.UUID, []gravity.Option, error) {
	if a.store == nil {
		return uuid.Nil, nil, nil
	}
	id, err := a.store.StartRun(ctx, costFunction)
	if err != nil {
		return uuid.Nil, nil, err
	}
	a.logger.Info("recording run", zap.Stringer("run_id", id))

	return id, []gravity.Option{gravity.WithLogSink(a.store.Sink(id))}, nil
}

// finishRun closes the stored run with a status matching runErr.
func (a *app) finishRun(ctx context.Context, id uuid.UUID, runErr error) {
	if a.store == nil || id == uuid.Nil {
		return
	}
	status := store.StatusFinished
	if runErr != nil {
		status = store.StatusFailed
	}
	if err := a.store.FinishRun(context.WithoutCancel(ctx), id, status); err != nil {
		a.logger.Error("could not finish stored run", zap.Stringer("run_id", id), zap.Error(err))
	}
}
