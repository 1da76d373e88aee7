package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"sdb_service/internal/api"
	"sdb_service/internal/config"
	"sdb_service/internal/domain/model"
	"sdb_service/internal/logger"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

const (
	flagConfig      = "config"
	flagImage       = "image"
	flagSample      = "sample"
	flagSource      = "source"
	flagDepthColumn = "depth-column"
	flagMethod      = "method"
	flagBackend     = "backend"
	flagJobs        = "jobs"
	flagEvaluation  = "evaluation"
	flagTrainSize   = "train-size"
	flagRandomState = "random-state"
	flagOut         = "out"
	flagFormat      = "format"
	flagMedian      = "median"
	flagDirection   = "direction"
	flagScatter     = "scatter"
	flagTables      = "tables"
)

func main() {
	app := &cli.App{
		Name:    "sdb",
		Usage:   "satellite-derived bathymetry service",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP API",
				Action: serveAction,
			},
			{
				Name:  "run",
				Usage: "run the prediction pipeline once and export the results",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImage, Required: true, Usage: "multi-band GeoTIFF `FILE`"},
					&cli.StringFlag{Name: flagSample, Usage: "depth sample `FILE` (shp, gpkg, geojson)"},
					&cli.StringFlag{Name: flagSource, Usage: "external depth source instead of a file: postgis or overpass"},
					&cli.StringFlag{Name: flagDepthColumn, Usage: "attribute holding the depth value"},
					&cli.StringFlag{Name: flagMethod, Usage: "regression method"},
					&cli.StringFlag{Name: flagBackend, Usage: "parallel backend: loky, threading, multiprocessing"},
					&cli.IntFlag{Name: flagJobs, Usage: "number of parallel jobs, negative counts from the CPU number"},
					&cli.StringFlag{Name: flagEvaluation, Usage: "evaluation mode: sample_grid or recalculate"},
					&cli.Float64Flag{Name: flagTrainSize, Usage: "train share of the random split"},
					&cli.Int64Flag{Name: flagRandomState, Usage: "random split seed"},
					&cli.StringFlag{Name: flagOut, Usage: "output GeoTIFF `FILE`, tables and plot are placed next to it"},
					&cli.StringFlag{Name: flagFormat, Usage: "table format: csv, shp, geojson"},
					&cli.IntFlag{Name: flagMedian, Usage: "median filter size, odd"},
					&cli.StringFlag{Name: flagDirection, Usage: "output depth direction: up or down"},
					&cli.BoolFlag{Name: flagScatter, Usage: "save the test scatter plot"},
					&cli.BoolFlag{Name: flagTables, Value: true, Usage: "save train and test tables, --tables=false to skip"},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	// логгер по умолчанию нужен, чтобы сообщить о проблемах с файлом конфигурации
	mode := config.Default().Log.Mode
	boot, err := logger.New(mode)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}
	cfg := config.New(c.String(flagConfig), boot)
	if cfg.Log.Mode == mode {
		return cfg, boot, nil
	}
	logger.Sync(boot)
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}
	return cfg, log, nil
}

func serveAction(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	log.Info("starting sdb server", zap.String("version", Version), zap.String("git_commit", GitCommit))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("failed to close connections", zap.Error(err))
		}
	}()

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      api.NewRouter(app.handler(), log, Version),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to start server")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runAction(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("failed to close connections", zap.Error(err))
		}
	}()

	if _, err := app.session.LoadRaster(ctx, c.String(flagImage)); err != nil {
		return err
	}
	switch {
	case c.IsSet(flagSource):
		factory, ok := app.sources[c.String(flagSource)]
		if !ok {
			return errors.Wrapf(model.ErrInvalidArgument, "sample source %q is not configured", c.String(flagSource))
		}
		src, err := factory(api.LoadSampleRequest{Source: c.String(flagSource)})
		if err != nil {
			return err
		}
		if _, err := app.session.LoadSampleFrom(ctx, src, c.String(flagSource)); err != nil {
			return err
		}
	case c.IsSet(flagSample):
		if _, err := app.session.LoadSample(ctx, c.String(flagSample)); err != nil {
			return err
		}
	default:
		return errors.Wrap(model.ErrMissingPrerequisite, "either --sample or --source is required")
	}

	opts := runOptions(c, cfg)
	result, err := app.service.Run(ctx, "", app.session.Snapshot(), opts, func(ev model.ProgressEvent) {
		log.Info(ev.Message)
	})
	if err != nil {
		return err
	}
	app.session.SetResult(result)

	fmt.Printf("run %s: RMSE %.3f, MAE %.3f, R2 %.3f, total %s\n",
		result.RunID, result.Metrics.RMSE, result.Metrics.MAE, result.Metrics.R2, result.Runtimes.Total)

	if !c.IsSet(flagOut) {
		return nil
	}
	files, err := app.exporter.Export(ctx, result, exportOptions(c, cfg))
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

// runOptions накладывает флаги командной строки на параметры из конфигурации.
func runOptions(c *cli.Context, cfg *config.Config) model.RunOptions {
	opts := cfg.RunOptions()
	if c.IsSet(flagDepthColumn) {
		opts.DepthColumn = c.String(flagDepthColumn)
	}
	if c.IsSet(flagMethod) && c.String(flagMethod) != opts.Method {
		opts.Method = c.String(flagMethod)
		opts.Params = nil
	}
	if c.IsSet(flagBackend) {
		opts.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagJobs) {
		opts.Jobs = c.Int(flagJobs)
	}
	if c.IsSet(flagEvaluation) {
		opts.Evaluation = model.EvaluationMode(c.String(flagEvaluation))
	}
	if c.IsSet(flagTrainSize) {
		opts.Split.TrainSize = c.Float64(flagTrainSize)
	}
	if c.IsSet(flagRandomState) {
		opts.Split.RandomState = c.Int64(flagRandomState)
	}
	return opts
}

func exportOptions(c *cli.Context, cfg *config.Config) model.ExportOptions {
	opts := cfg.ExportOptions(c.String(flagOut))
	if c.IsSet(flagFormat) {
		opts.TableFormat = c.String(flagFormat)
	}
	if c.IsSet(flagMedian) {
		opts.MedianFilterSize = c.Int(flagMedian)
	}
	if c.IsSet(flagDirection) {
		opts.Direction = model.DepthDirection(c.String(flagDirection))
	}
	if c.IsSet(flagScatter) {
		opts.ScatterPlot = c.Bool(flagScatter)
	}
	if c.IsSet(flagTables) {
		opts.SaveTables = c.Bool(flagTables)
	}
	return opts
}
