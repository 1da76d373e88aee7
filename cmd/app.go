package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sdb_service/internal/api"
	"sdb_service/internal/config"
	"sdb_service/internal/core"
	"sdb_service/internal/domain/model"
	"sdb_service/internal/domain/repository"
	"sdb_service/internal/infrastructure/csvio"
	"sdb_service/internal/infrastructure/gdalio"
	"sdb_service/internal/infrastructure/geojsonio"
	"sdb_service/internal/infrastructure/mlclient"
	"sdb_service/internal/infrastructure/plotting"
)

// application связывает компоненты сервиса по конфигурации.
type application struct {
	cfg      *config.Config
	logger   *zap.Logger
	session  *core.Session
	service  *core.PredictionService
	exporter *core.Exporter
	sources  map[string]api.SourceFactory
	mlClient *mlclient.HTTPMLClient
	closers  []func() error
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{
		cfg:     cfg,
		logger:  logger,
		sources: make(map[string]api.SourceFactory),
	}

	projector := gdalio.NewProjector()
	samples := core.NewExtensionReaders(gdalio.NewOGRReader()).
		Register(geojsonio.NewReader(), ".geojson", ".json")
	app.session = core.NewSession(gdalio.NewGeoTIFFReader(), samples, logger)

	factory := core.LocalEstimators()
	if cfg.MLService.URL != "" {
		app.mlClient = mlclient.NewHTTPMLClient(cfg.MLService.URL, cfg.MLService.Timeout)
		factory = core.RemoteEstimators(func(m model.Method, params map[string]any) model.Regressor {
			return mlclient.NewHTTPRegressor(app.mlClient, m, params)
		})
		logger.Info("using remote ML service", zap.String("url", cfg.MLService.URL))
	}

	var cache repository.RunCache = repository.NewMemoryRunCache()
	if cfg.Redis.Enabled {
		redisCache := repository.NewRedisRunCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis connection failed, using in-memory run cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			logger.Info("redis connected successfully")
			cache = redisCache
			app.closers = append(app.closers, redisCache.Close)
		}
	}

	var recorder repository.RunRecorder
	if cfg.Postgres.URL != "" {
		pg, err := repository.NewPostgresRepository(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, multierr.Append(err, app.Close())
		}
		app.closers = append(app.closers, pg.Close)

		if cfg.Postgres.SaveRuns {
			runs := repository.NewPostgresRunRecorder(pg.DB())
			if err := runs.EnsureSchema(ctx); err != nil {
				return nil, multierr.Append(err, app.Close())
			}
			recorder = runs
		}
		app.sources["postgis"] = func(req api.LoadSampleRequest) (core.SampleSource, error) {
			return repository.NewPostGISSampleSource(pg,
				orDefault(req.Table, cfg.Postgres.Table),
				orDefault(req.GeomColumn, cfg.Postgres.GeomColumn)), nil
		}
	}

	overpassRepo := repository.NewOverpassRepository(cfg.Overpass.Endpoint, cfg.Overpass.Timeout)
	app.sources["overpass"] = func(req api.LoadSampleRequest) (core.SampleSource, error) {
		return repository.NewOverpassSampleSource(overpassRepo, projector, orDefault(req.Tag, cfg.Overpass.Tag)), nil
	}

	app.service = core.NewPredictionService(
		core.NewSpatialAligner(projector),
		core.NewRegressionEngine(factory, logger),
		cache,
		recorder,
		cfg.Postgres.SaveRuns,
		logger,
	)
	app.exporter = core.NewExporter(gdalio.NewGeoTIFFWriter(), plotting.NewScatterPlotter(), logger).
		RegisterTable("csv", csvio.NewWriter()).
		RegisterTable("shp", gdalio.NewShapefileWriter()).
		RegisterTable("geojson", geojsonio.NewWriter())
	return app, nil
}

// handler строит HTTP-обработчики поверх фонового исполнителя.
func (a *application) handler() *api.Handler {
	worker := core.NewWorker(a.service, a.session, a.logger)
	h := api.NewHandler(a.session, worker, a.service, a.exporter,
		a.cfg.RunOptions(), a.cfg.ExportOptions(""), a.logger)
	for name, f := range a.sources {
		h.RegisterSource(name, f)
	}
	if a.mlClient != nil {
		h.WithModels(a.mlClient)
	}
	return h
}

// Close закрывает соединения в обратном порядке.
func (a *application) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
