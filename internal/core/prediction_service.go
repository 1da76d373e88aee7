package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sdb_service/internal/domain/model"
	"sdb_service/internal/domain/repository"
)

const (
	labelOriginal   = "original"
	columnPredicted = "z_predict"
	columnValidated = "z_validate"
)

// ProgressFunc получает события этапов конвейера.
type ProgressFunc func(model.ProgressEvent)

type PredictionService struct {
	aligner     *SpatialAligner
	engine      *RegressionEngine
	cache       repository.RunCache
	runRecorder repository.RunRecorder
	saveRuns    bool
	logger      *zap.Logger
	now         func() time.Time
}

func NewPredictionService(
	aligner *SpatialAligner,
	engine *RegressionEngine,
	cache repository.RunCache,
	recorder repository.RunRecorder,
	saveRuns bool,
	logger *zap.Logger,
) *PredictionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictionService{
		aligner:     aligner,
		engine:      engine,
		cache:       cache,
		runRecorder: recorder,
		saveRuns:    saveRuns,
		logger:      logger,
		now:         time.Now,
	}
}

// Run выполняет пять этапов конвейера строго последовательно.
// Перед каждым этапом проверяется ctx: при остановке возвращается context.Canceled
// и событие "Done." не отправляется.
func (s *PredictionService) Run(
	ctx context.Context,
	runID string,
	snap Snapshot,
	opts model.RunOptions,
	progress ProgressFunc,
) (*model.PredictionResult, error) {
	if snap.Raster == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "No image data loaded. Please load image first")
	}
	if err := snap.Raster.Validate(); err != nil {
		return nil, err
	}
	if snap.Sample == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "No depth sample loaded. Please load sample first")
	}
	if opts.Jobs == 0 {
		return nil, errors.Wrap(model.ErrInvalidArgument, "n_jobs == 0 has no meaning")
	}
	evalMode, err := model.ParseEvaluationMode(string(opts.Evaluation))
	if err != nil {
		return nil, err
	}
	opts.Evaluation = evalMode
	if runID == "" {
		runID = uuid.NewString()
	}
	table := snap.Table
	if table == nil {
		if table, err = Unravel(snap.Raster); err != nil {
			return nil, err
		}
	}

	result := &model.PredictionResult{RunID: runID, Options: opts}
	emit := func(stage model.Stage) error {
		if err := ctx.Err(); err != nil {
			return context.Canceled
		}
		ev := model.ProgressEvent{Stage: stage, Message: stage.String(), Time: s.now()}
		result.Events = append(result.Events, ev)
		if progress != nil {
			progress(ev)
		}
		return nil
	}

	// 1. перепроецирование и обрезка
	if err := emit(model.StageClip); err != nil {
		return nil, err
	}
	clipped, err := s.aligner.Clip(ctx, snap.Raster, snap.Sample)
	if err != nil {
		return nil, err
	}
	if clipped.Len() == 0 {
		return nil, errors.Wrap(model.ErrOutOfBounds, "Depth sample is out of image boundary")
	}

	// 2. фильтр глубин
	if err := emit(model.StageDepthFilter); err != nil {
		return nil, err
	}
	filtered, err := DepthFilter{}.Apply(clipped, opts.DepthColumn, opts.Direction,
		opts.DepthLimit.Disabled, opts.DepthLimit.Upper, opts.DepthLimit.Lower)
	if err != nil {
		return nil, err
	}

	// 3. разбиение
	if err := emit(model.StageSplit); err != nil {
		return nil, err
	}
	split, err := s.split(snap.Raster, filtered, opts)
	if err != nil {
		return nil, err
	}

	// 4. обучение и предсказание
	if err := emit(model.StageModeling); err != nil {
		return nil, err
	}
	in := PredictInput{
		Method:        opts.Method,
		Backend:       opts.Backend,
		Jobs:          opts.Jobs,
		Params:        opts.Params,
		Grid:          table,
		TrainFeatures: split.TrainFeatures,
		TrainLabels:   split.TrainLabels,
	}
	if evalMode == model.EvalRecalculate {
		in.TestFeatures = &split.TestFeatures
	}
	out, err := s.engine.Predict(ctx, in)
	if err != nil {
		return nil, err
	}

	// 5. оценка
	if err := emit(model.StageEvaluation); err != nil {
		return nil, err
	}
	grid, err := Reconstruct(out.Prediction, snap.Raster, labelOriginal)
	if err != nil {
		return nil, err
	}
	trainPredicted, err := sampleGrid(grid, split.TrainFeatures)
	if err != nil {
		return nil, err
	}
	testPredicted := out.TestPrediction
	if evalMode == model.EvalSampleGrid {
		if testPredicted, err = sampleGrid(grid, split.TestFeatures); err != nil {
			return nil, err
		}
	}
	metrics, err := Evaluate(split.TestLabels, testPredicted)
	if err != nil {
		return nil, err
	}

	result.Grid = grid
	result.Prediction = out.Prediction
	result.TestPrediction = testPredicted
	result.Metrics = metrics
	result.Train = model.ResultTable{
		FeatureTable:    split.TrainFeatures,
		Z:               split.TrainLabels,
		Predicted:       trainPredicted,
		PredictedColumn: columnPredicted,
	}
	result.Test = model.ResultTable{
		FeatureTable:    split.TestFeatures,
		Z:               split.TestLabels,
		Predicted:       testPredicted,
		PredictedColumn: columnValidated,
	}

	if err := emit(model.StageDone); err != nil {
		return nil, err
	}
	result.Runtimes = (&TemporalAnalyzer{}).Runtimes(result.Events)

	s.logger.Info("prediction finished",
		zap.String("run_id", runID),
		zap.String("method", opts.Method),
		zap.Int("train", split.TrainFeatures.Len()),
		zap.Int("test", split.TestFeatures.Len()),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("r2", metrics.R2),
		zap.Duration("total", result.Runtimes.Total))

	s.persist(ctx, result)
	return result, nil
}

func (s *PredictionService) split(r *model.Raster, sample *model.PointSample, opts model.RunOptions) (*model.Split, error) {
	strategy, err := model.ParseSplitStrategy(string(opts.Split.Strategy))
	if err != nil {
		return nil, err
	}
	if strategy == model.SplitAttribute {
		return SplitByAttribute(r, sample, opts.DepthColumn, opts.Split.GroupColumn, opts.Split.GroupValue)
	}
	return SplitRandom(r, sample, opts.DepthColumn, opts.Split.TrainSize, opts.Split.RandomState)
}

// sampleGrid берёт значение предсказанного растра в координатах таблицы.
func sampleGrid(grid *model.Raster, t model.FeatureTable) ([]float64, error) {
	sampled, err := PointSampling(grid, t.X, t.Y, false)
	if err != nil {
		return nil, err
	}
	out := make([]float64, sampled.Len())
	for i, row := range sampled.Rows {
		out[i] = row[0]
	}
	return out, nil
}

// persist сохраняет сводку в кеш и журнал; ошибки только логируются.
func (s *PredictionService) persist(ctx context.Context, result *model.PredictionResult) {
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		if err := s.cache.SetRunSummary(ctx, result.Summary()); err != nil {
			s.logger.Warn("failed to cache run summary", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}
	if s.saveRuns && s.runRecorder != nil {
		if err := s.runRecorder.SaveRun(ctx, result); err != nil {
			s.logger.Warn("failed to record run", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}
}

// Summary возвращает сводку запуска из кеша.
func (s *PredictionService) Summary(ctx context.Context, runID string) (*model.RunSummary, error) {
	if s.cache == nil {
		return nil, errors.Wrap(repository.ErrRunNotFound, runID)
	}
	return s.cache.GetRunSummary(ctx, runID)
}
