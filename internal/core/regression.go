package core

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sdb_service/internal/core/parallel"
	"sdb_service/internal/domain/model"
)

const defaultChunkRows = 4096

// RegressionEngine обучает регрессор и предсказывает глубину для всей сетки.
// Регрессор живёт только в пределах одного вызова Predict.
type RegressionEngine struct {
	factory   EstimatorFactory
	chunkRows int
	logger    *zap.Logger
}

func NewRegressionEngine(factory EstimatorFactory, logger *zap.Logger) *RegressionEngine {
	if factory == nil {
		factory = LocalEstimators()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegressionEngine{factory: factory, chunkRows: defaultChunkRows, logger: logger}
}

type PredictInput struct {
	Method        string
	Backend       string
	Jobs          int
	Params        map[string]any
	Grid          *model.BandTable
	TrainFeatures model.FeatureTable
	TrainLabels   []float64
	// TestFeatures предсказываются, только если заданы
	TestFeatures *model.FeatureTable
}

type PredictOutput struct {
	Prediction     []float64
	TestPrediction []float64
}

func (e *RegressionEngine) Predict(ctx context.Context, in PredictInput) (*PredictOutput, error) {
	backend, err := model.ParseBackend(in.Backend)
	if err != nil {
		return nil, err
	}
	method, err := model.ParseMethod(in.Method)
	if err != nil {
		return nil, err
	}
	if in.Grid == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no image data loaded")
	}
	if in.TrainFeatures.Len() == 0 {
		return nil, errors.Wrap(model.ErrInvalidArgument, "empty training set")
	}
	if got, want := len(in.TrainFeatures.Columns), len(in.Grid.Columns); got != want {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "training set has %d bands, image has %d", got, want)
	}
	exec, err := parallel.New(backend, in.Jobs)
	if err != nil {
		return nil, err
	}

	regressor, err := e.factory(method, in.Params, exec)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("fitting regressor",
		zap.String("method", string(method)),
		zap.String("backend", string(backend)),
		zap.Int("workers", exec.Workers()),
		zap.Int("train_samples", in.TrainFeatures.Len()))

	if err := regressor.Fit(ctx, in.TrainFeatures.Rows, in.TrainLabels); err != nil {
		return nil, errors.Wrap(err, "failed to fit regressor")
	}

	out := &PredictOutput{}
	if out.Prediction, err = e.predictChunks(ctx, exec, regressor, in.Grid.Rows); err != nil {
		return nil, errors.Wrap(err, "failed to predict image")
	}
	if in.TestFeatures != nil {
		if out.TestPrediction, err = regressor.Predict(ctx, in.TestFeatures.Rows); err != nil {
			return nil, errors.Wrap(err, "failed to predict test samples")
		}
	}
	return out, nil
}

// predictChunks делит строки на блоки и предсказывает их на исполнителе.
func (e *RegressionEngine) predictChunks(ctx context.Context, exec parallel.Executor, r model.Regressor, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	chunks := (len(rows) + e.chunkRows - 1) / e.chunkRows
	err := exec.Run(ctx, chunks, func(ctx context.Context, i int) error {
		from := i * e.chunkRows
		to := min(from+e.chunkRows, len(rows))
		pred, err := r.Predict(ctx, rows[from:to])
		if err != nil {
			return err
		}
		if len(pred) != to-from {
			return errors.Errorf("regressor returned %d values for %d rows", len(pred), to-from)
		}
		copy(out[from:to], pred)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
