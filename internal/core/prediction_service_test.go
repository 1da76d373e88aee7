package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/test"

	"sdb_service/internal/core/parallel"
	"sdb_service/internal/domain/model"
	"sdb_service/internal/domain/repository"
)

type countingRecorder struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (r *countingRecorder) SaveRun(_ context.Context, result *model.PredictionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, result.RunID)
	return r.err
}

func newTestService(cache repository.RunCache, recorder repository.RunRecorder) *PredictionService {
	return NewPredictionService(
		NewSpatialAligner(nil),
		NewRegressionEngine(nil, zap.NewNop()),
		cache, recorder, recorder != nil, zap.NewNop())
}

func snapshotOf(t *testing.T, r *model.Raster, s *model.PointSample) Snapshot {
	t.Helper()
	table, err := Unravel(r)
	test.That(t, err, test.ShouldBeNil)
	return Snapshot{Raster: r, Table: table, Sample: s}
}

func TestRunLinearEndToEnd(t *testing.T) {
	r := gridRaster(10, 10, "EPSG:32648")
	snap := snapshotOf(t, r, pointSample(r, 2))
	cache := repository.NewMemoryRunCache()
	recorder := &countingRecorder{}
	svc := newTestService(cache, recorder)

	for _, mode := range []model.EvaluationMode{model.EvalSampleGrid, model.EvalRecalculate} {
		opts := defaultTestOptions()
		opts.Evaluation = mode

		var events []model.ProgressEvent
		result, err := svc.Run(context.Background(), "", snap, opts, func(ev model.ProgressEvent) {
			events = append(events, ev)
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.RunID, test.ShouldNotBeEmpty)
		test.That(t, result.Metrics.R2, test.ShouldBeGreaterThan, 0.99)
		test.That(t, result.Metrics.RMSE, test.ShouldBeLessThan, 1e-6)

		test.That(t, events, test.ShouldHaveLength, 6)
		messages := make([]string, len(events))
		for i, ev := range events {
			messages[i] = ev.Message
		}
		test.That(t, messages, test.ShouldResemble, []string{
			"Clipping and Reprojecting...",
			"Depth Filtering...",
			"Split Train and Test...",
			"Modeling...",
			"Evaluating...",
			"Done.",
		})
		test.That(t, result.Events, test.ShouldResemble, events)

		test.That(t, result.Grid.Width, test.ShouldEqual, 10)
		test.That(t, result.Grid.BandNames, test.ShouldResemble, []string{"original"})
		test.That(t, result.Grid.CRS, test.ShouldEqual, "EPSG:32648")
		test.That(t, result.Prediction, test.ShouldHaveLength, 100)
		test.That(t, result.Prediction[23], test.ShouldAlmostEqual, linearDepth(3, 2), 1e-9)

		test.That(t, result.Train.Len(), test.ShouldEqual, 37)
		test.That(t, result.Test.Len(), test.ShouldEqual, 13)
		test.That(t, result.Train.PredictedColumn, test.ShouldEqual, "z_predict")
		test.That(t, result.Test.PredictedColumn, test.ShouldEqual, "z_validate")
		test.That(t, result.Test.Predicted, test.ShouldResemble, result.TestPrediction)
		test.That(t, result.Runtimes.Total, test.ShouldBeGreaterThanOrEqualTo, time.Duration(0))

		cached, err := svc.Summary(context.Background(), result.RunID)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cached.Evaluation, test.ShouldEqual, mode)
		test.That(t, cached.TestCount, test.ShouldEqual, 13)
	}
	test.That(t, recorder.saved, test.ShouldHaveLength, 2)
}

func TestRunKeepsSessionSampleUntouched(t *testing.T) {
	r := gridRaster(10, 10, "")
	s := pointSample(r, 2)
	opts := defaultTestOptions()
	opts.Direction = model.DepthDown

	_, err := newTestService(nil, nil).Run(context.Background(), "run-1", snapshotOf(t, r, s), opts, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Points[0].Attributes["depth"], test.ShouldEqual, linearDepth(0, 0))
}

func TestRunIgnoresPersistenceFailures(t *testing.T) {
	r := gridRaster(10, 10, "")
	recorder := &countingRecorder{err: errors.New("connection refused")}

	result, err := newTestService(nil, recorder).Run(context.Background(), "run-2", snapshotOf(t, r, pointSample(r, 2)), defaultTestOptions(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.RunID, test.ShouldEqual, "run-2")
	test.That(t, recorder.saved, test.ShouldResemble, []string{"run-2"})
}

func TestRunPrerequisites(t *testing.T) {
	r := gridRaster(10, 10, "")
	s := pointSample(r, 2)
	svc := newTestService(nil, nil)
	ctx := context.Background()

	_, err := svc.Run(ctx, "", Snapshot{Sample: s}, defaultTestOptions(), nil)
	test.That(t, errors.Is(err, model.ErrMissingPrerequisite), test.ShouldBeTrue)

	_, err = svc.Run(ctx, "", Snapshot{Raster: r}, defaultTestOptions(), nil)
	test.That(t, errors.Is(err, model.ErrMissingPrerequisite), test.ShouldBeTrue)

	opts := defaultTestOptions()
	opts.Jobs = 0
	var events int
	_, err = svc.Run(ctx, "", snapshotOf(t, r, s), opts, func(model.ProgressEvent) { events++ })
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, events, test.ShouldEqual, 0)

	opts = defaultTestOptions()
	opts.Evaluation = "guess"
	_, err = svc.Run(ctx, "", snapshotOf(t, r, s), opts, nil)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestRunSampleOutsideImage(t *testing.T) {
	r := gridRaster(10, 10, "")
	s := pointSample(r, 2)
	for i := range s.Points {
		s.Points[i].X += 100
	}
	_, err := newTestService(nil, nil).Run(context.Background(), "", snapshotOf(t, r, s), defaultTestOptions(), nil)
	test.That(t, errors.Is(err, model.ErrOutOfBounds), test.ShouldBeTrue)
	test.That(t, Classify(err).Title, test.ShouldEqual, "Depth sample is out of image boundary")
}

func TestRunInvalidBackendStopsAtModeling(t *testing.T) {
	r := gridRaster(10, 10, "")
	opts := defaultTestOptions()
	opts.Backend = "dask"

	var last model.Stage
	_, err := newTestService(nil, nil).Run(context.Background(), "", snapshotOf(t, r, pointSample(r, 2)), opts,
		func(ev model.ProgressEvent) { last = ev.Stage })
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, last, test.ShouldEqual, model.StageModeling)
}

func TestRunStopsBetweenStages(t *testing.T) {
	r := gridRaster(10, 10, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stages []model.Stage
	result, err := newTestService(nil, nil).Run(ctx, "", snapshotOf(t, r, pointSample(r, 2)), defaultTestOptions(),
		func(ev model.ProgressEvent) {
			stages = append(stages, ev.Stage)
			if ev.Stage == model.StageSplit {
				cancel()
			}
		})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, result, test.ShouldBeNil)
	test.That(t, stages, test.ShouldResemble, []model.Stage{model.StageClip, model.StageDepthFilter, model.StageSplit})
}

func TestRegressionEngineValidatesBeforeFitting(t *testing.T) {
	called := false
	factory := func(model.Method, map[string]any, parallel.Executor) (model.Regressor, error) {
		called = true
		return nil, errors.New("unreachable")
	}
	engine := NewRegressionEngine(factory, nil)
	r := gridRaster(4, 4, "")
	table, err := Unravel(r)
	test.That(t, err, test.ShouldBeNil)
	features, labels, err := FeaturesLabel(r, pointSample(r, 1), "depth")
	test.That(t, err, test.ShouldBeNil)

	in := PredictInput{
		Method: "knn", Backend: "spark", Jobs: 1,
		Grid: table, TrainFeatures: features, TrainLabels: labels,
	}
	_, err = engine.Predict(context.Background(), in)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, called, test.ShouldBeFalse)

	in.Backend, in.Method = "loky", "svm"
	_, err = engine.Predict(context.Background(), in)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, called, test.ShouldBeFalse)

	in.Method, in.Grid = "knn", nil
	_, err = engine.Predict(context.Background(), in)
	test.That(t, errors.Is(err, model.ErrMissingPrerequisite), test.ShouldBeTrue)
	test.That(t, called, test.ShouldBeFalse)
}

func TestRegressionEngineChunksAcrossBackends(t *testing.T) {
	r := gridRaster(9, 7, "")
	table, err := Unravel(r)
	test.That(t, err, test.ShouldBeNil)
	features, labels, err := FeaturesLabel(r, pointSample(r, 3), "depth")
	test.That(t, err, test.ShouldBeNil)

	for _, backend := range []string{"loky", "threading", "multiprocessing"} {
		engine := NewRegressionEngine(nil, nil)
		engine.chunkRows = 5
		out, err := engine.Predict(context.Background(), PredictInput{
			Method: "linear", Backend: backend, Jobs: -1,
			Grid: table, TrainFeatures: features, TrainLabels: labels,
			TestFeatures: &features,
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Prediction, test.ShouldHaveLength, 63)
		for i, v := range out.Prediction {
			test.That(t, v, test.ShouldAlmostEqual, linearDepth(i%9, i/9), 1e-9)
		}
		test.That(t, out.TestPrediction, test.ShouldHaveLength, len(labels))
	}
}

func TestTemporalAnalyzerRuntimes(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var events []model.ProgressEvent
	for i, stage := range []model.Stage{
		model.StageClip, model.StageDepthFilter, model.StageSplit,
		model.StageModeling, model.StageEvaluation, model.StageDone,
	} {
		events = append(events, model.ProgressEvent{Stage: stage, Time: start.Add(time.Duration(i*i) * time.Second)})
	}
	rt := (&TemporalAnalyzer{}).Runtimes(events)
	test.That(t, rt.Clip, test.ShouldEqual, time.Second)
	test.That(t, rt.DepthFilter, test.ShouldEqual, 3*time.Second)
	test.That(t, rt.Modeling, test.ShouldEqual, 7*time.Second)
	test.That(t, rt.Evaluation, test.ShouldEqual, 9*time.Second)
	test.That(t, rt.Total, test.ShouldEqual, 25*time.Second)

	partial := (&TemporalAnalyzer{}).Runtimes(events[:3])
	test.That(t, partial.Total, test.ShouldEqual, time.Duration(0))
}
