package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sdb_service/internal/domain/model"
)

type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
	StateDone    RunState = "done"
	StateFailed  RunState = "failed"
	StateStopped RunState = "stopped"
)

// Warning - сообщение оператору об ошибке запуска.
type Warning struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	// Clear - накопленный прогресс и результаты нужно сбросить
	Clear bool `json:"clear"`
}

// Classify сопоставляет ошибке вид и понятное оператору сообщение.
func Classify(err error) Warning {
	w := Warning{Message: err.Error(), Clear: true}
	switch {
	case errors.Is(err, model.ErrGeometryType):
		w.Kind, w.Title = "geometry_type", "Your data is not Point type. Please load another data!"
	case errors.Is(err, model.ErrOutOfBounds):
		w.Kind, w.Title = "out_of_bounds", "Depth sample is out of image boundary"
	case errors.Is(err, model.ErrMissingPrerequisite):
		w.Kind, w.Title = "missing_prerequisite", "Missing input or selection"
		if isAttributeSelection(err) {
			w.Title = "Please select attribute header and group in Processing Options"
		}
	case errors.Is(err, model.ErrInvalidArgument):
		w.Kind, w.Title = "invalid_argument", "Invalid processing option"
	case errors.Is(err, model.ErrIO):
		w.Kind, w.Title = "io", "Failed to read or write data"
	default:
		w.Kind, w.Title = "unexpected", "Unexpected error"
	}
	return w
}

func isAttributeSelection(err error) bool {
	var sel *selectionError
	return errors.As(err, &sel)
}

type Callbacks struct {
	OnProgress func(runID string, ev model.ProgressEvent)
	OnResult   func(result *model.PredictionResult)
	OnWarning  func(runID string, w Warning)
}

// Status - состояние текущего или последнего запуска.
type Status struct {
	RunID   string                `json:"run_id,omitempty"`
	State   RunState              `json:"state"`
	Events  []model.ProgressEvent `json:"events"`
	Warning *Warning              `json:"warning,omitempty"`
	Summary *model.RunSummary     `json:"summary,omitempty"`
}

// Worker выполняет не больше одного запуска конвейера одновременно в фоне.
type Worker struct {
	service *PredictionService
	session *Session
	logger  *zap.Logger

	// startMu делает остановку предыдущего запуска и старт нового атомарными
	startMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

func NewWorker(service *PredictionService, session *Session, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		service: service,
		session: session,
		logger:  logger,
		status:  Status{State: StateIdle},
	}
}

// Start останавливает предыдущий запуск и начинает новый на снимке сессии.
func (w *Worker) Start(opts model.RunOptions, cb Callbacks) string {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	w.Stop()

	runID := uuid.NewString()
	snap := w.session.Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel, w.done = cancel, done
	w.status = Status{RunID: runID, State: StateRunning}
	w.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		w.run(ctx, runID, snap, opts, cb)
	}()
	return runID
}

func (w *Worker) run(ctx context.Context, runID string, snap Snapshot, opts model.RunOptions, cb Callbacks) {
	w.logger.Info("prediction started", zap.String("run_id", runID), zap.String("method", opts.Method))

	progress := func(ev model.ProgressEvent) {
		w.mu.Lock()
		if w.status.RunID == runID {
			w.status.Events = append(w.status.Events, ev)
		}
		w.mu.Unlock()
		if cb.OnProgress != nil {
			cb.OnProgress(runID, ev)
		}
	}

	result, err := w.service.Run(ctx, runID, snap, opts, progress)
	switch {
	case err == nil:
		w.session.SetResult(result)
		summary := result.Summary()
		w.setState(runID, StateDone, nil, &summary)
		if cb.OnResult != nil {
			cb.OnResult(result)
		}
	case errors.Is(err, context.Canceled):
		w.logger.Info("prediction stopped", zap.String("run_id", runID))
		w.setState(runID, StateStopped, nil, nil)
	default:
		warning := Classify(err)
		w.logger.Warn("prediction failed",
			zap.String("run_id", runID),
			zap.String("kind", warning.Kind),
			zap.Error(err))
		w.setState(runID, StateFailed, &warning, nil)
		if cb.OnWarning != nil {
			cb.OnWarning(runID, warning)
		}
	}
}

// setState обновляет состояние, только если runID всё ещё текущий запуск.
func (w *Worker) setState(runID string, state RunState, warning *Warning, summary *model.RunSummary) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.RunID != runID {
		return
	}
	w.status.State = state
	w.status.Warning = warning
	w.status.Summary = summary
	if warning != nil && warning.Clear {
		w.status.Events = nil
	}
}

// Stop отменяет текущий запуск и ждёт его завершения.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait ждёт завершения текущего запуска.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.status
	st.Events = append([]model.ProgressEvent(nil), w.status.Events...)
	return st
}
