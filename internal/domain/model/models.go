package model

import "time"

// Stage - этап конвейера, о котором сообщает событие прогресса.
type Stage int

const (
	StageClip Stage = iota
	StageDepthFilter
	StageSplit
	StageModeling
	StageEvaluation
	StageDone
)

var stageMessages = [...]string{
	"Clipping and Reprojecting...",
	"Depth Filtering...",
	"Split Train and Test...",
	"Modeling...",
	"Evaluating...",
	"Done.",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageMessages) {
		return "Unknown stage"
	}
	return stageMessages[s]
}

type ProgressEvent struct {
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

type Metrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

type Runtimes struct {
	Clip        time.Duration `json:"clip"`
	DepthFilter time.Duration `json:"depth_filter"`
	Split       time.Duration `json:"split"`
	Modeling    time.Duration `json:"modeling"`
	Evaluation  time.Duration `json:"evaluation"`
	Total       time.Duration `json:"total"`
}

// PredictionResult - результат одного запуска конвейера.
type PredictionResult struct {
	RunID          string          `json:"run_id"`
	Options        RunOptions      `json:"options"`
	Grid           *Raster         `json:"-"`
	Prediction     []float64       `json:"-"`
	TestPrediction []float64       `json:"-"`
	Metrics        Metrics         `json:"metrics"`
	Train          ResultTable     `json:"-"`
	Test           ResultTable     `json:"-"`
	Events         []ProgressEvent `json:"events"`
	Runtimes       Runtimes        `json:"runtimes"`
}

// RunSummary - компактное описание запуска для кеша и журнала.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	Method     string          `json:"method"`
	Backend    string          `json:"backend"`
	Jobs       int             `json:"jobs"`
	Evaluation EvaluationMode  `json:"evaluation"`
	TrainCount int             `json:"train_count"`
	TestCount  int             `json:"test_count"`
	Metrics    Metrics         `json:"metrics"`
	Runtimes   Runtimes        `json:"runtimes"`
	Events     []ProgressEvent `json:"events"`
	FinishedAt time.Time       `json:"finished_at"`
}

func (r *PredictionResult) Summary() RunSummary {
	s := RunSummary{
		RunID:      r.RunID,
		Method:     r.Options.Method,
		Backend:    r.Options.Backend,
		Jobs:       r.Options.Jobs,
		Evaluation: r.Options.Evaluation,
		TrainCount: r.Train.Len(),
		TestCount:  r.Test.Len(),
		Metrics:    r.Metrics,
		Runtimes:   r.Runtimes,
		Events:     r.Events,
	}
	if n := len(r.Events); n > 0 {
		s.FinishedAt = r.Events[n-1].Time
	}
	return s
}
