package model

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type DepthDirection string

const (
	DepthUp   DepthDirection = "up"
	DepthDown DepthDirection = "down"
)

func ParseDepthDirection(s string) (DepthDirection, error) {
	switch DepthDirection(strings.ToLower(strings.TrimSpace(s))) {
	case DepthUp:
		return DepthUp, nil
	case DepthDown:
		return DepthDown, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "depth direction %q, allowed: up, down", s)
}

type SplitStrategy string

const (
	SplitRandom    SplitStrategy = "random"
	SplitAttribute SplitStrategy = "attribute"
)

func ParseSplitStrategy(s string) (SplitStrategy, error) {
	switch SplitStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case SplitRandom, "":
		return SplitRandom, nil
	case SplitAttribute:
		return SplitAttribute, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "split strategy %q, allowed: random, attribute", s)
}

// EvaluationMode определяет, чем предсказываются тестовые точки.
type EvaluationMode string

const (
	// EvalSampleGrid берёт значения уже восстановленного растра предсказания в тестовых точках.
	EvalSampleGrid EvaluationMode = "sample_grid"
	// EvalRecalculate заново предсказывает признаки тестовых точек.
	EvalRecalculate EvaluationMode = "recalculate"
)

func ParseEvaluationMode(s string) (EvaluationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(EvalSampleGrid), "use current prediction":
		return EvalSampleGrid, nil
	case string(EvalRecalculate), "recalculate from test data":
		return EvalRecalculate, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "evaluation mode %q, allowed: sample_grid, recalculate", s)
}

type Method string

const (
	MethodKNN          Method = "knn"
	MethodLinear       Method = "linear"
	MethodRandomForest Method = "rf"
)

var methodAliases = map[string]Method{
	"knn":                        MethodKNN,
	"k_nearest_neighbors":        MethodKNN,
	"k-nearest neighbors":        MethodKNN,
	"mlr":                        MethodLinear,
	"linear":                     MethodLinear,
	"linear_regression":          MethodLinear,
	"multiple linear regression": MethodLinear,
	"rf":                         MethodRandomForest,
	"random_forest":              MethodRandomForest,
	"random forest":              MethodRandomForest,
}

// MethodNames возвращает все допустимые имена методов.
func MethodNames() []string {
	names := make([]string, 0, len(methodAliases))
	for n := range methodAliases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func ParseMethod(s string) (Method, error) {
	if m, ok := methodAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "unknown model %q, allowed: %s", s, strings.Join(MethodNames(), ", "))
}

type Backend string

const (
	BackendLoky            Backend = "loky"
	BackendThreading       Backend = "threading"
	BackendMultiprocessing Backend = "multiprocessing"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendLoky, BackendThreading, BackendMultiprocessing:
		return b, nil
	}
	return "", errors.Wrapf(ErrInvalidArgument, "backend %q, allowed: loky, threading, multiprocessing", s)
}

// DepthWindow - окно допустимых глубин.
type DepthWindow struct {
	Disabled bool    `json:"disabled" mapstructure:"disabled"`
	Upper    float64 `json:"upper" mapstructure:"upper"`
	Lower    float64 `json:"lower" mapstructure:"lower"`
}

type SplitOptions struct {
	Strategy    SplitStrategy `json:"strategy" mapstructure:"strategy"`
	TrainSize   float64       `json:"train_size" mapstructure:"train_size"`
	RandomState int64         `json:"random_state" mapstructure:"random_state"`
	GroupColumn string        `json:"group_column" mapstructure:"group_column"`
	GroupValue  string        `json:"group_value" mapstructure:"group_value"`
}

// RunOptions - параметры одного запуска конвейера.
// Method и Backend остаются строками: их проверяет движок регрессии.
type RunOptions struct {
	DepthColumn string         `json:"depth_column"`
	Direction   DepthDirection `json:"direction"`
	DepthLimit  DepthWindow    `json:"depth_limit"`
	Split       SplitOptions   `json:"split"`
	Method      string         `json:"method"`
	Params      map[string]any `json:"params,omitempty"`
	Backend     string         `json:"backend"`
	Jobs        int            `json:"jobs"`
	Evaluation  EvaluationMode `json:"evaluation"`
}

// DefaultRunOptions - параметры запуска по умолчанию.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Direction:  DepthUp,
		DepthLimit: DepthWindow{Upper: 0, Lower: -15},
		Split:      SplitOptions{Strategy: SplitRandom, TrainSize: 0.75},
		Method:     string(MethodKNN),
		Backend:    string(BackendThreading),
		Jobs:       -2,
		Evaluation: EvalSampleGrid,
	}
}

// ExportOptions - параметры сохранения результатов.
type ExportOptions struct {
	// Path - путь к GeoTIFF, от него строятся имена остальных файлов.
	Path     string `json:"path"`
	SaveGrid bool   `json:"save_grid"`
	// SaveTables - писать ли таблицы обучающей и тестовой выборок.
	SaveTables       bool           `json:"save_tables"`
	MedianFilterSize int            `json:"median_filter_size"`
	Direction        DepthDirection `json:"direction"`
	DepthLimit       *DepthWindow   `json:"depth_limit,omitempty"`
	TableFormat      string         `json:"table_format"`
	ScatterPlot      bool           `json:"scatter_plot"`
}
