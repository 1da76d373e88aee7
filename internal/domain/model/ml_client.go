package model

import "context"

// Regressor - контракт оценщика: обучение на таблице признаков и предсказание.
type Regressor interface {
	// Fit обучает модель на строках X и метках y
	Fit(ctx context.Context, X [][]float64, y []float64) error

	// Predict возвращает по одному значению на строку X
	Predict(ctx context.Context, X [][]float64) ([]float64, error)
}

// Projector перепроецирует координаты из одной системы в другую на месте.
type Projector interface {
	Transform(ctx context.Context, srcCRS, dstCRS string, xs, ys []float64) error
}

type RasterReader interface {
	ReadRaster(ctx context.Context, path string) (*Raster, error)
}

type SampleReader interface {
	ReadSample(ctx context.Context, path string) (*PointSample, error)
}

type RasterWriter interface {
	WriteRaster(ctx context.Context, path string, r *Raster) error
}

type TableWriter interface {
	WriteTable(ctx context.Context, path string, t ResultTable, crs string) error
}

type ScatterPlotter interface {
	ScatterPlot(path string, actual, predicted []float64, title string) error
}
