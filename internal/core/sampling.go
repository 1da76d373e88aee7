package core

import (
	"math"

	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// PointSampling берёт значения всех каналов в ближайшем пикселе для каждой координаты.
// При includeXY координаты сохраняются в X и Y таблицы.
func PointSampling(r *model.Raster, xs, ys []float64, includeXY bool) (model.FeatureTable, error) {
	if err := r.Validate(); err != nil {
		return model.FeatureTable{}, err
	}
	if len(xs) != len(ys) {
		return model.FeatureTable{}, errors.Wrapf(model.ErrInvalidArgument, "%d x coordinates but %d y coordinates", len(xs), len(ys))
	}
	t := model.FeatureTable{
		Columns: make([]string, r.BandCount()),
		Rows:    make([][]float64, len(xs)),
	}
	for b := range r.Bands {
		t.Columns[b] = model.BandColumn(b + 1)
	}
	for i := range xs {
		row, col, ok := r.Locate(xs[i], ys[i])
		if !ok {
			return model.FeatureTable{}, errors.Wrapf(model.ErrOutOfBounds, "point (%g, %g) is outside the raster", xs[i], ys[i])
		}
		values := make([]float64, r.BandCount())
		for b := range r.Bands {
			values[b] = r.At(b, row, col)
		}
		t.Rows[i] = values
	}
	if includeXY {
		t.X = append([]float64(nil), xs...)
		t.Y = append([]float64(nil), ys...)
	}
	return t, nil
}

// FeaturesLabel строит таблицу признаков с координатами и глубинами.
// Строки с нечисловыми значениями каналов или глубины отбрасываются.
func FeaturesLabel(r *model.Raster, s *model.PointSample, column string) (model.FeatureTable, []float64, error) {
	if s == nil {
		return model.FeatureTable{}, nil, errors.Wrap(model.ErrMissingPrerequisite, "no depth sample loaded")
	}
	if s.Len() > 0 && !s.HasDepthColumn(column) {
		return model.FeatureTable{}, nil, errors.Wrapf(model.ErrInvalidArgument, "depth column %q not found, please select headers correctly", column)
	}
	xs := make([]float64, s.Len())
	ys := make([]float64, s.Len())
	for i, p := range s.Points {
		xs[i], ys[i] = p.X, p.Y
	}
	table, err := PointSampling(r, xs, ys, true)
	if err != nil {
		return model.FeatureTable{}, nil, err
	}

	labels := make([]float64, 0, s.Len())
	keep := make([]int, 0, s.Len())
	for i := range s.Points {
		z, err := s.Float(i, column)
		if err != nil {
			return model.FeatureTable{}, nil, errors.Wrapf(err, "depth column %q at feature %d", column, i)
		}
		if !finite(z) || !allFinite(table.Rows[i]) {
			continue
		}
		keep = append(keep, i)
		labels = append(labels, z)
	}
	return table.Subset(keep), labels, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if !finite(v) {
			return false
		}
	}
	return true
}
