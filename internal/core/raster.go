package core

import (
	"math"

	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// Unravel разворачивает каналы растра в таблицу: строка на пиксель в построчном порядке.
// Бесконечности сначала становятся NaN, затем все NaN заменяются на model.InvalidPixelValue.
func Unravel(r *model.Raster) (*model.BandTable, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	n := r.Width * r.Height
	t := &model.BandTable{
		Columns: make([]string, r.BandCount()),
		Rows:    make([][]float64, n),
	}
	for b := range r.Bands {
		t.Columns[b] = model.BandColumn(b + 1)
	}
	values := make([]float64, n*r.BandCount())
	for i := 0; i < n; i++ {
		row := values[i*r.BandCount() : (i+1)*r.BandCount() : (i+1)*r.BandCount()]
		for b, band := range r.Bands {
			v := band[i]
			if math.IsInf(v, 0) {
				v = math.NaN()
			}
			if math.IsNaN(v) {
				v = model.InvalidPixelValue
			}
			row[b] = v
		}
		t.Rows[i] = row
	}
	return t, nil
}

// ReshapeToGrid превращает плоский вектор предсказаний обратно в сетку Height x Width.
func ReshapeToGrid(flat []float64, r *model.Raster) ([][]float64, error) {
	if r == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no reference raster")
	}
	if len(flat) != r.Width*r.Height {
		return nil, errors.Wrapf(model.ErrInvalidArgument,
			"prediction has %d values, raster has %dx%d pixels", len(flat), r.Width, r.Height)
	}
	grid := make([][]float64, r.Height)
	for row := range grid {
		grid[row] = append([]float64(nil), flat[row*r.Width:(row+1)*r.Width]...)
	}
	return grid, nil
}

// ArrayToGeoRaster оборачивает сетку в одноканальный растр с привязкой эталона.
// Система координат копируется, только если она есть у эталона.
func ArrayToGeoRaster(grid [][]float64, ref *model.Raster, label string) (*model.Raster, error) {
	if ref == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no reference raster")
	}
	if len(grid) != ref.Height {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "grid has %d rows, raster has %d", len(grid), ref.Height)
	}
	band := make([]float64, 0, ref.Width*ref.Height)
	for i, row := range grid {
		if len(row) != ref.Width {
			return nil, errors.Wrapf(model.ErrInvalidArgument, "grid row %d has %d columns, raster has %d", i, len(row), ref.Width)
		}
		band = append(band, row...)
	}
	out := &model.Raster{
		Width:     ref.Width,
		Height:    ref.Height,
		Bands:     [][]float64{band},
		BandNames: []string{label},
		Transform: ref.Transform,
	}
	if ref.CRS != "" {
		out.CRS = ref.CRS
	}
	return out, nil
}

// Reconstruct собирает растр предсказания из плоского вектора.
func Reconstruct(flat []float64, ref *model.Raster, label string) (*model.Raster, error) {
	grid, err := ReshapeToGrid(flat, ref)
	if err != nil {
		return nil, err
	}
	return ArrayToGeoRaster(grid, ref, label)
}
