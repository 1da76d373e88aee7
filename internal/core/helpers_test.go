package core

import (
	"context"
	"sync"

	"sdb_service/internal/domain/model"
)

// gridRaster - растр w x h с шагом 1 и началом в (0, h); band_1 = столбец, band_2 = строка.
func gridRaster(w, h int, crs string) *model.Raster {
	r := &model.Raster{
		Width:     w,
		Height:    h,
		Bands:     [][]float64{make([]float64, w*h), make([]float64, w*h)},
		BandNames: []string{"blue", "green"},
		Transform: model.GeoTransform{0, 1, 0, float64(h), 0, -1},
		CRS:       crs,
	}
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			r.Bands[0][row*w+col] = float64(col)
			r.Bands[1][row*w+col] = float64(row)
		}
	}
	return r
}

// linearDepth - глубина, линейно зависящая от каналов gridRaster.
func linearDepth(col, row int) float64 {
	return -(0.5*float64(col) + 0.8*float64(row) + 1)
}

// pointSample ставит точку в центр каждого step-го пикселя растра.
func pointSample(r *model.Raster, step int) *model.PointSample {
	s := &model.PointSample{
		CRS: r.CRS,
		Fields: []model.Field{
			{Name: "depth", Kind: model.FieldNumeric},
			{Name: "zone", Kind: model.FieldString},
		},
	}
	for i := 0; i < r.Width*r.Height; i += step {
		row, col := i/r.Width, i%r.Width
		x, y := r.PixelCenter(row, col)
		zone := "north"
		if row >= r.Height/2 {
			zone = "south"
		}
		s.Points = append(s.Points, model.SamplePoint{
			X:            x,
			Y:            y,
			GeometryType: model.GeometryPoint,
			Attributes:   map[string]any{"depth": linearDepth(col, row), "zone": zone},
		})
	}
	return s
}

func defaultTestOptions() model.RunOptions {
	opts := model.DefaultRunOptions()
	opts.DepthColumn = "depth"
	opts.DepthLimit.Disabled = true
	opts.Method = "linear"
	opts.Jobs = 2
	opts.Split.RandomState = 42
	return opts
}

type fakeRasterReader struct {
	raster *model.Raster
	err    error
}

func (f fakeRasterReader) ReadRaster(context.Context, string) (*model.Raster, error) {
	return f.raster, f.err
}

type fakeSampleReader struct {
	sample *model.PointSample
	err    error
}

func (f fakeSampleReader) ReadSample(context.Context, string) (*model.PointSample, error) {
	if f.sample == nil {
		return nil, f.err
	}
	return f.sample.Clone(), f.err
}

type memoryRasterWriter struct {
	mu      sync.Mutex
	written map[string]*model.Raster
}

func (w *memoryRasterWriter) WriteRaster(_ context.Context, path string, r *model.Raster) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.written == nil {
		w.written = make(map[string]*model.Raster)
	}
	w.written[path] = r
	return nil
}

type memoryTableWriter struct {
	tables map[string]model.ResultTable
	crs    string
}

func (w *memoryTableWriter) WriteTable(_ context.Context, path string, t model.ResultTable, crs string) error {
	if w.tables == nil {
		w.tables = make(map[string]model.ResultTable)
	}
	w.tables[path] = t
	w.crs = crs
	return nil
}

type recordingPlotter struct {
	path      string
	actual    []float64
	predicted []float64
	title     string
}

func (p *recordingPlotter) ScatterPlot(path string, actual, predicted []float64, title string) error {
	p.path, p.actual, p.predicted, p.title = path, actual, predicted, title
	return nil
}

// offsetProjector сдвигает координаты на (dx, dy) и считает вызовы.
type offsetProjector struct {
	dx, dy float64
	calls  int
}

func (p *offsetProjector) Transform(_ context.Context, _, _ string, xs, ys []float64) error {
	p.calls++
	for i := range xs {
		xs[i] += p.dx
		ys[i] += p.dy
	}
	return nil
}
