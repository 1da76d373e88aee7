package core

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sdb_service/internal/domain/model"
)

const (
	labelFiltered      = "filtered"
	defaultTableFormat = "csv"
)

// Exporter сохраняет растр предсказания, таблицы точек и диаграмму рассеяния.
type Exporter struct {
	gridWriter   model.RasterWriter
	tableWriters map[string]model.TableWriter
	plotter      model.ScatterPlotter
	logger       *zap.Logger
}

func NewExporter(gridWriter model.RasterWriter, plotter model.ScatterPlotter, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		gridWriter:   gridWriter,
		tableWriters: make(map[string]model.TableWriter),
		plotter:      plotter,
		logger:       logger,
	}
}

// RegisterTable связывает формат таблицы (csv, shp, geojson) с записью.
func (e *Exporter) RegisterTable(format string, w model.TableWriter) *Exporter {
	e.tableWriters[strings.ToLower(format)] = w
	return e
}

// Export записывает результаты рядом с opts.Path и возвращает список файлов.
// Исходный результат не изменяется.
func (e *Exporter) Export(ctx context.Context, result *model.PredictionResult, opts model.ExportOptions) ([]string, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.Wrap(model.ErrInvalidArgument, "please insert save location")
	}
	if result == nil || result.Grid == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no prediction result, run processing first")
	}
	if opts.MedianFilterSize != 0 {
		if err := CheckMedianFilterSize(opts.MedianFilterSize); err != nil {
			return nil, err
		}
	}
	direction := model.DepthUp
	if opts.Direction != "" {
		d, err := model.ParseDepthDirection(string(opts.Direction))
		if err != nil {
			return nil, err
		}
		direction = d
	}
	format := strings.ToLower(opts.TableFormat)
	if format == "" {
		format = defaultTableFormat
	}
	tableWriter, ok := e.tableWriters[format]
	if !ok {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "table format %q is not supported", opts.TableFormat)
	}

	grid, err := e.prepareGrid(result.Grid, opts, direction)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(opts.Path, filepath.Ext(opts.Path))
	var files []string

	if opts.SaveGrid {
		if e.gridWriter == nil {
			return nil, errors.Wrap(model.ErrMissingPrerequisite, "no raster writer configured")
		}
		if err := e.gridWriter.WriteRaster(ctx, opts.Path, grid); err != nil {
			return nil, err
		}
		files = append(files, opts.Path)
	}

	ext := tableExtension(format)
	crs := result.Grid.CRS
	train := orient(result.Train, direction)
	test := orient(result.Test, direction)
	if opts.SaveTables {
		for _, part := range []struct {
			path  string
			table model.ResultTable
		}{
			{base + "_train" + ext, train},
			{base + "_test" + ext, test},
		} {
			if err := ctx.Err(); err != nil {
				return files, err
			}
			if err := tableWriter.WriteTable(ctx, part.path, part.table, crs); err != nil {
				return files, err
			}
			files = append(files, part.path)
		}
	}

	if opts.ScatterPlot {
		if e.plotter == nil {
			return files, errors.Wrap(model.ErrMissingPrerequisite, "no plotter configured")
		}
		path := base + "_scatter_plot.png"
		title := "RMSE: " + formatMetric(result.Metrics.RMSE) + ", R²: " + formatMetric(result.Metrics.R2)
		if err := e.plotter.ScatterPlot(path, test.Z, test.Predicted, title); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	e.logger.Info("results exported",
		zap.String("run_id", result.RunID),
		zap.Strings("files", files),
		zap.Int("median_filter", opts.MedianFilterSize),
		zap.String("direction", string(direction)))
	return files, nil
}

// prepareGrid применяет окно глубин, медианный фильтр и направление к копии растра.
func (e *Exporter) prepareGrid(src *model.Raster, opts model.ExportOptions, direction model.DepthDirection) (*model.Raster, error) {
	grid := src.Clone()
	if w := opts.DepthLimit; w != nil && !w.Disabled {
		for b := range grid.Bands {
			grid.Bands[b] = OutDepthFilter(grid.Bands[b], w.Upper, w.Lower)
		}
	}
	if opts.MedianFilterSize != 0 {
		filtered, err := MedianFilter(grid, opts.MedianFilterSize, labelFiltered)
		if err != nil {
			return nil, err
		}
		grid = filtered
	}
	if direction == model.DepthDown {
		for _, band := range grid.Bands {
			negate(band)
		}
	}
	return grid, nil
}

// orient копирует таблицу и меняет знак глубин для направления "вниз".
func orient(t model.ResultTable, direction model.DepthDirection) model.ResultTable {
	out := t
	out.Z = append([]float64(nil), t.Z...)
	if t.Predicted != nil {
		out.Predicted = append([]float64(nil), t.Predicted...)
	}
	if direction == model.DepthDown {
		negate(out.Z)
		negate(out.Predicted)
	}
	return out
}

func negate(values []float64) {
	for i := range values {
		values[i] = -values[i]
	}
}

func tableExtension(format string) string {
	switch format {
	case "shp":
		return ".shp"
	case "geojson":
		return ".geojson"
	default:
		return ".csv"
	}
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
