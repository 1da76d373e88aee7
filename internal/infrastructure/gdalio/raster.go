package gdalio

import (
	"context"
	"math"
	"os"
	"sync"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// GDAL не потокобезопасен для общих дескрипторов, операции пакета сериализуются.
var gdalMu sync.Mutex

type GeoTIFFReader struct{}

func NewGeoTIFFReader() *GeoTIFFReader {
	return &GeoTIFFReader{}
}

// ReadRaster читает все каналы файла, значения NoData заменяются на NaN.
func (GeoTIFFReader) ReadRaster(ctx context.Context, path string) (*model.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(model.ErrIO, err.Error())
	}

	gdalMu.Lock()
	defer gdalMu.Unlock()

	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, errors.Wrapf(model.ErrIO, "failed to open image %s: %v", path, err)
	}
	defer ds.Close()

	r := &model.Raster{
		Width:     ds.RasterXSize(),
		Height:    ds.RasterYSize(),
		Transform: model.GeoTransform(ds.GeoTransform()),
		CRS:       crsName(ds.Projection()),
	}
	for i := 1; i <= ds.RasterCount(); i++ {
		band := ds.RasterBand(i)
		data := make([]float64, r.Width*r.Height)
		if err := band.IO(gdal.RWFlag(gdal.Read), 0, 0, r.Width, r.Height, data, r.Width, r.Height, 0, 0); err != nil {
			return nil, errors.Wrapf(model.ErrIO, "failed to read band %d: %v", i, err)
		}
		if nodata, ok := band.NoDataValue(); ok {
			maskNoData(data, nodata)
		}
		r.Bands = append(r.Bands, data)
		r.BandNames = append(r.BandNames, model.BandColumn(i))
	}
	if err := r.Validate(); err != nil {
		return nil, errors.Wrap(model.ErrIO, err.Error())
	}
	return r, nil
}

func maskNoData(data []float64, nodata float64) {
	for i, v := range data {
		if v == nodata {
			data[i] = math.NaN()
		}
	}
}

type GeoTIFFWriter struct {
	options []string
}

func NewGeoTIFFWriter(options ...string) *GeoTIFFWriter {
	if len(options) == 0 {
		options = []string{"COMPRESS=LZW"}
	}
	return &GeoTIFFWriter{options: options}
}

// WriteRaster пишет растр как Float64 GeoTIFF, NaN помечается как NoData.
func (w *GeoTIFFWriter) WriteRaster(ctx context.Context, path string, r *model.Raster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}

	gdalMu.Lock()
	defer gdalMu.Unlock()

	driver, err := gdal.GetDriverByName("GTiff")
	if err != nil {
		return errors.Wrapf(model.ErrIO, "GTiff driver is not available: %v", err)
	}
	ds := driver.Create(path, r.Width, r.Height, r.BandCount(), gdal.Float64, w.options)
	defer ds.Close()

	if err := ds.SetGeoTransform([6]float64(r.Transform)); err != nil {
		return errors.Wrapf(model.ErrIO, "failed to set geotransform: %v", err)
	}
	if r.CRS != "" {
		wkt, err := toWKT(r.CRS)
		if err != nil {
			return err
		}
		if err := ds.SetProjection(wkt); err != nil {
			return errors.Wrapf(model.ErrIO, "failed to set projection: %v", err)
		}
	}
	for i, data := range r.Bands {
		band := ds.RasterBand(i + 1)
		if err := band.SetNoDataValue(math.NaN()); err != nil {
			return errors.Wrapf(model.ErrIO, "failed to set nodata on band %d: %v", i+1, err)
		}
		if err := band.IO(gdal.RWFlag(gdal.Write), 0, 0, r.Width, r.Height, data, r.Width, r.Height, 0, 0); err != nil {
			return errors.Wrapf(model.ErrIO, "failed to write band %d: %v", i+1, err)
		}
	}
	return nil
}
