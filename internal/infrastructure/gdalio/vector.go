package gdalio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// OGRReader читает первый слой векторного файла (Shapefile, GeoPackage и т.п.).
type OGRReader struct{}

func NewOGRReader() *OGRReader {
	return &OGRReader{}
}

func (OGRReader) ReadSample(ctx context.Context, path string) (*model.PointSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(model.ErrIO, err.Error())
	}

	gdalMu.Lock()
	defer gdalMu.Unlock()

	ds := gdal.OpenDataSource(path, 0)
	defer ds.Destroy()
	// файл есть, но OGR его не распознал: повреждён или не векторный
	if ds.LayerCount() == 0 {
		return nil, errors.Wrapf(model.ErrGeometryType, "%s is not a readable vector dataset", path)
	}
	layer := ds.LayerByIndex(0)
	layer.ResetReading()

	def := layer.Definition()
	fields := make([]model.Field, def.FieldCount())
	for i := range fields {
		fd := def.FieldDefinition(i)
		fields[i] = model.Field{Name: fd.Name(), Kind: fieldKind(fd.Type())}
	}

	sample := &model.PointSample{Fields: fields}
	if sr := layer.SpatialReference(); sr != (gdal.SpatialReference{}) {
		if wkt, err := sr.ToWKT(); err == nil {
			sample.CRS = crsName(wkt)
		}
	}

	for feature := layer.NextFeature(); feature != nil; feature = layer.NextFeature() {
		sample.Points = append(sample.Points, readFeature(feature, fields))
		feature.Destroy()
	}
	return sample, nil
}

func readFeature(f *gdal.Feature, fields []model.Field) model.SamplePoint {
	attrs := make(map[string]any, len(fields))
	for i, field := range fields {
		if !f.IsFieldSet(i) {
			attrs[field.Name] = nil
			continue
		}
		switch field.Kind {
		case model.FieldNumeric:
			attrs[field.Name] = f.FieldAsFloat64(i)
		default:
			attrs[field.Name] = f.FieldAsString(i)
		}
	}

	p := model.SamplePoint{Attributes: attrs}
	geom := f.Geometry()
	if geom.IsEmpty() {
		p.GeometryType = "None"
		return p
	}
	p.GeometryType = geometryName(geom.Type())
	p.X, p.Y = geom.X(0), geom.Y(0)
	if geom.CoordinateDimension() > 2 {
		p.Z, p.HasZ = geom.Z(0), true
	}
	return p
}

func fieldKind(t gdal.FieldType) model.FieldKind {
	switch t {
	case gdal.FT_Integer, gdal.FT_Integer64, gdal.FT_Real:
		return model.FieldNumeric
	case gdal.FT_String:
		return model.FieldString
	default:
		return model.FieldOther
	}
}

func geometryName(t gdal.GeometryType) string {
	switch t {
	case gdal.GT_Point, gdal.GT_Point25D:
		return model.GeometryPoint
	case gdal.GT_MultiPoint, gdal.GT_MultiPoint25D:
		return "MultiPoint"
	case gdal.GT_LineString, gdal.GT_LineString25D:
		return "LineString"
	case gdal.GT_Polygon, gdal.GT_Polygon25D:
		return "Polygon"
	case gdal.GT_MultiPolygon, gdal.GT_MultiPolygon25D:
		return "MultiPolygon"
	default:
		return fmt.Sprintf("GeometryType(%d)", int(t))
	}
}

// ShapefileWriter пишет таблицу результата точечным слоем ESRI Shapefile.
type ShapefileWriter struct{}

func NewShapefileWriter() *ShapefileWriter {
	return &ShapefileWriter{}
}

func (ShapefileWriter) WriteTable(ctx context.Context, path string, t model.ResultTable, crs string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header := t.Header()

	gdalMu.Lock()
	defer gdalMu.Unlock()

	driver := gdal.OGRDriverByName("ESRI Shapefile")
	ds, ok := driver.Create(path, []string{})
	if !ok {
		return errors.Wrapf(model.ErrIO, "failed to create %s", path)
	}
	defer ds.Destroy()

	sr := gdal.CreateSpatialReference("")
	defer sr.Destroy()
	if crs != "" {
		wkt, err := toWKT(crs)
		if err != nil {
			return err
		}
		if err := sr.FromWKT(wkt); err != nil {
			return errors.Wrap(model.ErrIO, err.Error())
		}
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	layer := ds.CreateLayer(name, sr, gdal.GT_Point, []string{})
	for _, column := range header {
		fd := gdal.CreateFieldDefinition(shapefileField(column), gdal.FT_Real)
		err := layer.CreateField(fd, false)
		fd.Destroy()
		if err != nil {
			return errors.Wrapf(model.ErrIO, "failed to create field %s: %v", column, err)
		}
	}

	def := layer.Definition()
	for i := 0; i < t.Len(); i++ {
		feature := def.Create()
		for j, v := range t.Record(i) {
			feature.SetFieldFloat64(j, v)
		}
		geom := gdal.Create(gdal.GT_Point)
		geom.SetPoint2D(0, t.X[i], t.Y[i])
		err := feature.SetGeometry(geom)
		if err == nil {
			err = layer.Create(feature)
		}
		geom.Destroy()
		feature.Destroy()
		if err != nil {
			return errors.Wrapf(model.ErrIO, "failed to write feature %d: %v", i, err)
		}
	}
	return nil
}

// shapefileField укорачивает имя столбца до 10 символов dBase.
func shapefileField(name string) string {
	if len(name) > 10 {
		return name[:10]
	}
	return name
}
