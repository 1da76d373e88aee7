package gdalio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

func TestParseCRS(t *testing.T) {
	def, err := parseCRS(" epsg:32648")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, def.epsg, test.ShouldEqual, 32648)

	def, err = parseCRS(`GEOGCS["WGS 84"]`)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, def.wkt, test.ShouldEqual, `GEOGCS["WGS 84"]`)

	_, err = parseCRS("")
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	_, err = parseCRS("EPSG:abc")
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestMaskNoData(t *testing.T) {
	data := []float64{0, 1, 0, 2}
	maskNoData(data, 0)
	test.That(t, math.IsNaN(data[0]), test.ShouldBeTrue)
	test.That(t, data[1], test.ShouldEqual, 1.0)
	test.That(t, math.IsNaN(data[2]), test.ShouldBeTrue)
}

func TestShapefileField(t *testing.T) {
	test.That(t, shapefileField("z_validate"), test.ShouldEqual, "z_validate")
	test.That(t, shapefileField("depth_predicted"), test.ShouldEqual, "depth_pred")
}

func TestReadMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.tif")

	_, err := NewGeoTIFFReader().ReadRaster(context.Background(), missing)
	test.That(t, errors.Is(err, model.ErrIO), test.ShouldBeTrue)

	_, err = NewOGRReader().ReadSample(context.Background(), missing)
	test.That(t, errors.Is(err, model.ErrIO), test.ShouldBeTrue)
}

func TestReadMalformedVector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soundings.shp")
	test.That(t, os.WriteFile(path, []byte("not a shapefile at all"), 0o644), test.ShouldBeNil)

	_, err := NewOGRReader().ReadSample(context.Background(), path)
	test.That(t, errors.Is(err, model.ErrGeometryType), test.ShouldBeTrue)
	test.That(t, errors.Is(err, model.ErrIO), test.ShouldBeFalse)
}

func TestProjectorValidatesInput(t *testing.T) {
	p := NewProjector()
	err := p.Transform(context.Background(), "EPSG:4326", "EPSG:32648", []float64{1}, nil)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, p.Transform(context.Background(), "EPSG:4326", "EPSG:32648", nil, nil), test.ShouldBeNil)
}
