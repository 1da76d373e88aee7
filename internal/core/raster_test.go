package core

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

func TestUnravelReplacesInvalidPixels(t *testing.T) {
	r := gridRaster(3, 2, "EPSG:32648")
	r.Bands[0][1] = math.NaN()
	r.Bands[1][4] = math.Inf(1)
	r.Bands[1][5] = math.Inf(-1)

	table, err := Unravel(r)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Columns, test.ShouldResemble, []string{"band_1", "band_2"})
	test.That(t, table.Len(), test.ShouldEqual, 6)
	test.That(t, table.Rows[1][0], test.ShouldEqual, model.InvalidPixelValue)
	test.That(t, table.Rows[4][1], test.ShouldEqual, model.InvalidPixelValue)
	test.That(t, table.Rows[5][1], test.ShouldEqual, model.InvalidPixelValue)
	// построчный порядок: пиксель 4 - строка 1, столбец 1
	test.That(t, table.Rows[4][0], test.ShouldEqual, 1.0)

	for _, row := range table.Rows {
		for _, v := range row {
			test.That(t, math.IsNaN(v) || math.IsInf(v, 0), test.ShouldBeFalse)
		}
	}

	_, err = Unravel(nil)
	test.That(t, errors.Is(err, model.ErrMissingPrerequisite), test.ShouldBeTrue)
}

func TestReconstructRoundTrip(t *testing.T) {
	r := gridRaster(4, 3, "EPSG:32648")
	flat := make([]float64, 12)
	for i := range flat {
		flat[i] = float64(i) * 1.5
	}

	grid, err := ReshapeToGrid(flat, r)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid, test.ShouldHaveLength, 3)
	test.That(t, grid[2][1], test.ShouldEqual, flat[9])

	out, err := ArrayToGeoRaster(grid, r, "original")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bands[0], test.ShouldResemble, flat)
	test.That(t, out.BandNames, test.ShouldResemble, []string{"original"})
	test.That(t, out.Transform, test.ShouldResemble, r.Transform)
	test.That(t, out.CRS, test.ShouldEqual, "EPSG:32648")

	_, err = ReshapeToGrid(flat[:11], r)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestArrayToGeoRasterWithoutCRS(t *testing.T) {
	r := gridRaster(2, 2, "")
	out, err := Reconstruct([]float64{1, 2, 3, 4}, r, "original")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.CRS, test.ShouldEqual, "")

	_, err = ArrayToGeoRaster([][]float64{{1, 2}, {3}}, r, "original")
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestRasterCloneIsIndependent(t *testing.T) {
	r := gridRaster(2, 2, "EPSG:4326")
	c := r.Clone()
	c.Bands[0][0] = 42
	test.That(t, r.Bands[0][0], test.ShouldEqual, 0.0)
	test.That(t, c.CRS, test.ShouldEqual, r.CRS)
}
