package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

func TestParseBBox(t *testing.T) {
	minX, minY, maxX, maxY, err := parseBBox(" 100, 470 ,140,500")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []float64{minX, minY, maxX, maxY}, test.ShouldResemble, []float64{100, 470, 140, 500})

	_, _, _, _, err = parseBBox("1,2,3")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "4 components")

	_, _, _, _, err = parseBBox("1,x,3,4")
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid minY")

	_, _, _, _, err = parseBBox("5,0,1,1")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildSampleQuery(t *testing.T) {
	_, _, err := buildSampleQuery(SampleQuery{})
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)

	query, args, err := buildSampleQuery(SampleQuery{Table: "survey.soundings"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, query, test.ShouldContainSubstring, `FROM "survey"."soundings" AS t`)
	test.That(t, query, test.ShouldNotContainSubstring, "WHERE")
	test.That(t, args, test.ShouldResemble, []any{"geom"})

	query, args, err = buildSampleQuery(SampleQuery{Table: "soundings", GeomColumn: "wkb", BBox: "0,0,10,10", SRID: 32648})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, query, test.ShouldContainSubstring, `ST_MakeEnvelope($2, $3, $4, $5, $6)`)
	test.That(t, query, test.ShouldContainSubstring, `ST_SRID("wkb")`)
	test.That(t, args, test.ShouldResemble, []any{"wkb", 0.0, 0.0, 10.0, 10.0, 32648})

	_, _, err = buildSampleQuery(SampleQuery{Table: "soundings", BBox: "bad"})
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestRowsToSample(t *testing.T) {
	z := -4.5
	rows := []sampleRow{
		{GeomType: "POINTZ", X: 1, Y: 2, Z: &z, SRID: 32648, Attributes: []byte(`{"depth": -4.5, "zone": "A"}`)},
		{GeomType: "POINT", X: 3, Y: 4, SRID: 32648, Attributes: []byte(`{"depth": -6, "zone": "B"}`)},
	}
	sample, err := rowsToSample(rows)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sample.CRS, test.ShouldEqual, "EPSG:32648")
	test.That(t, sample.Len(), test.ShouldEqual, 2)
	test.That(t, sample.CheckPointGeometry(), test.ShouldBeNil)
	test.That(t, sample.Points[0].HasZ, test.ShouldBeTrue)
	test.That(t, sample.Points[1].HasZ, test.ShouldBeFalse)
	test.That(t, sample.Fields, test.ShouldResemble, []model.Field{
		{Name: "depth", Kind: model.FieldNumeric},
		{Name: "zone", Kind: model.FieldString},
	})

	_, err = rowsToSample([]sampleRow{{GeomType: "POINT", Attributes: []byte("{")}})
	test.That(t, errors.Is(err, model.ErrIO), test.ShouldBeTrue)
}

func TestGeometryName(t *testing.T) {
	test.That(t, geometryName("POINT"), test.ShouldEqual, model.GeometryPoint)
	test.That(t, geometryName("POINTZM"), test.ShouldEqual, model.GeometryPoint)
	test.That(t, geometryName("MULTIPOINT"), test.ShouldEqual, "MultiPoint")
	test.That(t, geometryName("POLYGON"), test.ShouldEqual, "Polygon")
}

func TestEPSGCode(t *testing.T) {
	code, ok := epsgCode("epsg:4326")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, code, test.ShouldEqual, 4326)

	_, ok = epsgCode("PROJCS[...]")
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = epsgCode("")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSoundingQuery(t *testing.T) {
	q := soundingQuery(model.Bounds{MinLat: 1, MinLon: 2, MaxLat: 3, MaxLon: 4}, "depth", 30*time.Second)
	test.That(t, q, test.ShouldContainSubstring, `node["depth"](1,2,3,4)`)
	test.That(t, q, test.ShouldContainSubstring, "[timeout:30]")
}

func TestSoundingsToSample(t *testing.T) {
	sample := soundingsToSample([]model.OSMElement{
		{ID: 7, Lat: 10.5, Lon: 106.2, Tags: map[string]string{"depth": "3.4", "source": "survey"}},
		{ID: 9, Lat: 10.6, Lon: 106.3, Tags: map[string]string{"depth": "5", "source": "chart"}},
	})
	test.That(t, sample.CRS, test.ShouldEqual, model.DefaultVectorCRS)
	test.That(t, sample.Len(), test.ShouldEqual, 2)
	test.That(t, sample.Points[0].X, test.ShouldEqual, 106.2)
	test.That(t, sample.Points[0].Y, test.ShouldEqual, 10.5)

	d, err := sample.Float(0, "depth")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 3.4)

	groups, err := sample.Groups("source")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, groups, test.ShouldResemble, []string{"chart", "survey"})

	ids, err := sample.Groups("osm_id")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldResemble, []string{"7", "9"})
}

type shiftProjector struct{ dx, dy float64 }

func (p shiftProjector) Transform(_ context.Context, _, _ string, xs, ys []float64) error {
	for i := range xs {
		xs[i] += p.dx
		ys[i] += p.dy
	}
	return nil
}

func TestGeographicBounds(t *testing.T) {
	extent := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 1}}

	src := NewOverpassSampleSource(nil, nil, "")
	test.That(t, src.tag, test.ShouldEqual, DefaultSoundingTag)
	b, err := src.geographicBounds(context.Background(), extent, model.DefaultVectorCRS)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b, test.ShouldResemble, model.Bounds{MinLat: 0, MinLon: 0, MaxLat: 1, MaxLon: 2})

	_, err = src.geographicBounds(context.Background(), extent, "EPSG:32648")
	test.That(t, errors.Is(err, model.ErrMissingPrerequisite), test.ShouldBeTrue)

	src = NewOverpassSampleSource(nil, shiftProjector{dx: 100, dy: 10}, "depth")
	b, err = src.geographicBounds(context.Background(), extent, "EPSG:32648")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b, test.ShouldResemble, model.Bounds{MinLat: 10, MinLon: 100, MaxLat: 11, MaxLon: 102})
}

func TestMemoryRunCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRunCache()

	_, err := c.GetRunSummary(ctx, "missing")
	test.That(t, errors.Is(err, ErrRunNotFound), test.ShouldBeTrue)

	err = c.SetRunSummary(ctx, model.RunSummary{RunID: "r1", Method: "knn", Metrics: model.Metrics{RMSE: 1.5}})
	test.That(t, err, test.ShouldBeNil)
	got, err := c.GetRunSummary(ctx, "r1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Method, test.ShouldEqual, "knn")
	test.That(t, got.Metrics.RMSE, test.ShouldEqual, 1.5)
}

func TestTestPoints(t *testing.T) {
	table := model.ResultTable{
		FeatureTable: model.FeatureTable{Rows: [][]float64{{1}, {2}}, X: []float64{1, 2}, Y: []float64{3, 4}},
		Z:            []float64{-1, -2},
		Predicted:    []float64{-1.5, -2.5},
	}
	pts := testPoints(table)
	test.That(t, pts, test.ShouldHaveLength, 2)
	test.That(t, pts[1], test.ShouldResemble, testPoint{X: 2, Y: 4, Z: -2, Predicted: -2.5})
	test.That(t, strings.Contains(createRunsTable, "sdb_runs"), test.ShouldBeTrue)
}
