package geojsonio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// Reader читает выборку из GeoJSON FeatureCollection.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

func (Reader) ReadSample(ctx context.Context, path string) (*model.PointSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(model.ErrIO, err.Error())
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrapf(model.ErrGeometryType, "%s is not a GeoJSON feature collection: %v", path, err)
	}
	elevations, err := pointElevations(data)
	if err != nil {
		return nil, errors.Wrapf(model.ErrGeometryType, "%s: %v", path, err)
	}
	return toSample(fc, elevations), nil
}

// rawCollection повторяет структуру FeatureCollection до координат:
// orb.Point двумерная и третью координату при разборе теряет.
type rawCollection struct {
	Features []struct {
		Geometry *struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// pointElevations возвращает Z точечных объектов по индексу объекта.
func pointElevations(data []byte) (map[int]float64, error) {
	var raw rawCollection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[int]float64)
	for i, f := range raw.Features {
		if f.Geometry == nil || f.Geometry.Type != "Point" {
			continue
		}
		var coords []float64
		if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
			return nil, errors.Wrapf(err, "feature %d coordinates", i)
		}
		if len(coords) > 2 {
			out[i] = coords[2]
		}
	}
	return out, nil
}

func toSample(fc *geojson.FeatureCollection, elevations map[int]float64) *model.PointSample {
	sample := &model.PointSample{
		CRS:    crsFromMembers(fc.ExtraMembers),
		Points: make([]model.SamplePoint, 0, len(fc.Features)),
	}
	for i, f := range fc.Features {
		p := model.SamplePoint{
			GeometryType: "None",
			Attributes:   make(map[string]any, len(f.Properties)),
		}
		for k, v := range f.Properties {
			p.Attributes[k] = v
		}
		if f.Geometry != nil {
			p.GeometryType = f.Geometry.GeoJSONType()
			if pt, ok := f.Geometry.(orb.Point); ok {
				p.X, p.Y = pt.X(), pt.Y()
				p.Z, p.HasZ = elevations[i]
			}
		}
		sample.Points = append(sample.Points, p)
	}
	sample.Fields = model.InferFields(sample.Points)
	return sample
}

// crsFromMembers разбирает устаревший член "crs" вида
// {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32648"}}.
func crsFromMembers(members geojson.Properties) string {
	raw, ok := members["crs"].(map[string]any)
	if !ok {
		return ""
	}
	props, ok := raw["properties"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := props["name"].(string)
	return normalizeCRSName(name)
}

func normalizeCRSName(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case upper == "":
		return ""
	case strings.HasSuffix(upper, "CRS84"):
		return model.DefaultVectorCRS
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		code := upper[strings.LastIndex(upper, ":")+1:]
		return "EPSG:" + code
	default:
		return name
	}
}

// Writer пишет таблицу результата точками GeoJSON.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (Writer) WriteTable(ctx context.Context, path string, t model.ResultTable, crs string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(toFeatureCollection(t, crs), "", " ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal feature collection")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(model.ErrIO, err.Error())
	}
	return nil
}

func toFeatureCollection(t model.ResultTable, crs string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if code, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:"); ok {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]any{
				"type":       "name",
				"properties": map[string]any{"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%s", code)},
			},
		}
	}
	header := t.Header()
	for i := 0; i < t.Len(); i++ {
		f := geojson.NewFeature(orb.Point{t.X[i], t.Y[i]})
		for j, v := range t.Record(i) {
			f.Properties[header[j]] = v
		}
		fc.Append(f)
	}
	return fc
}
