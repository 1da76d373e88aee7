package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/serjvanilla/go-overpass"
	"github.com/spf13/cast"

	"sdb_service/internal/domain/model"
)

// DefaultSoundingTag - тег OSM с глубиной в точке промера.
const DefaultSoundingTag = "depth"

type OverpassRepository struct {
	client  *overpass.Client
	timeout time.Duration
}

func NewOverpassRepository(endpoint string, timeout time.Duration) *OverpassRepository {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OverpassRepository{
		client:  &client,
		timeout: timeout,
	}
}

// GetSoundings возвращает точки OSM с тегом tag внутри bounds.
func (r *OverpassRepository) GetSoundings(ctx context.Context, bounds model.Bounds, tag string) ([]model.OSMElement, error) {
	query := soundingQuery(bounds, tag, r.timeout)

	result, err := r.executeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute sounding query: %w", err)
	}

	return convertToOSMElements(result), nil
}

func soundingQuery(b model.Bounds, tag string, timeout time.Duration) string {
	bbox := fmt.Sprintf("%g,%g,%g,%g", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
	return fmt.Sprintf(`
		[out:json][timeout:%d];
		(
			node[%q](%s);
		);
		out body;
	`, int(timeout.Seconds()), tag, bbox)
}

func (r *OverpassRepository) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type reply struct {
		result overpass.Result
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := r.client.Query(query)
		done <- reply{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(model.ErrIO, "overpass query aborted: %v", ctx.Err())
	case rep := <-done:
		if rep.err != nil {
			return nil, errors.Wrapf(model.ErrIO, "overpass query failed: %v", rep.err)
		}
		return &rep.result, nil
	}
}

func convertToOSMElements(result *overpass.Result) []model.OSMElement {
	elements := make([]model.OSMElement, 0, len(result.Nodes))
	for _, node := range result.Nodes {
		elements = append(elements, model.OSMElement{
			ID:   node.ID,
			Type: string(overpass.ElementTypeNode),
			Lat:  node.Lat,
			Lon:  node.Lon,
			Tags: node.Tags,
		})
	}
	// Nodes приходят картой, порядок фиксируется по ID
	sort.Slice(elements, func(i, j int) bool { return elements[i].ID < elements[j].ID })
	return elements
}

// OverpassSampleSource получает промеры глубин из OSM в охвате растра.
type OverpassSampleSource struct {
	repo      *OverpassRepository
	projector model.Projector
	tag       string
}

func NewOverpassSampleSource(repo *OverpassRepository, projector model.Projector, tag string) *OverpassSampleSource {
	if tag == "" {
		tag = DefaultSoundingTag
	}
	return &OverpassSampleSource{repo: repo, projector: projector, tag: tag}
}

func (s *OverpassSampleSource) FetchSamples(ctx context.Context, extent orb.Bound, crs string) (*model.PointSample, error) {
	bounds, err := s.geographicBounds(ctx, extent, crs)
	if err != nil {
		return nil, err
	}
	elements, err := s.repo.GetSoundings(ctx, bounds, s.tag)
	if err != nil {
		return nil, err
	}
	return soundingsToSample(elements), nil
}

// geographicBounds переводит охват растра в широту и долготу WGS84.
func (s *OverpassSampleSource) geographicBounds(ctx context.Context, extent orb.Bound, crs string) (model.Bounds, error) {
	xs := []float64{extent.Min.X(), extent.Max.X(), extent.Min.X(), extent.Max.X()}
	ys := []float64{extent.Min.Y(), extent.Min.Y(), extent.Max.Y(), extent.Max.Y()}
	if crs != "" && crs != model.DefaultVectorCRS {
		if s.projector == nil {
			return model.Bounds{}, errors.Wrap(model.ErrMissingPrerequisite, "no projector to convert image extent to EPSG:4326")
		}
		if err := s.projector.Transform(ctx, crs, model.DefaultVectorCRS, xs, ys); err != nil {
			return model.Bounds{}, err
		}
	}
	var b orb.Bound
	for i := range xs {
		p := orb.Point{xs[i], ys[i]}
		if i == 0 {
			b = p.Bound()
			continue
		}
		b = b.Extend(p)
	}
	return model.Bounds{MinLat: b.Min.Y(), MinLon: b.Min.X(), MaxLat: b.Max.Y(), MaxLon: b.Max.X()}, nil
}

// soundingsToSample переводит точки OSM в выборку: числовые теги становятся числами.
func soundingsToSample(elements []model.OSMElement) *model.PointSample {
	sample := &model.PointSample{
		CRS:    model.DefaultVectorCRS,
		Points: make([]model.SamplePoint, 0, len(elements)),
	}
	for _, el := range elements {
		attrs := make(map[string]any, len(el.Tags)+1)
		for k, v := range el.Tags {
			if f, err := cast.ToFloat64E(v); err == nil {
				attrs[k] = f
				continue
			}
			attrs[k] = v
		}
		attrs["osm_id"] = strconv.FormatInt(el.ID, 10)
		sample.Points = append(sample.Points, model.SamplePoint{
			X:            el.Lon,
			Y:            el.Lat,
			GeometryType: model.GeometryPoint,
			Attributes:   attrs,
		})
	}
	sample.Fields = model.InferFields(sample.Points)
	return sample
}
