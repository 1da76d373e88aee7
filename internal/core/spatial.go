package core

import (
	"context"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// SpatialAligner приводит выборку к системе координат растра и обрезает её охватом растра.
type SpatialAligner struct {
	projector model.Projector
}

func NewSpatialAligner(projector model.Projector) *SpatialAligner {
	return &SpatialAligner{projector: projector}
}

// SameCRS сравнивает строки систем координат без учёта регистра.
func SameCRS(a, b string) bool {
	return strings.ToUpper(strings.TrimSpace(a)) == strings.ToUpper(strings.TrimSpace(b))
}

// Reproject возвращает копию выборки в системе координат растра.
// Если у растра нет системы координат, считается, что выборка уже в координатах растра.
func (a *SpatialAligner) Reproject(ctx context.Context, r *model.Raster, s *model.PointSample) (*model.PointSample, error) {
	if r == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no image data loaded")
	}
	if s == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no depth sample loaded")
	}
	out := s.Clone()
	if r.CRS == "" || SameCRS(r.CRS, s.CRS) {
		return out, nil
	}
	if a.projector == nil {
		return nil, errors.Wrapf(model.ErrMissingPrerequisite, "cannot transform %s to raster CRS: no projector", s.CRS)
	}

	xs := make([]float64, len(out.Points))
	ys := make([]float64, len(out.Points))
	for i, p := range out.Points {
		xs[i], ys[i] = p.X, p.Y
	}
	if err := a.projector.Transform(ctx, s.CRS, r.CRS, xs, ys); err != nil {
		return nil, errors.Wrap(err, "failed to reproject depth sample")
	}
	for i := range out.Points {
		out.Points[i].X, out.Points[i].Y = xs[i], ys[i]
	}
	out.CRS = r.CRS
	return out, nil
}

// Clip перепроецирует выборку и оставляет точки внутри охвата растра, включая границу.
func (a *SpatialAligner) Clip(ctx context.Context, r *model.Raster, s *model.PointSample) (*model.PointSample, error) {
	projected, err := a.Reproject(ctx, r, s)
	if err != nil {
		return nil, err
	}
	bound := r.Bounds()
	keep := make([]int, 0, len(projected.Points))
	for i, p := range projected.Points {
		if bound.Contains(orb.Point{p.X, p.Y}) {
			keep = append(keep, i)
		}
	}
	return projected.Subset(keep), nil
}
