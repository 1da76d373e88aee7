package core

import (
	"math"

	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

type DepthFilter struct{}

// Apply приводит глубины к направлению "вверх" и оставляет точки в окне [lower, upper].
// Если upper < lower, границы меняются местами. При disable фильтр окна пропускается.
func (DepthFilter) Apply(
	s *model.PointSample,
	column string,
	direction model.DepthDirection,
	disable bool,
	upper, lower float64,
) (*model.PointSample, error) {
	dir, err := model.ParseDepthDirection(string(direction))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no depth sample loaded")
	}
	if column == "" || !s.HasDepthColumn(column) {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "depth column %q not found, please select headers correctly", column)
	}
	if upper < lower {
		upper, lower = lower, upper
	}

	out := s.Clone()
	keep := make([]int, 0, len(out.Points))
	for i := range out.Points {
		z, err := out.Float(i, column)
		if err != nil {
			return nil, errors.Wrapf(err, "depth column %q at feature %d", column, i)
		}
		if dir == model.DepthDown {
			z = -z
		}
		setDepth(&out.Points[i], column, z)
		if disable || (z >= lower && z <= upper) {
			keep = append(keep, i)
		}
	}
	return out.Subset(keep), nil
}

func setDepth(p *model.SamplePoint, column string, z float64) {
	if _, ok := p.Attributes[column]; ok {
		p.Attributes[column] = z
		return
	}
	p.Z = z
}

// OutDepthFilter заменяет на NaN предсказания вне окна [lower, upper].
func OutDepthFilter(values []float64, upper, lower float64) []float64 {
	if upper < lower {
		upper, lower = lower, upper
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if v < lower || v > upper {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}
