package plotting

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"sdb_service/internal/domain/model"
)

// ScatterPlotter рисует истинную глубину против предсказанной с линией y = x.
type ScatterPlotter struct {
	Width  vg.Length
	Height vg.Length
}

func NewScatterPlotter() *ScatterPlotter {
	return &ScatterPlotter{Width: 6 * vg.Inch, Height: 6 * vg.Inch}
}

func (s *ScatterPlotter) ScatterPlot(path string, actual, predicted []float64, title string) error {
	points, lo, hi, err := pairs(actual, predicted)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Actual depth"
	p.Y.Label.Text = "Predicted depth"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return errors.Wrap(err, "failed to build scatter")
	}
	scatter.GlyphStyle.Radius = vg.Points(2)

	identity, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "failed to build identity line")
	}
	identity.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(scatter, identity)
	p.X.Min, p.X.Max = lo, hi
	p.Y.Min, p.Y.Max = lo, hi

	if err := p.Save(s.Width, s.Height, path); err != nil {
		return errors.Wrap(model.ErrIO, err.Error())
	}
	return nil
}

// pairs отбрасывает пары с нечисловыми значениями и возвращает общий диапазон осей.
func pairs(actual, predicted []float64) (plotter.XYs, float64, float64, error) {
	if len(actual) != len(predicted) {
		return nil, 0, 0, errors.Wrapf(model.ErrInvalidArgument, "%d true values but %d predictions", len(actual), len(predicted))
	}
	xys := make(plotter.XYs, 0, len(actual))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range actual {
		a, p := actual[i], predicted[i]
		if math.IsNaN(a) || math.IsNaN(p) || math.IsInf(a, 0) || math.IsInf(p, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: a, Y: p})
		lo = math.Min(lo, math.Min(a, p))
		hi = math.Max(hi, math.Max(a, p))
	}
	if len(xys) == 0 {
		return nil, 0, 0, errors.Wrap(model.ErrInvalidArgument, "nothing to plot")
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return xys, lo, hi, nil
}
