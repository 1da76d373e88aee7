package plotting

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

func TestPairs(t *testing.T) {
	xys, lo, hi, err := pairs([]float64{-1, math.NaN(), -5}, []float64{-2, -3, math.Inf(1)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, xys, test.ShouldHaveLength, 1)
	test.That(t, lo, test.ShouldEqual, -2.0)
	test.That(t, hi, test.ShouldEqual, -1.0)

	_, lo, hi, err = pairs([]float64{3}, []float64{3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []float64{lo, hi}, test.ShouldResemble, []float64{2, 4})

	_, _, _, err = pairs([]float64{1}, nil)
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
	_, _, _, err = pairs([]float64{math.NaN()}, []float64{1})
	test.That(t, errors.Is(err, model.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestScatterPlotWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depth_scatter_plot.png")
	err := NewScatterPlotter().ScatterPlot(path, []float64{-1, -2, -3, -4}, []float64{-1.2, -1.9, -3.3, -3.8}, "RMSE: 0.200")
	test.That(t, err, test.ShouldBeNil)

	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
