package core

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"sdb_service/internal/domain/model"
)

// Evaluate считает RMSE, MAE и коэффициент детерминации.
func Evaluate(actual, predicted []float64) (model.Metrics, error) {
	if len(actual) == 0 {
		return model.Metrics{}, errors.Wrap(model.ErrInvalidArgument, "nothing to evaluate")
	}
	if len(actual) != len(predicted) {
		return model.Metrics{}, errors.Wrapf(model.ErrInvalidArgument,
			"%d true values but %d predictions", len(actual), len(predicted))
	}
	var se, ae float64
	for i := range actual {
		d := predicted[i] - actual[i]
		se += d * d
		ae += math.Abs(d)
	}
	n := float64(len(actual))
	m := model.Metrics{
		RMSE: math.Sqrt(se / n),
		MAE:  ae / n,
	}
	// при постоянных истинных значениях R2 не определён: 1 для точного совпадения, иначе 0
	if stat.Variance(actual, nil) == 0 || len(actual) == 1 {
		if se == 0 {
			m.R2 = 1
		}
		return m, nil
	}
	m.R2 = stat.RSquaredFrom(predicted, actual, nil)
	return m, nil
}
