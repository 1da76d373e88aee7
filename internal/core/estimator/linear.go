package estimator

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sjwhitworth/golearn/linear_models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"sdb_service/internal/domain/model"
)

// LinearRegressor - множественная линейная регрессия методом наименьших квадратов.
// Полноранговая задача со свободным членом решается golearn (QR),
// остальные случаи - псевдообратной матрицей через SVD.
type LinearRegressor struct {
	FitIntercept bool

	Coef      []float64
	Intercept float64

	frame *frame
	model *linear_models.LinearRegression
}

func newLinear(p params) (*LinearRegressor, error) {
	r := &LinearRegressor{}
	var err error
	if r.FitIntercept, err = p.boolValue("fit_intercept", true); err != nil {
		return nil, err
	}
	// данные всегда копируются
	if _, err = p.boolValue("copy_X", true); err != nil {
		return nil, err
	}
	if _, err = p.intValue("n_jobs", 1); err != nil {
		return nil, err
	}
	positive, err := p.boolValue("positive", false)
	if err != nil {
		return nil, err
	}
	if positive {
		return nil, errors.Wrap(model.ErrInvalidArgument, "positive coefficients are not supported")
	}
	return r, nil
}

func (r *LinearRegressor) Fit(ctx context.Context, X [][]float64, y []float64) error {
	p, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	r.model, r.frame = nil, nil

	xMean, yMean := r.means(X, y, p)
	svd, rank, err := centeredSVD(X, xMean, p)
	if err != nil {
		return err
	}
	if r.FitIntercept && rank == p && len(X) > p {
		return r.fitGolearn(X, y, p)
	}

	b := mat.NewVecDense(len(X), nil)
	for i := range y {
		b.SetVec(i, y[i]-yMean)
	}
	coef := make([]float64, p)
	if rank > 0 {
		var sol mat.VecDense
		svd.SolveVecTo(&sol, b, rank)
		for j := range coef {
			coef[j] = sol.AtVec(j)
		}
	}
	r.Coef = coef
	r.Intercept = 0
	if r.FitIntercept {
		r.Intercept = yMean - floats.Dot(xMean, coef)
	}
	return nil
}

func (r *LinearRegressor) fitGolearn(X [][]float64, y []float64, p int) error {
	f := newFrame(p)
	inst, err := f.instances(X, y)
	if err != nil {
		return err
	}
	lr := linear_models.NewLinearRegression()
	if err := lr.Fit(inst); err != nil {
		return errors.Wrap(err, "linear regression")
	}
	// коэффициенты восстанавливаются по прогнозу в нуле и в базисных точках
	basis := make([][]float64, p+1)
	for i := range basis {
		basis[i] = make([]float64, p)
		if i > 0 {
			basis[i][i-1] = 1
		}
	}
	pred, err := predictGolearn(f, lr, basis)
	if err != nil {
		return err
	}
	r.Intercept = pred[0]
	r.Coef = make([]float64, p)
	for j := range r.Coef {
		r.Coef[j] = pred[j+1] - pred[0]
	}
	r.frame, r.model = f, lr
	return nil
}

func predictGolearn(f *frame, lr *linear_models.LinearRegression, X [][]float64) ([]float64, error) {
	inst, err := f.instances(X, nil)
	if err != nil {
		return nil, err
	}
	grid, err := lr.Predict(inst)
	if err != nil {
		return nil, errors.Wrap(err, "linear regression predict")
	}
	return f.column(grid, len(X))
}

func (r *LinearRegressor) means(X [][]float64, y []float64, p int) ([]float64, float64) {
	xMean := make([]float64, p)
	if !r.FitIntercept {
		return xMean, 0
	}
	for _, row := range X {
		floats.Add(xMean, row)
	}
	floats.Scale(1/float64(len(X)), xMean)
	return xMean, floats.Sum(y) / float64(len(y))
}

// centeredSVD раскладывает центрированную матрицу признаков и оценивает её ранг.
func centeredSVD(X [][]float64, xMean []float64, p int) (*mat.SVD, int, error) {
	n := len(X)
	a := mat.NewDense(n, p, nil)
	for i, row := range X {
		for j, v := range row {
			a.Set(i, j, v-xMean[j])
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, 0, errors.New("linear regression: SVD factorization failed")
	}
	rcond := math.Nextafter(1, 2) - 1
	return &svd, svd.Rank(rcond * float64(max(n, p))), nil
}

func (r *LinearRegressor) Predict(ctx context.Context, X [][]float64) ([]float64, error) {
	if err := checkFeatures(X, len(r.Coef)); err != nil {
		return nil, err
	}
	if r.model != nil && len(X) > 0 {
		return predictGolearn(r.frame, r.model, X)
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = floats.Dot(row, r.Coef) + r.Intercept
	}
	return out, nil
}
