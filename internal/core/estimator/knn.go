package estimator

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/sjwhitworth/golearn/knn"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"sdb_service/internal/domain/model"
)

// KNNRegressor усредняет глубины k ближайших обучающих точек в пространстве каналов.
type KNNRegressor struct {
	NNeighbors int
	Weights    string
	Algorithm  string
	LeafSize   int
	P          float64

	dims  int
	tree  *kdtree.Tree
	train knnPoints
	brute *knn.KNNRegressor
}

func newKNN(p params) (*KNNRegressor, error) {
	var (
		r   = &KNNRegressor{}
		err error
	)
	if r.NNeighbors, err = p.intValue("n_neighbors", 5); err != nil {
		return nil, err
	}
	if r.NNeighbors < 1 {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "n_neighbors must be positive, got %d", r.NNeighbors)
	}
	if r.Weights, err = p.stringValue("weights", "uniform", "uniform", "distance"); err != nil {
		return nil, err
	}
	if r.Algorithm, err = p.stringValue("algorithm", "auto", "auto", "ball_tree", "kd_tree", "brute"); err != nil {
		return nil, err
	}
	// leaf_size принимается для совместимости, дерево строится до единичных узлов
	if r.LeafSize, err = p.intValue("leaf_size", 30); err != nil {
		return nil, err
	}
	if r.P, err = p.floatValue("p", 2); err != nil {
		return nil, err
	}
	if r.P < 1 {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "p must be >= 1, got %v", r.P)
	}
	if _, err = p.stringValue("metric", "minkowski", "minkowski"); err != nil {
		return nil, err
	}
	if _, err = p.intValue("n_jobs", 1); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *KNNRegressor) Fit(ctx context.Context, X [][]float64, y []float64) error {
	dims, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if len(X) < r.NNeighbors {
		return errors.Wrapf(model.ErrInvalidArgument, "expected n_neighbors <= n_samples, got %d > %d", r.NNeighbors, len(X))
	}
	r.dims = dims
	r.train = make(knnPoints, len(X))
	for i := range X {
		r.train[i] = knnPoint{coords: append([]float64(nil), X[i]...), label: y[i]}
	}
	r.tree, r.brute = nil, nil
	if metric, ok := r.golearnMetric(); ok {
		flat := make([]float64, 0, len(X)*dims)
		for _, row := range X {
			flat = append(flat, row...)
		}
		r.brute = knn.NewKnnRegressor(metric)
		r.brute.Fit(append([]float64(nil), y...), flat, len(X), dims)
		return nil
	}
	if r.useTree() {
		// дерево переставляет элементы, поэтому строится по копии
		r.tree = kdtree.New(append(knnPoints(nil), r.train...), false)
	}
	return nil
}

// golearnMetric - полный перебор с равными весами отдаётся golearn,
// он умеет только евклидову и манхэттенскую метрики.
func (r *KNNRegressor) golearnMetric() (string, bool) {
	if r.Algorithm != "brute" || r.Weights != "uniform" {
		return "", false
	}
	switch r.P {
	case 1:
		return "manhattan", true
	case 2:
		return "euclidean", true
	}
	return "", false
}

func (r *KNNRegressor) useTree() bool {
	return r.Algorithm != "brute" && r.P == 2
}

func (r *KNNRegressor) Predict(ctx context.Context, X [][]float64) ([]float64, error) {
	if err := checkFeatures(X, r.dims); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.brute != nil {
			q := mat.NewDense(1, r.dims, append([]float64(nil), row...))
			out[i] = r.brute.Predict(q, r.NNeighbors)
			continue
		}
		out[i] = r.weighted(r.neighbors(row))
	}
	return out, nil
}

type neighbor struct {
	label float64
	dist  float64
}

func (r *KNNRegressor) neighbors(q []float64) []neighbor {
	if r.tree != nil {
		keeper := kdtree.NewNKeeper(r.NNeighbors)
		r.tree.NearestSet(keeper, knnPoint{coords: q})
		out := make([]neighbor, 0, r.NNeighbors)
		for _, c := range keeper.Heap {
			if c.Comparable == nil {
				continue
			}
			out = append(out, neighbor{label: c.Comparable.(knnPoint).label, dist: math.Sqrt(c.Dist)})
		}
		return out
	}

	all := make([]neighbor, len(r.train))
	for i, t := range r.train {
		all[i] = neighbor{label: t.label, dist: minkowski(q, t.coords, r.P)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	return all[:r.NNeighbors]
}

func (r *KNNRegressor) weighted(ns []neighbor) float64 {
	if len(ns) == 0 {
		return math.NaN()
	}
	if r.Weights == "distance" {
		// точные совпадения забирают весь вес
		var exact, exactCount float64
		for _, n := range ns {
			if n.dist == 0 {
				exact += n.label
				exactCount++
			}
		}
		if exactCount > 0 {
			return exact / exactCount
		}
		var sum, wsum float64
		for _, n := range ns {
			w := 1 / n.dist
			sum += w * n.label
			wsum += w
		}
		return sum / wsum
	}
	var sum float64
	for _, n := range ns {
		sum += n.label
	}
	return sum / float64(len(ns))
}

func minkowski(a, b []float64, p float64) float64 {
	var sum float64
	for i := range a {
		d := math.Abs(a[i] - b[i])
		switch p {
		case 1:
			sum += d
		case 2:
			sum += d * d
		default:
			sum += math.Pow(d, p)
		}
	}
	switch p {
	case 1:
		return sum
	case 2:
		return math.Sqrt(sum)
	}
	return math.Pow(sum, 1/p)
}

// knnPoint - обучающая точка в пространстве каналов вместе с глубиной.
type knnPoint struct {
	coords []float64
	label  float64
}

func (p knnPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coords[d] - c.(knnPoint).coords[d]
}

func (p knnPoint) Dims() int { return len(p.coords) }

func (p knnPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(knnPoint)
	var sum float64
	for i, v := range p.coords {
		d := v - q.coords[i]
		sum += d * d
	}
	return sum
}

type knnPoints []knnPoint

func (p knnPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p knnPoints) Len() int                              { return len(p) }
func (p knnPoints) Pivot(d kdtree.Dim) int                { return knnPlane{knnPoints: p, Dim: d}.Pivot() }
func (p knnPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type knnPlane struct {
	kdtree.Dim
	knnPoints
}

func (p knnPlane) Less(i, j int) bool {
	return p.knnPoints[i].coords[p.Dim] < p.knnPoints[j].coords[p.Dim]
}
func (p knnPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfRandoms(p, 100)) }
func (p knnPlane) Slice(start, end int) kdtree.SortSlicer {
	p.knnPoints = p.knnPoints[start:end]
	return p
}
func (p knnPlane) Swap(i, j int) {
	p.knnPoints[i], p.knnPoints[j] = p.knnPoints[j], p.knnPoints[i]
}
