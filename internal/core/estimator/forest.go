package estimator

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gonum.org/v1/gonum/floats"

	"sdb_service/internal/core/parallel"
	"sdb_service/internal/domain/model"
)

const (
	CriterionSquaredError  = "squared_error"
	CriterionFriedmanMSE   = "friedman_mse"
	CriterionAbsoluteError = "absolute_error"
	CriterionPoisson       = "poisson"
)

// ForestRegressor - случайный лес регрессионных деревьев CART.
// Деревья обучаются на исполнителе, переданном движком.
type ForestRegressor struct {
	NEstimators     int
	Criterion       string
	MaxDepth        *int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Bootstrap       bool
	RandomState     *int

	maxFeatures featureLimit
	exec        parallel.Executor
	dims        int
	trees       []*regressionTree
}

func newForest(p params, exec parallel.Executor) (*ForestRegressor, error) {
	r := &ForestRegressor{exec: exec}
	var err error
	if r.NEstimators, err = p.intValue("n_estimators", 100); err != nil {
		return nil, err
	}
	if r.NEstimators < 1 {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "n_estimators must be positive, got %d", r.NEstimators)
	}
	if r.Criterion, err = p.stringValue("criterion", CriterionSquaredError,
		CriterionSquaredError, CriterionFriedmanMSE, CriterionAbsoluteError, CriterionPoisson); err != nil {
		return nil, err
	}
	if r.MaxDepth, err = p.optionalInt("max_depth"); err != nil {
		return nil, err
	}
	if r.MaxDepth != nil && *r.MaxDepth < 1 {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "max_depth must be positive, got %d", *r.MaxDepth)
	}
	if r.MinSamplesSplit, err = p.intValue("min_samples_split", 2); err != nil {
		return nil, err
	}
	if r.MinSamplesSplit < 2 {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "min_samples_split must be >= 2, got %d", r.MinSamplesSplit)
	}
	if r.MinSamplesLeaf, err = p.intValue("min_samples_leaf", 1); err != nil {
		return nil, err
	}
	if r.MinSamplesLeaf < 1 {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "min_samples_leaf must be >= 1, got %d", r.MinSamplesLeaf)
	}
	if r.Bootstrap, err = p.boolValue("bootstrap", true); err != nil {
		return nil, err
	}
	if r.RandomState, err = p.optionalInt("random_state"); err != nil {
		return nil, err
	}
	if r.maxFeatures, err = parseFeatureLimit(p); err != nil {
		return nil, err
	}
	if _, err = p.intValue("n_jobs", 1); err != nil {
		return nil, err
	}
	return r, nil
}

// featureLimit описывает max_features: доля, количество или правило.
type featureLimit struct {
	rule     string
	count    int
	fraction float64
}

func parseFeatureLimit(p params) (featureLimit, error) {
	v, ok := p.take("max_features")
	if !ok {
		return featureLimit{fraction: 1}, nil
	}
	switch t := v.(type) {
	case string:
		switch t {
		case "sqrt", "log2":
			return featureLimit{rule: t}, nil
		}
		return featureLimit{}, errors.Wrapf(model.ErrInvalidArgument, "max_features=%q, allowed: sqrt, log2 or a number", t)
	case int, int32, int64:
		n, _ := cast.ToIntE(t)
		if n < 1 {
			return featureLimit{}, errors.Wrapf(model.ErrInvalidArgument, "max_features must be positive, got %d", n)
		}
		return featureLimit{count: n}, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return featureLimit{}, errors.Wrapf(model.ErrInvalidArgument, "max_features: %v", err)
	}
	if f > 1 && f == math.Trunc(f) {
		return featureLimit{count: int(f)}, nil
	}
	if f <= 0 || f > 1 {
		return featureLimit{}, errors.Wrapf(model.ErrInvalidArgument, "max_features fraction must be in (0, 1], got %v", f)
	}
	return featureLimit{fraction: f}, nil
}

func (l featureLimit) resolve(p int) int {
	var n int
	switch {
	case l.rule == "sqrt":
		n = int(math.Sqrt(float64(p)))
	case l.rule == "log2":
		n = int(math.Log2(float64(p)))
	case l.count > 0:
		n = l.count
	default:
		n = int(l.fraction * float64(p))
	}
	return max(1, min(n, p))
}

func (r *ForestRegressor) Fit(ctx context.Context, X [][]float64, y []float64) error {
	p, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if r.Criterion == CriterionPoisson {
		for _, v := range y {
			if v < 0 {
				return errors.Wrap(model.ErrInvalidArgument, "some labels are negative, which is not allowed for poisson regression")
			}
		}
		if floats.Sum(y) <= 0 {
			return errors.Wrap(model.ErrInvalidArgument, "sum of labels is not positive, which is required for poisson regression")
		}
	}

	var seed int64
	if r.RandomState != nil {
		seed = int64(*r.RandomState)
	} else {
		seed = rand.Int63()
	}
	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, r.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*regressionTree, r.NEstimators)
	fitTree := func(ctx context.Context, i int) error {
		b := &treeBuilder{
			X:         X,
			y:         y,
			criterion: r.Criterion,
			maxDepth:  r.MaxDepth,
			minSplit:  r.MinSamplesSplit,
			minLeaf:   r.MinSamplesLeaf,
			features:  r.maxFeatures.resolve(p),
			rng:       rand.New(rand.NewSource(seeds[i])),
		}
		idx := make([]int, len(X))
		for j := range idx {
			if r.Bootstrap {
				idx[j] = b.rng.Intn(len(X))
			} else {
				idx[j] = j
			}
		}
		trees[i] = b.build(idx)
		return ctx.Err()
	}

	if r.exec != nil {
		err = r.exec.Run(ctx, r.NEstimators, fitTree)
	} else {
		for i := 0; i < r.NEstimators && err == nil; i++ {
			err = fitTree(ctx, i)
		}
	}
	if err != nil {
		return err
	}
	r.dims = p
	r.trees = trees
	return nil
}

func (r *ForestRegressor) Predict(ctx context.Context, X [][]float64) ([]float64, error) {
	if err := checkFeatures(X, r.dims); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var sum float64
		for _, t := range r.trees {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(r.trees))
	}
	return out, nil
}

type treeNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
	leaf      bool
}

type regressionTree struct {
	nodes []treeNode
}

func (t *regressionTree) predict(row []float64) float64 {
	n := t.nodes[0]
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = t.nodes[n.left]
		} else {
			n = t.nodes[n.right]
		}
	}
	return n.value
}

type treeBuilder struct {
	X         [][]float64
	y         []float64
	criterion string
	maxDepth  *int
	minSplit  int
	minLeaf   int
	features  int
	rng       *rand.Rand

	tree *regressionTree
}

func (b *treeBuilder) build(idx []int) *regressionTree {
	b.tree = &regressionTree{}
	b.grow(idx, 0)
	return b.tree
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, treeNode{leaf: true, value: b.leafValue(idx)})

	if (b.maxDepth != nil && depth >= *b.maxDepth) || len(idx) < b.minSplit || len(idx) < 2*b.minLeaf || b.pure(idx) {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}
	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.nodes[id] = treeNode{feature: feature, threshold: threshold, left: l, right: r}
	return id
}

func (b *treeBuilder) pure(idx []int) bool {
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) leafValue(idx []int) float64 {
	ys := make([]float64, len(idx))
	for j, i := range idx {
		ys[j] = b.y[i]
	}
	if b.criterion == CriterionAbsoluteError {
		sort.Float64s(ys)
		return median(ys)
	}
	return floats.Sum(ys) / float64(len(ys))
}

// bestSplit перебирает случайное подмножество признаков и возвращает порог
// с наименьшей стоимостью дочерних узлов.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	p := len(b.X[0])
	candidates := b.rng.Perm(p)[:b.features]

	n := len(idx)
	order := make([]int, n)
	xs := make([]float64, n)
	ys := make([]float64, n)

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0
	for _, f := range candidates {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.X[order[a]][f] < b.X[order[c]][f] })
		for j, i := range order {
			xs[j] = b.X[i][f]
			ys[j] = b.y[i]
		}
		if xs[0] == xs[n-1] {
			continue
		}
		scores := splitScores(b.criterion, ys)
		for k := b.minLeaf; k <= n-b.minLeaf; k++ {
			if xs[k-1] == xs[k] || math.IsNaN(scores[k]) {
				continue
			}
			if scores[k] < bestScore {
				bestScore = scores[k]
				bestFeature = f
				bestThreshold = xs[k-1] + (xs[k]-xs[k-1])/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitScores возвращает стоимость разбиения ys[:k] | ys[k:] для каждого k,
// меньше значит лучше. NaN отмечает недопустимое разбиение.
func splitScores(criterion string, ys []float64) []float64 {
	n := len(ys)
	scores := make([]float64, n+1)
	scores[0], scores[n] = math.NaN(), math.NaN()

	switch criterion {
	case CriterionAbsoluteError:
		left := prefixAbsoluteErrors(ys)
		rev := make([]float64, n)
		for i := range ys {
			rev[i] = ys[n-1-i]
		}
		right := prefixAbsoluteErrors(rev)
		for k := 1; k < n; k++ {
			scores[k] = left[k] + right[n-k]
		}
		return scores
	}

	sum := make([]float64, n+1)
	sq := make([]float64, n+1)
	ylog := make([]float64, n+1)
	for i, v := range ys {
		sum[i+1] = sum[i] + v
		sq[i+1] = sq[i] + v*v
		if v > 0 {
			ylog[i+1] = ylog[i] + v*math.Log(v)
		} else {
			ylog[i+1] = ylog[i]
		}
	}
	for k := 1; k < n; k++ {
		nl, nr := float64(k), float64(n-k)
		sl, sr := sum[k], sum[n]-sum[k]
		switch criterion {
		case CriterionFriedmanMSE:
			diff := sl/nl - sr/nr
			scores[k] = -(nl * nr / float64(n)) * diff * diff
		case CriterionPoisson:
			if sl <= 0 || sr <= 0 {
				scores[k] = math.NaN()
				continue
			}
			yl, yr := ylog[k], ylog[n]-ylog[k]
			scores[k] = (yl - sl*math.Log(sl/nl)) + (yr - sr*math.Log(sr/nr))
		default:
			ql, qr := sq[k], sq[n]-sq[k]
			scores[k] = (ql - sl*sl/nl) + (qr - sr*sr/nr)
		}
	}
	return scores
}

// prefixAbsoluteErrors возвращает сумму |y - median| для каждого префикса ys.
func prefixAbsoluteErrors(ys []float64) []float64 {
	out := make([]float64, len(ys)+1)
	var t medianTracker
	for i, v := range ys {
		t.push(v)
		out[i+1] = t.absoluteError()
	}
	return out
}

// medianTracker поддерживает медиану потока на двух кучах вместе с суммами половин.
type medianTracker struct {
	low     maxHeap
	high    minHeap
	sumLow  float64
	sumHigh float64
}

func (t *medianTracker) push(v float64) {
	if t.low.Len() == 0 || v <= t.low.floatSlice[0] {
		heap.Push(&t.low, v)
		t.sumLow += v
	} else {
		heap.Push(&t.high, v)
		t.sumHigh += v
	}
	if t.low.Len() > t.high.Len()+1 {
		x := heap.Pop(&t.low).(float64)
		t.sumLow -= x
		heap.Push(&t.high, x)
		t.sumHigh += x
	} else if t.high.Len() > t.low.Len() {
		x := heap.Pop(&t.high).(float64)
		t.sumHigh -= x
		heap.Push(&t.low, x)
		t.sumLow += x
	}
}

func (t *medianTracker) absoluteError() float64 {
	var m float64
	if t.low.Len() > t.high.Len() {
		m = t.low.floatSlice[0]
	} else {
		m = (t.low.floatSlice[0] + t.high.floatSlice[0]) / 2
	}
	return (m*float64(t.low.Len()) - t.sumLow) + (t.sumHigh - m*float64(t.high.Len()))
}

type floatSlice []float64

func (h floatSlice) Len() int      { return len(h) }
func (h floatSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *floatSlice) Push(x any)   { *h = append(*h, x.(float64)) }
func (h *floatSlice) Pop() (x any) { old := *h; x, *h = old[len(old)-1], old[:len(old)-1]; return x }

type minHeap struct{ floatSlice }

func (h minHeap) Less(i, j int) bool { return h.floatSlice[i] < h.floatSlice[j] }

type maxHeap struct{ floatSlice }

func (h maxHeap) Less(i, j int) bool { return h.floatSlice[i] > h.floatSlice[j] }

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
