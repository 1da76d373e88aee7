package core

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// SplitRandom строит таблицу признаков один раз и делит её случайно.
// Тестовая часть - первые n - floor(trainFraction*n) элементов перестановки.
func SplitRandom(r *model.Raster, s *model.PointSample, column string, trainFraction float64, seed int64) (*model.Split, error) {
	if !(trainFraction > 0 && trainFraction < 1) {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "train size must be in (0, 1), got %v", trainFraction)
	}
	features, labels, err := FeaturesLabel(r, s, column)
	if err != nil {
		return nil, err
	}
	n := len(labels)
	nTrain := int(math.Floor(trainFraction * float64(n)))
	nTest := n - nTrain
	if n == 0 {
		return nil, errors.Wrap(model.ErrOutOfBounds, "no valid depth samples to split")
	}
	if nTrain == 0 || nTest == 0 {
		return nil, errors.Wrapf(model.ErrInvalidArgument,
			"train size %v with %d samples leaves an empty train or test set", trainFraction, n)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	testIdx, trainIdx := perm[:nTest], perm[nTest:]
	return &model.Split{
		TrainFeatures: features.Subset(trainIdx),
		TestFeatures:  features.Subset(testIdx),
		TrainLabels:   pick(labels, trainIdx),
		TestLabels:    pick(labels, testIdx),
	}, nil
}

// SplitByAttribute относит к обучению точки, у которых groupColumn равен groupValue,
// остальные к тесту. Таблицы признаков строятся для каждой части отдельно.
func SplitByAttribute(r *model.Raster, s *model.PointSample, column, groupColumn, groupValue string) (*model.Split, error) {
	if groupColumn == "" || groupValue == "" {
		return nil, &selectionError{msg: "attribute header and group are not selected"}
	}
	if s == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no depth sample loaded")
	}
	if _, ok := s.Field(groupColumn); !ok {
		return nil, &selectionError{msg: fmt.Sprintf("attribute header %q not found", groupColumn)}
	}

	var trainIdx, testIdx []int
	for i, p := range s.Points {
		if v, ok := p.Attributes[groupColumn]; ok && v != nil && fmt.Sprint(v) == groupValue {
			trainIdx = append(trainIdx, i)
		} else {
			testIdx = append(testIdx, i)
		}
	}

	trainFeatures, trainLabels, err := FeaturesLabel(r, s.Subset(trainIdx), column)
	if err != nil {
		return nil, err
	}
	testFeatures, testLabels, err := FeaturesLabel(r, s.Subset(testIdx), column)
	if err != nil {
		return nil, err
	}
	if len(trainLabels) == 0 || len(testLabels) == 0 {
		return nil, errors.Wrapf(model.ErrInvalidArgument,
			"group %s=%q gives %d train and %d test samples", groupColumn, groupValue, len(trainLabels), len(testLabels))
	}
	return &model.Split{
		TrainFeatures: trainFeatures,
		TestFeatures:  testFeatures,
		TrainLabels:   trainLabels,
		TestLabels:    testLabels,
	}, nil
}

// selectionError - не выбран столбец или группа для разбиения по атрибуту.
type selectionError struct{ msg string }

func (e *selectionError) Error() string { return e.msg }

func (e *selectionError) Unwrap() error { return model.ErrMissingPrerequisite }

func pick(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = values[i]
	}
	return out
}
