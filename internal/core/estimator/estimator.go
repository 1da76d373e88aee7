// Package estimator содержит регрессоры, доступные движку регрессии.
package estimator

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"sdb_service/internal/core/parallel"
	"sdb_service/internal/domain/model"
)

// New создаёт регрессор метода m. Параметры передаются как есть,
// неизвестные ключи и значения неверного типа отклоняются.
func New(m model.Method, params map[string]any, exec parallel.Executor) (model.Regressor, error) {
	p := newParams(params)
	var (
		r   model.Regressor
		err error
	)
	switch m {
	case model.MethodKNN:
		r, err = newKNN(p)
	case model.MethodLinear:
		r, err = newLinear(p)
	case model.MethodRandomForest:
		r, err = newForest(p, exec)
	default:
		return nil, errors.Wrapf(model.ErrInvalidArgument, "unknown model %q", m)
	}
	if err != nil {
		return nil, err
	}
	if err := p.checkUnused(m); err != nil {
		return nil, err
	}
	return r, nil
}

// params хранит ключи в нижнем регистре: так их отдаёт конфигурация.
type params map[string]any

func newParams(in map[string]any) params {
	p := make(params, len(in))
	for k, v := range in {
		p[strings.ToLower(k)] = v
	}
	return p
}

func (p params) take(key string) (any, bool) {
	key = strings.ToLower(key)
	v, ok := p[key]
	if ok {
		delete(p, key)
	}
	return v, ok && v != nil
}

func (p params) intValue(key string, def int) (int, error) {
	v, ok := p.take(key)
	if !ok {
		return def, nil
	}
	if f, isFloat := v.(float64); isFloat && f != float64(int(f)) {
		return 0, errors.Wrapf(model.ErrInvalidArgument, "parameter %s must be an integer, got %v", key, v)
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, errors.Wrapf(model.ErrInvalidArgument, "parameter %s: %v", key, err)
	}
	return i, nil
}

// optionalInt возвращает nil для отсутствующего значения (аналог None).
func (p params) optionalInt(key string) (*int, error) {
	if _, ok := p[key]; !ok || p[key] == nil {
		delete(p, key)
		return nil, nil
	}
	i, err := p.intValue(key, 0)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (p params) floatValue(key string, def float64) (float64, error) {
	v, ok := p.take(key)
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errors.Wrapf(model.ErrInvalidArgument, "parameter %s: %v", key, err)
	}
	return f, nil
}

func (p params) boolValue(key string, def bool) (bool, error) {
	v, ok := p.take(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, errors.Wrapf(model.ErrInvalidArgument, "parameter %s: %v", key, err)
	}
	return b, nil
}

func (p params) stringValue(key, def string, allowed ...string) (string, error) {
	v, ok := p.take(key)
	if !ok {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", errors.Wrapf(model.ErrInvalidArgument, "parameter %s: %v", key, err)
	}
	if len(allowed) == 0 {
		return s, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", errors.Wrapf(model.ErrInvalidArgument, "parameter %s=%q, allowed: %s", key, s, strings.Join(allowed, ", "))
}

func (p params) checkUnused(m model.Method) error {
	if len(p) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return errors.Wrapf(model.ErrInvalidArgument, "unexpected parameters for %s: %s", m, strings.Join(keys, ", "))
}

func checkTrainingSet(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, errors.Wrap(model.ErrInvalidArgument, "empty training set")
	}
	if len(X) != len(y) {
		return 0, errors.Wrapf(model.ErrInvalidArgument, "%d feature rows but %d labels", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return 0, errors.Wrap(model.ErrInvalidArgument, "training set has no features")
	}
	for i, row := range X {
		if len(row) != p {
			return 0, errors.Wrapf(model.ErrInvalidArgument, "row %d has %d features, want %d", i, len(row), p)
		}
	}
	return p, nil
}

func checkFeatures(X [][]float64, p int) error {
	if p == 0 {
		return errors.New("estimator is not fitted")
	}
	for i, row := range X {
		if len(row) != p {
			return errors.Wrapf(model.ErrInvalidArgument, "row %d has %d features, model was fitted with %d", i, len(row), p)
		}
	}
	return nil
}
