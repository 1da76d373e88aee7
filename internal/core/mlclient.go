package core

import (
	"sdb_service/internal/core/estimator"
	"sdb_service/internal/core/parallel"
	"sdb_service/internal/domain/model"
)

// EstimatorFactory создаёт свежий регрессор для одного запуска.
type EstimatorFactory func(m model.Method, params map[string]any, exec parallel.Executor) (model.Regressor, error)

// LocalEstimators строит встроенные оценщики.
func LocalEstimators() EstimatorFactory {
	return estimator.New
}

// RemoteEstimators отдаёт обучение внешнему ML-сервису через newClient.
func RemoteEstimators(newClient func(m model.Method, params map[string]any) model.Regressor) EstimatorFactory {
	return func(m model.Method, params map[string]any, _ parallel.Executor) (model.Regressor, error) {
		return newClient(m, params), nil
	}
}
