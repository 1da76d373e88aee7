package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// RunRecorder сохраняет завершённые запуски для последующего анализа.
type RunRecorder interface {
	SaveRun(ctx context.Context, result *model.PredictionResult) error
}

type PostgresRunRecorder struct {
	db *sqlx.DB
}

func NewPostgresRunRecorder(db *sqlx.DB) *PostgresRunRecorder {
	return &PostgresRunRecorder{db: db}
}

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS sdb_runs (
		run_id      TEXT PRIMARY KEY,
		method      TEXT NOT NULL,
		backend     TEXT NOT NULL,
		jobs        INTEGER NOT NULL,
		evaluation  TEXT NOT NULL,
		train_count INTEGER NOT NULL,
		test_count  INTEGER NOT NULL,
		rmse        DOUBLE PRECISION,
		mae         DOUBLE PRECISION,
		r2          DOUBLE PRECISION,
		options     JSONB NOT NULL,
		runtimes    JSONB NOT NULL,
		test_points JSONB NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// EnsureSchema создаёт таблицу журнала, если её нет.
func (r *PostgresRunRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRunsTable); err != nil {
		return errors.Wrap(err, "failed to create sdb_runs table")
	}
	return nil
}

type testPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Predicted float64 `json:"predicted"`
}

func (r *PostgresRunRecorder) SaveRun(ctx context.Context, result *model.PredictionResult) error {
	const query = `
		INSERT INTO sdb_runs (
			run_id, method, backend, jobs, evaluation,
			train_count, test_count,
			rmse, mae, r2,
			options, runtimes, test_points, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (run_id) DO NOTHING`

	summary := result.Summary()

	optionsJSON, err := json.Marshal(result.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	runtimesJSON, err := json.Marshal(summary.Runtimes)
	if err != nil {
		return fmt.Errorf("failed to marshal runtimes: %w", err)
	}
	// Сериализация тестовых точек в JSON
	pointsJSON, err := json.Marshal(testPoints(result.Test))
	if err != nil {
		return fmt.Errorf("failed to marshal test points: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		summary.RunID, summary.Method, summary.Backend, summary.Jobs, string(summary.Evaluation),
		summary.TrainCount, summary.TestCount,
		summary.Metrics.RMSE, summary.Metrics.MAE, summary.Metrics.R2,
		optionsJSON, runtimesJSON, pointsJSON,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run %s", summary.RunID)
	}
	return nil
}

func testPoints(t model.ResultTable) []testPoint {
	out := make([]testPoint, t.Len())
	for i := range out {
		out[i] = testPoint{X: t.X[i], Y: t.Y[i], Z: t.Z[i]}
		if t.Predicted != nil {
			out[i].Predicted = t.Predicted[i]
		}
	}
	return out
}
