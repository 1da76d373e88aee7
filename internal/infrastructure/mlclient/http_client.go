package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// HTTPMLClient обращается к внешнему ML-сервису.
type HTTPMLClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMLClient(baseURL string, timeout time.Duration) *HTTPMLClient {
	return &HTTPMLClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ModelInfo struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// GetAvailableModels возвращает список моделей, которые умеет сервис
func (c *HTTPMLClient) GetAvailableModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	var models []ModelInfo
	if err := c.do(req, &models); err != nil {
		return nil, errors.Wrap(err, "error getting models")
	}
	return models, nil
}

type FitPredictRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
	TrainX [][]float64    `json:"train_x"`
	TrainY []float64      `json:"train_y"`
	X      [][]float64    `json:"x"`
}

type FitPredictResponse struct {
	Predictions []float64 `json:"predictions"`
}

func (c *HTTPMLClient) FitPredict(ctx context.Context, in FitPredictRequest) ([]float64, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ML request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fit-predict", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ML request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp FitPredictResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(in.X) {
		return nil, errors.Errorf("ML service returned %d predictions for %d rows", len(resp.Predictions), len(in.X))
	}
	return resp.Predictions, nil
}

func (c *HTTPMLClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(model.ErrIO, "ML service request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(model.ErrIO, "ML service returned status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(model.ErrIO, "error decoding response: %v", err)
	}
	return nil
}

// HTTPRegressor реализует model.Regressor поверх сервиса: Fit запоминает
// обучающую выборку, каждый Predict отправляет её вместе со строками для предсказания.
type HTTPRegressor struct {
	client *HTTPMLClient
	method model.Method
	params map[string]any

	trainX [][]float64
	trainY []float64
}

func NewHTTPRegressor(client *HTTPMLClient, m model.Method, params map[string]any) *HTTPRegressor {
	return &HTTPRegressor{client: client, method: m, params: params}
}

func (r *HTTPRegressor) Fit(_ context.Context, X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.Wrapf(model.ErrInvalidArgument, "%d feature rows and %d labels", len(X), len(y))
	}
	r.trainX, r.trainY = X, y
	return nil
}

func (r *HTTPRegressor) Predict(ctx context.Context, X [][]float64) ([]float64, error) {
	if r.trainX == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "regressor is not fitted")
	}
	return r.client.FitPredict(ctx, FitPredictRequest{
		Method: string(r.method),
		Params: r.params,
		TrainX: r.trainX,
		TrainY: r.trainY,
		X:      X,
	})
}
