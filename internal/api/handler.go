package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sdb_service/internal/core"
	"sdb_service/internal/domain/model"
	"sdb_service/internal/domain/repository"
	"sdb_service/internal/infrastructure/mlclient"
)

// SourceFactory строит внешний источник промеров по параметрам запроса.
type SourceFactory func(req LoadSampleRequest) (core.SampleSource, error)

// ModelLister - внешний ML-сервис со списком доступных моделей.
type ModelLister interface {
	GetAvailableModels(ctx context.Context) ([]mlclient.ModelInfo, error)
}

type Handler struct {
	session  *core.Session
	worker   *core.Worker
	service  *core.PredictionService
	exporter *core.Exporter
	sources  map[string]SourceFactory
	models   ModelLister
	logger   *zap.Logger

	runDefaults    model.RunOptions
	exportDefaults model.ExportOptions
}

func NewHandler(
	session *core.Session,
	worker *core.Worker,
	service *core.PredictionService,
	exporter *core.Exporter,
	runDefaults model.RunOptions,
	exportDefaults model.ExportOptions,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		session:        session,
		worker:         worker,
		service:        service,
		exporter:       exporter,
		sources:        make(map[string]SourceFactory),
		logger:         logger,
		runDefaults:    runDefaults,
		exportDefaults: exportDefaults,
	}
}

// RegisterSource подключает внешний источник промеров под именем name.
func (h *Handler) RegisterSource(name string, f SourceFactory) *Handler {
	h.sources[strings.ToLower(name)] = f
	return h
}

// WithModels подключает внешний ML-сервис к списку моделей.
func (h *Handler) WithModels(m ModelLister) *Handler {
	h.models = m
	return h
}

type LoadRasterRequest struct {
	Path string `json:"path" binding:"required"`
}

type RasterResponse struct {
	Path      string    `json:"path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Bands     []string  `json:"bands"`
	CRS       string    `json:"crs"`
	PixelSize float64   `json:"pixel_size"`
	Bounds    []float64 `json:"bounds"`
}

type LoadSampleRequest struct {
	// Path - файл с промерами; если задан Source, выборка берётся из источника.
	Path       string `json:"path"`
	Source     string `json:"source"`
	Table      string `json:"table"`
	GeomColumn string `json:"geom_column"`
	Tag        string `json:"tag"`
}

type FieldInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type SampleResponse struct {
	Source       string      `json:"source"`
	Points       int         `json:"points"`
	CRS          string      `json:"crs"`
	Fields       []FieldInfo `json:"fields"`
	StringFields []string    `json:"string_fields"`
}

type RunResponse struct {
	RunID string `json:"run_id"`
}

type ExportResponse struct {
	Files []string `json:"files"`
}

type ModelsResponse struct {
	Methods  []string             `json:"methods"`
	Backends []string             `json:"backends"`
	Remote   []mlclient.ModelInfo `json:"remote,omitempty"`
}

// LoadRaster загружает снимок и сбрасывает результат предыдущего запуска.
func (h *Handler) LoadRaster(c *gin.Context) {
	var req LoadRasterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	r, err := h.session.LoadRaster(c.Request.Context(), req.Path)
	if err != nil {
		h.fail(c, err)
		return
	}
	b := r.Bounds()
	px, _ := r.PixelSize()
	c.JSON(http.StatusOK, RasterResponse{
		Path:      req.Path,
		Width:     r.Width,
		Height:    r.Height,
		Bands:     r.BandNames,
		CRS:       r.CRS,
		PixelSize: px,
		Bounds:    []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
	})
}

// LoadSample загружает выборку глубин из файла или внешнего источника.
func (h *Handler) LoadSample(c *gin.Context) {
	var req LoadSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	var (
		sample *model.PointSample
		source string
		err    error
	)
	switch {
	case req.Source != "":
		factory, ok := h.sources[strings.ToLower(req.Source)]
		if !ok {
			badRequest(c, "unknown sample source "+req.Source)
			return
		}
		src, ferr := factory(req)
		if ferr != nil {
			h.fail(c, ferr)
			return
		}
		source = strings.ToLower(req.Source)
		sample, err = h.session.LoadSampleFrom(c.Request.Context(), src, source)
	case req.Path != "":
		source = req.Path
		sample, err = h.session.LoadSample(c.Request.Context(), req.Path)
	default:
		badRequest(c, "path or source is required")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	fields := make([]FieldInfo, len(sample.Fields))
	for i, f := range sample.Fields {
		fields[i] = FieldInfo{Name: f.Name, Kind: f.Kind.String()}
	}
	c.JSON(http.StatusOK, SampleResponse{
		Source:       source,
		Points:       sample.Len(),
		CRS:          sample.CRS,
		Fields:       fields,
		StringFields: sample.StringFields(),
	})
}

// Groups перечисляет значения атрибута header для разбиения по группе.
func (h *Handler) Groups(c *gin.Context) {
	header := c.Query("header")
	if header == "" {
		badRequest(c, "header is required")
		return
	}
	groups, err := h.session.Groups(header)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"header": header, "groups": groups})
}

// StartRun запускает конвейер в фоне. Незаданные поля берутся из конфигурации.
func (h *Handler) StartRun(c *gin.Context) {
	opts := h.runDefaults
	opts.Params = nil
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid run options: "+err.Error())
		return
	}
	if opts.Params == nil && opts.Method == h.runDefaults.Method {
		opts.Params = h.runDefaults.Params
	}

	runID := h.worker.Start(opts, h.callbacks())
	c.JSON(http.StatusAccepted, RunResponse{RunID: runID})
}

func (h *Handler) callbacks() core.Callbacks {
	return core.Callbacks{
		OnProgress: func(runID string, ev model.ProgressEvent) {
			h.logger.Info("run progress", zap.String("run_id", runID), zap.String("stage", ev.Message))
		},
		OnResult: func(result *model.PredictionResult) {
			h.logger.Info("run finished",
				zap.String("run_id", result.RunID),
				zap.Float64("rmse", result.Metrics.RMSE),
				zap.Float64("r2", result.Metrics.R2))
		},
		OnWarning: func(runID string, w core.Warning) {
			h.logger.Warn("run failed",
				zap.String("run_id", runID),
				zap.String("kind", w.Kind),
				zap.String("message", w.Message))
		},
	}
}

func (h *Handler) CurrentRun(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Status())
}

// StopRun прерывает текущий запуск; результат не публикуется.
func (h *Handler) StopRun(c *gin.Context) {
	h.worker.Stop()
	c.JSON(http.StatusOK, h.worker.Status())
}

// Export сохраняет результат последнего успешного запуска.
func (h *Handler) Export(c *gin.Context) {
	opts := h.exportDefaults
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid export options: "+err.Error())
		return
	}
	files, err := h.exporter.Export(c.Request.Context(), h.session.Result(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ExportResponse{Files: files})
}

// GetRun возвращает сводку запуска из кеша.
func (h *Handler) GetRun(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetModels возвращает список доступных моделей.
func (h *Handler) GetModels(c *gin.Context) {
	resp := ModelsResponse{
		Methods: model.MethodNames(),
		Backends: []string{
			string(model.BackendLoky),
			string(model.BackendThreading),
			string(model.BackendMultiprocessing),
		},
	}
	if h.models != nil {
		remote, err := h.models.GetAvailableModels(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		resp.Remote = remote
	}
	c.JSON(http.StatusOK, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"kind": "invalid_argument", "error": msg})
}

// fail отвечает классифицированной ошибкой.
func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"kind": "not_found", "error": err.Error()})
		return
	}
	w := core.Classify(err)
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"kind": w.Kind, "error": w.Title, "message": w.Message})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrGeometryType), errors.Is(err, model.ErrOutOfBounds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrMissingPrerequisite):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
