package core

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sdb_service/internal/domain/model"
)

// SampleSource - внешний источник точек промера в пределах охвата растра.
type SampleSource interface {
	FetchSamples(ctx context.Context, extent orb.Bound, crs string) (*model.PointSample, error)
}

// ExtensionReaders выбирает читателя выборки по расширению файла.
type ExtensionReaders struct {
	byExt    map[string]model.SampleReader
	fallback model.SampleReader
}

func NewExtensionReaders(fallback model.SampleReader) *ExtensionReaders {
	return &ExtensionReaders{byExt: make(map[string]model.SampleReader), fallback: fallback}
}

func (e *ExtensionReaders) Register(reader model.SampleReader, exts ...string) *ExtensionReaders {
	for _, ext := range exts {
		e.byExt[strings.ToLower(ext)] = reader
	}
	return e
}

func (e *ExtensionReaders) ReadSample(ctx context.Context, path string) (*model.PointSample, error) {
	if r, ok := e.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return r.ReadSample(ctx, path)
	}
	if e.fallback == nil {
		return nil, errors.Wrapf(model.ErrIO, "no reader for %s", path)
	}
	return e.fallback.ReadSample(ctx, path)
}

// Snapshot - неизменяемый срез состояния сессии для одного запуска.
type Snapshot struct {
	Raster     *model.Raster
	Table      *model.BandTable
	Sample     *model.PointSample
	RasterPath string
	SamplePath string
}

// Session хранит загруженные данные и последний результат вместо глобального состояния.
type Session struct {
	rasterReader model.RasterReader
	sampleReader model.SampleReader
	logger       *zap.Logger

	mu         sync.RWMutex
	raster     *model.Raster
	table      *model.BandTable
	sample     *model.PointSample
	rasterPath string
	samplePath string
	result     *model.PredictionResult
}

func NewSession(rasterReader model.RasterReader, sampleReader model.SampleReader, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{rasterReader: rasterReader, sampleReader: sampleReader, logger: logger}
}

// LoadRaster читает растр и сразу разворачивает его в таблицу каналов.
func (s *Session) LoadRaster(ctx context.Context, path string) (*model.Raster, error) {
	r, err := s.rasterReader.ReadRaster(ctx, path)
	if err != nil {
		return nil, err
	}
	table, err := Unravel(r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.raster, s.table, s.rasterPath = r, table, path
	s.result = nil
	s.mu.Unlock()

	s.logger.Info("image loaded",
		zap.String("path", path),
		zap.Int("width", r.Width),
		zap.Int("height", r.Height),
		zap.Int("bands", r.BandCount()),
		zap.String("crs", r.CRS))
	return r, nil
}

// LoadSample читает выборку из файла. Выборка с не точечной геометрией
// отклоняется целиком, ранее загруженная выборка при этом сохраняется.
func (s *Session) LoadSample(ctx context.Context, path string) (*model.PointSample, error) {
	sample, err := s.sampleReader.ReadSample(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := s.setSample(sample, path); err != nil {
		return nil, err
	}
	return sample, nil
}

// LoadSampleFrom получает выборку из внешнего источника по охвату загруженного растра.
func (s *Session) LoadSampleFrom(ctx context.Context, src SampleSource, name string) (*model.PointSample, error) {
	s.mu.RLock()
	r := s.raster
	s.mu.RUnlock()
	if r == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no image data loaded, load image before querying samples")
	}
	sample, err := src.FetchSamples(ctx, r.Bounds(), r.CRS)
	if err != nil {
		return nil, err
	}
	if err := s.setSample(sample, name); err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *Session) setSample(sample *model.PointSample, source string) error {
	if err := sample.CheckPointGeometry(); err != nil {
		s.logger.Warn("depth sample rejected", zap.String("source", source), zap.Error(err))
		return err
	}
	if sample.CRS == "" {
		sample.CRS = model.DefaultVectorCRS
	}
	s.mu.Lock()
	s.sample, s.samplePath = sample, source
	s.result = nil
	s.mu.Unlock()

	s.logger.Info("depth sample loaded",
		zap.String("source", source),
		zap.Int("points", sample.Len()),
		zap.String("crs", sample.CRS))
	return nil
}

// Groups перечисляет значения строкового атрибута для разбиения по группе.
func (s *Session) Groups(header string) ([]string, error) {
	s.mu.RLock()
	sample := s.sample
	s.mu.RUnlock()
	if sample == nil {
		return nil, errors.Wrap(model.ErrMissingPrerequisite, "no depth sample loaded")
	}
	return sample.Groups(header)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Raster:     s.raster,
		Table:      s.table,
		Sample:     s.sample,
		RasterPath: s.rasterPath,
		SamplePath: s.samplePath,
	}
}

func (s *Session) SetResult(r *model.PredictionResult) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

func (s *Session) Result() *model.PredictionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}
