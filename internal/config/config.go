package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sdb_service/internal/domain/model"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Overpass   OverpassConfig   `mapstructure:"overpass"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MLService  MLServiceConfig  `mapstructure:"ml_service"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Export     ExportConfig     `mapstructure:"export"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

// PostgresConfig - источник промеров в PostGIS и журнал запусков.
// Пустой URL отключает оба.
type PostgresConfig struct {
	URL        string `mapstructure:"url"`
	Table      string `mapstructure:"table"`
	GeomColumn string `mapstructure:"geom_column"`
	SaveRuns   bool   `mapstructure:"save_runs"`
}

type OverpassConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Tag      string        `mapstructure:"tag"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MLServiceConfig - внешний сервис обучения. Без URL используются встроенные оценщики.
type MLServiceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProcessingConfig struct {
	DepthColumn string                    `mapstructure:"depth_column"`
	Direction   string                    `mapstructure:"direction"`
	DepthLimit  model.DepthWindow         `mapstructure:"depth_limit"`
	Split       model.SplitOptions        `mapstructure:"split"`
	Method      string                    `mapstructure:"method"`
	Backend     string                    `mapstructure:"backend"`
	Jobs        int                       `mapstructure:"n_jobs"`
	Evaluation  string                    `mapstructure:"evaluation"`
	Params      map[string]map[string]any `mapstructure:"params"`
}

type ExportConfig struct {
	TableFormat      string `mapstructure:"table_format"`
	MedianFilterSize int    `mapstructure:"median_filter_size"`
	Direction        string `mapstructure:"direction"`
	SaveGrid         bool   `mapstructure:"save_grid"`
	SaveTables       bool   `mapstructure:"save_tables"`
	ScatterPlot      bool   `mapstructure:"scatter_plot"`
}

// Load читает YAML-файл; переменные окружения SDB_* перекрывают его значения.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// New загружает конфигурацию из configPath, при ошибке пишет предупреждение
// и возвращает значения по умолчанию.
func New(configPath string, logger *zap.Logger) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		if logger != nil {
			logger.Warn("config not loaded, using defaults",
				zap.String("path", configPath),
				zap.Error(err))
		}
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("log.mode", d.Log.Mode)

	v.SetDefault("postgres.url", d.Postgres.URL)
	v.SetDefault("postgres.table", d.Postgres.Table)
	v.SetDefault("postgres.geom_column", d.Postgres.GeomColumn)
	v.SetDefault("postgres.save_runs", d.Postgres.SaveRuns)

	v.SetDefault("overpass.endpoint", d.Overpass.Endpoint)
	v.SetDefault("overpass.timeout", d.Overpass.Timeout)
	v.SetDefault("overpass.tag", d.Overpass.Tag)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("ml_service.url", d.MLService.URL)
	v.SetDefault("ml_service.timeout", d.MLService.Timeout)

	v.SetDefault("processing.depth_column", d.Processing.DepthColumn)
	v.SetDefault("processing.direction", d.Processing.Direction)
	v.SetDefault("processing.depth_limit.disabled", d.Processing.DepthLimit.Disabled)
	v.SetDefault("processing.depth_limit.upper", d.Processing.DepthLimit.Upper)
	v.SetDefault("processing.depth_limit.lower", d.Processing.DepthLimit.Lower)
	v.SetDefault("processing.split.strategy", string(d.Processing.Split.Strategy))
	v.SetDefault("processing.split.train_size", d.Processing.Split.TrainSize)
	v.SetDefault("processing.split.random_state", d.Processing.Split.RandomState)
	v.SetDefault("processing.method", d.Processing.Method)
	v.SetDefault("processing.backend", d.Processing.Backend)
	v.SetDefault("processing.n_jobs", d.Processing.Jobs)
	v.SetDefault("processing.evaluation", d.Processing.Evaluation)

	v.SetDefault("export.table_format", d.Export.TableFormat)
	v.SetDefault("export.median_filter_size", d.Export.MedianFilterSize)
	v.SetDefault("export.direction", d.Export.Direction)
	v.SetDefault("export.save_grid", d.Export.SaveGrid)
	v.SetDefault("export.save_tables", d.Export.SaveTables)
	v.SetDefault("export.scatter_plot", d.Export.ScatterPlot)
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	run := model.DefaultRunOptions()
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Log: LogConfig{Mode: "debug"},
		Postgres: PostgresConfig{
			Table:      "depth_soundings",
			GeomColumn: "geom",
		},
		Overpass: OverpassConfig{
			Endpoint: "https://overpass-api.de/api/interpreter",
			Timeout:  60 * time.Second,
			Tag:      "depth",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		MLService: MLServiceConfig{Timeout: 5 * time.Minute},
		Processing: ProcessingConfig{
			Direction:  string(run.Direction),
			DepthLimit: run.DepthLimit,
			Split:      run.Split,
			Method:     run.Method,
			Backend:    run.Backend,
			Jobs:       run.Jobs,
			Evaluation: string(run.Evaluation),
		},
		Export: ExportConfig{
			TableFormat: "csv",
			Direction:   string(model.DepthUp),
			SaveGrid:    true,
			SaveTables:  true,
		},
	}
}

// RunOptions собирает параметры запуска; параметры модели берутся из раздела выбранного метода.
func (c *Config) RunOptions() model.RunOptions {
	p := c.Processing
	opts := model.RunOptions{
		DepthColumn: p.DepthColumn,
		Direction:   model.DepthDirection(p.Direction),
		DepthLimit:  p.DepthLimit,
		Split:       p.Split,
		Method:      p.Method,
		Backend:     p.Backend,
		Jobs:        p.Jobs,
		Evaluation:  model.EvaluationMode(p.Evaluation),
	}
	if m, err := model.ParseMethod(p.Method); err == nil {
		for name, params := range p.Params {
			if alias, err := model.ParseMethod(name); err == nil && alias == m {
				opts.Params = copyParams(params)
				break
			}
		}
	}
	return opts
}

// ExportOptions заполняет параметры сохранения для пути path.
func (c *Config) ExportOptions(path string) model.ExportOptions {
	e := c.Export
	return model.ExportOptions{
		Path:             path,
		SaveGrid:         e.SaveGrid,
		SaveTables:       e.SaveTables,
		MedianFilterSize: e.MedianFilterSize,
		Direction:        model.DepthDirection(e.Direction),
		TableFormat:      e.TableFormat,
		ScatterPlot:      e.ScatterPlot,
	}
}

func copyParams(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
