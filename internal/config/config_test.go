package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

const sampleConfig = `
server:
  port: ":9000"
  mode: release
postgres:
  url: postgres://sdb@localhost/sdb
  save_runs: true
redis:
  enabled: true
  ttl: 2h
processing:
  depth_column: kedalaman
  method: rf
  n_jobs: 4
  depth_limit:
    upper: -1
    lower: -20
  split:
    strategy: attribute
    group_column: zone
    group_value: south
  params:
    random_forest:
      n_estimators: 50
      random_state: 0
    knn:
      n_neighbors: 3
export:
  table_format: geojson
  median_filter_size: 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	test.That(t, os.WriteFile(path, []byte(content), 0o644), test.ShouldBeNil)
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.Server.Port, test.ShouldEqual, ":9000")
	test.That(t, cfg.Server.Mode, test.ShouldEqual, "release")
	test.That(t, cfg.Server.ReadTimeout, test.ShouldEqual, 30*time.Second)
	test.That(t, cfg.Postgres.SaveRuns, test.ShouldBeTrue)
	test.That(t, cfg.Postgres.Table, test.ShouldEqual, "depth_soundings")
	test.That(t, cfg.Redis.TTL, test.ShouldEqual, 2*time.Hour)
	test.That(t, cfg.Overpass.Tag, test.ShouldEqual, "depth")
	test.That(t, cfg.Export.TableFormat, test.ShouldEqual, "geojson")
	test.That(t, cfg.Export.MedianFilterSize, test.ShouldEqual, 5)

	opts := cfg.RunOptions()
	test.That(t, opts.DepthColumn, test.ShouldEqual, "kedalaman")
	test.That(t, opts.Method, test.ShouldEqual, "rf")
	test.That(t, opts.Jobs, test.ShouldEqual, 4)
	test.That(t, opts.Backend, test.ShouldEqual, "threading")
	test.That(t, opts.DepthLimit, test.ShouldResemble, model.DepthWindow{Upper: -1, Lower: -20})
	test.That(t, opts.Split.Strategy, test.ShouldEqual, model.SplitAttribute)
	test.That(t, opts.Split.TrainSize, test.ShouldEqual, 0.75)
	test.That(t, opts.Split.GroupValue, test.ShouldEqual, "south")
	test.That(t, opts.Params, test.ShouldHaveLength, 2)
	test.That(t, opts.Params["n_estimators"], test.ShouldEqual, 50)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SDB_SERVER_PORT", ":7000")
	t.Setenv("SDB_PROCESSING_METHOD", "knn")

	cfg, err := Load(writeConfig(t, sampleConfig))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Server.Port, test.ShouldEqual, ":7000")
	opts := cfg.RunOptions()
	test.That(t, opts.Method, test.ShouldEqual, "knn")
	test.That(t, opts.Params, test.ShouldResemble, map[string]any{"n_neighbors": 3})
}

func TestNewFallsBackToDefaults(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	cfg := New(missing, zap.New(core))
	test.That(t, cfg, test.ShouldResemble, Default())
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	entry := logs.All()[0]
	test.That(t, entry.Message, test.ShouldEqual, "config not loaded, using defaults")
	test.That(t, entry.ContextMap()["path"], test.ShouldEqual, missing)

	test.That(t, New(missing, nil), test.ShouldResemble, Default())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to read config file")
}

func TestDefaultRunOptions(t *testing.T) {
	opts := Default().RunOptions()
	want := model.DefaultRunOptions()
	test.That(t, opts, test.ShouldResemble, want)

	exp := Default().ExportOptions("/tmp/depth.tif")
	test.That(t, exp.Path, test.ShouldEqual, "/tmp/depth.tif")
	test.That(t, exp.TableFormat, test.ShouldEqual, "csv")
	test.That(t, exp.Direction, test.ShouldEqual, model.DepthUp)
	test.That(t, exp.SaveGrid, test.ShouldBeTrue)
	test.That(t, exp.SaveTables, test.ShouldBeTrue)
}
