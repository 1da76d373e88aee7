package main

import (
	"flag"
	"testing"

	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"sdb_service/internal/config"
	"sdb_service/internal/domain/model"
)

func cliContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("run", flag.ContinueOnError)
	set.String(flagDepthColumn, "", "")
	set.String(flagMethod, "", "")
	set.Int(flagJobs, 0, "")
	set.String(flagEvaluation, "", "")
	set.String(flagOut, "", "")
	set.String(flagFormat, "", "")
	set.String(flagDirection, "", "")
	set.Bool(flagScatter, false, "")
	set.Bool(flagTables, true, "")
	test.That(t, set.Parse(args), test.ShouldBeNil)
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestRunOptionsOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Processing.Params = map[string]map[string]any{"knn": {"n_neighbors": 3}}

	opts := runOptions(cliContext(t, "--depth-column", "kedalaman"), cfg)
	test.That(t, opts.Method, test.ShouldEqual, "knn")
	test.That(t, opts.Params, test.ShouldResemble, map[string]any{"n_neighbors": 3})
	test.That(t, opts.DepthColumn, test.ShouldEqual, "kedalaman")

	opts = runOptions(cliContext(t, "--method", "linear", "--jobs", "3", "--evaluation", "recalculate"), cfg)
	test.That(t, opts.Method, test.ShouldEqual, "linear")
	test.That(t, opts.Params, test.ShouldBeNil)
	test.That(t, opts.Jobs, test.ShouldEqual, 3)
	test.That(t, opts.Evaluation, test.ShouldEqual, model.EvalRecalculate)
}

func TestExportOptionsOverrides(t *testing.T) {
	opts := exportOptions(cliContext(t, "--out", "/tmp/d.tif", "--format", "shp", "--direction", "down", "--scatter"), config.Default())
	test.That(t, opts.Path, test.ShouldEqual, "/tmp/d.tif")
	test.That(t, opts.TableFormat, test.ShouldEqual, "shp")
	test.That(t, opts.Direction, test.ShouldEqual, model.DepthDown)
	test.That(t, opts.ScatterPlot, test.ShouldBeTrue)
	test.That(t, opts.SaveGrid, test.ShouldBeTrue)
	test.That(t, opts.SaveTables, test.ShouldBeTrue)

	opts = exportOptions(cliContext(t, "--out", "/tmp/d.tif", "--tables=false"), config.Default())
	test.That(t, opts.SaveTables, test.ShouldBeFalse)
}

func TestOrDefault(t *testing.T) {
	test.That(t, orDefault("", "depth"), test.ShouldEqual, "depth")
	test.That(t, orDefault("drval1", "depth"), test.ShouldEqual, "drval1")
}
