package csvio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"sdb_service/internal/domain/model"
)

func TestWriteTable(t *testing.T) {
	table := model.ResultTable{
		FeatureTable: model.FeatureTable{
			Columns: []string{"band_1", "band_2"},
			Rows:    [][]float64{{0.25, 12}, {0.5, 13}},
			X:       []float64{100.5, 101.5},
			Y:       []float64{20, 21},
		},
		Z:               []float64{-3, -4.5},
		Predicted:       []float64{-3.1, -4.4},
		PredictedColumn: "z_predict",
	}
	path := filepath.Join(t.TempDir(), "depth_train.csv")
	err := NewWriter().WriteTable(context.Background(), path, table, "EPSG:32648")
	test.That(t, err, test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual,
		"band_1,band_2,x,y,z,z_predict\n"+
			"0.25,12,100.5,20,-3,-3.1\n"+
			"0.5,13,101.5,21,-4.5,-4.4\n")
}

func TestWriteTableWithoutPredictions(t *testing.T) {
	table := model.ResultTable{
		FeatureTable: model.FeatureTable{Columns: []string{"b"}, Rows: [][]float64{{1}}, X: []float64{0}, Y: []float64{0}},
		Z:            []float64{-1},
	}
	path := filepath.Join(t.TempDir(), "t.csv")
	w := &Writer{Comma: ';'}
	test.That(t, w.WriteTable(context.Background(), path, table, ""), test.ShouldBeNil)
	data, _ := os.ReadFile(path)
	test.That(t, string(data), test.ShouldEqual, "b;x;y;z\n1;0;0;-1\n")
}

func TestWriteTableBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "t.csv")
	err := NewWriter().WriteTable(context.Background(), path, model.ResultTable{}, "")
	test.That(t, errors.Is(err, model.ErrIO), test.ShouldBeTrue)
}
