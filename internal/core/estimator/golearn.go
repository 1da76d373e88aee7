package estimator

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sjwhitworth/golearn/base"
)

const depthAttribute = "z"

// frame - набор атрибутов golearn для таблицы каналов и глубины.
type frame struct {
	attrs []base.Attribute
	class base.Attribute
}

func newFrame(p int) *frame {
	f := &frame{attrs: make([]base.Attribute, p), class: base.NewFloatAttribute(depthAttribute)}
	for i := range f.attrs {
		f.attrs[i] = base.NewFloatAttribute(fmt.Sprintf("band_%d", i+1))
	}
	return f
}

// instances упаковывает строки в base.DenseInstances. Для прогноза
// y == nil, колонка глубины всё равно нужна golearn и заполняется нулями.
func (f *frame) instances(X [][]float64, y []float64) (*base.DenseInstances, error) {
	inst := base.NewDenseInstances()
	specs := make([]base.AttributeSpec, len(f.attrs))
	for i, a := range f.attrs {
		specs[i] = inst.AddAttribute(a)
	}
	cls := inst.AddAttribute(f.class)
	if err := inst.AddClassAttribute(f.class); err != nil {
		return nil, errors.Wrap(err, "golearn class attribute")
	}
	if err := inst.Extend(len(X)); err != nil {
		return nil, errors.Wrap(err, "golearn extend")
	}
	for i, row := range X {
		for j, v := range row {
			inst.Set(specs[j], i, base.PackFloatToBytes(v))
		}
		z := 0.0
		if y != nil {
			z = y[i]
		}
		inst.Set(cls, i, base.PackFloatToBytes(z))
	}
	return inst, nil
}

// column читает колонку глубины из результата прогноза.
func (f *frame) column(grid base.FixedDataGrid, n int) ([]float64, error) {
	spec, err := grid.GetAttribute(f.class)
	if err != nil {
		return nil, errors.Wrap(err, "golearn prediction column")
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = base.UnpackBytesToFloat(grid.Get(spec, i))
	}
	return out, nil
}
