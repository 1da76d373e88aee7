package model

// FeatureTable - значения каналов в точках выборки вместе с координатами.
// Rows[i] соответствует точке (X[i], Y[i]).
type FeatureTable struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
	X       []float64   `json:"x"`
	Y       []float64   `json:"y"`
}

func (t FeatureTable) Len() int {
	return len(t.Rows)
}

// Subset копирует строки idx в новую таблицу с индексацией с нуля.
func (t FeatureTable) Subset(idx []int) FeatureTable {
	out := FeatureTable{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]float64, len(idx)),
		X:       make([]float64, len(idx)),
		Y:       make([]float64, len(idx)),
	}
	for j, i := range idx {
		out.Rows[j] = append([]float64(nil), t.Rows[i]...)
		out.X[j] = t.X[i]
		out.Y[j] = t.Y[i]
	}
	return out
}

// Split - обучающая и тестовая части выборки.
type Split struct {
	TrainFeatures FeatureTable
	TestFeatures  FeatureTable
	TrainLabels   []float64
	TestLabels    []float64
}

// ResultTable - таблица признаков с истинной и предсказанной глубиной.
type ResultTable struct {
	FeatureTable
	Z               []float64 `json:"z"`
	Predicted       []float64 `json:"predicted,omitempty"`
	PredictedColumn string    `json:"predicted_column,omitempty"`
}

// Header возвращает имена всех столбцов в порядке вывода.
func (t ResultTable) Header() []string {
	h := append([]string(nil), t.Columns...)
	h = append(h, "x", "y", "z")
	if t.Predicted != nil {
		h = append(h, t.PredictedColumn)
	}
	return h
}

// Record возвращает i-ю строку в порядке Header.
func (t ResultTable) Record(i int) []float64 {
	r := append([]float64(nil), t.Rows[i]...)
	r = append(r, t.X[i], t.Y[i], t.Z[i])
	if t.Predicted != nil {
		r = append(r, t.Predicted[i])
	}
	return r
}
