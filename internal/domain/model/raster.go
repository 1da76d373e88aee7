package model

import (
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// InvalidPixelValue заменяет нечисловые значения пикселей в развёрнутой таблице каналов.
const InvalidPixelValue = -999.0

// GeoTransform - аффинное преобразование GDAL:
// x = g[0] + col*g[1] + row*g[2], y = g[3] + col*g[4] + row*g[5].
type GeoTransform [6]float64

func (g GeoTransform) Apply(col, row float64) (x, y float64) {
	return g[0] + col*g[1] + row*g[2], g[3] + col*g[4] + row*g[5]
}

// Invert переводит координаты в дробные индексы пикселя.
func (g GeoTransform) Invert(x, y float64) (col, row float64, ok bool) {
	det := g[1]*g[5] - g[2]*g[4]
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := x-g[0], y-g[3]
	col = (dx*g[5] - dy*g[2]) / det
	row = (dy*g[1] - dx*g[4]) / det
	return col, row, true
}

// Raster - многоканальный растр с географической привязкой.
// Каждый канал хранится построчно, len(Bands[b]) == Width*Height.
type Raster struct {
	Width     int
	Height    int
	Bands     [][]float64
	BandNames []string
	Transform GeoTransform
	CRS       string
}

func (r *Raster) BandCount() int {
	return len(r.Bands)
}

func (r *Raster) Validate() error {
	if r == nil {
		return errors.Wrap(ErrMissingPrerequisite, "no image data loaded")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "raster size %dx%d", r.Width, r.Height)
	}
	if len(r.Bands) == 0 {
		return errors.Wrap(ErrInvalidArgument, "raster has no bands")
	}
	for i, band := range r.Bands {
		if len(band) != r.Width*r.Height {
			return errors.Wrapf(ErrInvalidArgument, "band %d has %d values, want %d", i+1, len(band), r.Width*r.Height)
		}
	}
	return nil
}

// Bounds возвращает охват растра по внешним границам пикселей.
func (r *Raster) Bounds() orb.Bound {
	w, h := float64(r.Width), float64(r.Height)
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := r.Transform.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

func (r *Raster) PixelSize() (float64, float64) {
	return math.Hypot(r.Transform[1], r.Transform[4]), math.Hypot(r.Transform[2], r.Transform[5])
}

func (r *Raster) PixelCenter(row, col int) (x, y float64) {
	return r.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Locate находит пиксель, центр которого ближе всего к точке.
// ok == false, если точка вне охвата растра.
func (r *Raster) Locate(x, y float64) (row, col int, ok bool) {
	const eps = 1e-9
	fc, fr, ok := r.Transform.Invert(x, y)
	if !ok || math.IsNaN(fc) || math.IsNaN(fr) {
		return 0, 0, false
	}
	if fc < -eps || fr < -eps || fc > float64(r.Width)+eps || fr > float64(r.Height)+eps {
		return 0, 0, false
	}
	col = clampIndex(int(math.Floor(fc)), r.Width)
	row = clampIndex(int(math.Floor(fr)), r.Height)
	return row, col, true
}

func (r *Raster) At(band, row, col int) float64 {
	return r.Bands[band][row*r.Width+col]
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// BandTable - растр, развёрнутый в таблицу: одна строка на пиксель в построчном порядке,
// один столбец band_<i> на канал.
type BandTable struct {
	Columns []string
	Rows    [][]float64
}

func (t *BandTable) Len() int {
	return len(t.Rows)
}

// BandColumn возвращает имя столбца канала с номером i (с единицы).
func BandColumn(i int) string {
	return "band_" + strconv.Itoa(i)
}

// Clone возвращает копию растра с собственными массивами каналов.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Bands = make([][]float64, len(r.Bands))
	for i, b := range r.Bands {
		out.Bands[i] = append([]float64(nil), b...)
	}
	out.BandNames = append([]string(nil), r.BandNames...)
	return &out
}
