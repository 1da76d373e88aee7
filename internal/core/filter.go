package core

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// CheckMedianFilterSize допускает нечётные размеры окна не меньше 3.
func CheckMedianFilterSize(size int) error {
	if size < 3 || size%2 == 0 {
		return errors.Wrapf(model.ErrInvalidArgument, "median filter size %d: allowed value is >= 3 and odd", size)
	}
	return nil
}

// MedianFilter сглаживает каждый канал медианой по окну size x size.
// Края отражаются, NaN внутри окна пропускаются.
func MedianFilter(r *model.Raster, size int, label string) (*model.Raster, error) {
	if err := CheckMedianFilterSize(size); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := &model.Raster{
		Width:     r.Width,
		Height:    r.Height,
		Bands:     make([][]float64, len(r.Bands)),
		Transform: r.Transform,
		CRS:       r.CRS,
	}
	for b, band := range r.Bands {
		out.Bands[b] = medianBand(band, r.Width, r.Height, size/2)
		out.BandNames = append(out.BandNames, label)
	}
	return out, nil
}

func medianBand(band []float64, w, h, half int) []float64 {
	out := make([]float64, len(band))
	window := make([]float64, 0, (2*half+1)*(2*half+1))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			window = window[:0]
			for dr := -half; dr <= half; dr++ {
				rr := reflect(row+dr, h)
				for dc := -half; dc <= half; dc++ {
					v := band[rr*w+reflect(col+dc, w)]
					if !math.IsNaN(v) {
						window = append(window, v)
					}
				}
			}
			if len(window) == 0 {
				out[row*w+col] = math.NaN()
				continue
			}
			sort.Float64s(window)
			out[row*w+col] = middle(window)
		}
	}
	return out
}

// reflect отражает индекс относительно краёв: d c b a | a b c d | d c b a.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

func middle(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
