package csvio

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"sdb_service/internal/domain/model"
)

// Writer пишет таблицу результата в CSV: заголовок и по строке на точку.
// CSV не хранит систему координат, поэтому crs игнорируется.
type Writer struct {
	Comma rune
}

func NewWriter() *Writer {
	return &Writer{Comma: ','}
}

func (w *Writer) WriteTable(ctx context.Context, path string, t model.ResultTable, _ string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(model.ErrIO, err.Error())
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	cw := csv.NewWriter(f)
	if w.Comma != 0 {
		cw.Comma = w.Comma
	}
	if err := cw.Write(t.Header()); err != nil {
		return errors.Wrap(model.ErrIO, err.Error())
	}
	record := make([]string, 0, len(t.Header()))
	for i := 0; i < t.Len(); i++ {
		record = record[:0]
		for _, v := range t.Record(i) {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(model.ErrIO, err.Error())
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(model.ErrIO, err.Error())
	}
	return nil
}
