package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

type PostGISRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(ctx context.Context, connStr string) (*PostGISRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, errors.Wrapf(model.ErrIO, "failed to connect to postgres: %v", err)
	}
	return &PostGISRepository{db: db}, nil
}

func (r *PostGISRepository) DB() *sqlx.DB {
	return r.db
}

func (r *PostGISRepository) Close() error {
	return r.db.Close()
}

// SampleQuery описывает таблицу PostGIS с точками промера.
type SampleQuery struct {
	Table      string
	GeomColumn string
	// BBox в формате "minX,minY,maxX,maxY" в системе SRID, пустая строка без фильтра
	BBox string
	SRID int
}

type sampleRow struct {
	GeomType   string   `db:"geom_type"`
	X          float64  `db:"x"`
	Y          float64  `db:"y"`
	Z          *float64 `db:"z"`
	SRID       int      `db:"srid"`
	Attributes []byte   `db:"attributes"`
}

// GetSamples читает точки промера из таблицы вместе со всеми атрибутами строки.
func (r *PostGISRepository) GetSamples(ctx context.Context, q SampleQuery) (*model.PointSample, error) {
	query, args, err := buildSampleQuery(q)
	if err != nil {
		return nil, err
	}

	var rows []sampleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(model.ErrIO, "failed to query depth samples: %v", err)
	}
	return rowsToSample(rows)
}

func buildSampleQuery(q SampleQuery) (string, []any, error) {
	if q.Table == "" {
		return "", nil, errors.Wrap(model.ErrInvalidArgument, "sample table is not set")
	}
	geom := q.GeomColumn
	if geom == "" {
		geom = "geom"
	}
	table := quoteQualified(q.Table)
	g := pq.QuoteIdentifier(geom)

	query := fmt.Sprintf(`
		SELECT
			GeometryType(%[1]s) AS geom_type,
			ST_X(ST_PointOnSurface(%[1]s)) AS x,
			ST_Y(ST_PointOnSurface(%[1]s)) AS y,
			CASE WHEN ST_CoordDim(%[1]s) > 2 AND GeometryType(%[1]s) = 'POINT' THEN ST_Z(%[1]s) END AS z,
			ST_SRID(%[1]s) AS srid,
			to_jsonb(t) - $1::text AS attributes
		FROM %[2]s AS t`, g, table)
	args := []any{geom}

	if q.BBox != "" {
		minX, minY, maxX, maxY, err := parseBBox(q.BBox)
		if err != nil {
			return "", nil, errors.Wrapf(model.ErrInvalidArgument, "invalid bbox format: %v", err)
		}
		query += fmt.Sprintf(`
		WHERE ST_Intersects(%[1]s, ST_Transform(ST_MakeEnvelope($2, $3, $4, $5, $6), ST_SRID(%[1]s)))`, g)
		args = append(args, minX, minY, maxX, maxY, q.SRID)
	}
	return query, args, nil
}

func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func rowsToSample(rows []sampleRow) (*model.PointSample, error) {
	sample := &model.PointSample{Points: make([]model.SamplePoint, 0, len(rows))}
	for i, row := range rows {
		attrs := make(map[string]any)
		if len(row.Attributes) > 0 {
			if err := json.Unmarshal(row.Attributes, &attrs); err != nil {
				return nil, errors.Wrapf(model.ErrIO, "row %d: failed to decode attributes: %v", i, err)
			}
		}
		p := model.SamplePoint{
			X:            row.X,
			Y:            row.Y,
			GeometryType: geometryName(row.GeomType),
			Attributes:   attrs,
		}
		if row.Z != nil {
			p.Z, p.HasZ = *row.Z, true
		}
		if sample.CRS == "" && row.SRID > 0 {
			sample.CRS = "EPSG:" + strconv.Itoa(row.SRID)
		}
		sample.Points = append(sample.Points, p)
	}
	sample.Fields = model.InferFields(sample.Points)
	return sample, nil
}

// geometryName переводит имя типа PostGIS (POINT, POINTZ) в имя OGC.
func geometryName(t string) string {
	switch strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(t), "M"), "Z") {
	case "POINT":
		return model.GeometryPoint
	case "MULTIPOINT":
		return "MultiPoint"
	case "LINESTRING":
		return "LineString"
	case "MULTILINESTRING":
		return "MultiLineString"
	case "POLYGON":
		return "Polygon"
	case "MULTIPOLYGON":
		return "MultiPolygon"
	default:
		return t
	}
}

// PostGISSampleSource отдаёт точки таблицы, попадающие в охват растра.
type PostGISSampleSource struct {
	repo       *PostGISRepository
	table      string
	geomColumn string
}

func NewPostGISSampleSource(repo *PostGISRepository, table, geomColumn string) *PostGISSampleSource {
	return &PostGISSampleSource{repo: repo, table: table, geomColumn: geomColumn}
}

func (s *PostGISSampleSource) FetchSamples(ctx context.Context, extent orb.Bound, crs string) (*model.PointSample, error) {
	q := SampleQuery{Table: s.table, GeomColumn: s.geomColumn}
	if srid, ok := epsgCode(crs); ok {
		q.BBox = formatBBox(extent)
		q.SRID = srid
	}
	return s.repo.GetSamples(ctx, q)
}

func epsgCode(crs string) (int, bool) {
	code, found := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func formatBBox(b orb.Bound) string {
	return fmt.Sprintf("%g,%g,%g,%g", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

// parseBBox разбирает строку "minX,minY,maxX,maxY".
func parseBBox(bbox string) (minX, minY, maxX, maxY float64, err error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("bbox must have 4 components, got %d", len(parts))
	}

	values := make([]float64, 4)
	names := [...]string{"minX", "minY", "maxX", "maxY"}
	for i, p := range parts {
		values[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid %s: %w", names[i], err)
		}
	}
	minX, minY, maxX, maxY = values[0], values[1], values[2], values[3]

	if minX > maxX || minY > maxY {
		return 0, 0, 0, 0, fmt.Errorf("minX must be <= maxX and minY must be <= maxY")
	}
	return minX, minY, maxX, maxY, nil
}
