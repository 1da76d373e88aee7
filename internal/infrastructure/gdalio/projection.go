package gdalio

import (
	"context"
	"strconv"
	"strings"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"

	"sdb_service/internal/domain/model"
)

// wgs84Proj4 задаёт WGS84 с порядком осей долгота, широта.
const wgs84Proj4 = "+proj=longlat +datum=WGS84 +no_defs"

// Projector перепроецирует координаты через OSR.
type Projector struct{}

func NewProjector() *Projector {
	return &Projector{}
}

func (Projector) Transform(ctx context.Context, srcCRS, dstCRS string, xs, ys []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(xs) != len(ys) {
		return errors.Wrapf(model.ErrInvalidArgument, "%d x coordinates but %d y coordinates", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return nil
	}

	gdalMu.Lock()
	defer gdalMu.Unlock()

	src, err := spatialReference(srcCRS)
	if err != nil {
		return err
	}
	defer src.Destroy()
	dst, err := spatialReference(dstCRS)
	if err != nil {
		return err
	}
	defer dst.Destroy()

	ct := gdal.CreateCoordinateTransform(src, dst)
	defer ct.Destroy()

	zs := make([]float64, len(xs))
	if !ct.Transform(len(xs), xs, ys, zs) {
		return errors.Wrapf(model.ErrIO, "failed to transform coordinates from %s to %s", srcCRS, dstCRS)
	}
	return nil
}

// crsDefinition разбирает строку системы координат: код EPSG или WKT.
type crsDefinition struct {
	epsg int
	wkt  string
}

func parseCRS(crs string) (crsDefinition, error) {
	crs = strings.TrimSpace(crs)
	if crs == "" {
		return crsDefinition{}, errors.Wrap(model.ErrInvalidArgument, "empty coordinate reference system")
	}
	if code, ok := strings.CutPrefix(strings.ToUpper(crs), "EPSG:"); ok {
		n, err := strconv.Atoi(code)
		if err != nil || n <= 0 {
			return crsDefinition{}, errors.Wrapf(model.ErrInvalidArgument, "invalid EPSG code in %q", crs)
		}
		return crsDefinition{epsg: n}, nil
	}
	return crsDefinition{wkt: crs}, nil
}

func spatialReference(crs string) (gdal.SpatialReference, error) {
	def, err := parseCRS(crs)
	if err != nil {
		return gdal.SpatialReference{}, err
	}
	sr := gdal.CreateSpatialReference("")
	switch {
	case def.epsg == 4326:
		err = sr.FromProj4(wgs84Proj4)
	case def.epsg > 0:
		err = sr.FromEPSG(def.epsg)
	default:
		err = sr.FromWKT(def.wkt)
	}
	if err != nil {
		sr.Destroy()
		return gdal.SpatialReference{}, errors.Wrapf(model.ErrInvalidArgument, "unknown coordinate reference system %q: %v", crs, err)
	}
	return sr, nil
}

func toWKT(crs string) (string, error) {
	sr, err := spatialReference(crs)
	if err != nil {
		return "", err
	}
	defer sr.Destroy()
	wkt, err := sr.ToWKT()
	if err != nil {
		return "", errors.Wrap(model.ErrIO, err.Error())
	}
	return wkt, nil
}

// crsName сводит WKT к виду "EPSG:<код>", если код определяется.
func crsName(wkt string) string {
	if strings.TrimSpace(wkt) == "" {
		return ""
	}
	sr := gdal.CreateSpatialReference(wkt)
	defer sr.Destroy()
	if err := sr.AutoIdentifyEPSG(); err == nil {
		if code := sr.AuthorityCode(""); code != "" && strings.EqualFold(sr.AuthorityName(""), "EPSG") {
			return "EPSG:" + code
		}
	}
	return wkt
}
