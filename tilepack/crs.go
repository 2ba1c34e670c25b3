package tilepack

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// CRS names a coordinate reference system by its canonical authority code.
type CRS string

const (
	// EPSG4326 is geographic longitude/latitude in degrees, used for
	// container metadata.
	EPSG4326 CRS = "EPSG:4326"
	// EPSG3857 is spherical Web Mercator in meters, used for all tile math.
	EPSG3857 CRS = "EPSG:3857"
)

var crsAliases = map[string]CRS{
	"EPSG:4326":   EPSG4326,
	"WGS84":       EPSG4326,
	"CRS:84":      EPSG4326,
	"OGC:CRS84":   EPSG4326,
	"EPSG:3857":   EPSG3857,
	"EPSG:900913": EPSG3857,
	"EPSG:3785":   EPSG3857,
	"EPSG:102100": EPSG3857,
	"EPSG:102113": EPSG3857,
}

// ParseCRS resolves a CRS code or alias (case-insensitive).
func ParseCRS(code string) (CRS, error) {
	c, ok := crsAliases[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return "", invalidGeometry("unsupported coordinate reference system %q", code)
	}
	return c, nil
}

// ToProjected converts a point from crs into Web Mercator meters.
//
// Geographic latitudes beyond the Web Mercator limit are clamped to it, so
// polar input lands on the grid edge with zero area instead of failing.
func ToProjected(p orb.Point, crs CRS) (orb.Point, error) {
	if !finitePoint(p) {
		return orb.Point{}, invalidGeometry("non-finite coordinate %v", p)
	}

	switch crs {
	case EPSG3857:
		return p, nil
	case EPSG4326:
		if p.Lon() < -180.0 || p.Lon() > 180.0 || p.Lat() < -90.0 || p.Lat() > 90.0 {
			return orb.Point{}, invalidGeometry("geographic coordinate %v out of range", p)
		}

		clamped := orb.Point{p.Lon(), math.Max(-webMercatorLatLimit, math.Min(webMercatorLatLimit, p.Lat()))}
		m := project.WGS84.ToMercator(clamped)

		if !finitePoint(m) {
			return orb.Point{}, invalidGeometry("projection of %v is not finite", p)
		}
		return m, nil
	default:
		return orb.Point{}, invalidGeometry("unsupported coordinate reference system %q", crs)
	}
}

// ProjectedToGeographic converts Web Mercator meters to longitude/latitude.
func ProjectedToGeographic(p orb.Point) orb.Point {
	return project.Mercator.ToWGS84(p)
}

// projectedBoundToGeographic reprojects a meters bound corner by corner.
func projectedBoundToGeographic(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: ProjectedToGeographic(b.Min),
		Max: ProjectedToGeographic(b.Max),
	}
}

func finitePoint(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
