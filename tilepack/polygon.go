package tilepack

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

// Polygon is the area to export: an outer ring, optional holes, and the CRS
// its coordinates are expressed in. A Polygon never changes after
// NewPolygon returns.
type Polygon struct {
	geometry orb.Polygon
	crs      CRS
}

// NewPolygon validates and copies p. Open rings are closed. Every ring needs
// at least three distinct vertices and finite coordinates.
func NewPolygon(p orb.Polygon, crs CRS) (*Polygon, error) {
	crs, err := ParseCRS(string(crs))
	if err != nil {
		return nil, err
	}

	if len(p) == 0 {
		return nil, invalidGeometry("polygon has no rings")
	}

	rings := make(orb.Polygon, 0, len(p))

	for i, ring := range p {
		for _, pt := range ring {
			if !finitePoint(pt) {
				return nil, invalidGeometry("ring %d has non-finite coordinate %v", i, pt)
			}
		}

		if n := distinctVertices(ring); n < 3 {
			return nil, invalidGeometry("ring %d has %d distinct vertices, need at least 3", i, n)
		}

		r := ring.Clone()
		if !r.Closed() {
			r = append(r, r[0])
		}
		rings = append(rings, r)
	}

	return &Polygon{geometry: rings, crs: crs}, nil
}

func distinctVertices(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, pt := range r {
		seen[pt] = struct{}{}
	}
	return len(seen)
}

// CRS returns the coordinate reference system of the source coordinates.
func (p *Polygon) CRS() CRS {
	return p.crs
}

// Geometry returns a copy of the polygon in its source CRS.
func (p *Polygon) Geometry() orb.Polygon {
	return p.geometry.Clone()
}

// Projected returns a copy of the polygon in Web Mercator meters.
func (p *Polygon) Projected() (orb.Polygon, error) {
	out := make(orb.Polygon, len(p.geometry))

	for i, ring := range p.geometry {
		r := make(orb.Ring, len(ring))
		for j, pt := range ring {
			m, err := ToProjected(pt, p.crs)
			if err != nil {
				return nil, err
			}
			r[j] = m
		}
		out[i] = r
	}

	return out, nil
}

// ParsePolygonWKT parses a POLYGON (or single-member MULTIPOLYGON) WKT string.
func ParsePolygonWKT(s string, crs CRS) (*Polygon, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, &InvalidGeometryError{Reason: "parse WKT", Err: err}
	}
	return polygonFromGeometry(g, crs)
}

// ParsePolygonGeoJSON accepts a GeoJSON geometry, a Feature or a
// FeatureCollection. For collections the first polygon feature is used.
func ParsePolygonGeoJSON(data []byte, crs CRS) (*Polygon, error) {
	var envelope struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &InvalidGeometryError{Reason: "parse GeoJSON", Err: err}
	}

	switch envelope.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, &InvalidGeometryError{Reason: "parse GeoJSON", Err: err}
		}

		for _, f := range fc.Features {
			if p, err := polygonFromGeometry(f.Geometry, crs); err == nil {
				return p, nil
			}
		}
		return nil, invalidGeometry("feature collection has no polygon feature")
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, &InvalidGeometryError{Reason: "parse GeoJSON", Err: err}
		}
		return polygonFromGeometry(f.Geometry, crs)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, &InvalidGeometryError{Reason: "parse GeoJSON", Err: err}
		}
		return polygonFromGeometry(g.Geometry(), crs)
	}
}

// ReadPolygon loads a polygon from a file path or an inline WKT/GeoJSON
// string.
func ReadPolygon(src string, crs CRS) (*Polygon, error) {
	data := []byte(src)

	if info, err := os.Stat(src); err == nil && !info.IsDir() {
		data, err = os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read polygon %s, %w", src, err)
		}
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		return ParsePolygonGeoJSON([]byte(text), crs)
	}
	return ParsePolygonWKT(text, crs)
}

func polygonFromGeometry(g orb.Geometry, crs CRS) (*Polygon, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		return NewPolygon(geom, crs)
	case orb.MultiPolygon:
		if len(geom) == 1 {
			return NewPolygon(geom[0], crs)
		}
		return nil, invalidGeometry("multipolygon with %d members, need exactly one", len(geom))
	case orb.Bound:
		return NewPolygon(geom.ToPolygon(), crs)
	case nil:
		return nil, invalidGeometry("missing geometry")
	default:
		return nil, invalidGeometry("geometry type %s is not a polygon", g.GeoJSONType())
	}
}
