package tilepack

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

func TestNewPolygon_invalid(t *testing.T) {
	tests := []struct {
		name string
		poly orb.Polygon
		crs  CRS
	}{
		{"no rings", orb.Polygon{}, EPSG4326},
		{"two vertices", orb.Polygon{{{0, 0}, {1, 1}, {0, 0}}}, EPSG4326},
		{"repeated vertex", orb.Polygon{{{0, 0}, {0, 0}, {1, 1}, {0, 0}}}, EPSG4326},
		{"nan", orb.Polygon{{{0, 0}, {1, math.NaN()}, {1, 1}, {0, 0}}}, EPSG4326},
		{"unknown crs", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, CRS("EPSG:27700")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolygon(tt.poly, tt.crs)

			var ige *InvalidGeometryError
			if !errors.As(err, &ige) {
				t.Fatalf("Expected InvalidGeometryError, got %v", err)
			}
		})
	}
}

func TestNewPolygon_closesRings(t *testing.T) {
	p, err := NewPolygon(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}}}, CRS("wgs84"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if p.CRS() != EPSG4326 {
		t.Errorf("Expected alias to resolve to %s, got %s", EPSG4326, p.CRS())
	}

	ring := p.Geometry()[0]
	if len(ring) != 4 || !ring.Closed() {
		t.Errorf("Expected a closed ring, got %v", ring)
	}
}

func TestPolygon_Projected(t *testing.T) {
	p, err := NewPolygon(orb.Polygon{{{-180, -89}, {180, -89}, {180, 89}, {-180, 89}}}, EPSG4326)
	if err != nil {
		t.Fatal(err)
	}

	projected, err := p.Projected()
	if err != nil {
		t.Fatal(err)
	}

	if b := projected.Bound(); !boundsApproxEqual(b, WorldExtent) {
		t.Errorf("Expected polar latitudes clamped to the world extent, got %v", b)
	}

	if _, err := ToProjected(orb.Point{0, 91}, EPSG4326); err == nil {
		t.Error("Expected an error for latitude 91")
	}
}

func TestParsePolygonWKT(t *testing.T) {
	p, err := ParsePolygonWKT("POLYGON((0 0, 10 0, 10 10, 0 10, 0 0), (2 2, 4 2, 4 4, 2 2))", EPSG4326)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(p.Geometry()) != 2 {
		t.Errorf("Expected an outer ring and a hole, got %d rings", len(p.Geometry()))
	}

	if _, err := ParsePolygonWKT("MULTIPOLYGON(((0 0, 1 0, 1 1, 0 0)))", EPSG4326); err != nil {
		t.Errorf("Single member multipolygon should be accepted: %v", err)
	}

	for _, bad := range []string{
		"POINT(1 2)",
		"LINESTRING(0 0, 1 1)",
		"MULTIPOLYGON(((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5)))",
		"POLYGON((0 0, 1 0",
	} {
		_, err := ParsePolygonWKT(bad, EPSG4326)

		var ige *InvalidGeometryError
		if !errors.As(err, &ige) {
			t.Errorf("Expected InvalidGeometryError for %q, got %v", bad, err)
		}
	}
}

func TestParsePolygonGeoJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"geometry", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, false},
		{"feature", `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}`, false},
		{"collection", `{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}},
			{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}
		]}`, false},
		{"no polygon", `{"type":"FeatureCollection","features":[]}`, true},
		{"line", `{"type":"LineString","coordinates":[[0,0],[1,1]]}`, true},
		{"garbage", `{"type":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolygonGeoJSON([]byte(tt.data), EPSG4326)

			if tt.wantErr {
				var ige *InvalidGeometryError
				if !errors.As(err, &ige) {
					t.Fatalf("Expected InvalidGeometryError, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		})
	}
}

func TestReadPolygon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "area.geojson")
	data := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`

	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := ReadPolygon(path, EPSG4326)
	if err != nil {
		t.Fatalf("Failed to read polygon file: %v", err)
	}

	inline, err := ReadPolygon("  POLYGON((0 0, 1 0, 1 1, 0 0))", EPSG4326)
	if err != nil {
		t.Fatalf("Failed to parse inline WKT: %v", err)
	}

	if !fromFile.Geometry()[0].Equal(inline.Geometry()[0]) {
		t.Errorf("Expected identical rings, got %v and %v", fromFile.Geometry(), inline.Geometry())
	}
}

func TestParseCRS(t *testing.T) {
	tests := []struct {
		in   string
		want CRS
	}{
		{"EPSG:4326", EPSG4326},
		{"epsg:3857", EPSG3857},
		{" EPSG:900913 ", EPSG3857},
		{"CRS:84", EPSG4326},
	}

	for _, tt := range tests {
		got, err := ParseCRS(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseCRS(%q) = %s, %v, want %s", tt.in, got, err, tt.want)
		}
	}

	if _, err := ParseCRS("EPSG:2056"); err == nil {
		t.Error("Expected an error for an unsupported CRS")
	}
}
