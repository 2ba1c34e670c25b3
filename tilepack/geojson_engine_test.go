package tilepack

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
)

func paintRequestFor(tile maptile.Tile) *PaintRequest {
	return &PaintRequest{
		Tile:      tile,
		Extent:    TileExtent(tile),
		CRS:       EPSG3857,
		Width:     TileSize,
		Height:    TileSize,
		DPI:       DefaultDPI,
		Antialias: true,
	}
}

func TestGeoJSONEngine_fill(t *testing.T) {
	fc := geojson.NewFeatureCollection()

	f := geojson.NewFeature(orb.Polygon{{{-180, 0}, {-90, 0}, {-90, 80}, {-180, 80}, {-180, 0}}})
	f.Properties["fill"] = "#ff0000"
	f.Properties["fill-opacity"] = 1.0
	f.Properties["stroke-opacity"] = 0.0
	fc.Append(f)

	engine, err := NewGeoJSONEngine(fc)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	if err := engine.Paint(context.Background(), paintRequestFor(maptile.New(0, 0, 1)), dst); err != nil {
		t.Fatalf("Failed to paint: %v", err)
	}

	if got := dst.RGBAAt(10, 128); got != red {
		t.Errorf("Pixel inside the feature = %v, want %v", got, red)
	}

	if got := dst.RGBAAt(200, 128); got.A != 0 {
		t.Errorf("Pixel outside the feature should be untouched, got %v", got)
	}
}

func TestGeoJSONEngine_stroke(t *testing.T) {
	// Latitude of the horizontal center line of tile 1/0/0
	mid := project.Mercator.ToWGS84(orb.Point{0, originShift / 2})

	fc := geojson.NewFeatureCollection()

	f := geojson.NewFeature(orb.LineString{{-170, mid.Lat()}, {-10, mid.Lat()}})
	f.Properties["stroke"] = "#0000ff"
	f.Properties["stroke-width"] = 4.0
	fc.Append(f)

	engine, err := NewGeoJSONEngine(fc)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	if err := engine.Paint(context.Background(), paintRequestFor(maptile.New(0, 0, 1)), dst); err != nil {
		t.Fatalf("Failed to paint: %v", err)
	}

	blue := color.RGBA{B: 0xff, A: 0xff}
	if got := dst.RGBAAt(128, 128); got != blue {
		t.Errorf("Pixel on the line = %v, want %v", got, blue)
	}

	if got := dst.RGBAAt(128, 100); got.A != 0 {
		t.Errorf("Pixel away from the line should be untouched, got %v", got)
	}
}

func TestGeoJSONEngine_clip(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{-180, 0}, {0, 0}, {0, 80}, {-180, 80}, {-180, 0}}})
	f.Properties["fill"] = "#f00"
	f.Properties["fill-opacity"] = 1.0
	f.Properties["stroke-opacity"] = 0.0
	fc.Append(f)

	engine, err := NewGeoJSONEngine(fc)
	if err != nil {
		t.Fatal(err)
	}

	req := paintRequestFor(maptile.New(0, 0, 1))
	req.Clip = PixelPath{}

	dst := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	if err := engine.Paint(context.Background(), req, dst); err != nil {
		t.Fatal(err)
	}

	for _, a := range dst.Pix {
		if a != 0 {
			t.Fatal("An empty clip path should allow no pixels")
		}
	}

	// Only the left half of the canvas is allowed
	req.Clip = PixelPath{{{0, 0}, {128, 0}, {128, 256}, {0, 256}, {0, 0}}}

	if err := engine.Paint(context.Background(), req, dst); err != nil {
		t.Fatal(err)
	}

	if got := dst.RGBAAt(10, 128); got != red {
		t.Errorf("Pixel inside the clip = %v, want %v", got, red)
	}

	if got := dst.RGBAAt(200, 128); got.A != 0 {
		t.Errorf("Pixel outside the clip should be untouched, got %v", got)
	}
}

func TestNewGeoJSONEngine_badColor(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{0, 0})
	f.Properties["stroke"] = "not-a-color"
	fc.Append(f)

	if _, err := NewGeoJSONEngine(fc); err == nil {
		t.Error("Expected an error for an invalid stroke color")
	}
}

func TestGeoJSONEngine_wrongCRS(t *testing.T) {
	engine, err := NewGeoJSONEngine(geojson.NewFeatureCollection())
	if err != nil {
		t.Fatal(err)
	}

	req := paintRequestFor(maptile.New(0, 0, 1))
	req.CRS = EPSG4326

	if err := engine.Paint(context.Background(), req, image.NewRGBA(image.Rect(0, 0, 1, 1))); err == nil {
		t.Error("Expected an error for a geographic canvas")
	}
}
