package tilepack

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func boundsApproxEqual(a, b orb.Bound) bool {
	return approxEqual(a.Min.X(), b.Min.X()) && approxEqual(a.Min.Y(), b.Min.Y()) &&
		approxEqual(a.Max.X(), b.Max.X()) && approxEqual(a.Max.Y(), b.Max.Y())
}

func TestTileExtent(t *testing.T) {
	half := originShift / 2

	tests := []struct {
		name string
		tile maptile.Tile
		want orb.Bound
	}{
		{"z0 global", maptile.New(0, 0, 0), WorldExtent},
		{"z1 top left", maptile.New(0, 0, 1), orb.Bound{Min: orb.Point{-originShift, 0}, Max: orb.Point{0, originShift}}},
		{"z1 bottom right", maptile.New(1, 1, 1), orb.Bound{Min: orb.Point{0, -originShift}, Max: orb.Point{originShift, 0}}},
		{"z2 inner", maptile.New(1, 2, 2), orb.Bound{Min: orb.Point{-half, -half}, Max: orb.Point{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TileExtent(tt.tile); !boundsApproxEqual(got, tt.want) {
				t.Errorf("TileExtent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTileExtent_geographic(t *testing.T) {
	b := projectedBoundToGeographic(TileExtent(maptile.New(0, 0, 0)))
	want := orb.Bound{Min: orb.Point{-180, -webMercatorLatLimit}, Max: orb.Point{180, webMercatorLatLimit}}

	if !boundsApproxEqual(b, want) {
		t.Errorf("z0 geographic bound = %v, want %v", b, want)
	}
}

func TestFlipY(t *testing.T) {
	tests := []struct {
		tile maptile.Tile
		want uint32
	}{
		{maptile.New(0, 0, 0), 0},
		{maptile.New(0, 0, 1), 1},
		{maptile.New(3, 2, 2), 1},
		{maptile.New(10, 0, 5), 31},
	}
	for _, tt := range tests {
		if got := FlipY(tt.tile); got != tt.want {
			t.Errorf("FlipY(%v) = %d, want %d", tt.tile, got, tt.want)
		}

		flipped := tt.tile
		flipped.Y = FlipY(tt.tile)
		if back := FlipY(flipped); back != tt.tile.Y {
			t.Errorf("FlipY round trip of %v gave row %d", tt.tile, back)
		}
	}
}

func TestTileRangeForBounds(t *testing.T) {
	z5 := TileExtent(maptile.New(10, 10, 5))
	z5b := TileExtent(maptile.New(11, 11, 5))
	twoByTwo := orb.Bound{Min: orb.Point{z5.Min.X(), z5b.Min.Y()}, Max: orb.Point{z5b.Max.X(), z5.Max.Y()}}

	tests := []struct {
		name  string
		bound orb.Bound
		zoom  maptile.Zoom
		want  TileRange
		ok    bool
	}{
		{"world z0", WorldExtent, 0, TileRange{0, 0, 0, 0, 0}, true},
		{"world z2", WorldExtent, 2, TileRange{2, 0, 3, 0, 3}, true},
		{"exact tile edges", twoByTwo, 5, TileRange{5, 10, 11, 10, 11}, true},
		{"single tile", z5, 5, TileRange{5, 10, 10, 10, 10}, true},
		{"bigger than world", orb.Bound{Min: orb.Point{-3e7, -3e7}, Max: orb.Point{3e7, 3e7}}, 1, TileRange{1, 0, 1, 0, 1}, true},
		{"outside world", orb.Bound{Min: orb.Point{2.1e7, 0}, Max: orb.Point{2.2e7, 1}}, 3, TileRange{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := TileRangeForBounds(tt.bound, tt.zoom)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}

			if ok && got != tt.want {
				t.Errorf("TileRangeForBounds() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTileRangeForBounds_errors(t *testing.T) {
	bad := []orb.Bound{
		{Min: orb.Point{10, 0}, Max: orb.Point{0, 10}},
		{Min: orb.Point{math.NaN(), 0}, Max: orb.Point{1, 1}},
		{Min: orb.Point{0, 0}, Max: orb.Point{math.Inf(1), 1}},
	}

	for _, b := range bad {
		_, _, err := TileRangeForBounds(b, 3)

		var ige *InvalidGeometryError
		if !errors.As(err, &ige) {
			t.Errorf("Expected InvalidGeometryError for %v, got %v", b, err)
		}
	}
}

func TestGenerateTiles(t *testing.T) {
	var tiles []maptile.Tile

	err := GenerateTiles(&GenerateTilesOptions{
		Bounds: WorldExtent,
		Zooms:  []maptile.Zoom{0, 1, 2},
		ConsumerFunc: func(tile maptile.Tile) {
			tiles = append(tiles, tile)
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tiles) != 21 {
		t.Fatalf("Expected 21 tiles, got %d", len(tiles))
	}

	// Row-major within a zoom
	if tiles[9] != maptile.New(0, 1, 2) || tiles[10] != maptile.New(1, 1, 2) {
		t.Errorf("Unexpected order: %v", tiles[9:11])
	}
}
