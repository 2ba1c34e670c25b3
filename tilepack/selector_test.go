package tilepack

import (
	"errors"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
)

func mustPolygon(t *testing.T, p orb.Polygon, crs CRS) *Polygon {
	t.Helper()

	poly, err := NewPolygon(p, crs)
	if err != nil {
		t.Fatalf("NewPolygon: %v", err)
	}
	return poly
}

// tileBlock is the meters polygon covering columns x0..x1 and rows y0..y1.
func tileBlock(z maptile.Zoom, x0, y0, x1, y1 uint32) orb.Polygon {
	tl := TileExtent(maptile.New(x0, y0, z))
	br := TileExtent(maptile.New(x1, y1, z))
	b := orb.Bound{Min: orb.Point{tl.Min.X(), br.Min.Y()}, Max: orb.Point{br.Max.X(), tl.Max.Y()}}
	return b.ToPolygon()
}

func TestSelectTiles_twoByTwo(t *testing.T) {
	poly := mustPolygon(t, tileBlock(5, 10, 10, 11, 11), EPSG3857)

	tiles, err := SelectTiles(poly, 5, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []maptile.Tile{
		maptile.New(10, 10, 5),
		maptile.New(11, 10, 5),
		maptile.New(10, 11, 5),
		maptile.New(11, 11, 5),
	}

	if !reflect.DeepEqual(tiles, want) {
		t.Fatalf("SelectTiles() = %v, want %v", tiles, want)
	}
}

func TestSelectTiles_singleContainedTile(t *testing.T) {
	extent := TileExtent(maptile.New(7, 9, 4))
	inset := (extent.Max.X() - extent.Min.X()) / 4

	inner := orb.Bound{
		Min: orb.Point{extent.Min.X() + inset, extent.Min.Y() + inset},
		Max: orb.Point{extent.Max.X() - inset, extent.Max.Y() - inset},
	}
	poly := mustPolygon(t, inner.ToPolygon(), EPSG3857)

	tiles, err := SelectTiles(poly, 4, 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tiles) != 1 || tiles[0] != maptile.New(7, 9, 4) {
		t.Fatalf("Expected only 4/7/9, got %v", tiles)
	}

	projected, _ := poly.Projected()
	if c := TileContainment(projected, tiles[0]); c != Intersects {
		t.Errorf("Expected a partially covered tile, got %s", c)
	}

	// One zoom up the polygon covers whole tiles
	tiles, err = SelectTiles(poly, 6, 6)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tiles) != 4 {
		t.Fatalf("Expected 4 tiles at z6, got %v", tiles)
	}

	for _, tile := range tiles {
		if c := TileContainment(projected, tile); c != Contained {
			t.Errorf("Expected %v to be contained, got %s", tile, c)
		}
	}
}

func TestSelectTiles_hole(t *testing.T) {
	outer := tileBlock(3, 2, 2, 5, 5)
	hole := tileBlock(3, 3, 3, 3, 3)
	hole[0].Reverse()

	poly := mustPolygon(t, orb.Polygon{outer[0], hole[0]}, EPSG3857)

	tiles, err := SelectTiles(poly, 3, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tiles) != 15 {
		t.Fatalf("Expected 15 tiles, got %d", len(tiles))
	}

	for _, tile := range tiles {
		if tile == maptile.New(3, 3, 3) {
			t.Fatal("Tile inside the hole was selected")
		}
	}
}

func TestSelectTiles_soundAndComplete(t *testing.T) {
	triangle := orb.Polygon{{
		{-3.5, 47.2}, {8.1, 43.9}, {2.4, 51.3}, {-3.5, 47.2},
	}}
	poly := mustPolygon(t, triangle, EPSG4326)
	projected, err := poly.Projected()
	if err != nil {
		t.Fatal(err)
	}

	tiles, err := SelectTiles(poly, 0, 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	selected := make(map[maptile.Tile]bool, len(tiles))
	for _, tile := range tiles {
		selected[tile] = true

		if overlapArea(projected, TileExtent(tile)) <= 0 {
			t.Errorf("Selected tile %v does not overlap the polygon", tile)
		}
	}

	// Every tile whose center lies in the polygon must be selected
	err = GenerateTiles(&GenerateTilesOptions{
		Bounds: projected.Bound(),
		Zooms:  []maptile.Zoom{0, 1, 2, 3, 4, 5, 6, 7},
		ConsumerFunc: func(tile maptile.Tile) {
			if planar.PolygonContains(projected, TileExtent(tile).Center()) && !selected[tile] {
				t.Errorf("Tile %v with its center in the polygon was not selected", tile)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	again, err := SelectTiles(poly, 0, 7)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(tiles, again) {
		t.Fatal("Selection is not deterministic")
	}

	for i := 1; i < len(tiles); i++ {
		a, b := tiles[i-1], tiles[i]
		ordered := a.Z < b.Z || (a.Z == b.Z && (a.Y < b.Y || (a.Y == b.Y && a.X < b.X)))
		if !ordered {
			t.Fatalf("Tiles out of order at %d: %v then %v", i, a, b)
		}
	}

	upper, err := EstimateTileCount(poly, 0, 7)
	if err != nil {
		t.Fatal(err)
	}

	if upper < uint64(len(tiles)) {
		t.Errorf("Estimate %d is below the selected count %d", upper, len(tiles))
	}
}

func TestSelectTiles_polar(t *testing.T) {
	polarCap := orb.Polygon{{{-10, 86}, {10, 86}, {10, 89}, {-10, 89}, {-10, 86}}}
	poly := mustPolygon(t, polarCap, EPSG4326)

	tiles, err := SelectTiles(poly, 0, 6)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tiles) != 0 {
		t.Fatalf("Expected no tiles beyond the Web Mercator limit, got %v", tiles)
	}
}

func TestSelectTiles_invalidZooms(t *testing.T) {
	poly := mustPolygon(t, tileBlock(2, 0, 0, 1, 1), EPSG3857)

	for _, zooms := range [][2]maptile.Zoom{{5, 4}, {0, MaxZoom + 1}} {
		_, err := SelectTiles(poly, zooms[0], zooms[1])

		var ige *InvalidGeometryError
		if !errors.As(err, &ige) {
			t.Errorf("Expected InvalidGeometryError for zooms %v, got %v", zooms, err)
		}
	}
}

func TestTileContainment_touching(t *testing.T) {
	projected := tileBlock(5, 10, 10, 11, 11)

	tests := []struct {
		tile maptile.Tile
		want Containment
	}{
		{maptile.New(10, 10, 5), Contained},
		{maptile.New(12, 10, 5), Outside},
		{maptile.New(9, 9, 5), Outside},
		{maptile.New(12, 12, 5), Outside},
		{maptile.New(5, 5, 4), Contained},
		{maptile.New(2, 2, 3), Intersects},
	}

	for _, tt := range tests {
		if got := TileContainment(projected, tt.tile); got != tt.want {
			t.Errorf("TileContainment(%v) = %s, want %s", tt.tile, got, tt.want)
		}
	}
}
