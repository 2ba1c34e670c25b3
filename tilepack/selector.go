package tilepack

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
)

// IntersectionTolerance is the fraction of a tile's area an overlap must
// exceed to count as an intersection. Sharing only an edge or a corner is
// not an intersection.
const IntersectionTolerance = 1e-9

// Containment classifies how a tile's nominal extent relates to a polygon.
type Containment int

const (
	Outside Containment = iota
	Intersects
	Contained
)

func (c Containment) String() string {
	switch c {
	case Contained:
		return "contained"
	case Intersects:
		return "intersects"
	default:
		return "outside"
	}
}

// TileContainment tests a tile against a polygon in Web Mercator meters:
// bounding boxes first, then the exact overlap area.
func TileContainment(poly orb.Polygon, t maptile.Tile) Containment {
	extent := TileExtent(t)
	polyBound := poly.Bound()

	if !polyBound.Intersects(extent) {
		return Outside
	}

	tileArea := boundArea(extent)
	overlap := overlapArea(poly, extent)

	if overlap <= tileArea*IntersectionTolerance {
		return Outside
	}

	if boundContains(polyBound, extent, tileSpan(t.Z)*IntersectionTolerance) && overlap >= tileArea*(1-IntersectionTolerance) {
		return Contained
	}

	return Intersects
}

func overlapArea(poly orb.Polygon, b orb.Bound) float64 {
	clipped := clip.Polygon(b, poly.Clone())
	if len(clipped) == 0 {
		return 0
	}
	return planar.Area(clipped)
}

func boundArea(b orb.Bound) float64 {
	return (b.Max.X() - b.Min.X()) * (b.Max.Y() - b.Min.Y())
}

func boundContains(outer orb.Bound, inner orb.Bound, eps float64) bool {
	return outer.Min.X() <= inner.Min.X()+eps && outer.Min.Y() <= inner.Min.Y()+eps &&
		outer.Max.X() >= inner.Max.X()-eps && outer.Max.Y() >= inner.Max.Y()-eps
}

// SelectTiles returns every tile between minZoom and maxZoom whose extent
// overlaps the polygon with a non-zero area, ordered by zoom, row, column.
func SelectTiles(p *Polygon, minZoom, maxZoom maptile.Zoom) ([]maptile.Tile, error) {
	zooms, err := zoomRange(minZoom, maxZoom)
	if err != nil {
		return nil, err
	}

	poly, err := p.Projected()
	if err != nil {
		return nil, err
	}

	return selectProjectedTiles(poly, zooms)
}

func selectProjectedTiles(poly orb.Polygon, zooms []maptile.Zoom) ([]maptile.Tile, error) {
	tiles := make([]maptile.Tile, 0)

	err := GenerateTiles(&GenerateTilesOptions{
		Bounds: poly.Bound(),
		Zooms:  zooms,
		ConsumerFunc: func(t maptile.Tile) {
			if TileContainment(poly, t) != Outside {
				tiles = append(tiles, t)
			}
		},
	})

	if err != nil {
		return nil, err
	}

	return tiles, nil
}

// EstimateTileCount is the bounding-box-only upper bound on the number of
// tiles SelectTiles can return. It skips the per-tile intersection test.
func EstimateTileCount(p *Polygon, minZoom, maxZoom maptile.Zoom) (uint64, error) {
	zooms, err := zoomRange(minZoom, maxZoom)
	if err != nil {
		return 0, err
	}

	poly, err := p.Projected()
	if err != nil {
		return 0, err
	}

	var total uint64

	err = GenerateTileRanges(&GenerateRangesOptions{
		Bounds: poly.Bound(),
		Zooms:  zooms,
		ConsumerFunc: func(r TileRange) {
			total += r.Count()
		},
	})

	return total, err
}
