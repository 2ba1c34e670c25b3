package tilepack

import (
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// TileSize is the nominal edge of every output tile in pixels.
	TileSize = 256

	// MaxZoom is the deepest zoom level the grid math accepts.
	MaxZoom maptile.Zoom = 24

	originShift         float64 = 20037508.342789244
	webMercatorLatLimit float64 = 85.05112877980659

	// Fractions of a tile closer than this to a grid line snap onto it.
	tileSnapTolerance = 1e-9
)

// WorldExtent is the full Web Mercator square in meters.
var WorldExtent = orb.Bound{
	Min: orb.Point{-originShift, -originShift},
	Max: orb.Point{originShift, originShift},
}

// TileRange is an inclusive block of columns and top-origin rows at one zoom.
type TileRange struct {
	Zoom   maptile.Zoom
	MinCol uint32
	MaxCol uint32
	MinRow uint32
	MaxRow uint32
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() uint64 {
	return uint64(r.MaxCol-r.MinCol+1) * uint64(r.MaxRow-r.MinRow+1)
}

// tileSpan is the edge length of one tile at zoom z in meters.
func tileSpan(z maptile.Zoom) float64 {
	return 2 * originShift / float64(uint64(1)<<uint(z))
}

// TileExtent returns the Web Mercator extent of a tile.
func TileExtent(t maptile.Tile) orb.Bound {
	span := tileSpan(t.Z)
	return orb.Bound{
		Min: orb.Point{float64(t.X)*span - originShift, originShift - float64(t.Y+1)*span},
		Max: orb.Point{float64(t.X+1)*span - originShift, originShift - float64(t.Y)*span},
	}
}

// FlipY converts a row between the top-origin (XYZ) and bottom-origin (TMS)
// conventions. It is its own inverse.
func FlipY(t maptile.Tile) uint32 {
	return uint32((uint64(1)<<uint(t.Z))-1) - t.Y
}

// TileRangeForBounds returns the tiles covering a meters bound at zoom z.
// A bound edge lying on a tile boundary only includes the tiles it actually
// overlaps. ok is false when the bound misses the projected world.
func TileRangeForBounds(b orb.Bound, z maptile.Zoom) (TileRange, bool, error) {
	if !finitePoint(b.Min) || !finitePoint(b.Max) {
		return TileRange{}, false, invalidGeometry("bound %v is not finite", b)
	}

	if b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() {
		return TileRange{}, false, invalidGeometry("bound %v has min greater than max", b)
	}

	if z > MaxZoom {
		return TileRange{}, false, invalidGeometry("zoom %d exceeds maximum %d", z, MaxZoom)
	}

	if b.Max.X() <= -originShift || b.Min.X() >= originShift || b.Max.Y() <= -originShift || b.Min.Y() >= originShift {
		return TileRange{}, false, nil
	}

	span := tileSpan(z)
	last := int64(uint64(1)<<uint(z)) - 1

	minCol := int64(floorSnap((b.Min.X() + originShift) / span))
	maxCol := int64(ceilSnap((b.Max.X()+originShift)/span)) - 1
	minRow := int64(floorSnap((originShift - b.Max.Y()) / span))
	maxRow := int64(ceilSnap((originShift-b.Min.Y())/span)) - 1

	// Zero-width bounds on a grid line still touch the tile to their right/below
	maxCol = max(maxCol, minCol)
	maxRow = max(maxRow, minRow)

	r := TileRange{
		Zoom:   z,
		MinCol: uint32(clampInt(minCol, 0, last)),
		MaxCol: uint32(clampInt(maxCol, 0, last)),
		MinRow: uint32(clampInt(minRow, 0, last)),
		MaxRow: uint32(clampInt(maxRow, 0, last)),
	}
	return r, true, nil
}

func floorSnap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < tileSnapTolerance {
		return r
	}
	return math.Floor(v)
}

func ceilSnap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < tileSnapTolerance {
		return r
	}
	return math.Ceil(v)
}

func clampInt(v, lo, hi int64) int64 {
	return max(lo, min(hi, v))
}

type GenerateRangesConsumerFunc func(r TileRange)

type GenerateRangesOptions struct {
	// Bounds is in Web Mercator meters.
	Bounds       orb.Bound
	Zooms        []maptile.Zoom
	ConsumerFunc GenerateRangesConsumerFunc
}

type GenerateTilesConsumerFunc func(tile maptile.Tile)

type GenerateTilesOptions struct {
	Bounds       orb.Bound
	Zooms        []maptile.Zoom
	ConsumerFunc GenerateTilesConsumerFunc
}

// GenerateTileRanges calls the consumer once per zoom with the tile range
// covering the bounds. Zooms where the bounds miss the world are skipped.
func GenerateTileRanges(opts *GenerateRangesOptions) error {
	for _, z := range opts.Zooms {
		r, ok, err := TileRangeForBounds(opts.Bounds, z)
		if err != nil {
			return err
		}

		if !ok {
			slog.Debug("Bounds outside of projected world", "bounds", opts.Bounds, "zoom", z)
			continue
		}

		opts.ConsumerFunc(r)
	}
	return nil
}

// GenerateTiles calls the consumer for every tile in the covering ranges,
// ordered by zoom, then row, then column.
func GenerateTiles(opts *GenerateTilesOptions) error {
	rangeOpts := &GenerateRangesOptions{
		Bounds: opts.Bounds,
		Zooms:  opts.Zooms,
	}

	rangeOpts.ConsumerFunc = func(r TileRange) {
		for y := r.MinRow; y <= r.MaxRow; y++ {
			for x := r.MinCol; x <= r.MaxCol; x++ {
				opts.ConsumerFunc(maptile.New(x, y, r.Zoom))
			}
		}
	}

	return GenerateTileRanges(rangeOpts)
}

// zoomRange expands an inclusive [minZoom, maxZoom] into a list.
func zoomRange(minZoom, maxZoom maptile.Zoom) ([]maptile.Zoom, error) {
	if minZoom > maxZoom {
		return nil, invalidGeometry("min zoom %d greater than max zoom %d", minZoom, maxZoom)
	}

	if maxZoom > MaxZoom {
		return nil, invalidGeometry("zoom %d exceeds maximum %d", maxZoom, MaxZoom)
	}

	zooms := make([]maptile.Zoom, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		zooms = append(zooms, z)
	}
	return zooms, nil
}
