package tilepack

import (
	"context"
	"image/draw"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// PaintRequest describes one canvas an Engine must paint.
type PaintRequest struct {
	// Tile is the nominal tile the canvas is centered on.
	Tile maptile.Tile
	// Extent is the geographic area covered by the whole canvas, in CRS units.
	Extent orb.Bound
	CRS    CRS
	Width  int
	Height int
	DPI    int

	Antialias bool

	// Clip restricts drawing when non-nil. An empty path allows no pixels.
	Clip PixelPath
}

// Engine paints map layers into a canvas. Implementations may be slow and
// may fail; a failure only skips the tile being rendered.
type Engine interface {
	Paint(ctx context.Context, req *PaintRequest, dst draw.Image) error
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, req *PaintRequest, dst draw.Image) error

func (f EngineFunc) Paint(ctx context.Context, req *PaintRequest, dst draw.Image) error {
	return f(ctx, req, dst)
}
