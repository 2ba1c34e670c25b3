package tilepack

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/maptile"
)

// TileImage is one rendered and encoded tile.
type TileImage struct {
	Tile   maptile.Tile
	Format Format
	Image  *image.RGBA
	Data   []byte

	// Contained is set when the tile lies wholly inside the polygon.
	Contained bool
	// Clipped is set when drawing was restricted to a clip path.
	Clipped bool
}

// Metatile is the oversized canvas layout for one tile.
type Metatile struct {
	CanvasSize int
	// Buffer is the pixel margin cropped from each side.
	Buffer int
	Extent orb.Bound
}

// MetatileFor expands a tile's extent so the nominal tile sits in the
// center of a canvas metatileSize tiles wide.
func MetatileFor(t maptile.Tile, metatileSize int) Metatile {
	m := min(max(metatileSize, 1), MaxMetatileSize)
	extent := TileExtent(t)

	span := extent.Max.X() - extent.Min.X()
	pad := span * float64(m-1) / 2

	return Metatile{
		CanvasSize: TileSize * m,
		Buffer:     TileSize * (m - 1) / 2,
		Extent: orb.Bound{
			Min: orb.Point{extent.Min.X() - pad, extent.Min.Y() - pad},
			Max: orb.Point{extent.Max.X() + pad, extent.Max.Y() + pad},
		},
	}
}

// MetatileRenderer turns tile coordinates into clipped, encoded tiles.
type MetatileRenderer struct {
	polygon orb.Polygon
	config  RenderConfig
	engine  Engine
	logger  *slog.Logger
}

// NewMetatileRenderer validates config and projects the polygon once for
// all tiles. A nil logger uses slog.Default().
func NewMetatileRenderer(p *Polygon, config RenderConfig, engine Engine, logger *slog.Logger) (*MetatileRenderer, error) {
	if p == nil {
		return nil, invalidGeometry("polygon is required")
	}

	poly, err := p.Projected()
	if err != nil {
		return nil, err
	}

	return newMetatileRenderer(poly, config, engine, logger)
}

func newMetatileRenderer(poly orb.Polygon, config RenderConfig, engine Engine, logger *slog.Logger) (*MetatileRenderer, error) {
	if engine == nil {
		return nil, fmt.Errorf("rendering engine is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.MetatileSize != config.MetatileSize {
		logger.Warn("Capping metatile size", "requested", config.MetatileSize, "max", cfg.MetatileSize)
	}

	return &MetatileRenderer{
		polygon: poly,
		config:  cfg,
		engine:  engine,
		logger:  logger,
	}, nil
}

// Config returns the normalized render configuration.
func (r *MetatileRenderer) Config() RenderConfig {
	return r.config
}

// RenderTile paints the metatile around t, masks it to the polygon unless
// the tile is fully contained, crops the center and encodes it.
func (r *MetatileRenderer) RenderTile(ctx context.Context, t maptile.Tile) (*TileImage, error) {
	meta := MetatileFor(t, r.config.MetatileSize)
	contained := TileContainment(r.polygon, t) == Contained

	req := &PaintRequest{
		Tile:      t,
		Extent:    meta.Extent,
		CRS:       EPSG3857,
		Width:     meta.CanvasSize,
		Height:    meta.CanvasSize,
		DPI:       r.config.DPI,
		Antialias: r.config.Antialias,
	}

	var mask *image.Alpha

	if !contained {
		clipped := clip.Polygon(meta.Extent, r.polygon.Clone())

		path, err := ExtentToPixelPath(meta.Extent, meta.CanvasSize, clipped)
		if err != nil {
			return nil, &TileRenderError{Tile: t, Err: err}
		}

		req.Clip = path
		mask = path.Mask(meta.CanvasSize, meta.CanvasSize, r.config.Antialias)
	}

	layer := image.NewRGBA(image.Rect(0, 0, meta.CanvasSize, meta.CanvasSize))

	if err := r.engine.Paint(ctx, req, layer); err != nil {
		return nil, &TileRenderError{Tile: t, Err: err}
	}

	out := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	if !r.config.Transparent() {
		draw.Draw(out, out.Bounds(), image.NewUniform(r.config.BackgroundColor()), image.Point{}, draw.Src)
	}

	origin := image.Point{X: meta.Buffer, Y: meta.Buffer}
	if mask != nil {
		draw.DrawMask(out, out.Bounds(), layer, origin, mask, origin, draw.Over)
	} else {
		draw.Draw(out, out.Bounds(), layer, origin, draw.Over)
	}

	data, err := encodeTile(out, r.config)
	if err != nil {
		return nil, &TileRenderError{Tile: t, Err: err}
	}

	r.logger.Debug("Rendered tile", "tile", t, "contained", contained, "bytes", len(data))

	return &TileImage{
		Tile:      t,
		Format:    r.config.Format,
		Image:     out,
		Data:      data,
		Contained: contained,
		Clipped:   mask != nil,
	}, nil
}

func encodeTile(img image.Image, config RenderConfig) ([]byte, error) {
	var buf bytes.Buffer

	var err error
	switch config.Format {
	case JPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: config.JPEGQuality})
	default:
		err = png.Encode(&buf, img)
	}

	if err != nil {
		return nil, fmt.Errorf("encode %s, %w", config.Format, err)
	}
	return buf.Bytes(), nil
}
