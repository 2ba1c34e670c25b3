package tilepack

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"golang.org/x/image/vector"
)

type styledFeature struct {
	geometry    orb.Geometry
	bound       orb.Bound
	fill        color.NRGBA
	stroke      color.NRGBA
	strokeWidth float64
}

// GeoJSONEngine paints a fixed set of WGS84 GeoJSON features using the
// simplestyle properties fill, fill-opacity, stroke, stroke-opacity and
// stroke-width.
type GeoJSONEngine struct {
	features []styledFeature
}

// LoadGeoJSONEngine reads a FeatureCollection from path.
func LoadGeoJSONEngine(path string) (*GeoJSONEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geojson: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	return NewGeoJSONEngine(fc)
}

func NewGeoJSONEngine(fc *geojson.FeatureCollection) (*GeoJSONEngine, error) {
	e := &GeoJSONEngine{}

	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}

		fill, err := styleColor(f.Properties, "fill", "#555555", "fill-opacity", 0.6)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		stroke, err := styleColor(f.Properties, "stroke", "#555555", "stroke-opacity", 1.0)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		g := project.Geometry(orb.Clone(f.Geometry), project.WGS84.ToMercator)

		e.features = append(e.features, styledFeature{
			geometry:    g,
			bound:       g.Bound(),
			fill:        fill,
			stroke:      stroke,
			strokeWidth: f.Properties.MustFloat64("stroke-width", 2),
		})
	}

	return e, nil
}

func styleColor(props geojson.Properties, key string, def string, opacityKey string, defOpacity float64) (color.NRGBA, error) {
	c, err := ParseColor(props.MustString(key, def))
	if err != nil {
		return color.NRGBA{}, err
	}

	opacity := math.Max(0, math.Min(1, props.MustFloat64(opacityKey, defOpacity)))
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(opacity * 255))}, nil
}

type pixelMapper struct {
	extent orb.Bound
	sx, sy float64
}

func (m pixelMapper) point(p orb.Point) (float32, float32) {
	return float32((p.X() - m.extent.Min.X()) * m.sx), float32((m.extent.Max.Y() - p.Y()) * m.sy)
}

func (m pixelMapper) rect(b orb.Bound, pad float64) image.Rectangle {
	x0, y0 := m.point(orb.Point{b.Min.X(), b.Max.Y()})
	x1, y1 := m.point(orb.Point{b.Max.X(), b.Min.Y()})
	return image.Rect(
		int(math.Floor(float64(x0)-pad)), int(math.Floor(float64(y0)-pad)),
		int(math.Ceil(float64(x1)+pad)), int(math.Ceil(float64(y1)+pad)))
}

// Paint rasterizes every feature overlapping the request extent.
func (e *GeoJSONEngine) Paint(ctx context.Context, req *PaintRequest, dst draw.Image) error {
	if req.CRS != EPSG3857 {
		return fmt.Errorf("GeoJSON engine paints %s only, got %s", EPSG3857, req.CRS)
	}

	if req.Clip != nil && len(req.Clip) == 0 {
		return nil
	}

	m := pixelMapper{
		extent: req.Extent,
		sx:     float64(req.Width) / (req.Extent.Max.X() - req.Extent.Min.X()),
		sy:     float64(req.Height) / (req.Extent.Max.Y() - req.Extent.Min.Y()),
	}

	bounds := image.Rect(0, 0, req.Width, req.Height)
	scale := float64(req.DPI) / DefaultDPI

	var clipMask *image.Alpha
	if req.Clip != nil {
		clipMask = req.Clip.Mask(req.Width, req.Height, req.Antialias)
	}

	mask := image.NewAlpha(bounds)

	for _, f := range e.features {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !f.bound.Intersects(req.Extent) {
			continue
		}

		hw := math.Max(0.5, f.strokeWidth*scale/2)
		area := m.rect(f.bound, 2*hw+1).Intersect(bounds)
		if area.Empty() {
			continue
		}

		if f.fill.A > 0 {
			if r := fillPath(m, f.geometry, req.Width, req.Height); r != nil {
				paintCoverage(dst, mask, clipMask, area, r, f.fill, req.Antialias)
			}
		}

		if f.stroke.A > 0 {
			if r := strokePath(m, f.geometry, hw, req.Width, req.Height); r != nil {
				paintCoverage(dst, mask, clipMask, area, r, f.stroke, req.Antialias)
			}
		}
	}

	return nil
}

func paintCoverage(dst draw.Image, mask *image.Alpha, clipMask *image.Alpha, area image.Rectangle, r *vector.Rasterizer, c color.NRGBA, antialias bool) {
	// The rasterizer origin maps to the rectangle origin, so cover the
	// whole canvas and only post-process area.
	r.DrawOp = draw.Src
	r.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			i := mask.PixOffset(x, y)
			a := mask.Pix[i]

			if !antialias {
				if a >= 0x80 {
					a = 0xff
				} else {
					a = 0
				}
			}

			if clipMask != nil {
				a = uint8(uint16(a) * uint16(clipMask.Pix[clipMask.PixOffset(x, y)]) / 0xff)
			}

			mask.Pix[i] = a
		}
	}

	draw.DrawMask(dst, area, image.NewUniform(c), image.Point{}, mask, area.Min, draw.Over)
}

func fillPath(m pixelMapper, g orb.Geometry, w, h int) *vector.Rasterizer {
	var polys orb.MultiPolygon

	switch geom := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		polys = geom
	case orb.Bound:
		polys = orb.MultiPolygon{geom.ToPolygon()}
	default:
		return nil
	}

	r := vector.NewRasterizer(w, h)

	for _, poly := range polys {
		for i, ring := range poly {
			if len(ring) < 3 {
				continue
			}

			// Holes wind against their outer ring for the non-zero rule
			rr := ring
			if (rr.Orientation() == orb.CCW) != (i == 0) {
				rr = ring.Clone()
				rr.Reverse()
			}

			r.MoveTo(m.point(rr[0]))
			for _, pt := range rr[1:] {
				r.LineTo(m.point(pt))
			}
			r.ClosePath()
		}
	}

	return r
}

func strokePath(m pixelMapper, g orb.Geometry, hw float64, w, h int) *vector.Rasterizer {
	var lines []orb.LineString
	var points []orb.Point

	switch geom := g.(type) {
	case orb.Point:
		points = append(points, geom)
	case orb.MultiPoint:
		points = append(points, geom...)
	case orb.LineString:
		lines = append(lines, geom)
	case orb.MultiLineString:
		lines = append(lines, geom...)
	case orb.Ring:
		lines = append(lines, orb.LineString(geom))
	case orb.Polygon:
		for _, ring := range geom {
			lines = append(lines, orb.LineString(ring))
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				lines = append(lines, orb.LineString(ring))
			}
		}
	default:
		return nil
	}

	r := vector.NewRasterizer(w, h)

	for _, ls := range lines {
		for i := 1; i < len(ls); i++ {
			ax, ay := m.point(ls[i-1])
			bx, by := m.point(ls[i])
			addSegmentQuad(r, float64(ax), float64(ay), float64(bx), float64(by), hw)
		}
	}

	for _, p := range points {
		x, y := m.point(p)
		s := float32(hw * 2)
		r.MoveTo(x-s, y-s)
		r.LineTo(x+s, y-s)
		r.LineTo(x+s, y+s)
		r.LineTo(x-s, y+s)
		r.ClosePath()
	}

	return r
}

func addSegmentQuad(r *vector.Rasterizer, ax, ay, bx, by, hw float64) {
	dx, dy := bx-ax, by-ay
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}

	nx, ny := -dy/l*hw, dx/l*hw
	// Extend both ends by the half width so joints overlap
	ex, ey := dx/l*hw, dy/l*hw

	r.MoveTo(float32(ax-ex+nx), float32(ay-ey+ny))
	r.LineTo(float32(bx+ex+nx), float32(by+ey+ny))
	r.LineTo(float32(bx+ex-nx), float32(by+ey-ny))
	r.LineTo(float32(ax-ex-nx), float32(ay-ey-ny))
	r.ClosePath()
}
