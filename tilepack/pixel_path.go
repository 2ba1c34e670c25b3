package tilepack

import (
	"image"
	"image/draw"

	"github.com/paulmach/orb"
	"golang.org/x/image/vector"
)

// PixelPoint is a position in canvas pixels, origin top-left, y down.
type PixelPoint struct {
	X, Y float64
}

// PixelRing is a closed ring of straight segments in pixel space.
type PixelRing []PixelPoint

// PixelPath is a clip region: a set of rings filled with the non-zero
// winding rule. Holes wind opposite to their outer ring.
type PixelPath []PixelRing

// ExtentToPixelPath maps a meters polygon into the pixel space of a square
// canvas of pixelSize covering extent.
func ExtentToPixelPath(extent orb.Bound, pixelSize int, geom orb.Polygon) (PixelPath, error) {
	w := extent.Max.X() - extent.Min.X()
	h := extent.Max.Y() - extent.Min.Y()

	if !(w > 0) || !(h > 0) || pixelSize <= 0 {
		return nil, invalidGeometry("degenerate pixel transform for extent %v size %d", extent, pixelSize)
	}

	sx := float64(pixelSize) / w
	sy := float64(pixelSize) / h

	path := make(PixelPath, 0, len(geom))

	for i, ring := range geom {
		if len(ring) < 3 {
			continue
		}

		// Force outer rings and holes to opposite windings
		r := ring
		wantCCW := i == 0
		if (r.Orientation() == orb.CCW) != wantCCW {
			r = ring.Clone()
			r.Reverse()
		}

		pr := make(PixelRing, len(r))
		for j, pt := range r {
			pr[j] = PixelPoint{
				X: (pt.X() - extent.Min.X()) * sx,
				Y: (extent.Max.Y() - pt.Y()) * sy,
			}
		}
		path = append(path, pr)
	}

	return path, nil
}

// Mask rasterizes the path into a coverage mask of the given size. Without
// antialiasing every pixel is either fully inside or fully outside.
func (p PixelPath) Mask(width, height int, antialias bool) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	if len(p) == 0 {
		return mask
	}

	r := vector.NewRasterizer(width, height)
	r.DrawOp = draw.Src

	for _, ring := range p {
		r.MoveTo(float32(ring[0].X), float32(ring[0].Y))
		for _, pt := range ring[1:] {
			r.LineTo(float32(pt.X), float32(pt.Y))
		}
		r.ClosePath()
	}

	r.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	if !antialias {
		for i, a := range mask.Pix {
			if a >= 0x80 {
				mask.Pix[i] = 0xff
			} else {
				mask.Pix[i] = 0
			}
		}
	}

	return mask
}
