package tilepack

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Format is the encoding of tile images.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpg"
)

const (
	// MaxMetatileSize caps the canvas multiplier so a canvas never exceeds
	// MaxRenderPixels on a side.
	MaxMetatileSize = 16
	MaxRenderPixels = TileSize * MaxMetatileSize

	DefaultDPI          = 96
	MinDPI              = 48
	MaxDPI              = 384
	DefaultJPEGQuality  = 75
	DefaultMetatileSize = 4
)

// DefaultJPEGBackground fills JPEG tiles when no background is configured.
var DefaultJPEGBackground = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// ParseFormat accepts png, jpg or jpeg in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	default:
		return "", fmt.Errorf("unsupported tile format %q", s)
	}
}

// ContentType is the MIME type of the encoded tiles.
func (f Format) ContentType() string {
	if f == JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// RenderConfig holds the per-export rendering options. It is not modified
// once a job starts.
type RenderConfig struct {
	DPI          int    `mapstructure:"dpi"`
	Antialias    bool   `mapstructure:"antialias"`
	MetatileSize int    `mapstructure:"metatile-size"`
	Format       Format `mapstructure:"format"`
	JPEGQuality  int    `mapstructure:"jpeg-quality"`
	// Background is nil for a transparent PNG canvas.
	Background *color.RGBA `mapstructure:"-"`
}

func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		DPI:          DefaultDPI,
		Antialias:    true,
		MetatileSize: DefaultMetatileSize,
		Format:       PNG,
		JPEGQuality:  DefaultJPEGQuality,
	}
}

// Validate checks ranges and returns a normalized copy. Metatile sizes above
// MaxMetatileSize are capped rather than rejected; callers compare the
// sizes to report it.
func (c RenderConfig) Validate() (RenderConfig, error) {
	switch c.Format {
	case PNG, JPEG:
	default:
		return c, fmt.Errorf("unsupported tile format %q", c.Format)
	}

	if c.DPI < MinDPI || c.DPI > MaxDPI {
		return c, fmt.Errorf("dpi %d outside %d-%d", c.DPI, MinDPI, MaxDPI)
	}

	if c.MetatileSize < 1 {
		return c, fmt.Errorf("metatile size must be at least 1, got %d", c.MetatileSize)
	}

	if c.MetatileSize > MaxMetatileSize {
		c.MetatileSize = MaxMetatileSize
	}

	if c.Format == JPEG {
		if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
			return c, fmt.Errorf("jpeg quality %d outside 1-100", c.JPEGQuality)
		}
	}

	if c.Background != nil {
		bg := *c.Background
		bg.A = 0xff
		c.Background = &bg
	}

	return c, nil
}

// Transparent reports whether tiles are drawn on a transparent canvas.
func (c RenderConfig) Transparent() bool {
	return c.Format == PNG && c.Background == nil
}

// BackgroundColor is the canvas fill before the engine paints.
func (c RenderConfig) BackgroundColor() color.RGBA {
	switch {
	case c.Background != nil:
		return *c.Background
	case c.Format == JPEG:
		return DefaultJPEGBackground
	default:
		return color.RGBA{}
	}
}

// CanvasSize is the oversized canvas edge in pixels.
func (c RenderConfig) CanvasSize() int {
	return TileSize * min(max(c.MetatileSize, 1), MaxMetatileSize)
}

// EstimateMemoryUsage is the approximate number of bytes one tile render
// holds: an RGBA canvas plus working overhead.
func EstimateMemoryUsage(c RenderConfig) uint64 {
	size := uint64(c.CanvasSize())
	return size * size * 4 * 3 / 2
}

// ParseColor reads #rgb, #rrggbb or r,g,b.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return color.RGBA{}, fmt.Errorf("invalid color %q", s)
		}

		var rgb [3]uint8
		for i, part := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
			if err != nil {
				return color.RGBA{}, fmt.Errorf("invalid color %q, %w", s, err)
			}
			rgb[i] = uint8(v)
		}
		return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xff}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q, %w", s, err)
	}

	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
