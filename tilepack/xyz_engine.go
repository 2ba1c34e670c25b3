package tilepack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // Register JPEG source tiles
	_ "image/png"  // Register PNG source tiles
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
	xdraw "golang.org/x/image/draw"
)

const (
	httpUserAgent   = "go-shapedtiles/1.0"
	httpRetries     = 5
	maxRetryBackoff = 30 * time.Second
)

var errSourceTileMissing = errors.New("source tile not found")

// XYZEngine paints canvases from an upstream raster tile service addressed
// by a {z}/{x}/{y} URL template. {-y} selects the bottom-origin row.
type XYZEngine struct {
	httpClient     *http.Client
	urlTemplate    string
	sourceTileSize int
	logger         *slog.Logger
}

func NewXYZEngine(urlTemplate string, httpTimeout time.Duration, sourceTileSize int) (*XYZEngine, error) {
	if !strings.Contains(urlTemplate, "{z}") || !strings.Contains(urlTemplate, "{x}") ||
		!(strings.Contains(urlTemplate, "{y}") || strings.Contains(urlTemplate, "{-y}")) {
		return nil, fmt.Errorf("URL template %q needs {z}, {x} and {y} placeholders", urlTemplate)
	}

	if sourceTileSize <= 0 {
		sourceTileSize = TileSize
	}

	// Configure the HTTP client with a timeout and connection pools
	httpClient := &http.Client{}
	httpClient.Timeout = httpTimeout
	httpClient.Transport = &http.Transport{
		MaxIdleConnsPerHost: 16,
	}

	return &XYZEngine{
		httpClient:     httpClient,
		urlTemplate:    urlTemplate,
		sourceTileSize: sourceTileSize,
		logger:         slog.Default(),
	}, nil
}

func doHTTPWithRetry(ctx context.Context, client *http.Client, url string, nRetries int) ([]byte, error) {
	sleep := 500 * time.Millisecond

	for i := 0; i < nRetries; i++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		request.Header.Add("User-Agent", httpUserAgent)

		resp, err := client.Do(request)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			return body, err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
			return nil, errSourceTileMissing
		case resp.StatusCode >= 500 && resp.StatusCode < 600, resp.StatusCode == http.StatusTooManyRequests:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
			sleep = min(sleep*2, maxRetryBackoff)
		default:
			return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
		}
	}

	return nil, fmt.Errorf("ran out of HTTP GET retries for %s", url)
}

func (e *XYZEngine) tileURL(t maptile.Tile) string {
	return strings.NewReplacer(
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{-y}", strconv.FormatUint(uint64(FlipY(t)), 10),
		"{z}", strconv.FormatUint(uint64(t.Z), 10)).Replace(e.urlTemplate)
}

// Paint draws every source tile overlapping the canvas. Source tiles the
// server does not have are left transparent.
func (e *XYZEngine) Paint(ctx context.Context, req *PaintRequest, dst draw.Image) error {
	if req.CRS != EPSG3857 {
		return fmt.Errorf("XYZ engine paints %s only, got %s", EPSG3857, req.CRS)
	}

	if req.Clip != nil && len(req.Clip) == 0 {
		return nil
	}

	extentW := req.Extent.Max.X() - req.Extent.Min.X()
	metersPerPixel := extentW / float64(req.Width)

	// Pick the source zoom whose resolution matches the canvas
	zf := math.Log2(2 * originShift / (float64(e.sourceTileSize) * metersPerPixel))
	z := maptile.Zoom(clampInt(int64(math.Round(zf)), 0, int64(MaxZoom)))

	span := tileSpan(z)
	n := int64(uint64(1) << uint(z))

	minCol := int64(math.Floor((req.Extent.Min.X() + originShift) / span))
	maxCol := int64(math.Ceil((req.Extent.Max.X()+originShift)/span)) - 1
	minRow := clampInt(int64(math.Floor((originShift-req.Extent.Max.Y())/span)), 0, n-1)
	maxRow := clampInt(int64(math.Ceil((originShift-req.Extent.Min.Y())/span))-1, 0, n-1)

	clipBounds := dst.Bounds()
	if req.Clip != nil {
		clipBounds = pixelPathBounds(req.Clip).Intersect(clipBounds)
	}

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			px0 := (float64(col)*span - originShift - req.Extent.Min.X()) / metersPerPixel
			py0 := (req.Extent.Max.Y() - (originShift - float64(row)*span)) / metersPerPixel
			px1 := px0 + span/metersPerPixel
			py1 := py0 + span/metersPerPixel

			rect := image.Rect(int(math.Round(px0)), int(math.Round(py0)), int(math.Round(px1)), int(math.Round(py1)))
			if !rect.Overlaps(clipBounds) {
				continue
			}

			// Columns wrap around the antimeridian
			wrapped := ((col % n) + n) % n
			t := maptile.New(uint32(wrapped), uint32(row), z)

			data, err := doHTTPWithRetry(ctx, e.httpClient, e.tileURL(t), httpRetries)
			if errors.Is(err, errSourceTileMissing) {
				e.logger.Debug("Source tile missing", "tile", t)
				continue
			}
			if err != nil {
				return fmt.Errorf("fetch source tile %d/%d/%d, %w", t.Z, t.X, t.Y, err)
			}

			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("decode source tile %d/%d/%d, %w", t.Z, t.X, t.Y, err)
			}

			if img.Bounds().Dx() == rect.Dx() && img.Bounds().Dy() == rect.Dy() {
				draw.Draw(dst, rect, img, img.Bounds().Min, draw.Over)
			} else {
				xdraw.ApproxBiLinear.Scale(dst, rect, img, img.Bounds(), xdraw.Over, nil)
			}
		}
	}

	return nil
}

func pixelPathBounds(p PixelPath) image.Rectangle {
	var r image.Rectangle
	first := true

	for _, ring := range p {
		for _, pt := range ring {
			pr := image.Rect(int(math.Floor(pt.X)), int(math.Floor(pt.Y)), int(math.Ceil(pt.X))+1, int(math.Ceil(pt.Y))+1)
			if first {
				r = pr
				first = false
			} else {
				r = r.Union(pr)
			}
		}
	}
	return r
}
