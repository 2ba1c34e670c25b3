package tilepack

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
)

func solidPNG(t *testing.T, c image.Image, size int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), c, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestXYZEngine_tileURL(t *testing.T) {
	tests := []struct {
		template string
		tile     maptile.Tile
		want     string
	}{
		{"https://tiles.example.com/{z}/{x}/{y}.png", maptile.New(3, 1, 2), "https://tiles.example.com/2/3/1.png"},
		{"https://tiles.example.com/{z}/{x}/{-y}.png", maptile.New(3, 1, 2), "https://tiles.example.com/2/3/2.png"},
	}

	for _, tt := range tests {
		e, err := NewXYZEngine(tt.template, time.Second, 0)
		if err != nil {
			t.Fatal(err)
		}

		if got := e.tileURL(tt.tile); got != tt.want {
			t.Errorf("tileURL() = %q, want %q", got, tt.want)
		}
	}

	if _, err := NewXYZEngine("https://tiles.example.com/{z}/{x}.png", time.Second, 0); err == nil {
		t.Error("Expected an error for a template without {y}")
	}
}

func TestXYZEngine_paint(t *testing.T) {
	tile := maptile.New(7, 9, 4)
	body := solidPNG(t, image.NewUniform(red), TileSize)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path == "/4/7/9.png" {
			w.Header().Set("Content-Type", "image/png")
			w.Write(body)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	e, err := NewXYZEngine(server.URL+"/{z}/{x}/{y}.png", 5*time.Second, TileSize)
	if err != nil {
		t.Fatal(err)
	}

	// A 3x3 metatile: the center source tile exists, its neighbours 404
	meta := MetatileFor(tile, 3)
	req := &PaintRequest{
		Tile:   tile,
		Extent: meta.Extent,
		CRS:    EPSG3857,
		Width:  meta.CanvasSize,
		Height: meta.CanvasSize,
		DPI:    DefaultDPI,
	}

	dst := image.NewRGBA(image.Rect(0, 0, meta.CanvasSize, meta.CanvasSize))
	if err := e.Paint(context.Background(), req, dst); err != nil {
		t.Fatalf("Failed to paint: %v", err)
	}

	if got := dst.RGBAAt(meta.Buffer+10, meta.Buffer+10); got != red {
		t.Errorf("Center pixel = %v, want %v", got, red)
	}

	if got := dst.RGBAAt(10, 10); got.A != 0 {
		t.Errorf("Missing source tiles should stay transparent, got %v", got)
	}

	if n := requests.Load(); n != 9 {
		t.Errorf("Expected 9 source requests, got %d", n)
	}
}

func TestXYZEngine_serverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	e, err := NewXYZEngine(server.URL+"/{z}/{x}/{y}.png", 5*time.Second, TileSize)
	if err != nil {
		t.Fatal(err)
	}

	tile := maptile.New(0, 0, 0)
	req := &PaintRequest{
		Tile:   tile,
		Extent: TileExtent(tile),
		CRS:    EPSG3857,
		Width:  TileSize,
		Height: TileSize,
		DPI:    DefaultDPI,
	}

	if err := e.Paint(context.Background(), req, image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))); err == nil {
		t.Error("Expected an error for a forbidden source")
	}
}
