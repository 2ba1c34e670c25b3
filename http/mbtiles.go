package http

import (
	"encoding/json"
	"log/slog"
	gohttp "net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/maptile"

	"github.com/tilezen/go-shapedtiles/tilepack"
)

// MbtilesHandler serves /{z}/{x}/{y}.{ext} for XYZ rows and /metadata.json
// from a tile container. Requests whose extension does not match format are
// not found.
func MbtilesHandler(reader tilepack.MbtilesReader, format tilepack.Format) gohttp.Handler {
	r := chi.NewRouter()

	r.Get("/metadata.json", func(w gohttp.ResponseWriter, r *gohttp.Request) {
		md, err := reader.Metadata()
		if err != nil {
			slog.Error("Error reading metadata", "error", err)
			gohttp.Error(w, "metadata unavailable", gohttp.StatusInternalServerError)
			return
		}

		values := make(map[string]string)
		for _, k := range md.Keys() {
			values[k], _ = md.Get(k)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(values)
	})

	r.Get("/{z}/{x}/{y}.{ext}", func(w gohttp.ResponseWriter, r *gohttp.Request) {
		ext, err := tilepack.ParseFormat(chi.URLParam(r, "ext"))
		if err != nil || ext != format {
			gohttp.NotFound(w, r)
			return
		}

		requestedTile, ok := parseTile(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
		if !ok {
			gohttp.NotFound(w, r)
			return
		}

		result, err := reader.GetTile(requestedTile)
		if err != nil {
			slog.Error("Error getting tile", "tile", requestedTile, "error", err)
			gohttp.NotFound(w, r)
			return
		}

		if result.Data == nil {
			gohttp.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Write(*result.Data)
	})

	return r
}

func parseTile(zs, xs, ys string) (maptile.Tile, bool) {
	z, err := strconv.ParseUint(zs, 10, 8)
	if err != nil || z > uint64(tilepack.MaxZoom) {
		return maptile.Tile{}, false
	}

	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil {
		return maptile.Tile{}, false
	}

	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil {
		return maptile.Tile{}, false
	}

	limit := uint64(1) << z
	if x >= limit || y >= limit {
		return maptile.Tile{}, false
	}

	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), true
}
