package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/tilezen/go-shapedtiles/tilepack"
)

// ensureMetadata rewrites bounds, center and zoom range of one container
// from the tiles it actually stores.
func ensureMetadata(logger *slog.Logger, path string) error {
	reader, err := tilepack.NewMbtilesReader(path)
	if err != nil {
		return err
	}

	metadata, err := reader.Metadata()
	if err != nil {
		reader.Close()
		return err
	}

	cov, ok, err := tilepack.ScanCoverage(reader)
	reader.Close()
	if err != nil {
		return err
	}

	if !ok {
		logger.Warn("No tiles stored, skipping", "path", path)
		return nil
	}

	logger.Info("Assigning spatial metadata", "path", path, "bounds", cov.Bound, "min_zoom", cov.MinZoom, "max_zoom", cov.MaxZoom, "tiles", cov.Tiles)

	writer, err := tilepack.NewMbtilesOutputter(path, 0, metadata)
	if err != nil {
		return err
	}

	if err := writer.AssignSpatialMetadata(cov.Bound, cov.MinZoom, cov.MaxZoom); err != nil {
		writer.Close()
		return err
	}

	return writer.Close()
}

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	for _, path := range flag.Args() {
		if err := ensureMetadata(logger, path); err != nil {
			logger.Error("Failed to ensure metadata", "path", path, "error", err)
			os.Exit(1)
		}
	}
}
