package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/paulmach/orb/maptile"

	"github.com/tilezen/go-shapedtiles/tilepack"
)

// mergeInto copies every tile of input into out. A tile present in several
// inputs keeps the data of the last one. The first input also supplies the
// descriptive metadata.
func mergeInto(out tilepack.TileOutputter, mw tilepack.MetadataWriter, input string, first bool) (int, error) {
	reader, err := tilepack.OpenMbtilesReader(input)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	if first {
		metadata, err := reader.Metadata()
		if err != nil {
			return 0, fmt.Errorf("read metadata, %w", err)
		}

		if err := mw.WriteMetadata(metadata); err != nil {
			return 0, err
		}
	}

	var saveErr error
	copied := 0

	err = reader.VisitAllTiles(func(t maptile.Tile, data []byte) {
		if saveErr != nil {
			return
		}
		saveErr = out.Save(t, data)
		copied++
	})
	if err != nil {
		return copied, fmt.Errorf("read tiles, %w", err)
	}

	return copied, saveErr
}

func main() {
	output := flag.String("output", "", "The output mbtiles to write to")
	batchSize := flag.Int("batch-size", tilepack.DefaultBatchSize, "Number of tiles committed per transaction")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	inputs := flag.Args()

	if *output == "" || len(inputs) == 0 {
		logger.Error("Usage: merge --output OUT.mbtiles IN.mbtiles|URL [IN.mbtiles|URL...]")
		os.Exit(2)
	}

	if _, err := os.Stat(*output); !os.IsNotExist(err) {
		logger.Error("Output path already exists and cannot be overwritten", "path", *output)
		os.Exit(1)
	}

	out, err := tilepack.NewMbtilesOutputter(*output, *batchSize, nil)
	if err != nil {
		logger.Error("Couldn't create output", "path", *output, "error", err)
		os.Exit(1)
	}

	for i, input := range inputs {
		n, err := mergeInto(out, out, input, i == 0)
		if err != nil {
			out.Close()
			logger.Error("Couldn't merge input", "path", input, "error", err)
			os.Exit(1)
		}
		logger.Info("Merged input", "path", input, "tiles", n)
	}

	if err := out.Close(); err != nil {
		logger.Error("Couldn't close output", "path", *output, "error", err)
		os.Exit(1)
	}
}
