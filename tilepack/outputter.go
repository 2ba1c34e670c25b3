package tilepack

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileOutputter is a tile container. Save takes XYZ (top-origin) tiles;
// implementations convert to their own row scheme.
type TileOutputter interface {
	CreateTiles() error
	Save(tile maptile.Tile, data []byte) error
	// AssignSpatialMetadata records the geographic bound and zoom range
	// covered by the container.
	AssignSpatialMetadata(bound orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error
	Close() error
}

// MetadataWriter is implemented by outputters with a name/value metadata
// table.
type MetadataWriter interface {
	WriteMetadata(metadata *MbtilesMetadata) error
}

// NewOutputter opens the container for one of the output modes mbtiles,
// pmtiles or disk.
func NewOutputter(mode string, dsn string, format Format, batchSize int, metadata *MbtilesMetadata) (TileOutputter, error) {
	var outputter TileOutputter
	var err error

	switch mode {
	case "mbtiles":
		outputter, err = NewMbtilesOutputter(dsn, batchSize, metadata)
	case "pmtiles":
		outputter, err = NewPmtilesOutputter(dsn, format, metadata)
	case "disk":
		outputter, err = NewDiskOutputter(dsn, format)
	default:
		err = storageError("open", fmt.Errorf("unknown output mode %q", mode))
	}

	if err != nil {
		return nil, err
	}
	return outputter, nil
}
