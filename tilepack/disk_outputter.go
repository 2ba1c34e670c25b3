package tilepack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// diskOutputter writes an XYZ tree of z/x/y.ext files with a metadata.json
// alongside.
type diskOutputter struct {
	root     string
	format   Format
	hasTiles bool
	metadata *MbtilesMetadata
}

var _ TileOutputter = (*diskOutputter)(nil)
var _ MetadataWriter = (*diskOutputter)(nil)

func NewDiskOutputter(dsn string, format Format) (*diskOutputter, error) {
	root, err := filepath.Abs(dsn)

	if err != nil {
		return nil, storageError("open", err)
	}

	o := diskOutputter{
		root:     root,
		format:   format,
		metadata: NewMbtilesMetadata(nil),
	}

	return &o, nil
}

func (o *diskOutputter) Close() error {
	return nil
}

func (o *diskOutputter) CreateTiles() error {
	if o.hasTiles {
		return nil
	}

	info, err := os.Stat(o.root)

	if err != nil {

		if os.IsNotExist(err) {

			err := os.MkdirAll(o.root, 0755)

			if err != nil {
				return storageError("create", err)
			}
		} else {
			return storageError("create", err)
		}

	} else {

		if !info.IsDir() {
			return storageError("create", errors.New("Root is already a file"))
		}
	}

	o.hasTiles = true
	return nil
}

// TilePath is the file a tile is written to.
func (o *diskOutputter) TilePath(tile maptile.Tile) string {
	rel_path := fmt.Sprintf("%d/%d/%d.%s", tile.Z, tile.X, tile.Y, o.format)
	return filepath.Join(o.root, rel_path)
}

func (o *diskOutputter) Save(tile maptile.Tile, data []byte) error {
	if err := o.CreateTiles(); err != nil {
		return err
	}

	abs_path := o.TilePath(tile)

	if err := os.MkdirAll(filepath.Dir(abs_path), 0755); err != nil {
		return storageError("write", err)
	}

	if err := os.WriteFile(abs_path, data, 0644); err != nil {
		return storageError("write", err)
	}

	return nil
}

func (o *diskOutputter) WriteMetadata(metadata *MbtilesMetadata) error {
	if err := o.CreateTiles(); err != nil {
		return err
	}

	for _, k := range metadata.Keys() {
		v, _ := metadata.Get(k)
		o.metadata.Set(k, v)
	}

	values := make(map[string]string)
	for _, k := range o.metadata.Keys() {
		values[k], _ = o.metadata.Get(k)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return storageError("metadata", err)
	}

	if err := os.WriteFile(filepath.Join(o.root, "metadata.json"), data, 0644); err != nil {
		return storageError("metadata", err)
	}

	return nil
}

func (o *diskOutputter) AssignSpatialMetadata(bound orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error {
	o.metadata.SetSpatial(bound, minZoom, maxZoom)
	return o.WriteMetadata(o.metadata)
}
