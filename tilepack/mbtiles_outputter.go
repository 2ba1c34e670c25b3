package tilepack

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// DefaultBatchSize is the number of tiles written per transaction.
	DefaultBatchSize = 100
)

// NewMbtilesOutputter opens (or creates) an MBTiles file. Tiles are
// committed every batchSize writes; metadata may be nil.
func NewMbtilesOutputter(dsn string, batchSize int, metadata *MbtilesMetadata) (*mbtilesOutputter, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageError("open", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageError("open", fmt.Errorf("%s, %w", dsn, err))
	}

	// A single connection keeps the open batch transaction and the metadata
	// writes from contending for the file lock.
	db.SetMaxOpenConns(1)

	o := &mbtilesOutputter{db: db, batchSize: batchSize, metadata: metadata}
	if o.metadata == nil {
		o.metadata = NewMbtilesMetadata(nil)
	}

	return o, nil
}

type mbtilesOutputter struct {
	db         *sql.DB
	txn        *sql.Tx
	batchSize  int
	batchCount int
	hasTiles   bool
	metadata   *MbtilesMetadata
	closed     bool
}

var _ TileOutputter = (*mbtilesOutputter)(nil)
var _ MetadataWriter = (*mbtilesOutputter)(nil)

// Close commits the open batch and closes the database. Calling it again is
// a no-op.
func (o *mbtilesOutputter) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true

	err := o.commit()

	if o.db != nil {
		if err2 := o.db.Close(); err2 != nil && err == nil {
			err = storageError("close", err2)
		}
	}

	return err
}

func (o *mbtilesOutputter) commit() error {
	if o.txn == nil {
		return nil
	}

	err := o.txn.Commit()
	o.txn = nil
	o.batchCount = 0

	return storageError("commit", err)
}

func (o *mbtilesOutputter) CreateTiles() error {
	if o.hasTiles {
		return nil
	}
	if _, err := o.db.Exec(`
		BEGIN TRANSACTION;
		CREATE TABLE IF NOT EXISTS map (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row);
		CREATE TABLE IF NOT EXISTS images (
			tile_data BLOB NOT NULL,
			tile_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS images_id ON images (tile_id);
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT,
			value TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS name ON metadata (name);
		CREATE VIEW IF NOT EXISTS tiles AS
		SELECT
			map.zoom_level AS zoom_level,
			map.tile_column AS tile_column,
			map.tile_row AS tile_row,
			images.tile_data AS tile_data
		FROM map
		JOIN images ON images.tile_id = map.tile_id;
		COMMIT;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		return storageError("create", err)
	}
	o.hasTiles = true
	return nil
}

// Save stores one XYZ tile. The row is flipped to the bottom-origin MBTiles
// convention here and nowhere else.
func (o *mbtilesOutputter) Save(tile maptile.Tile, data []byte) error {
	if err := o.CreateTiles(); err != nil {
		return err
	}

	if o.txn == nil {
		tx, err := o.db.Begin()
		if err != nil {
			return storageError("begin", err)
		}
		o.txn = tx
	}

	hash := md5.Sum(data)
	tileID := hex.EncodeToString(hash[:])

	_, err := o.txn.Exec("INSERT OR REPLACE INTO images (tile_id, tile_data) VALUES (?, ?);", tileID, data)
	if err != nil {
		return storageError("write", err)
	}

	_, err = o.txn.Exec("INSERT OR REPLACE INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?);", tile.Z, tile.X, FlipY(tile), tileID)
	if err != nil {
		return storageError("write", err)
	}

	o.batchCount++

	if o.batchCount%o.batchSize == 0 {
		return o.commit()
	}

	return nil
}

// WriteMetadata upserts every key of metadata. Pending tiles are committed
// first.
func (o *mbtilesOutputter) WriteMetadata(metadata *MbtilesMetadata) error {
	if err := o.CreateTiles(); err != nil {
		return err
	}

	if err := o.commit(); err != nil {
		return err
	}

	tx, err := o.db.Begin()
	if err != nil {
		return storageError("begin", err)
	}

	for _, k := range metadata.Keys() {
		v, _ := metadata.Get(k)

		if _, err := tx.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?);", k, v); err != nil {
			tx.Rollback()
			return storageError("metadata", err)
		}

		o.metadata.Set(k, v)
	}

	return storageError("commit", tx.Commit())
}

// AssignSpatialMetadata writes the stored metadata plus bounds, center,
// minzoom and maxzoom for a geographic bound.
func (o *mbtilesOutputter) AssignSpatialMetadata(bound orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error {
	o.metadata.SetSpatial(bound, minZoom, maxZoom)
	return o.WriteMetadata(o.metadata)
}
