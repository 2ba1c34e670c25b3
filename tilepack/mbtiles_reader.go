package tilepack

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/psanford/sqlite3vfs"
	"github.com/psanford/sqlite3vfshttp"
)

type TileData struct {
	Tile maptile.Tile
	Data *[]byte
}

// MbtilesReader reads a container using XYZ (top-origin) tile coordinates.
type MbtilesReader interface {
	Close() error
	GetTile(tile maptile.Tile) (*TileData, error)
	VisitAllTiles(visitor func(maptile.Tile, []byte)) error
	Metadata() (*MbtilesMetadata, error)
	CountTiles() (uint64, error)
}

func NewMbtilesReader(dsn string) (MbtilesReader, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s, %w", dsn, err)
	}

	return NewMbtilesReaderWithDatabase(db)
}

// OpenMbtilesReader opens a local file, or a container served over HTTP(S)
// when src is a URL.
func OpenMbtilesReader(src string) (MbtilesReader, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return NewMbtilesReaderFromURL(src)
	}
	return NewMbtilesReader(src)
}

var httpVFSCount atomic.Int64

// NewMbtilesReaderFromURL opens a read-only container whose pages are
// fetched with HTTP range requests. Each call registers its own VFS.
func NewMbtilesReaderFromURL(url string) (MbtilesReader, error) {
	name := fmt.Sprintf("httpvfs%d", httpVFSCount.Add(1))

	vfs := sqlite3vfshttp.HttpVFS{URL: url}
	if err := sqlite3vfs.RegisterVFS(name, &vfs); err != nil {
		return nil, fmt.Errorf("register vfs for %s, %w", url, err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("remote.db?vfs=%s&mode=ro", name))
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s, %w", url, err)
	}

	return NewMbtilesReaderWithDatabase(db)
}

func NewMbtilesReaderWithDatabase(db *sql.DB) (MbtilesReader, error) {
	return &mbtilesReader{db: db}, nil
}

type mbtilesReader struct {
	db *sql.DB
}

// Close gracefully tears down the mbtiles connection.
func (o *mbtilesReader) Close() error {
	var err error

	if o.db != nil {
		if err2 := o.db.Close(); err2 != nil {
			err = err2
		}
	}

	return err
}

// GetTile returns data for the given tile. Data is nil when the tile is not
// stored.
func (o *mbtilesReader) GetTile(tile maptile.Tile) (*TileData, error) {
	var data []byte

	result := o.db.QueryRow("SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=? LIMIT 1", tile.Z, tile.X, FlipY(tile))
	err := result.Scan(&data)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			blankTile := &TileData{Tile: tile, Data: nil}
			return blankTile, nil
		}
		return nil, err
	}

	tileData := &TileData{
		Tile: tile,
		Data: &data,
	}

	return tileData, nil
}

// VisitAllTiles runs the given function on all tiles in this mbtiles archive.
func (o *mbtilesReader) VisitAllTiles(visitor func(maptile.Tile, []byte)) error {
	rows, err := o.db.Query("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles ORDER BY zoom_level, tile_row DESC, tile_column")
	if err != nil {
		return err
	}
	defer rows.Close()

	var x, y uint32
	var z maptile.Zoom
	for rows.Next() {
		data := []byte{}
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			return fmt.Errorf("Couldn't scan row, %w", err)
		}

		t := maptile.New(x, y, z)
		t.Y = FlipY(t)
		visitor(t, data)
	}

	return rows.Err()
}

// Metadata loads the whole metadata table.
func (o *mbtilesReader) Metadata() (*MbtilesMetadata, error) {
	rows, err := o.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := NewMbtilesMetadata(nil)

	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("Couldn't scan metadata row, %w", err)
		}

		if name.Valid {
			m.Set(name.String, value.String)
		}
	}

	return m, rows.Err()
}

// CountTiles returns the number of addressed tiles.
func (o *mbtilesReader) CountTiles() (uint64, error) {
	var n uint64
	err := o.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n)
	return n, err
}

// Coverage summarizes the tiles actually stored in a container.
type Coverage struct {
	Bound   orb.Bound
	MinZoom maptile.Zoom
	MaxZoom maptile.Zoom
	Tiles   uint64
}

// ScanCoverage walks every stored tile. ok is false for an empty container.
func ScanCoverage(r MbtilesReader) (cov Coverage, ok bool, err error) {
	cov.MinZoom = MaxZoom

	err = r.VisitAllTiles(func(t maptile.Tile, _ []byte) {
		if cov.Tiles == 0 {
			cov.Bound = t.Bound()
		} else {
			cov.Bound = cov.Bound.Union(t.Bound())
		}
		cov.MinZoom = min(cov.MinZoom, t.Z)
		cov.MaxZoom = max(cov.MaxZoom, t.Z)
		cov.Tiles++
	})
	if err != nil {
		return Coverage{}, false, err
	}

	return cov, cov.Tiles > 0, nil
}
