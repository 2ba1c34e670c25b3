package tilepack

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// ErrEmptySelection is returned when a polygon selects no tiles across the
// whole requested zoom range. It is a "nothing to generate" condition, not a
// system failure.
var ErrEmptySelection = errors.New("no tiles intersect the polygon in the requested zoom range")

// ErrCancelled marks a job that stopped early because cancellation was
// requested. The output is still finalized.
var ErrCancelled = errors.New("generation cancelled")

// InvalidGeometryError reports a malformed polygon, a degenerate bound or a
// coordinate transform that produced unusable coordinates.
type InvalidGeometryError struct {
	Reason string
	Err    error
}

func (e *InvalidGeometryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid geometry: %s: %v", e.Reason, e.Err)
	}
	return "invalid geometry: " + e.Reason
}

func (e *InvalidGeometryError) Unwrap() error {
	return e.Err
}

func invalidGeometry(format string, args ...any) error {
	return &InvalidGeometryError{Reason: fmt.Sprintf(format, args...)}
}

// TileRenderError is a rendering failure for one tile. The tile is skipped
// and generation continues.
type TileRenderError struct {
	Tile maptile.Tile
	Err  error
}

func (e *TileRenderError) Error() string {
	return fmt.Sprintf("render tile %d/%d/%d: %v", e.Tile.Z, e.Tile.X, e.Tile.Y, e.Err)
}

func (e *TileRenderError) Unwrap() error {
	return e.Err
}

// StorageWriteError means the container could not be opened or a commit
// failed. It aborts the job; previously committed batches stay readable.
type StorageWriteError struct {
	Op  string
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageWriteError
	if errors.As(err, &se) {
		return err
	}
	return &StorageWriteError{Op: op, Err: err}
}
