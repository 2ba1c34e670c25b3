package tilepack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// JobOptions configures one export.
type JobOptions struct {
	Name        string
	Description string
	Polygon     *Polygon
	MinZoom     maptile.Zoom
	MaxZoom     maptile.Zoom
	Render      RenderConfig
	Engine      Engine
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Progress, when set, is called after every tile.
	Progress ProgressFunc
}

type Status int

const (
	StatusCompleted Status = iota
	StatusCompletedWithSkippedTiles
	StatusCancelled
	StatusFailed
)

// Result is the final outcome of a job.
type Result struct {
	Status    Status
	Generated int
	Skipped   []TileFailure
	Elapsed   time.Duration
	// Err is set for StatusFailed.
	Err error
}

func (r *Result) String() string {
	switch r.Status {
	case StatusCompleted:
		return "completed"
	case StatusCompletedWithSkippedTiles:
		return fmt.Sprintf("completed-with-skipped-tiles(%d)", len(r.Skipped))
	case StatusCancelled:
		return "cancelled"
	default:
		reason := "unknown"
		if r.Err != nil {
			reason = r.Err.Error()
		}
		return fmt.Sprintf("failed(%s)", reason)
	}
}

// GenerationJob renders the selected tiles one at a time into an
// outputter. Step is driven either by Run or by a caller's own scheduler.
type GenerationJob struct {
	opts      JobOptions
	renderer  *MetatileRenderer
	logger    *slog.Logger
	tiles     []maptile.Tile
	geoBound  orb.Bound
	cancelled atomic.Bool

	out       TileOutputter
	started   time.Time
	cursor    int
	generated int
	skipped   []TileFailure
	finished  bool
	finishErr error
}

// NewGenerationJob validates the options and selects the tiles. No output
// is touched; an empty selection returns ErrEmptySelection.
func NewGenerationJob(opts JobOptions) (*GenerationJob, error) {
	if opts.Polygon == nil {
		return nil, invalidGeometry("polygon is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	zooms, err := zoomRange(opts.MinZoom, opts.MaxZoom)
	if err != nil {
		return nil, err
	}

	projected, err := opts.Polygon.Projected()
	if err != nil {
		return nil, err
	}

	renderer, err := newMetatileRenderer(projected, opts.Render, opts.Engine, logger)
	if err != nil {
		return nil, err
	}

	tiles, err := selectProjectedTiles(projected, zooms)
	if err != nil {
		return nil, err
	}

	if len(tiles) == 0 {
		return nil, ErrEmptySelection
	}

	logger.Info("Selected tiles", "count", len(tiles), "min_zoom", opts.MinZoom, "max_zoom", opts.MaxZoom)

	return &GenerationJob{
		opts:     opts,
		renderer: renderer,
		logger:   logger,
		tiles:    tiles,
		geoBound: projectedBoundToGeographic(clampToWorld(projected.Bound())),
	}, nil
}

func clampToWorld(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{max(b.Min.X(), WorldExtent.Min.X()), max(b.Min.Y(), WorldExtent.Min.Y())},
		Max: orb.Point{min(b.Max.X(), WorldExtent.Max.X()), min(b.Max.Y(), WorldExtent.Max.Y())},
	}
}

// Tiles returns a copy of the selected tiles in generation order.
func (j *GenerationJob) Tiles() []maptile.Tile {
	return append([]maptile.Tile(nil), j.tiles...)
}

func (j *GenerationJob) Total() int {
	return len(j.tiles)
}

// Bound is the geographic bound recorded in the container metadata.
func (j *GenerationJob) Bound() orb.Bound {
	return j.geoBound
}

// Start prepares out and writes the container metadata.
func (j *GenerationJob) Start(out TileOutputter) error {
	if j.out != nil {
		return fmt.Errorf("job already started")
	}
	j.out = out
	j.started = time.Now()

	if err := out.CreateTiles(); err != nil {
		return storageError("create", err)
	}

	if mw, ok := out.(MetadataWriter); ok {
		md := NewRasterMetadata(j.opts.Name, j.opts.Description, j.renderer.Config().Format)
		if err := mw.WriteMetadata(md); err != nil {
			return storageError("metadata", err)
		}
	}

	if err := out.AssignSpatialMetadata(j.geoBound, j.opts.MinZoom, j.opts.MaxZoom); err != nil {
		return storageError("metadata", err)
	}

	j.logger.Info("Started generation", "name", j.opts.Name, "tiles", len(j.tiles))
	return nil
}

// Cancel asks the job to stop at the next tile boundary. It is safe to call
// from any goroutine.
func (j *GenerationJob) Cancel() {
	j.cancelled.Store(true)
}

// Step renders and writes exactly one tile. done is true once every tile is
// processed or the job has stopped. A failed render skips the tile and is
// not an error; a cancellation returns ErrCancelled and a storage failure
// returns a *StorageWriteError. Cancelling ctx is checked before the tile
// starts and never interrupts it.
func (j *GenerationJob) Step(ctx context.Context) (bool, error) {
	if j.out == nil {
		return true, fmt.Errorf("job not started")
	}

	if j.cancelled.Load() || ctx.Err() != nil {
		return true, ErrCancelled
	}

	if j.cursor >= len(j.tiles) {
		return true, nil
	}

	t := j.tiles[j.cursor]

	// Cancellation only takes effect between tiles, so the tile in progress
	// is rendered and saved even when ctx is cancelled meanwhile.
	img, err := j.renderer.RenderTile(context.WithoutCancel(ctx), t)
	if err != nil {
		j.logger.Warn("Skipping tile", "tile", t, "error", err)
		j.skipped = append(j.skipped, TileFailure{Tile: t, Err: err})
	} else {
		if err := j.out.Save(t, img.Data); err != nil {
			return true, storageError("write", err)
		}
		j.generated++
	}

	j.cursor++
	j.reportProgress(t)

	return j.cursor >= len(j.tiles), nil
}

func (j *GenerationJob) reportProgress(t maptile.Tile) {
	p := Progress{
		Index:   j.cursor,
		Total:   len(j.tiles),
		Tile:    t,
		Elapsed: time.Since(j.started),
	}

	if p.Index > 0 {
		p.PerTile = p.Elapsed / time.Duration(p.Index)
		p.Remaining = p.PerTile * time.Duration(p.Total-p.Index)
	}

	j.logger.Debug("Progress", "progress", p.String())

	if j.opts.Progress != nil {
		j.opts.Progress(p)
	}
}

// Finish closes the outputter, committing pending tiles. Only the first
// call has an effect.
func (j *GenerationJob) Finish() error {
	if j.finished {
		return j.finishErr
	}
	j.finished = true

	if j.out != nil {
		j.finishErr = storageError("close", j.out.Close())
	}

	return j.finishErr
}

// Run drives the job to the end and always finalizes the outputter.
// Cancelling ctx is the same as calling Cancel.
func (j *GenerationJob) Run(ctx context.Context, out TileOutputter) *Result {
	result := &Result{Status: StatusCompleted}

	err := j.Start(out)

	for err == nil {
		var done bool
		done, err = j.Step(ctx)
		if done {
			break
		}
	}

	switch {
	case errors.Is(err, ErrCancelled):
		result.Status = StatusCancelled
	case err != nil:
		result.Status = StatusFailed
		result.Err = err
	}

	if ferr := j.Finish(); ferr != nil && result.Status != StatusFailed {
		result.Status = StatusFailed
		result.Err = ferr
	}

	result.Generated = j.generated
	result.Skipped = append([]TileFailure(nil), j.skipped...)
	result.Elapsed = time.Since(j.started)

	if result.Status == StatusCompleted && len(result.Skipped) > 0 {
		result.Status = StatusCompletedWithSkippedTiles
	}

	j.logger.Info("Finished generation", "status", result.String(), "generated", result.Generated, "elapsed", result.Elapsed)
	return result
}
