package tilepack

import (
	"fmt"
	"time"

	"github.com/paulmach/orb/maptile"
)

// Progress is reported after every tile, written or skipped.
type Progress struct {
	Index   int
	Total   int
	Tile    maptile.Tile
	Elapsed time.Duration
	// PerTile and Remaining are zero until the first tile completes.
	PerTile   time.Duration
	Remaining time.Duration
}

type ProgressFunc func(Progress)

func (p Progress) String() string {
	s := fmt.Sprintf("Tile %d/%d (Z%d)", p.Index, p.Total, p.Tile.Z)
	if p.Index > 0 {
		s += fmt.Sprintf(" (%s left)", FormatETA(p.Remaining))
	}
	return s
}

// TileFailure records a tile that was skipped after a render failure.
type TileFailure struct {
	Tile maptile.Tile
	Err  error
}

// FormatETA renders a remaining duration as ~Ns under a minute, ~Nm under
// an hour and ~N.Nh beyond.
func FormatETA(d time.Duration) string {
	secs := d.Seconds()

	switch {
	case secs < 60:
		return fmt.Sprintf("~%ds", int(secs))
	case secs < 3600:
		return fmt.Sprintf("~%dm", int(secs/60))
	default:
		return fmt.Sprintf("~%.1fh", secs/3600)
	}
}
