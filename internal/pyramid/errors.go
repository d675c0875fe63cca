package pyramid

import (
	"fmt"

	"github.com/paulmach/orb/maptile"

	"github.com/kiesman99/slicer/pkg/tile"
)

// FailedTile represents a single tile that could not be encoded or stored.
type FailedTile struct {
	Tile  maptile.Tile
	Stage string
	Err   error
}

func (f FailedTile) String() string {
	return fmt.Sprintf("%s (%s): %v", tile.String(f.Tile), f.Stage, f.Err)
}

// LevelError reports the tiles of one zoom level that were not written.
// The remaining tiles of the level were written normally.
type LevelError struct {
	Zoom   int
	Failed []FailedTile
	Total  int
}

func (e *LevelError) Error() string {
	msg := fmt.Sprintf("zoom %d: %d of %d tiles failed", e.Zoom, len(e.Failed), e.Total)
	if len(e.Failed) > 0 {
		msg += ", first: " + e.Failed[0].String()
	}
	return msg
}

// Unwrap exposes the per-tile causes to errors.Is and errors.As.
func (e *LevelError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}
