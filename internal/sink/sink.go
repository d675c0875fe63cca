// Package sink stores encoded tiles at their {z}/{x}/{y}.{ext} address.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// Sink stores one encoded tile. Implementations must be safe for concurrent
// use by column workers writing distinct tiles.
type Sink interface {
	WriteTile(ctx context.Context, t maptile.Tile, ext string, data []byte) error
}

// IOError reports a failed filesystem or storage operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Tee writes every tile to all of its sinks. A failure in one sink does not
// stop the others; all failures are returned together.
type Tee []Sink

func (t Tee) WriteTile(ctx context.Context, tile maptile.Tile, ext string, data []byte) error {
	var errs []error
	for _, s := range t {
		if err := s.WriteTile(ctx, tile, ext, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
