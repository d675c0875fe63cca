package tile

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// DecodeError reports a source image that could not be read or decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a tile that could not be encoded.
type EncodeError struct {
	Tile   maptile.Tile
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode tile %s as %s: %v", String(e.Tile), e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
