// Package partition cuts a raster into the grid of square tiles used at one
// zoom level of a pyramid.
package partition

import (
	"image"
	"iter"

	"github.com/kiesman99/slicer/internal/raster"
)

// GridSize returns the number of tile columns and rows needed to cover a
// width x height raster with tiles of the given edge.
func GridSize(width, height, edge int) (maxX, maxY int) {
	mustEdge(edge)
	return ceilDiv(width, edge), ceilDiv(height, edge)
}

// Window returns the pixel rectangle covered by tile (x, y). The rectangle
// may extend past the raster's right and bottom edges.
func Window(x, y, edge int) image.Rectangle {
	mustEdge(edge)
	return image.Rect(x*edge, y*edge, x*edge+edge, y*edge+edge)
}

// Extract returns tile (x, y) of scaled as an edge x edge raster.
func Extract(scaled *raster.Raster, x, y, edge int) *raster.Raster {
	w := Window(x, y, edge)
	return scaled.CopyWindow(w.Min.X, w.Min.Y, edge)
}

// Column yields the tiles of column x in increasing y order. Tiles are
// extracted lazily as the sequence is consumed.
func Column(scaled *raster.Raster, x, edge int) iter.Seq2[int, *raster.Raster] {
	_, maxY := GridSize(scaled.Width(), scaled.Height(), edge)
	return func(yield func(int, *raster.Raster) bool) {
		for y := 0; y < maxY; y++ {
			if !yield(y, Extract(scaled, x, y, edge)) {
				return
			}
		}
	}
}

// Tiles yields every tile of scaled, column by column.
func Tiles(scaled *raster.Raster, edge int) iter.Seq2[image.Point, *raster.Raster] {
	maxX, _ := GridSize(scaled.Width(), scaled.Height(), edge)
	return func(yield func(image.Point, *raster.Raster) bool) {
		for x := 0; x < maxX; x++ {
			for y, t := range Column(scaled, x, edge) {
				if !yield(image.Pt(x, y), t) {
					return
				}
			}
		}
	}
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func mustEdge(edge int) {
	if edge <= 0 {
		panic("partition: tile edge must be positive")
	}
}
