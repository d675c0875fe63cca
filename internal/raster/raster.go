// Package raster holds decoded images as immutable pixel grids and scales
// them to the square sizes a tile pyramid needs.
//
// A Raster never changes after construction. Every operation that derives
// new pixels, such as Resample or CopyWindow, allocates its own buffer, so
// a Raster may be read from any number of goroutines.
package raster

import (
	"image"
	"image/color"
	"image/draw"
)

// Format is the pixel layout of a Raster.
type Format uint8

const (
	// FormatRGBA8 is 8-bit non-premultiplied RGBA, backed by image.NRGBA.
	FormatRGBA8 Format = iota

	// FormatRGBA16 is 16-bit non-premultiplied RGBA, backed by image.NRGBA64.
	FormatRGBA16

	// FormatGray8 is 8-bit grayscale, backed by image.Gray.
	FormatGray8

	// FormatGray16 is 16-bit grayscale, backed by image.Gray16.
	FormatGray16
)

var bytesPerPixel = [...]int{
	FormatRGBA8:  4,
	FormatRGBA16: 8,
	FormatGray8:  1,
	FormatGray16: 2,
}

// BytesPerPixel returns the size of one pixel in bytes.
func (f Format) BytesPerPixel() int {
	return bytesPerPixel[f]
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "rgba8"
	case FormatRGBA16:
		return "rgba16"
	case FormatGray8:
		return "gray8"
	case FormatGray16:
		return "gray16"
	}
	return "unknown"
}

// Raster is an immutable grid of pixels.
type Raster struct {
	pix    []byte
	stride int
	width  int
	height int
	format Format
}

// New returns a zero-filled raster.
func New(width, height int, format Format) *Raster {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	stride := width * format.BytesPerPixel()
	return &Raster{
		pix:    make([]byte, stride*height),
		stride: stride,
		width:  width,
		height: height,
		format: format,
	}
}

// FromImage copies img into a new raster. Gray and 16-bit images keep
// their depth; everything else becomes FormatRGBA8. The result always has
// its origin at (0, 0).
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	var dst draw.Image
	switch img.(type) {
	case *image.Gray:
		dst = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	case *image.Gray16:
		dst = image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))
	case *image.RGBA64, *image.NRGBA64:
		dst = image.NewNRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	default:
		dst = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return wrap(dst)
}

// wrap adopts the pixel buffer of an image created by newImage or FromImage.
// The caller must not modify img afterwards.
func wrap(img draw.Image) *Raster {
	switch m := img.(type) {
	case *image.NRGBA:
		return &Raster{pix: m.Pix, stride: m.Stride, width: m.Rect.Dx(), height: m.Rect.Dy(), format: FormatRGBA8}
	case *image.NRGBA64:
		return &Raster{pix: m.Pix, stride: m.Stride, width: m.Rect.Dx(), height: m.Rect.Dy(), format: FormatRGBA16}
	case *image.Gray:
		return &Raster{pix: m.Pix, stride: m.Stride, width: m.Rect.Dx(), height: m.Rect.Dy(), format: FormatGray8}
	case *image.Gray16:
		return &Raster{pix: m.Pix, stride: m.Stride, width: m.Rect.Dx(), height: m.Rect.Dy(), format: FormatGray16}
	}
	panic("raster: unsupported image type")
}

func newImage(width, height int, format Format) draw.Image {
	r := image.Rect(0, 0, width, height)
	switch format {
	case FormatRGBA16:
		return image.NewNRGBA64(r)
	case FormatGray8:
		return image.NewGray(r)
	case FormatGray16:
		return image.NewGray16(r)
	}
	return image.NewNRGBA(r)
}

func (r *Raster) Width() int     { return r.width }
func (r *Raster) Height() int    { return r.height }
func (r *Raster) Format() Format { return r.format }

// Bounds returns the raster rectangle, always anchored at (0, 0).
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

// Empty reports whether the raster has no pixels.
func (r *Raster) Empty() bool {
	return r == nil || r.width <= 0 || r.height <= 0
}

// Pix returns a copy of the pixel bytes, row by row without padding.
func (r *Raster) Pix() []byte {
	rowBytes := r.width * r.format.BytesPerPixel()
	out := make([]byte, 0, rowBytes*r.height)
	for y := 0; y < r.height; y++ {
		out = append(out, r.pix[y*r.stride:y*r.stride+rowBytes]...)
	}
	return out
}

// Image returns a read-only image.Image view sharing the raster's pixels.
// Callers must not write through the returned value.
func (r *Raster) Image() image.Image {
	rect := r.Bounds()
	switch r.format {
	case FormatRGBA16:
		return &image.NRGBA64{Pix: r.pix, Stride: r.stride, Rect: rect}
	case FormatGray8:
		return &image.Gray{Pix: r.pix, Stride: r.stride, Rect: rect}
	case FormatGray16:
		return &image.Gray16{Pix: r.pix, Stride: r.stride, Rect: rect}
	}
	return &image.NRGBA{Pix: r.pix, Stride: r.stride, Rect: rect}
}

// At returns the color of pixel (x, y).
func (r *Raster) At(x, y int) color.Color {
	return r.Image().At(x, y)
}

// CopyWindow returns a new edge x edge raster holding the pixels of the
// window whose top-left corner is (x0, y0). Parts of the window outside the
// raster stay zero; the overlapping part is copied into the top-left corner.
func (r *Raster) CopyWindow(x0, y0, edge int) *Raster {
	t := New(edge, edge, r.format)
	w := min(edge, r.width-x0)
	h := min(edge, r.height-y0)
	if x0 < 0 || y0 < 0 || w <= 0 || h <= 0 {
		return t
	}

	bpp := r.format.BytesPerPixel()
	n := w * bpp
	for y := 0; y < h; y++ {
		src := r.pix[(y0+y)*r.stride+x0*bpp:]
		copy(t.pix[y*t.stride:y*t.stride+n], src[:n])
	}
	return t
}
