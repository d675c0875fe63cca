package tile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ericpauley/go-quantize/quantize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kiesman99/slicer/internal/raster"
)

var errEmptyImage = errors.New("empty image data")

// Processor decodes source images and encodes tiles.
type Processor struct {
	format  Format
	quality int
}

// NewProcessor returns a processor encoding tiles as c.Format.
func NewProcessor(c Config) *Processor {
	return &Processor{
		format:  c.Format,
		quality: c.Quality,
	}
}

// Load reads the image at path and returns it as a raster. Every failure,
// including a missing file, is reported as a *DecodeError.
func Load(path string) (*raster.Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	return raster.FromImage(img), nil
}

// DecodeImage detects the image format and decodes data.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return img, nil
}

// Encode writes r to w in the processor's format.
func (p *Processor) Encode(w io.Writer, r *raster.Raster) error {
	return Encode(w, r.Image(), p.format, p.quality)
}

// EncodeBytes encodes r and returns the result.
func (p *Processor) EncodeBytes(r *raster.Raster) ([]byte, error) {
	var output bytes.Buffer
	if err := p.Encode(&output, r); err != nil {
		return nil, err
	}

	return output.Bytes(), nil
}

// Encode writes img to w as format f. Quality only applies to JPEG.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		return png.Encode(w, img)
	case FormatGIF:
		return gif.Encode(w, img, &gif.Options{
			NumColors: 256,
			Quantizer: &quantize.MedianCutQuantizer{},
		})
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatWEBP:
		// Lossless VP8L.
		return nativewebp.Encode(w, img, nil)
	}
	return fmt.Errorf("unsupported output format %s", f)
}
