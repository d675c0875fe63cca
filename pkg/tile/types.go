package tile

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// Size is the edge length in pixels of every tile at every zoom level.
const Size = 256

// Layout is the address template of a tile below the output root.
const Layout = "{z}/{x}/{y}.{ext}"

const (
	// MaxZoom bounds the configurable zoom range. Zoom 7 resamples to a
	// 32768 pixel square, 4 GiB in 8-bit RGBA.
	MaxZoom = 7

	DefaultOutput            = "tiles"
	DefaultExtension         = "jpg"
	DefaultQuality           = 90
	DefaultFilter            = "catmull-rom"
	DefaultParallelThreshold = 5
)

// Format identifies the encoder used for tiles.
type Format int

const (
	FormatJPEG Format = iota
	FormatPNG
	FormatGIF
	FormatTIFF
	FormatBMP
	FormatWEBP
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatTIFF:
		return "tiff"
	case FormatBMP:
		return "bmp"
	case FormatWEBP:
		return "webp"
	}
	return "format(" + strconv.Itoa(int(f)) + ")"
}

// ContentType returns the MIME type written alongside tiles in object storage.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	case FormatWEBP:
		return "image/webp"
	}
	return "image/jpeg"
}

// NormalizeExtension lower-cases ext and strips a leading dot. An empty
// extension selects DefaultExtension.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return DefaultExtension
	}
	return ext
}

// ParseFormat maps a file extension to the format that encodes it.
func ParseFormat(ext string) (Format, error) {
	switch NormalizeExtension(ext) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "gif":
		return FormatGIF, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	case "webp":
		return FormatWEBP, nil
	}
	return 0, fmt.Errorf("unknown output format: %q", ext)
}

// Config holds everything a pyramid run needs. It is passed by value and
// never modified once a run has started.
type Config struct {
	OutputRoot        string
	Extension         string
	Format            Format
	MaxZoom           int
	Quality           int
	Filter            string
	Workers           int
	ParallelThreshold int
	ContinueOnError   bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		OutputRoot:        DefaultOutput,
		Extension:         DefaultExtension,
		Format:            FormatJPEG,
		Quality:           DefaultQuality,
		Filter:            DefaultFilter,
		Workers:           runtime.GOMAXPROCS(0),
		ParallelThreshold: DefaultParallelThreshold,
	}
}

// TileEdge returns the tile edge length, which is the same for every run.
func (c Config) TileEdge() int {
	return Size
}

// WithExtension returns a copy of c writing tiles with the given extension.
func (c Config) WithExtension(ext string) (Config, error) {
	ext = NormalizeExtension(ext)
	f, err := ParseFormat(ext)
	if err != nil {
		return c, err
	}
	c.Extension = ext
	c.Format = f
	return c, nil
}

// Validate checks that c describes a runnable pyramid.
func (c Config) Validate() error {
	if c.MaxZoom < 0 || c.MaxZoom > MaxZoom {
		return fmt.Errorf("max zoom must be between 0 and %d, got %d", MaxZoom, c.MaxZoom)
	}
	if c.Extension == "" {
		return fmt.Errorf("output extension is required")
	}
	if f, err := ParseFormat(c.Extension); err != nil {
		return err
	} else if f != c.Format {
		return fmt.Errorf("extension %q does not match format %s", c.Extension, c.Format)
	}
	if c.Format == FormatJPEG && (c.Quality < 1 || c.Quality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.ParallelThreshold < 0 {
		return fmt.Errorf("parallel threshold must not be negative, got %d", c.ParallelThreshold)
	}
	return nil
}

// New returns the coordinate of tile (x, y) at the given zoom level.
func New(zoom, x, y int) maptile.Tile {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom))
}

// Expand replaces the {z}, {x}, {y} and {ext} tokens of template.
func Expand(template string, t maptile.Tile, ext string) string {
	s := template
	s = strings.ReplaceAll(s, "{z}", strconv.FormatUint(uint64(t.Z), 10))
	s = strings.ReplaceAll(s, "{x}", strconv.FormatUint(uint64(t.X), 10))
	s = strings.ReplaceAll(s, "{y}", strconv.FormatUint(uint64(t.Y), 10))
	s = strings.ReplaceAll(s, "{ext}", ext)
	return s
}

// Path returns the file path of tile t below root.
func Path(root string, t maptile.Tile, ext string) string {
	return filepath.Join(root, filepath.FromSlash(Expand(Layout, t, ext)))
}

// Key returns the object key of tile t below prefix.
func Key(prefix string, t maptile.Tile, ext string) string {
	return path.Join(prefix, Expand(Layout, t, ext))
}

// String formats t as zoom/x/y.
func String(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}
