package raster

import (
	"fmt"
	"sort"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// ResampleError reports a resample request that cannot be satisfied.
type ResampleError struct {
	Width, Height int
	TargetEdge    int
	Reason        string
}

func (e *ResampleError) Error() string {
	return fmt.Sprintf("resample %dx%d to %dx%d: %s", e.Width, e.Height, e.TargetEdge, e.TargetEdge, e.Reason)
}

// MaxBytes caps the pixel buffer Resample allocates for one target raster.
// A 32768 pixel square in 8-bit RGBA fills it exactly.
const MaxBytes int64 = 4 << 30

// Only kernel scalers are offered. They widen their support when shrinking,
// so every source pixel under a destination pixel contributes to it.
var filters = map[string]xdraw.Scaler{
	"bilinear":    xdraw.BiLinear,
	"catmull-rom": xdraw.CatmullRom,
}

// ParseFilter returns the scaler registered under name.
func ParseFilter(name string) (xdraw.Scaler, error) {
	if s, ok := filters[strings.ToLower(name)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown resample filter %q (want one of %s)", name, strings.Join(FilterNames(), ", "))
}

// FilterNames lists the accepted filter names in sorted order.
func FilterNames() []string {
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resample scales src to a targetEdge x targetEdge raster of the same
// format. Both shrinking and enlarging are allowed.
func Resample(src *Raster, targetEdge int, scaler xdraw.Scaler) (*Raster, error) {
	if src.Empty() {
		e := &ResampleError{TargetEdge: targetEdge, Reason: "source raster is empty"}
		if src != nil {
			e.Width, e.Height = src.width, src.height
		}
		return nil, e
	}
	if targetEdge <= 0 {
		return nil, &ResampleError{Width: src.width, Height: src.height, TargetEdge: targetEdge, Reason: "target edge must be positive"}
	}
	if tooLarge(targetEdge, src.format) {
		return nil, &ResampleError{Width: src.width, Height: src.height, TargetEdge: targetEdge, Reason: sizeReason(src.format)}
	}
	if scaler == nil {
		scaler = xdraw.CatmullRom
	}

	dst := newImage(targetEdge, targetEdge, src.format)
	scaler.Scale(dst, dst.Bounds(), src.Image(), src.Bounds(), xdraw.Src, nil)
	return wrap(dst), nil
}

// CheckTarget reports whether a targetEdge square of the given format can
// be allocated by Resample.
func CheckTarget(targetEdge int, format Format) error {
	if targetEdge <= 0 {
		return &ResampleError{TargetEdge: targetEdge, Reason: "target edge must be positive"}
	}
	if tooLarge(targetEdge, format) {
		return &ResampleError{TargetEdge: targetEdge, Reason: sizeReason(format)}
	}
	return nil
}

func tooLarge(targetEdge int, format Format) bool {
	edge, bpp := int64(targetEdge), int64(format.BytesPerPixel())
	return edge > MaxBytes/edge/bpp
}

func sizeReason(format Format) string {
	return fmt.Sprintf("%s pixels would exceed %d bytes", format, MaxBytes)
}
