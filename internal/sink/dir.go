package sink

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/paulmach/orb/maptile"

	"github.com/kiesman99/slicer/pkg/tile"
)

// Dir writes tiles below a root directory. Each tile is written to a
// uniquely named temporary file next to its final path and then renamed,
// so a tile file that exists is always complete.
type Dir struct {
	root string
}

// NewDir returns a sink writing below root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) WriteTile(ctx context.Context, t maptile.Tile, ext string, data []byte) error {
	path := tile.Path(d.root, t, ext)
	dir := filepath.Dir(path)

	// MkdirAll succeeds when another column created the directory first.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := writeFile(tmp, data); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "write", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	return nil
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
