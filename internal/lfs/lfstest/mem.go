package lfstest

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs/aferofs"
)

// MemGeometry is the geometry of volumes returned by NewMemFS: 64 KiB with
// 60 KiB of data capacity.
var MemGeometry = flash.Geometry{BlockSize: 4096, BlockCount: 16, ProgSize: 16}

// NewMemFS returns a formatted, mounted in-memory volume.
func NewMemFS(t *testing.T) *aferofs.FS {
	t.Helper()
	return NewMemFSWithGeometry(t, MemGeometry)
}

// NewMemFSWithGeometry is NewMemFS with a caller-chosen geometry.
func NewMemFSWithGeometry(t *testing.T, geo flash.Geometry) *aferofs.FS {
	t.Helper()
	dev, err := flash.NewEmulator(geo)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	fs := aferofs.New(afero.NewMemMapFs(), dev)
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}
