package aferofs_test

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
	"github.com/snehjoshi/nvlog/internal/lfs/aferofs"
	"github.com/snehjoshi/nvlog/internal/lfs/lfstest"
)

func TestConformanceMem(t *testing.T) {
	lfstest.Run(t, func(t *testing.T, dev flash.Device) lfs.FS {
		return aferofs.New(afero.NewMemMapFs(), dev)
	})
}

func TestConformanceOS(t *testing.T) {
	lfstest.Run(t, func(t *testing.T, dev flash.Device) lfs.FS {
		return aferofs.New(afero.NewBasePathFs(afero.NewOsFs(), t.TempDir()), dev)
	})
}

func TestRejectsPathNames(t *testing.T) {
	fs := lfstest.NewMemFS(t)
	for _, name := range []string{"a/b", "..", "x.tmp"} {
		if _, err := fs.OpenFile(name, lfs.WriteOnly|lfs.Create); !errors.Is(err, lfs.ErrInvalid) {
			t.Errorf("OpenFile(%q): got %v, want ErrInvalid", name, err)
		}
	}
}

func TestGCRemovesOrphanAttrs(t *testing.T) {
	dev, err := flash.NewEmulator(lfstest.SuiteGeometry)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	afs := afero.NewMemMapFs()
	fs := aferofs.New(afs, dev)
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	// Simulate a crash between removing the file and its attributes.
	if err := afero.WriteFile(afs, "/attr/ghost/01", []byte{1}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := afero.WriteFile(afs, "/data/log.tmp", []byte{1}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fs.GC(); err != nil {
		t.Fatalf("GC: %v", err)
	}
	for _, p := range []string{"/attr/ghost", "/data/log.tmp"} {
		if ok, _ := afero.Exists(afs, p); ok {
			t.Errorf("%s survived GC", p)
		}
	}
}
