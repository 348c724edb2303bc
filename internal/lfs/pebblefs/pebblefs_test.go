package pebblefs_test

import (
	"errors"
	"testing"

	"github.com/cockroachdb/pebble/vfs"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
	"github.com/snehjoshi/nvlog/internal/lfs/lfstest"
	"github.com/snehjoshi/nvlog/internal/lfs/pebblefs"
)

func openFS(t *testing.T, opts pebblefs.Options, dev flash.Device) *pebblefs.FS {
	t.Helper()
	fs, err := pebblefs.Open(opts, dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestConformanceMem(t *testing.T) {
	lfstest.Run(t, func(t *testing.T, dev flash.Device) lfs.FS {
		return openFS(t, pebblefs.Options{Dir: "db", FS: vfs.NewMem()}, dev)
	})
}

func TestConformanceDisk(t *testing.T) {
	lfstest.Run(t, func(t *testing.T, dev flash.Device) lfs.FS {
		return openFS(t, pebblefs.Options{Dir: t.TempDir()}, dev)
	})
}

func TestOpenRequiresDir(t *testing.T) {
	dev, err := flash.NewEmulator(lfstest.SuiteGeometry)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	if _, err := pebblefs.Open(pebblefs.Options{}, dev); err == nil {
		t.Fatal("expected error for empty Dir")
	}
}

func TestNamesWithPrefixesDoNotCollide(t *testing.T) {
	dev, err := flash.NewEmulator(lfstest.SuiteGeometry)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	fs := openFS(t, pebblefs.Options{Dir: "db", FS: vfs.NewMem()}, dev)
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	for _, name := range []string{"log", "log0"} {
		f, err := fs.OpenFile(name, lfs.WriteOnly|lfs.Create)
		if err != nil {
			t.Fatalf("OpenFile(%s): %v", name, err)
		}
		f.Close()
		if err := fs.SetAttr(name, 1, []byte(name)); err != nil {
			t.Fatalf("SetAttr(%s): %v", name, err)
		}
	}

	// Removing "log" must leave the attributes of "log0" alone.
	if err := fs.Remove("log"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	buf := make([]byte, 4)
	n, err := fs.GetAttr("log0", 1, buf)
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if string(buf[:n]) != "log0" {
		t.Fatalf("got %q, want %q", buf[:n], "log0")
	}
	if _, err := fs.GetAttr("log", 1, buf); !errors.Is(err, lfs.ErrNotExist) {
		t.Fatalf("removed file: got %v, want ErrNotExist", err)
	}
	if err := fs.GC(); err != nil {
		t.Fatalf("GC: %v", err)
	}
}
