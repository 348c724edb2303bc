// Package lfstest provides shared test tooling for lfs adapters and their
// callers: a conformance suite every adapter runs, an in-memory volume, and
// a fault-injecting wrapper.
package lfstest

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
)

// SuiteGeometry is the device geometry Run hands to adapters. Its capacity
// is (8-1)*256 = 1792 bytes.
var SuiteGeometry = flash.Geometry{BlockSize: 256, BlockCount: 8, ProgSize: 16}

// Factory opens an unformatted adapter whose superblock lives on dev.
// The factory registers its own cleanup with t.
type Factory func(t *testing.T, dev flash.Device) lfs.FS

// Run exercises the lfs.FS contract against the adapter built by newFS.
func Run(t *testing.T, newFS Factory) {
	t.Helper()

	t.Run("MountBlankFails", func(t *testing.T) {
		dev := newDevice(t)
		fs := newFS(t, dev)
		if err := fs.Mount(); !errors.Is(err, lfs.ErrCorrupt) {
			t.Fatalf("Mount on blank device: got %v, want ErrCorrupt", err)
		}
	})

	t.Run("NotMounted", func(t *testing.T) {
		fs := newFS(t, newDevice(t))
		if _, err := fs.OpenFile("a", lfs.ReadWrite|lfs.Create); !errors.Is(err, lfs.ErrNotMounted) {
			t.Fatalf("OpenFile before Mount: got %v, want ErrNotMounted", err)
		}
		if err := fs.SetAttr("a", 1, []byte{1}); !errors.Is(err, lfs.ErrNotMounted) {
			t.Fatalf("SetAttr before Mount: got %v, want ErrNotMounted", err)
		}
	})

	t.Run("CreateWriteRead", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("hello"))
		if got := readFile(t, fs, "f"); string(got) != "hello" {
			t.Fatalf("contents: got %q, want %q", got, "hello")
		}
		info, err := fs.Stat("f")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Size != 5 {
			t.Fatalf("Stat size: got %d, want 5", info.Size)
		}
	})

	t.Run("OpenMissing", func(t *testing.T) {
		fs := mounted(t, newFS)
		if _, err := fs.OpenFile("missing", lfs.ReadOnly); !errors.Is(err, lfs.ErrNotExist) {
			t.Fatalf("got %v, want ErrNotExist", err)
		}
		if _, err := fs.Stat("missing"); !errors.Is(err, lfs.ErrNotExist) {
			t.Fatalf("Stat: got %v, want ErrNotExist", err)
		}
	})

	t.Run("ExclusiveCreate", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, nil)
		_, err := fs.OpenFile("f", lfs.WriteOnly|lfs.Create|lfs.Exclusive)
		if !errors.Is(err, lfs.ErrExist) {
			t.Fatalf("got %v, want ErrExist", err)
		}
	})

	t.Run("Append", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create|lfs.Append, []byte("ab"))
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Append, []byte("cd"))
		if got := readFile(t, fs, "f"); string(got) != "abcd" {
			t.Fatalf("got %q, want %q", got, "abcd")
		}
	})

	t.Run("Truncate", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("long contents"))
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Truncate, []byte("x"))
		if got := readFile(t, fs, "f"); string(got) != "x" {
			t.Fatalf("got %q, want %q", got, "x")
		}
	})

	t.Run("SeekAndRead", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("0123456789"))
		f, err := fs.OpenFile("f", lfs.ReadOnly)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer f.Close()
		if _, err := f.Seek(4, io.SeekStart); err != nil {
			t.Fatalf("Seek: %v", err)
		}
		buf := make([]byte, 3)
		if _, err := io.ReadFull(f, buf); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(buf) != "456" {
			t.Fatalf("got %q, want %q", buf, "456")
		}
	})

	t.Run("WriteOnReadOnlyHandle", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, nil)
		f, err := fs.OpenFile("f", lfs.ReadOnly)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer f.Close()
		if _, err := f.Write([]byte("x")); !errors.Is(err, lfs.ErrBadFlags) {
			t.Fatalf("got %v, want ErrBadFlags", err)
		}
	})

	t.Run("CommitOnSync", func(t *testing.T) {
		fs := mounted(t, newFS)
		f, err := fs.OpenFile("f", lfs.WriteOnly|lfs.Create)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer f.Close()
		if _, err := f.Write([]byte("abc")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if info, _ := fs.Stat("f"); info.Size != 0 {
			t.Fatalf("size before Sync: got %d, want 0", info.Size)
		}
		if err := f.Sync(); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if info, _ := fs.Stat("f"); info.Size != 3 {
			t.Fatalf("size after Sync: got %d, want 3", info.Size)
		}
	})

	t.Run("AttrRoundTrip", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, nil)
		if err := fs.SetAttr("f", 0x01, []byte{1, 2, 3, 4}); err != nil {
			t.Fatalf("SetAttr: %v", err)
		}

		buf := make([]byte, 4)
		n, err := fs.GetAttr("f", 0x01, buf)
		if err != nil {
			t.Fatalf("GetAttr: %v", err)
		}
		if n != 4 || !bytes.Equal(buf, []byte{1, 2, 3, 4}) {
			t.Fatalf("GetAttr: got n=%d buf=%v", n, buf)
		}

		// A longer buffer is zero-filled past the stored value.
		long := []byte{9, 9, 9, 9, 9, 9}
		if n, _ := fs.GetAttr("f", 0x01, long); n != 4 || !bytes.Equal(long, []byte{1, 2, 3, 4, 0, 0}) {
			t.Fatalf("long buffer: got n=%d buf=%v", n, long)
		}

		// A shorter one gets the prefix and the full stored size.
		short := make([]byte, 2)
		if n, _ := fs.GetAttr("f", 0x01, short); n != 4 || !bytes.Equal(short, []byte{1, 2}) {
			t.Fatalf("short buffer: got n=%d buf=%v", n, short)
		}

		if err := fs.SetAttr("f", 0x01, []byte{7}); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		if n, _ := fs.GetAttr("f", 0x01, buf); n != 1 || buf[0] != 7 {
			t.Fatalf("after overwrite: got n=%d buf=%v", n, buf)
		}
	})

	t.Run("AttrErrors", func(t *testing.T) {
		fs := mounted(t, newFS)
		if _, err := fs.GetAttr("missing", 1, make([]byte, 1)); !errors.Is(err, lfs.ErrNotExist) {
			t.Fatalf("GetAttr missing file: got %v, want ErrNotExist", err)
		}
		if err := fs.SetAttr("missing", 1, []byte{1}); !errors.Is(err, lfs.ErrNotExist) {
			t.Fatalf("SetAttr missing file: got %v, want ErrNotExist", err)
		}
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, nil)
		if _, err := fs.GetAttr("f", 2, make([]byte, 1)); !errors.Is(err, lfs.ErrNoAttr) {
			t.Fatalf("GetAttr missing key: got %v, want ErrNoAttr", err)
		}
		if err := fs.SetAttr("f", 2, make([]byte, lfs.AttrMax+1)); !errors.Is(err, lfs.ErrNoSpace) {
			t.Fatalf("oversized attr: got %v, want ErrNoSpace", err)
		}
	})

	t.Run("RemoveDropsAttrs", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("x"))
		if err := fs.SetAttr("f", 3, []byte{1}); err != nil {
			t.Fatalf("SetAttr: %v", err)
		}
		if err := fs.Remove("f"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := fs.Remove("f"); !errors.Is(err, lfs.ErrNotExist) {
			t.Fatalf("second Remove: got %v, want ErrNotExist", err)
		}
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, nil)
		if _, err := fs.GetAttr("f", 3, make([]byte, 1)); !errors.Is(err, lfs.ErrNoAttr) {
			t.Fatalf("attr survived Remove: got %v", err)
		}
	})

	t.Run("NoSpace", func(t *testing.T) {
		fs := mounted(t, newFS)
		capacity := lfs.Capacity(SuiteGeometry.BlockSize, SuiteGeometry.BlockCount)
		writeFile(t, fs, "a", lfs.WriteOnly|lfs.Create, make([]byte, capacity-10))

		f, err := fs.OpenFile("b", lfs.WriteOnly|lfs.Create)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		defer f.Close()
		if _, err := f.Write(make([]byte, 10)); err != nil {
			t.Fatalf("write up to capacity: %v", err)
		}
		if _, err := f.Write([]byte{1}); !errors.Is(err, lfs.ErrNoSpace) {
			t.Fatalf("write past capacity: got %v, want ErrNoSpace", err)
		}
	})

	t.Run("FormatWipes", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("x"))
		if err := fs.Unmount(); err != nil {
			t.Fatalf("Unmount: %v", err)
		}
		if err := fs.Format(); err != nil {
			t.Fatalf("Format: %v", err)
		}
		if err := fs.Mount(); err != nil {
			t.Fatalf("Mount: %v", err)
		}
		if _, err := fs.Stat("f"); !errors.Is(err, lfs.ErrNotExist) {
			t.Fatalf("file survived Format: got %v", err)
		}
	})

	t.Run("RemountKeepsData", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("persist"))
		if err := fs.SetAttr("f", 4, []byte{42}); err != nil {
			t.Fatalf("SetAttr: %v", err)
		}
		if err := fs.Unmount(); err != nil {
			t.Fatalf("Unmount: %v", err)
		}
		if err := fs.Mount(); err != nil {
			t.Fatalf("Mount: %v", err)
		}
		if got := readFile(t, fs, "f"); string(got) != "persist" {
			t.Fatalf("got %q, want %q", got, "persist")
		}
		buf := make([]byte, 1)
		if _, err := fs.GetAttr("f", 4, buf); err != nil || buf[0] != 42 {
			t.Fatalf("attr after remount: got %v, err %v", buf, err)
		}
	})

	t.Run("GC", func(t *testing.T) {
		fs := mounted(t, newFS)
		writeFile(t, fs, "f", lfs.WriteOnly|lfs.Create, []byte("x"))
		if err := fs.Remove("f"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := fs.GC(); err != nil {
			t.Fatalf("GC: %v", err)
		}
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func newDevice(t *testing.T) flash.Device {
	t.Helper()
	dev, err := flash.NewEmulator(SuiteGeometry)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	return dev
}

func mounted(t *testing.T, newFS Factory) lfs.FS {
	t.Helper()
	fs := newFS(t, newDevice(t))
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func writeFile(t *testing.T, fs lfs.FS, name string, flag lfs.Flag, data []byte) {
	t.Helper()
	f, err := fs.OpenFile(name, flag)
	if err != nil {
		t.Fatalf("OpenFile(%s): %v", name, err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Write(%s): %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close(%s): %v", name, err)
	}
}

func readFile(t *testing.T, fs lfs.FS, name string) []byte {
	t.Helper()
	f, err := fs.OpenFile(name, lfs.ReadOnly)
	if err != nil {
		t.Fatalf("OpenFile(%s): %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll(%s): %v", name, err)
	}
	return data
}
