// Package aferofs is an lfs.FS adapter over any afero.Fs.
//
// With afero.NewMemMapFs it backs tests and RAM-only volumes; with an
// afero.BasePathFs over afero.NewOsFs it stores a volume as a plain host
// directory that can be inspected with ordinary tools.
//
// Layout under the root of the afero filesystem:
//
//	data/<name>        file contents
//	attr/<name>/<kk>   attribute kk (two hex digits)
//
// Contents are committed on Close/Sync by writing a temporary file and
// renaming it over the old one.
package aferofs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
)

const (
	dataDir   = "/data"
	attrDir   = "/attr"
	tmpSuffix = ".tmp"
	filePerm  = 0o644
	dirPerm   = 0o755
)

// FS is an afero-backed volume. The superblock lives on dev.
type FS struct {
	afs      afero.Fs
	dev      flash.Device
	capacity int64
	mounted  bool
}

// Ensure FS satisfies the interface at compile time.
var _ lfs.FS = (*FS)(nil)

// New returns an unmounted volume stored on afs.
func New(afs afero.Fs, dev flash.Device) *FS {
	geo := dev.Geometry()
	return &FS{
		afs:      afs,
		dev:      dev,
		capacity: lfs.Capacity(geo.BlockSize, geo.BlockCount),
	}
}

// Format removes every file and attribute and writes a new superblock.
func (fs *FS) Format() error {
	fs.mounted = false
	for _, dir := range []string{dataDir, attrDir} {
		if err := fs.afs.RemoveAll(dir); err != nil {
			return fmt.Errorf("aferofs: format: %w", err)
		}
	}
	if _, err := lfs.WriteSuperblock(fs.dev); err != nil {
		return fmt.Errorf("aferofs: format: %w", err)
	}
	return nil
}

// Mount validates the superblock and creates the layout directories.
func (fs *FS) Mount() error {
	if _, err := lfs.ReadSuperblock(fs.dev); err != nil {
		return fmt.Errorf("aferofs: mount: %w", err)
	}
	for _, dir := range []string{dataDir, attrDir} {
		if err := fs.afs.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("aferofs: mount: %w", err)
		}
	}
	fs.mounted = true
	return nil
}

// Unmount marks the volume unusable until the next Mount.
func (fs *FS) Unmount() error {
	fs.mounted = false
	return nil
}

// OpenFile opens name as a buffered handle.
func (fs *FS) OpenFile(name string, flag lfs.Flag) (lfs.File, error) {
	if err := fs.check(name); err != nil {
		return nil, err
	}
	p := dataPath(name)

	data, err := afero.ReadFile(fs.afs, p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if flag&lfs.Create == 0 {
			return nil, fmt.Errorf("aferofs: open %s: %w", name, lfs.ErrNotExist)
		}
		if err := afero.WriteFile(fs.afs, p, nil, filePerm); err != nil {
			return nil, fmt.Errorf("aferofs: create %s: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("aferofs: open %s: %w", name, err)
	case flag.Has(lfs.Create | lfs.Exclusive):
		return nil, fmt.Errorf("aferofs: open %s: %w", name, lfs.ErrExist)
	}

	commit := func(contents []byte) error {
		tmp := p + tmpSuffix
		if err := afero.WriteFile(fs.afs, tmp, contents, filePerm); err != nil {
			return err
		}
		return fs.afs.Rename(tmp, p)
	}
	return lfs.NewBufferedFile(flag, data, commit, fs.reserve), nil
}

// Remove deletes name and its attribute directory.
func (fs *FS) Remove(name string) error {
	if err := fs.check(name); err != nil {
		return err
	}
	if err := fs.afs.Remove(dataPath(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("aferofs: remove %s: %w", name, lfs.ErrNotExist)
		}
		return fmt.Errorf("aferofs: remove %s: %w", name, err)
	}
	if err := fs.afs.RemoveAll(attrPath(name)); err != nil {
		return fmt.Errorf("aferofs: remove %s attrs: %w", name, err)
	}
	return nil
}

// Stat returns the committed size of name.
func (fs *FS) Stat(name string) (lfs.Info, error) {
	if err := fs.check(name); err != nil {
		return lfs.Info{}, err
	}
	fi, err := fs.afs.Stat(dataPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lfs.Info{}, fmt.Errorf("aferofs: stat %s: %w", name, lfs.ErrNotExist)
		}
		return lfs.Info{}, fmt.Errorf("aferofs: stat %s: %w", name, err)
	}
	return lfs.Info{Name: name, Size: fi.Size()}, nil
}

// GetAttr reads attribute key of name into buf.
func (fs *FS) GetAttr(name string, key uint8, buf []byte) (int, error) {
	if err := fs.exists(name); err != nil {
		return 0, fmt.Errorf("aferofs: getattr %s/%#x: %w", name, key, err)
	}
	v, err := afero.ReadFile(fs.afs, attrKeyPath(name, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("aferofs: getattr %s/%#x: %w", name, key, lfs.ErrNoAttr)
		}
		return 0, fmt.Errorf("aferofs: getattr %s/%#x: %w", name, key, err)
	}
	return lfs.CopyAttr(v, buf), nil
}

// SetAttr stores attribute key of name.
func (fs *FS) SetAttr(name string, key uint8, value []byte) error {
	if err := fs.exists(name); err != nil {
		return fmt.Errorf("aferofs: setattr %s/%#x: %w", name, key, err)
	}
	if err := lfs.CheckAttr(value); err != nil {
		return fmt.Errorf("aferofs: setattr %s/%#x: %w", name, key, err)
	}
	if err := fs.afs.MkdirAll(attrPath(name), dirPerm); err != nil {
		return fmt.Errorf("aferofs: setattr %s/%#x: %w", name, key, err)
	}
	p := attrKeyPath(name, key)
	if err := afero.WriteFile(fs.afs, p+tmpSuffix, value, filePerm); err != nil {
		return fmt.Errorf("aferofs: setattr %s/%#x: %w", name, key, err)
	}
	if err := fs.afs.Rename(p+tmpSuffix, p); err != nil {
		return fmt.Errorf("aferofs: setattr %s/%#x: %w", name, key, err)
	}
	return nil
}

// GC removes attribute directories whose file is gone and any temporary
// files a crash left behind.
func (fs *FS) GC() error {
	if !fs.mounted {
		return lfs.ErrNotMounted
	}

	attrs, err := afero.ReadDir(fs.afs, attrDir)
	if err != nil {
		return fmt.Errorf("aferofs: gc: %w", err)
	}
	for _, fi := range attrs {
		if !fi.IsDir() {
			continue
		}
		if ok, _ := afero.Exists(fs.afs, dataPath(fi.Name())); ok {
			continue
		}
		if err := fs.afs.RemoveAll(attrPath(fi.Name())); err != nil {
			return fmt.Errorf("aferofs: gc: %w", err)
		}
	}

	files, err := afero.ReadDir(fs.afs, dataDir)
	if err != nil {
		return fmt.Errorf("aferofs: gc: %w", err)
	}
	for _, fi := range files {
		if strings.HasSuffix(fi.Name(), tmpSuffix) {
			if err := fs.afs.Remove(path.Join(dataDir, fi.Name())); err != nil {
				return fmt.Errorf("aferofs: gc: %w", err)
			}
		}
	}
	return nil
}

// ---- helpers ----------------------------------------------------------------

func (fs *FS) exists(name string) error {
	if err := fs.check(name); err != nil {
		return err
	}
	ok, err := afero.Exists(fs.afs, dataPath(name))
	if err != nil {
		return err
	}
	if !ok {
		return lfs.ErrNotExist
	}
	return nil
}

func (fs *FS) reserve(n int64) error {
	files, err := afero.ReadDir(fs.afs, dataDir)
	if err != nil {
		return fmt.Errorf("aferofs: usage: %w", err)
	}
	var used int64
	for _, fi := range files {
		if !fi.IsDir() && !strings.HasSuffix(fi.Name(), tmpSuffix) {
			used += fi.Size()
		}
	}
	if used+n > fs.capacity {
		return lfs.ErrNoSpace
	}
	return nil
}

// check rejects names that would escape the flat layout.
func (fs *FS) check(name string) error {
	if !fs.mounted {
		return lfs.ErrNotMounted
	}
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\\x00") || strings.HasSuffix(name, tmpSuffix) {
		return lfs.ErrInvalid
	}
	return nil
}

func dataPath(name string) string { return path.Join(dataDir, name) }

func attrPath(name string) string { return path.Join(attrDir, name) }

func attrKeyPath(name string, key uint8) string {
	return path.Join(attrDir, name, fmt.Sprintf("%02x", key))
}
