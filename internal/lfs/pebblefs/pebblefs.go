// Package pebblefs is an lfs.FS adapter over a pebble LSM store.
//
// Key layout (names may not contain NUL):
//
//	"d\x00" + name                  → file contents
//	"a\x00" + name + "\x00" + key   → attribute value
//
// Every mutation is committed with pebble.Sync so an acknowledged change
// survives a power cut. File contents are committed on Close/Sync.
package pebblefs

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
)

var (
	prefixData = []byte("d\x00")
	prefixAttr = []byte("a\x00")
)

// Options configures the pebble store.
type Options struct {
	// Dir is the pebble database directory.
	Dir string
	// FS overrides the filesystem pebble runs on. Tests pass vfs.NewMem().
	// If nil, vfs.Default is used.
	FS vfs.FS
}

// FS is a pebble-backed volume. The superblock lives on dev.
type FS struct {
	db       *pebble.DB
	dev      flash.Device
	capacity int64
	mounted  bool
}

// Ensure FS satisfies the interface at compile time.
var _ lfs.FS = (*FS)(nil)

// Open opens (or creates) the pebble store. The volume still has to be
// mounted before use.
func Open(opts Options, dev flash.Device) (*FS, error) {
	if opts.Dir == "" {
		return nil, errors.New("pebblefs: Options.Dir is required")
	}
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("pebblefs: open %s: %w", opts.Dir, err)
	}
	geo := dev.Geometry()
	return &FS{
		db:       db,
		dev:      dev,
		capacity: lfs.Capacity(geo.BlockSize, geo.BlockCount),
	}, nil
}

// Close closes the pebble store.
func (fs *FS) Close() error {
	fs.mounted = false
	return fs.db.Close()
}

// Format deletes every key and writes a new superblock.
func (fs *FS) Format() error {
	fs.mounted = false
	if err := fs.db.DeleteRange([]byte("a"), []byte("e"), pebble.Sync); err != nil {
		return fmt.Errorf("pebblefs: format: %w", err)
	}
	if _, err := lfs.WriteSuperblock(fs.dev); err != nil {
		return fmt.Errorf("pebblefs: format: %w", err)
	}
	return nil
}

// Mount validates the superblock.
func (fs *FS) Mount() error {
	if _, err := lfs.ReadSuperblock(fs.dev); err != nil {
		return fmt.Errorf("pebblefs: mount: %w", err)
	}
	fs.mounted = true
	return nil
}

// Unmount flushes memtables and marks the volume unusable.
func (fs *FS) Unmount() error {
	fs.mounted = false
	return fs.db.Flush()
}

// OpenFile opens name as a buffered handle.
func (fs *FS) OpenFile(name string, flag lfs.Flag) (lfs.File, error) {
	if err := fs.check(name); err != nil {
		return nil, err
	}

	cur, err := fs.get(dataKey(name))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		if flag&lfs.Create == 0 {
			return nil, fmt.Errorf("pebblefs: open %s: %w", name, lfs.ErrNotExist)
		}
		if err := fs.db.Set(dataKey(name), []byte{}, pebble.Sync); err != nil {
			return nil, fmt.Errorf("pebblefs: create %s: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("pebblefs: open %s: %w", name, err)
	case flag.Has(lfs.Create | lfs.Exclusive):
		return nil, fmt.Errorf("pebblefs: open %s: %w", name, lfs.ErrExist)
	}

	commit := func(contents []byte) error {
		return fs.db.Set(dataKey(name), contents, pebble.Sync)
	}
	return lfs.NewBufferedFile(flag, cur, commit, fs.reserve), nil
}

// Remove deletes name and every attribute of it in one batch.
func (fs *FS) Remove(name string) error {
	if err := fs.check(name); err != nil {
		return err
	}
	if _, err := fs.get(dataKey(name)); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("pebblefs: remove %s: %w", name, lfs.ErrNotExist)
		}
		return fmt.Errorf("pebblefs: remove %s: %w", name, err)
	}

	b := fs.db.NewBatch()
	defer b.Close()
	if err := b.Delete(dataKey(name), nil); err != nil {
		return fmt.Errorf("pebblefs: remove %s: %w", name, err)
	}
	lo, hi := attrRange(name)
	if err := b.DeleteRange(lo, hi, nil); err != nil {
		return fmt.Errorf("pebblefs: remove %s attrs: %w", name, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebblefs: remove %s: %w", name, err)
	}
	return nil
}

// Stat returns the committed size of name.
func (fs *FS) Stat(name string) (lfs.Info, error) {
	if err := fs.check(name); err != nil {
		return lfs.Info{}, err
	}
	v, err := fs.get(dataKey(name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return lfs.Info{}, fmt.Errorf("pebblefs: stat %s: %w", name, lfs.ErrNotExist)
		}
		return lfs.Info{}, fmt.Errorf("pebblefs: stat %s: %w", name, err)
	}
	return lfs.Info{Name: name, Size: int64(len(v))}, nil
}

// GetAttr reads attribute key of name into buf.
func (fs *FS) GetAttr(name string, key uint8, buf []byte) (int, error) {
	if err := fs.exists(name); err != nil {
		return 0, fmt.Errorf("pebblefs: getattr %s/%#x: %w", name, key, err)
	}
	v, err := fs.get(attrKey(name, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, fmt.Errorf("pebblefs: getattr %s/%#x: %w", name, key, lfs.ErrNoAttr)
		}
		return 0, fmt.Errorf("pebblefs: getattr %s/%#x: %w", name, key, err)
	}
	return lfs.CopyAttr(v, buf), nil
}

// SetAttr stores attribute key of name.
func (fs *FS) SetAttr(name string, key uint8, value []byte) error {
	if err := fs.exists(name); err != nil {
		return fmt.Errorf("pebblefs: setattr %s/%#x: %w", name, key, err)
	}
	if err := lfs.CheckAttr(value); err != nil {
		return fmt.Errorf("pebblefs: setattr %s/%#x: %w", name, key, err)
	}
	if err := fs.db.Set(attrKey(name, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebblefs: setattr %s/%#x: %w", name, key, err)
	}
	return nil
}

// GC deletes attributes whose file is gone and compacts the keyspace.
func (fs *FS) GC() error {
	if !fs.mounted {
		return lfs.ErrNotMounted
	}

	iter, err := fs.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixAttr,
		UpperBound: prefixEnd(prefixAttr),
	})
	if err != nil {
		return fmt.Errorf("pebblefs: gc: %w", err)
	}

	var orphans [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		rest := iter.Key()[len(prefixAttr):]
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			continue
		}
		if _, err := fs.get(dataKey(string(rest[:i]))); errors.Is(err, pebble.ErrNotFound) {
			orphans = append(orphans, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebblefs: gc: close iter: %w", err)
	}

	if len(orphans) > 0 {
		b := fs.db.NewBatch()
		defer b.Close()
		for _, k := range orphans {
			if err := b.Delete(k, nil); err != nil {
				return fmt.Errorf("pebblefs: gc: %w", err)
			}
		}
		if err := b.Commit(pebble.Sync); err != nil {
			return fmt.Errorf("pebblefs: gc: %w", err)
		}
	}

	if err := fs.db.Compact([]byte("a"), []byte("e"), true); err != nil {
		return fmt.Errorf("pebblefs: gc: compact: %w", err)
	}
	return nil
}

// ---- helpers ----------------------------------------------------------------

func (fs *FS) get(key []byte) ([]byte, error) {
	v, closer, err := fs.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (fs *FS) exists(name string) error {
	if err := fs.check(name); err != nil {
		return err
	}
	if _, err := fs.get(dataKey(name)); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return lfs.ErrNotExist
		}
		return err
	}
	return nil
}

func (fs *FS) reserve(n int64) error {
	iter, err := fs.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixData,
		UpperBound: prefixEnd(prefixData),
	})
	if err != nil {
		return fmt.Errorf("pebblefs: usage: %w", err)
	}
	var used int64
	for iter.First(); iter.Valid(); iter.Next() {
		used += int64(len(iter.Value()))
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("pebblefs: usage: %w", err)
	}
	if used+n > fs.capacity {
		return lfs.ErrNoSpace
	}
	return nil
}

func (fs *FS) check(name string) error {
	if !fs.mounted {
		return lfs.ErrNotMounted
	}
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return lfs.ErrInvalid
	}
	return nil
}

func dataKey(name string) []byte {
	return append(append([]byte(nil), prefixData...), name...)
}

func attrKey(name string, key uint8) []byte {
	k := append(append([]byte(nil), prefixAttr...), name...)
	return append(k, 0, key)
}

// attrRange returns the key range holding every attribute of name.
func attrRange(name string) (lo, hi []byte) {
	lo = append(append(append([]byte(nil), prefixAttr...), name...), 0)
	return lo, prefixEnd(lo)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
