// Package boltfs is an lfs.FS adapter that keeps every file and attribute of
// a volume inside one bbolt database.
//
// bbolt gives the adapter the property the core assumes of its filesystem:
// each committed change is ACID, so a power cut never leaves a half-written
// file or attribute behind. File contents are committed on Close/Sync.
//
// Layout:
//
//	bucket "data"            name → file contents
//	bucket "attrs" / <name>  key byte → attribute value
package boltfs

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
)

var (
	bucketData  = []byte("data")
	bucketAttrs = []byte("attrs")
)

// FS is a bbolt-backed volume. The superblock lives on dev; the database
// holds the contents.
type FS struct {
	db       *bbolt.DB
	dev      flash.Device
	capacity int64
	mounted  bool
}

// Ensure FS satisfies the interface at compile time.
var _ lfs.FS = (*FS)(nil)

// openTimeout bounds the wait for the database file lock.
const openTimeout = time.Second

// Open opens (or creates) the database at path. The volume still has to be
// mounted before use.
func Open(path string, dev flash.Device) (*FS, error) {
	opts := &bbolt.Options{Timeout: openTimeout}
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("boltfs: open %s: %w", path, err)
	}
	geo := dev.Geometry()
	return &FS{
		db:       db,
		dev:      dev,
		capacity: lfs.Capacity(geo.BlockSize, geo.BlockCount),
	}, nil
}

// Close closes the underlying database.
func (fs *FS) Close() error {
	fs.mounted = false
	return fs.db.Close()
}

// Format drops every file and attribute and writes a new superblock.
func (fs *FS) Format() error {
	fs.mounted = false
	if err := fs.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketData, bucketAttrs} {
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("boltfs: format: %w", err)
	}
	if _, err := lfs.WriteSuperblock(fs.dev); err != nil {
		return fmt.Errorf("boltfs: format: %w", err)
	}
	return nil
}

// Mount validates the superblock and ensures the buckets exist.
func (fs *FS) Mount() error {
	if _, err := lfs.ReadSuperblock(fs.dev); err != nil {
		return fmt.Errorf("boltfs: mount: %w", err)
	}
	if err := fs.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketData); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketAttrs)
		return err
	}); err != nil {
		return fmt.Errorf("boltfs: mount: init buckets: %w", err)
	}
	fs.mounted = true
	return nil
}

// Unmount marks the volume unusable until the next Mount.
func (fs *FS) Unmount() error {
	fs.mounted = false
	return fs.db.Sync()
}

// OpenFile opens name. Contents are loaded into a buffered handle and written
// back in a single transaction on Close.
func (fs *FS) OpenFile(name string, flag lfs.Flag) (lfs.File, error) {
	if err := fs.check(name); err != nil {
		return nil, err
	}

	var data []byte
	err := fs.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketData)
		cur := b.Get([]byte(name))
		switch {
		case cur == nil && flag&lfs.Create == 0:
			return lfs.ErrNotExist
		case cur != nil && flag.Has(lfs.Create|lfs.Exclusive):
			return lfs.ErrExist
		case cur == nil:
			return b.Put([]byte(name), []byte{})
		}
		data = append([]byte(nil), cur...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltfs: open %s: %w", name, err)
	}

	commit := func(contents []byte) error {
		return fs.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketData).Put([]byte(name), contents)
		})
	}
	return lfs.NewBufferedFile(flag, data, commit, fs.reserve), nil
}

// Remove deletes name and its attribute bucket.
func (fs *FS) Remove(name string) error {
	if err := fs.check(name); err != nil {
		return err
	}
	err := fs.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketData)
		if data.Get([]byte(name)) == nil {
			return lfs.ErrNotExist
		}
		if err := data.Delete([]byte(name)); err != nil {
			return err
		}
		attrs := tx.Bucket(bucketAttrs)
		if attrs.Bucket([]byte(name)) != nil {
			return attrs.DeleteBucket([]byte(name))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltfs: remove %s: %w", name, err)
	}
	return nil
}

// Stat returns the committed size of name.
func (fs *FS) Stat(name string) (lfs.Info, error) {
	if err := fs.check(name); err != nil {
		return lfs.Info{}, err
	}
	var info lfs.Info
	err := fs.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketData).Get([]byte(name))
		if v == nil {
			return lfs.ErrNotExist
		}
		info = lfs.Info{Name: name, Size: int64(len(v))}
		return nil
	})
	if err != nil {
		return lfs.Info{}, fmt.Errorf("boltfs: stat %s: %w", name, err)
	}
	return info, nil
}

// GetAttr reads attribute key of name into buf.
func (fs *FS) GetAttr(name string, key uint8, buf []byte) (int, error) {
	if err := fs.check(name); err != nil {
		return 0, err
	}
	var n int
	err := fs.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketData).Get([]byte(name)) == nil {
			return lfs.ErrNotExist
		}
		attrs := tx.Bucket(bucketAttrs).Bucket([]byte(name))
		if attrs == nil {
			return lfs.ErrNoAttr
		}
		v := attrs.Get([]byte{key})
		if v == nil {
			return lfs.ErrNoAttr
		}
		n = lfs.CopyAttr(v, buf)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltfs: getattr %s/%#x: %w", name, key, err)
	}
	return n, nil
}

// SetAttr stores attribute key of name.
func (fs *FS) SetAttr(name string, key uint8, value []byte) error {
	if err := fs.check(name); err != nil {
		return err
	}
	if err := lfs.CheckAttr(value); err != nil {
		return fmt.Errorf("boltfs: setattr %s/%#x: %w", name, key, err)
	}
	err := fs.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketData).Get([]byte(name)) == nil {
			return lfs.ErrNotExist
		}
		attrs, err := tx.Bucket(bucketAttrs).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		return attrs.Put([]byte{key}, append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("boltfs: setattr %s/%#x: %w", name, key, err)
	}
	return nil
}

// GC drops attribute buckets whose file no longer exists.
func (fs *FS) GC() error {
	if !fs.mounted {
		return lfs.ErrNotMounted
	}
	err := fs.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketData)
		attrs := tx.Bucket(bucketAttrs)

		var orphans [][]byte
		if err := attrs.ForEach(func(k, v []byte) error {
			if v == nil && data.Get(k) == nil { // v == nil marks a nested bucket
				orphans = append(orphans, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range orphans {
			if err := attrs.DeleteBucket(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltfs: gc: %w", err)
	}
	return nil
}

// reserve fails with ErrNoSpace when n more bytes would overflow the volume.
func (fs *FS) reserve(n int64) error {
	var used int64
	if err := fs.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketData).ForEach(func(_, v []byte) error {
			used += int64(len(v))
			return nil
		})
	}); err != nil {
		return fmt.Errorf("boltfs: usage: %w", err)
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
	if name == "" {
		return lfs.ErrInvalid
	}
	return nil
}
