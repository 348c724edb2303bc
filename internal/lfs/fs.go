// Package lfs defines the filesystem contract the persistence core consumes.
//
// Design principle: the rotation manager and the parameter store must ONLY
// interact with flash through this interface. Never call a backend directly.
// Any adapter that provides files, small integer-keyed attributes, a GC hook,
// and format/mount can be swapped in without touching the core.
//
// Implementations:
//   - aferofs.FS  files on any afero.Fs (OS directory or memory)
//   - boltfs.FS   a single bbolt database file
//   - pebblefs.FS a pebble LSM directory
package lfs

import (
	"errors"
	"io"
)

// Sentinel errors shared by every adapter. Callers check them with errors.Is.
var (
	// ErrNotExist is returned when a file does not exist.
	ErrNotExist = errors.New("lfs: no such file")

	// ErrExist is returned by an exclusive create of an existing file.
	ErrExist = errors.New("lfs: file exists")

	// ErrNoAttr is returned when a file has no attribute under the key.
	ErrNoAttr = errors.New("lfs: no attribute")

	// ErrNoSpace is returned when the volume or an attribute is full.
	ErrNoSpace = errors.New("lfs: no space left")

	// ErrCorrupt is returned by Mount when the superblock is missing or invalid.
	ErrCorrupt = errors.New("lfs: corrupted")

	// ErrNotMounted is returned by any file operation before Mount succeeds.
	ErrNotMounted = errors.New("lfs: not mounted")

	// ErrBadFlags is returned when a file is used against its open mode.
	ErrBadFlags = errors.New("lfs: bad open flags")

	// ErrInvalid is returned for malformed arguments (empty names and such).
	ErrInvalid = errors.New("lfs: invalid argument")
)

// AttrMax is the largest attribute value an adapter accepts.
const AttrMax = 1022

// Flag is a bit set of open modes.
type Flag int

const (
	ReadOnly  Flag = 1 << iota // open for reading only
	WriteOnly                  // open for writing only
	Create                     // create the file if it does not exist
	Exclusive                  // with Create, fail if the file exists
	Truncate                   // truncate an existing file to zero size
	Append                     // every write goes to the end of the file

	ReadWrite = ReadOnly | WriteOnly
)

// Readable reports whether f allows reads.
func (f Flag) Readable() bool { return f&ReadOnly != 0 }

// Writable reports whether f allows writes.
func (f Flag) Writable() bool { return f&WriteOnly != 0 }

// Has reports whether every bit of m is set in f.
func (f Flag) Has(m Flag) bool { return f&m == m }

// Info describes a file.
type Info struct {
	Name string
	Size int64
}

// File is an open file handle.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Size returns the current size of the file including unflushed writes.
	Size() (int64, error)

	// Sync commits pending writes without closing the handle.
	Sync() error
}

// FS is a mounted flash filesystem.
//
// Every call blocks until the underlying medium finishes. Implementations
// need not be safe for concurrent use; callers serialise access.
type FS interface {
	// Format erases the volume and writes a fresh superblock. The FS is left
	// unmounted.
	Format() error

	// Mount validates the superblock and makes the volume usable.
	Mount() error

	// Unmount releases the volume. Open files must be closed first.
	Unmount() error

	// OpenFile opens name with the given flags.
	OpenFile(name string, flag Flag) (File, error)

	// Remove deletes name together with its attributes.
	Remove(name string) error

	// Stat returns the size of name.
	Stat(name string) (Info, error)

	// GetAttr copies attribute key of name into buf, zero-filling any tail,
	// and returns the stored size of the attribute.
	GetAttr(name string, key uint8, buf []byte) (int, error)

	// SetAttr stores value as attribute key of name.
	SetAttr(name string, key uint8, value []byte) error

	// GC reclaims space left behind by removals.
	GC() error
}

// CheckAttr validates an attribute write against AttrMax.
func CheckAttr(value []byte) error {
	if len(value) > AttrMax {
		return ErrNoSpace
	}
	return nil
}

// CopyAttr copies a stored attribute into buf with GetAttr semantics and
// returns the stored size.
func CopyAttr(stored, buf []byte) int {
	n := copy(buf, stored)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(stored)
}

// Capacity returns the number of data bytes a volume of the given geometry
// can hold. Block 0 is reserved for the superblock.
func Capacity(blockSize, blockCount int) int64 {
	if blockCount <= 1 {
		return 0
	}
	return int64(blockSize) * int64(blockCount-1)
}
